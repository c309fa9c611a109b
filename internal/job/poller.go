package job

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xiquet-ai/casteller-assistant/internal/model"
	"github.com/xiquet-ai/casteller-assistant/pkg/metrics"
)

const (
	// DefaultPollInterval is the fixed delay between status calls.
	DefaultPollInterval = 300 * time.Millisecond
	// DefaultPollTimeout is the ceiling after which a poll is abandoned.
	DefaultPollTimeout = 60 * time.Second
)

// ErrPollTimeout is returned when a job shows no terminal state within the
// configured ceiling.
var ErrPollTimeout = errors.New("job did not complete within the poll timeout")

// PartialFunc receives the fast-path entities. Called at most once per poll.
type PartialFunc func(entities *model.IdentifiedEntities, routeUsed string)

// Poller turns a single job id into at most one partial event plus a
// resolution. The clock is injectable so timeout behavior is testable without
// wall-clock waits.
type Poller struct {
	transport Transport
	interval  time.Duration
	timeout   time.Duration
	clock     clockwork.Clock
}

// NewPoller creates a poller with the given cadence. Zero values fall back to
// the defaults; a nil clock uses the real one.
func NewPoller(transport Transport, interval, timeout time.Duration, clock clockwork.Clock) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{
		transport: transport,
		interval:  interval,
		timeout:   timeout,
		clock:     clock,
	}
}

// Poll queries the transport until the job reaches a terminal state.
//
// A backend-reported failure resolves normally with a response whose Status is
// JobStatusFailed; only transport errors and the timeout ceiling surface as
// errors. The partial callback fires exactly once, on the first observation
// carrying entities; if entities first appear at terminal time it fires
// synchronously before Poll returns.
func (p *Poller) Poll(ctx context.Context, jobID string, onPartial PartialFunc) (*model.JobStatusResponse, error) {
	start := p.clock.Now()
	deadline := start.Add(p.timeout)
	partialFired := false

	firePartial := func(st *model.JobStatusResponse) {
		if partialFired || st.Entities.IsEmpty() {
			return
		}
		partialFired = true
		metrics.PartialDisclosureLatency.Observe(p.clock.Since(start).Seconds())
		if onPartial != nil {
			onPartial(st.Entities.Clone(), st.RouteUsed)
		}
	}

	for {
		st, err := p.transport.Status(ctx, jobID)
		if err != nil {
			metrics.StatusPollsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.StatusPollsTotal.WithLabelValues(string(st.Status)).Inc()

		switch st.Status {
		case model.JobStatusPartial:
			firePartial(st)
		case model.JobStatusTerminal:
			firePartial(st)
			return st, nil
		case model.JobStatusFailed:
			return st, nil
		}

		if !p.clock.Now().Add(p.interval).Before(deadline) {
			return nil, ErrPollTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(p.interval):
		}
	}
}
