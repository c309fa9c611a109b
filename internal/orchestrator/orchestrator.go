// Package orchestrator owns the conversation log and drives one answer job
// per submitted question through an explicit turn state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xiquet-ai/casteller-assistant/internal/cache"
	"github.com/xiquet-ai/casteller-assistant/internal/events"
	"github.com/xiquet-ai/casteller-assistant/internal/history"
	"github.com/xiquet-ai/casteller-assistant/internal/job"
	"github.com/xiquet-ai/casteller-assistant/internal/model"
	"github.com/xiquet-ai/casteller-assistant/pkg/logger"
	"github.com/xiquet-ai/casteller-assistant/pkg/metrics"
)

// TurnState is the lifecycle state of the active conversation turn.
type TurnState string

const (
	StateIdle             TurnState = "idle"
	StateSubmitting       TurnState = "submitting"
	StateAwaitingPartial  TurnState = "awaiting_partial"
	StateAwaitingTerminal TurnState = "awaiting_terminal"
	StateCommitted        TurnState = "committed"
	StateFailed           TurnState = "failed"
)

// inFlight reports whether a submission is currently outstanding.
func (s TurnState) inFlight() bool {
	return s == StateSubmitting || s == StateAwaitingPartial || s == StateAwaitingTerminal
}

var (
	// ErrTurnInFlight rejects a submission while another turn is outstanding.
	ErrTurnInFlight = errors.New("another question is already in flight")

	// ErrConversationReset aborts a submission that raced with a new
	// conversation or session switch.
	ErrConversationReset = errors.New("conversation was reset during submission")

	// ErrNothingToSave rejects persisting a conversation without committed
	// exchanges.
	ErrNothingToSave = errors.New("no committed messages to save")
)

// User-facing failure texts. Technical detail goes to logs only.
const (
	timeoutAnswer    = "La resposta ha trigat massa. Si us plau, torna-ho a intentar."
	connectionAnswer = "No puc respondre la pregunta perquè hi ha un problema de connexió. Si us plau, torna-ho a intentar."
	genericAnswer    = "No puc respondre la pregunta en aquest moment. Si us plau, torna-ho a intentar més tard."
)

const (
	previousAnswerMaxChars   = 100
	previousQuestionMaxChars = 150
)

// Config wires an Orchestrator's collaborators.
type Config struct {
	Transport    job.Transport
	Cache        cache.ConversationCache
	Store        history.Store
	Events       events.Publisher
	Logger       *logger.Logger
	Clock        clockwork.Clock
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Orchestrator manages one user's active conversation: the ordered message
// list, the single in-flight turn, the transient live-entities slot and the
// local cache mirror of the unsaved conversation.
type Orchestrator struct {
	userID    string
	transport job.Transport
	cache     cache.ConversationCache
	store     history.Store
	events    events.Publisher
	logger    *logger.Logger
	clock     clockwork.Clock

	pollInterval time.Duration
	pollTimeout  time.Duration

	mu        sync.Mutex
	sessionID string
	messages  []model.Message
	state     TurnState

	// turnSeq tags the active conversation identity. Bumped on new
	// conversation and session switch so a late poll resolution for a
	// previous identity is discarded instead of mutating the new log.
	turnSeq uint64

	// liveEntities is the fast-path slot for the in-flight turn. Distinct
	// from the per-message snapshots so a later job can never alter a
	// historical message.
	liveEntities *model.IdentifiedEntities
	liveRoute    string
}

// New creates an orchestrator for one user.
func New(userID string, cfg Config) *Orchestrator {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ev := cfg.Events
	if ev == nil {
		ev = events.Noop{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		userID:       userID,
		transport:    cfg.Transport,
		cache:        cfg.Cache,
		store:        cfg.Store,
		events:       ev,
		logger:       log.With(zap.String("user_id", userID)),
		clock:        clock,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		state:        StateIdle,
	}
}

// Turn is a handle on one submitted question.
type Turn struct {
	ID    string
	JobID string
	done  chan struct{}
}

// Done is closed when the turn reaches Committed or Failed, or when its
// result was discarded after a conversation reset.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Submit starts a new turn for the given question.
//
// It returns ErrTurnInFlight while another turn is outstanding. A transport
// failure on start aborts the turn with no message committed; this is the
// only failure mode surfaced as an error to the caller, everything later
// resolves in-band as a Failed conversation entry.
func (o *Orchestrator) Submit(ctx context.Context, content string) (*Turn, error) {
	o.mu.Lock()
	if o.state.inFlight() {
		o.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	seq := o.turnSeq
	sessionID := o.sessionID
	prev := o.previousContextLocked()
	o.state = StateSubmitting
	o.mu.Unlock()

	jobID, err := o.transport.Start(ctx, &model.StartJobRequest{
		Content:         content,
		SessionID:       sessionID,
		PreviousContext: prev,
	})

	o.mu.Lock()
	if o.turnSeq != seq {
		o.mu.Unlock()
		if err == nil {
			o.cleanupJob(jobID)
		}
		return nil, ErrConversationReset
	}
	if err != nil {
		o.state = StateIdle
		o.mu.Unlock()
		o.logger.Error("question submission failed", zap.Error(err))
		return nil, fmt.Errorf("failed to submit question: %w", err)
	}

	now := o.clock.Now()
	placeholder := model.Message{
		ID:        "temp_" + uuid.New().String(),
		Role:      model.RoleUser,
		Content:   content,
		Timestamp: now,
		Pending:   true,
	}
	o.messages = append(o.messages, placeholder)
	o.state = StateAwaitingPartial
	o.mu.Unlock()

	turn := &Turn{ID: placeholder.ID, JobID: jobID, done: make(chan struct{})}
	o.publish(model.TurnEvent{
		Type:      model.TurnEventSubmitted,
		UserID:    o.userID,
		TurnID:    turn.ID,
		Timestamp: now,
	})

	go o.runTurn(seq, turn, content, now)
	return turn, nil
}

// runTurn polls the job to resolution and reconciles the result into the log.
func (o *Orchestrator) runTurn(seq uint64, turn *Turn, question string, submittedAt time.Time) {
	defer close(turn.done)

	// The poll outlives the submitting HTTP request.
	ctx := context.Background()
	poller := job.NewPoller(o.transport, o.pollInterval, o.pollTimeout, o.clock)

	st, pollErr := poller.Poll(ctx, turn.JobID, func(entities *model.IdentifiedEntities, route string) {
		o.onPartial(seq, turn.ID, entities, route)
	})

	o.mu.Lock()
	if o.turnSeq != seq {
		// The user started a new conversation or switched session while
		// this job was polling. Implicit cancellation: discard.
		o.mu.Unlock()
		o.logger.Info("discarding stale turn result", zap.String("turn_id", turn.ID))
		o.cleanupJob(turn.JobID)
		return
	}

	assistant := model.Message{
		ID:        turn.JobID,
		Role:      model.RoleAssistant,
		Content:   question,
		Timestamp: o.clock.Now(),
	}
	outcome := StateCommitted

	switch {
	case errors.Is(pollErr, job.ErrPollTimeout):
		outcome = StateFailed
		assistant.Response = timeoutAnswer
		assistant.RouteUsed = "error"
	case pollErr != nil:
		outcome = StateFailed
		assistant.Response = connectionAnswer
		assistant.RouteUsed = "error"
	case st.Status == model.JobStatusFailed:
		outcome = StateFailed
		assistant.Response = st.ErrorMessage
		if assistant.Response == "" {
			assistant.Response = genericAnswer
		}
		assistant.RouteUsed = "error"
	default:
		assistant.Response = st.AnswerText
		assistant.RouteUsed = st.RouteUsed
		assistant.TableData = st.TableData
		assistant.ResponseTimeMs = st.ElapsedMs
		if ent := o.liveEntities; !ent.IsEmpty() {
			assistant.Entities = ent.Clone()
		} else if !st.Entities.IsEmpty() {
			assistant.Entities = st.Entities.Clone()
		}
	}

	// Replace the placeholder with the finalized pair and restore total
	// order. The user message keeps its submission timestamp so the pair
	// stays adjacent under the user-before-assistant tie-break.
	o.removeMessageLocked(turn.ID)
	o.messages = append(o.messages,
		model.Message{
			ID:        turn.ID,
			Role:      model.RoleUser,
			Content:   question,
			Timestamp: submittedAt,
		},
		assistant,
	)
	model.SortMessages(o.messages)

	o.liveEntities = nil
	o.liveRoute = ""
	o.state = outcome
	unsaved := o.sessionID == ""
	snapshot := o.snapshotLocked()
	o.mu.Unlock()

	evType := model.TurnEventCommitted
	if outcome == StateFailed {
		evType = model.TurnEventFailed
	}
	o.publish(model.TurnEvent{
		Type:      evType,
		UserID:    o.userID,
		TurnID:    turn.ID,
		Message:   &assistant,
		Timestamp: o.clock.Now(),
	})

	if unsaved {
		o.mirror(snapshot)
	}
	o.cleanupJob(turn.JobID)
	metrics.RecordTurn(string(outcome), o.clock.Since(submittedAt).Seconds())
}

// onPartial records the fast-path entities in the live slot.
func (o *Orchestrator) onPartial(seq uint64, turnID string, entities *model.IdentifiedEntities, route string) {
	o.mu.Lock()
	if o.turnSeq != seq || !o.state.inFlight() {
		o.mu.Unlock()
		return
	}
	o.liveEntities = entities
	o.liveRoute = route
	o.state = StateAwaitingTerminal
	o.mu.Unlock()

	o.publish(model.TurnEvent{
		Type:      model.TurnEventEntities,
		UserID:    o.userID,
		TurnID:    turnID,
		Entities:  entities.Clone(),
		RouteUsed: route,
		Timestamp: o.clock.Now(),
	})
}

// Bootstrap restores the unsaved conversation from the local cache. Called on
// mount when no session id is active; a populated cache reproduces the prior
// messages verbatim with no remote call.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	o.mu.Lock()
	if o.sessionID != "" || len(o.messages) > 0 {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	msgs, found, err := o.cache.Get(ctx, o.userID)
	if err != nil {
		o.logger.Warn("conversation cache read failed", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}

	o.mu.Lock()
	if o.sessionID == "" && len(o.messages) == 0 {
		o.messages = msgs
	}
	o.mu.Unlock()
	return nil
}

// OpenSession replaces the conversation with a saved session's history. Any
// local cache content is discarded, not merged.
func (o *Orchestrator) OpenSession(ctx context.Context, sessionID string) error {
	msgs, err := o.store.Load(ctx, o.userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	model.SortMessages(msgs)

	o.mu.Lock()
	o.turnSeq++
	o.sessionID = sessionID
	o.messages = msgs
	o.state = StateIdle
	o.liveEntities = nil
	o.liveRoute = ""
	o.mu.Unlock()

	if err := o.cache.Clear(ctx, o.userID); err != nil {
		o.logger.Warn("failed to clear conversation cache", zap.Error(err))
	}
	return nil
}

// NewConversation clears the active conversation and its cache mirror. An
// in-flight turn, if any, is implicitly cancelled: its eventual result is
// discarded.
func (o *Orchestrator) NewConversation(ctx context.Context) error {
	o.mu.Lock()
	o.turnSeq++
	o.sessionID = ""
	o.messages = nil
	o.state = StateIdle
	o.liveEntities = nil
	o.liveRoute = ""
	o.mu.Unlock()

	if err := o.cache.Clear(ctx, o.userID); err != nil {
		o.logger.Warn("failed to clear conversation cache", zap.Error(err))
	}
	return nil
}

// Save persists the committed exchanges of the unsaved conversation as a new
// session. On success the orchestrator adopts the store-assigned session id
// and drops the cache mirror.
func (o *Orchestrator) Save(ctx context.Context, title string) (*model.ChatSession, error) {
	o.mu.Lock()
	committed := committedPairs(o.messages)
	seq := o.turnSeq
	o.mu.Unlock()

	if len(committed) == 0 {
		return nil, ErrNothingToSave
	}

	session, err := o.store.Save(ctx, o.userID, &model.SaveSessionRequest{
		Title:    title,
		Messages: committed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}

	o.mu.Lock()
	if o.turnSeq == seq {
		o.sessionID = session.ID
	}
	o.mu.Unlock()

	if err := o.cache.Clear(ctx, o.userID); err != nil {
		o.logger.Warn("failed to clear conversation cache", zap.Error(err))
	}
	metrics.SessionsSavedTotal.Inc()
	return session, nil
}

// Snapshot returns the current view-layer state of the conversation.
func (o *Orchestrator) Snapshot() model.ConversationSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return model.ConversationSnapshot{
		SessionID:    o.sessionID,
		Messages:     o.snapshotLocked(),
		TurnState:    string(o.state),
		LiveEntities: o.liveEntities.Clone(),
		LiveRoute:    o.liveRoute,
	}
}

// SessionID returns the active saved-session id, empty while unsaved.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// previousContextLocked builds the follow-up context from the most recent
// committed assistant message, or nil on a fresh conversation. Failure
// entries never feed follow-up context.
func (o *Orchestrator) previousContextLocked() *model.PreviousContext {
	for i := len(o.messages) - 1; i >= 0; i-- {
		m := &o.messages[i]
		if m.Role != model.RoleAssistant || !m.Committed() || m.RouteUsed == "error" {
			continue
		}
		return &model.PreviousContext{
			Question:  truncate(m.Content, previousQuestionMaxChars),
			Answer:    truncate(m.Response, previousAnswerMaxChars),
			RouteUsed: m.RouteUsed,
			Entities:  m.Entities.Clone(),
		}
	}
	return nil
}

func (o *Orchestrator) removeMessageLocked(id string) {
	for i := range o.messages {
		if o.messages[i].ID == id {
			o.messages = append(o.messages[:i], o.messages[i+1:]...)
			return
		}
	}
}

func (o *Orchestrator) snapshotLocked() []model.Message {
	out := make([]model.Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// mirror overwrites the local cache with the committed conversation snapshot.
// Best-effort: the cache is derived state, failures are logged only.
func (o *Orchestrator) mirror(snapshot []model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.cache.Put(ctx, o.userID, snapshot); err != nil {
		o.logger.Warn("conversation cache mirror failed", zap.Error(err))
	}
}

// cleanupJob deletes the consumed job record. Fire-and-forget: a failure is
// logged and never blocks the result.
func (o *Orchestrator) cleanupJob(jobID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.transport.Cancel(ctx, jobID); err != nil {
			metrics.CleanupFailuresTotal.Inc()
			o.logger.Warn("job cleanup failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
}

func (o *Orchestrator) publish(ev model.TurnEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.events.Publish(ctx, ev); err != nil {
		o.logger.Warn("turn event publish failed", zap.Error(err))
	}
}

// committedPairs filters the list down to completed exchanges: assistant
// messages with an answer plus their paired user messages.
func committedPairs(msgs []model.Message) []model.Message {
	var out []model.Message
	for i, m := range msgs {
		switch {
		case m.Pending:
			continue
		case m.Role == model.RoleAssistant && m.Response != "":
			out = append(out, m)
		case m.Role == model.RoleUser && i+1 < len(msgs):
			next := msgs[i+1]
			if next.Role == model.RoleAssistant && next.Response != "" && next.Content == m.Content {
				out = append(out, m)
			}
		}
	}
	return out
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
