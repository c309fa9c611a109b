// Package job provides the answer-job transport and the status poller.
//
// An answer job is the out-of-band computation of a response to a user
// question. Starting a job returns quickly; the result is observed through
// repeated status calls until a terminal state is reached.
package job

import (
	"context"

	"github.com/xiquet-ai/casteller-assistant/internal/model"
)

// Transport starts, observes and cleans up answer jobs. Implementations are
// stateless from the caller's perspective and perform no retries of their own.
type Transport interface {
	// Start submits a question and returns the backend-assigned job id.
	// It must return promptly regardless of how long the answer takes.
	Start(ctx context.Context, req *model.StartJobRequest) (string, error)

	// Status reports the current state of a job. Idempotent and
	// side-effect-free for the caller.
	Status(ctx context.Context, jobID string) (*model.JobStatusResponse, error)

	// Cancel deletes the server-side record of a consumed job. Best-effort:
	// callers log failures and move on.
	Cancel(ctx context.Context, jobID string) error
}
