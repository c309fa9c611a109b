package model

// JobStatus is the backend-side lifecycle state of an answer job.
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusPartial   JobStatus = "partial"
	JobStatusTerminal  JobStatus = "terminal"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further progress will occur for this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusTerminal || s == JobStatusFailed
}

// PreviousContext is a snapshot of the prior exchange threaded into a
// follow-up submission so the backend can resolve references like "i l'any
// anterior?" without server-side session state. Question and Answer are
// truncated before sending (150 and 100 chars respectively).
type PreviousContext struct {
	Question  string              `json:"question"`
	Answer    string              `json:"answer"`
	RouteUsed string              `json:"route_used,omitempty"`
	Entities  *IdentifiedEntities `json:"entities,omitempty"`
}

// StartJobRequest is the payload for starting an answer job.
// PreviousContext must be omitted, not empty, on the first turn.
type StartJobRequest struct {
	Content         string           `json:"content"`
	SessionID       string           `json:"session_id,omitempty"`
	PreviousContext *PreviousContext `json:"previous_context,omitempty"`
}

// StartJobResponse acknowledges job creation.
type StartJobResponse struct {
	JobID string `json:"job_id"`
}

// JobStatusResponse is one observation of an in-flight job.
type JobStatusResponse struct {
	Status       JobStatus           `json:"status"`
	Entities     *IdentifiedEntities `json:"identified_entities,omitempty"`
	RouteUsed    string              `json:"route_used,omitempty"`
	AnswerText   string              `json:"response,omitempty"`
	TableData    *TableData          `json:"table_data,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	ElapsedMs    int64               `json:"elapsed_ms,omitempty"`
}
