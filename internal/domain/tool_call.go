package domain

import "time"

// ToolCallState is the request-side lifecycle of a tool call
type ToolCallState string

const (
	ToolCallStatePending   ToolCallState = "PENDING"
	ToolCallStateExecuting ToolCallState = "EXECUTING"
	ToolCallStateCompleted ToolCallState = "COMPLETED"
	ToolCallStateFailed    ToolCallState = "FAILED"
)

// IsTerminal reports whether the call has finished
func (s ToolCallState) IsTerminal() bool {
	return s == ToolCallStateCompleted || s == ToolCallStateFailed
}

// ToolCallRecord is the audit trail entry for one tool call. Records are
// created on tool:start (or an unmatched tool:end) and never deleted.
type ToolCallRecord struct {
	ID          string        `json:"id"`
	CallID      string        `json:"call_id,omitempty"`
	Name        string        `json:"name"`
	Input       string        `json:"input,omitempty"`
	State       ToolCallState `json:"state"`
	Result      string        `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	DurationMs  *int64        `json:"duration_ms,omitempty"`
}

// Complete moves the record to a terminal state. Calls on an already
// terminal record are ignored.
func (r *ToolCallRecord) Complete(result, errMsg string, durationMs *int64, now time.Time) {
	if r.State.IsTerminal() {
		return
	}

	r.CompletedAt = &now
	r.Result = result
	r.Error = errMsg
	if errMsg != "" {
		r.State = ToolCallStateFailed
	} else {
		r.State = ToolCallStateCompleted
	}

	switch {
	case durationMs != nil:
		r.DurationMs = durationMs
	case r.StartedAt != nil:
		r.DurationMs = Int64Ptr(now.Sub(*r.StartedAt).Milliseconds())
	}
}
