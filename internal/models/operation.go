package models

import "time"

// Provisioning verb constants
const (
	VerbCreate = "create"
	VerbRenew  = "renew"
	VerbDelete = "delete"
	VerbTrial  = "trial"
)

// Operation status constants. An operation settles exactly once into one of
// the three terminal states.
const (
	OpStatusRequested  = "requested"
	OpStatusConnecting = "connecting"
	OpStatusExecuting  = "executing"
	OpStatusParsing    = "parsing"
	OpStatusSucceeded  = "succeeded"
	OpStatusFailed     = "failed"
	OpStatusTimedOut   = "timed_out"
)

// Operation tracks one in-flight provisioning call. Created when the call is
// accepted, updated as it moves through the executor, kept briefly after it
// settles so operators can inspect recent activity.
type Operation struct {
	ID       string `json:"id"`
	Verb     string `json:"verb"`
	Protocol string `json:"protocol"`
	Username string `json:"username"`
	ServerID string `json:"server_id"`

	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the operation has settled.
func (o *Operation) Terminal() bool {
	switch o.Status {
	case OpStatusSucceeded, OpStatusFailed, OpStatusTimedOut:
		return true
	}
	return false
}
