package models

import "time"

// ProvisionLog represents an operation audit entry. AccountID is empty for
// operations that failed before any record existed.
type ProvisionLog struct {
	ID        string
	AccountID string
	Action    string // create / renew / delete / trial / sweep
	Status    string
	Message   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}
