package models

import "time"

// Server is a provisioning target host. The SSH credential is the shared
// root credential used by the remote executor; it never leaves internal APIs.
type Server struct {
	ID       string
	Name     string
	Host     string
	SSHPort  int
	RootUser string
	// 明文存储, 仅 internal API 可见
	RootPassword string

	// Storefront defaults for accounts created on this server
	Price   int64 // smallest currency unit
	QuotaGB int
	IPLimit int

	// Capacity
	MaxAccounts     int
	AccountsCreated int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCapacity reports whether the server can take another account.
// MaxAccounts <= 0 means unlimited.
func (s *Server) HasCapacity() bool {
	return s.MaxAccounts <= 0 || s.AccountsCreated < s.MaxAccounts
}
