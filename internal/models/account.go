package models

import "time"

// Protocol tag constants
const (
	ProtocolSSH    = "ssh"
	ProtocolVmess  = "vmess"
	ProtocolVless  = "vless"
	ProtocolTrojan = "trojan"
	ProtocolBundle = "bundle"
)

// Protocol family constants (active-account index keys)
const (
	FamilySSH  = "ssh"
	FamilyXray = "xray"
)

// Account status constants. Transitions are one-way:
// active -> expired -> (row deleted by the grace sweep).
// A successful renewal re-arms active and clears the warning flags.
const (
	AccountStatusActive  = "active"
	AccountStatusExpired = "expired"
)

// Account is a locally persisted provisioning record. The remote host owns
// the real account; this row mirrors it and drives expiry notifications.
type Account struct {
	ID       string
	Username string
	Protocol string
	ServerID string
	OwnerID  string

	Status string

	// Raw result block returned to the storefront at creation time,
	// kept for redelivery (lost chat messages, support lookups).
	RawResponse string

	// Connection URIs, TLS variant first. Serves the QR endpoint.
	URIs []string

	// Expiry notification flags, set once each by the scanner
	Warned3Day      bool
	Warned1Day      bool
	ExpiredNotified bool

	CreatedAt time.Time
	ExpireAt  time.Time
}

// ProtocolFamily maps a protocol tag to its index family.
func ProtocolFamily(protocol string) string {
	switch protocol {
	case ProtocolVmess, ProtocolVless, ProtocolTrojan, ProtocolBundle:
		return FamilyXray
	default:
		return FamilySSH
	}
}

// KnownProtocol reports whether the tag is one this service provisions.
func KnownProtocol(protocol string) bool {
	switch protocol {
	case ProtocolSSH, ProtocolVmess, ProtocolVless, ProtocolTrojan, ProtocolBundle:
		return true
	}
	return false
}

// DaysUntilExpiry returns whole days between now and the expiry, negative
// once past. Day granularity matches the scanner's selection windows.
func (a *Account) DaysUntilExpiry(now time.Time) int {
	return int(a.ExpireAt.Sub(now).Hours() / 24)
}
