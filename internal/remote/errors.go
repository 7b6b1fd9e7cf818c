package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Failure classes for remote provisioning. Callers branch with errors.Is;
// expected failures are converted to result strings at the adapter boundary
// and never escape as panics.
var (
	// ErrValidation rejects bad input before any network activity.
	ErrValidation = errors.New("validation failed")

	// Connection failures, one sentinel per class.
	ErrHostUnreachable = errors.New("host unreachable")
	ErrAuthRejected    = errors.New("ssh authentication rejected")
	ErrConnectFailed   = errors.New("connection refused or timed out")

	// ErrTimeout is the watchdog firing before the session settled.
	ErrTimeout = errors.New("operation timed out")

	// ErrParse means the output carried neither a success nor a failure marker.
	ErrParse = errors.New("unparseable remote output")

	// Recognized script-reported failure reasons.
	ErrAlreadyExists = errors.New("user already exists")
	ErrUserNotFound  = errors.New("user not found")
)

// ScriptError is a remote script failure whose reason is not one of the
// recognized sentinels. The reason text comes from the script's ERROR line.
type ScriptError struct {
	Reason string
}

func (e *ScriptError) Error() string {
	return "remote script failed: " + e.Reason
}

// classifyDialError maps transport and handshake failures onto the three
// connection classes. The ssh package reports auth failures only through
// error text, so substring checks are unavoidable here.
func classifyDialError(host string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("resolve %s: %w", host, ErrHostUnreachable)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "password rejected"),
		strings.Contains(msg, "permission denied"):
		return fmt.Errorf("authenticate to %s: %w", host, ErrAuthRejected)
	case strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "network is unreachable"):
		return fmt.Errorf("reach %s: %w", host, ErrHostUnreachable)
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("connect to %s: %w", host, ErrConnectFailed)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("connect to %s: %w", host, ErrConnectFailed)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("connect to %s: %w", host, ErrConnectFailed)
	}
	return fmt.Errorf("dial %s: %v: %w", host, err, ErrConnectFailed)
}
