package remote

import (
	"fmt"
	"strings"
	"time"
)

// Script output is a line-oriented wire format. Every generated script prints
// exactly one SUCCESS or ERROR line; everything else is optional:
//
//	SUCCESS
//	ERROR:<reason>
//	DEBUG:<key>=<value>
//	EXP:<YYYY-MM-DD>
//	URI:<connection uri>
//
// Unrecognized lines are shell noise and ignored. An ERROR line anywhere
// takes precedence over SUCCESS.
const (
	markerSuccess = "SUCCESS"
	markerError   = "ERROR:"
	markerDebug   = "DEBUG:"
	markerExpiry  = "EXP:"
	markerURI     = "URI:"

	expiryLayout = "2006-01-02"
)

// Recognized ERROR reasons. Scripts print these verbatim.
const (
	reasonAlreadyExists = "User already exists"
	reasonNotFound      = "User not found"
)

// Result is the structured outcome of one script run.
type Result struct {
	OK     bool
	Reason string            // ERROR reason, empty on success
	Fields map[string]string // DEBUG key/values
	URIs   []string          // URI lines in print order

	// ExpireAt is the EXP tag. Zero when absent or unparseable; callers
	// fall back to a locally computed expiry.
	ExpireAt time.Time

	Raw string
}

// Parse classifies raw stdout. It returns an error only when no marker is
// present at all; a script-reported failure is a valid parse.
func Parse(raw string) (*Result, error) {
	res := &Result{Fields: make(map[string]string), Raw: raw}
	sawSuccess := false

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == markerSuccess:
			sawSuccess = true
		case strings.HasPrefix(line, markerError):
			if res.Reason == "" {
				res.Reason = strings.TrimSpace(strings.TrimPrefix(line, markerError))
			}
		case strings.HasPrefix(line, markerDebug):
			kv := strings.SplitN(strings.TrimPrefix(line, markerDebug), "=", 2)
			if len(kv) == 2 {
				res.Fields[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		case strings.HasPrefix(line, markerExpiry):
			if t, err := time.Parse(expiryLayout, strings.TrimSpace(strings.TrimPrefix(line, markerExpiry))); err == nil {
				res.ExpireAt = t
			}
		case strings.HasPrefix(line, markerURI):
			if uri := strings.TrimSpace(strings.TrimPrefix(line, markerURI)); uri != "" {
				res.URIs = append(res.URIs, uri)
			}
		}
	}

	if res.Reason != "" {
		return res, nil
	}
	if sawSuccess {
		res.OK = true
		return res, nil
	}
	return nil, fmt.Errorf("no marker in %d bytes of output: %w", len(raw), ErrParse)
}

// Field returns a DEBUG value, empty when absent.
func (r *Result) Field(key string) string {
	return r.Fields[key]
}

// Err maps a failed result onto the error taxonomy.
func (r *Result) Err() error {
	if r.OK {
		return nil
	}
	switch r.Reason {
	case reasonAlreadyExists:
		return ErrAlreadyExists
	case reasonNotFound:
		return ErrUserNotFound
	default:
		return &ScriptError{Reason: r.Reason}
	}
}
