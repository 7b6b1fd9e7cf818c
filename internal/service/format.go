package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
	"github.com/wenwu/saas-platform/provisioning-service/internal/protocol"
	"github.com/wenwu/saas-platform/provisioning-service/internal/remote"
)

// Result strings are the storefront contract. Failures start with the ✘
// marker so the caller knows to reverse its balance deduction; successful
// creations and renewals end with a machine-readable EXP:<date> line the
// caller stores for later renewal arithmetic.
const (
	failureMark = "✘"
	successMark = "✔"
	warningMark = "⚠"

	expiryLayout = "2006-01-02"
	humanDate    = "02 Jan 2006"
)

// failureMessage converts a classified provisioning error into the
// user-facing result string. Validation and duplicate failures read as
// actionable guidance; infrastructure failures tell the user to retry.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, remote.ErrAlreadyExists):
		return failureMark + " That username is already taken on this server. Pick a different name."
	case errors.Is(err, remote.ErrUserNotFound):
		return failureMark + " No account with that username exists on this server."
	case errors.Is(err, remote.ErrValidation):
		return fmt.Sprintf("%s Invalid input: %s.", failureMark, validationDetail(err))
	case errors.Is(err, remote.ErrAuthRejected):
		return failureMark + " The server rejected our login. Contact the administrator."
	case errors.Is(err, remote.ErrHostUnreachable):
		return failureMark + " The server is unreachable right now. Try again later."
	case errors.Is(err, remote.ErrConnectFailed):
		return failureMark + " Could not connect to the server. Try again later."
	case errors.Is(err, remote.ErrTimeout):
		return failureMark + " The server took too long to respond. Try again in a few minutes."
	case errors.Is(err, remote.ErrParse):
		return failureMark + " The server returned an unexpected response. Contact the administrator."
	}

	var scriptErr *remote.ScriptError
	if errors.As(err, &scriptErr) {
		return fmt.Sprintf("%s The server reported a problem: %s.", failureMark, scriptErr.Reason)
	}
	return failureMark + " Provisioning failed. Try again later."
}

// validationDetail strips the sentinel suffix so the message reads as plain
// guidance ("username must be 3-32 alphanumeric characters").
func validationDetail(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+remote.ErrValidation.Error())
}

func unknownProtocolMessage(tag string, known []string) string {
	return fmt.Sprintf("%s Unknown protocol %q. Available: %s.", failureMark, tag, strings.Join(known, ", "))
}

// createMessage renders the detail block sent back after a successful
// creation. 结尾的 EXP 行供商店续费时解析
func createMessage(srv *models.Server, prov *protocol.Provision, days int, price int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Account created on %s\n\n", successMark, srv.Name)
	fmt.Fprintf(&b, "Protocol : %s\n", prov.Protocol)
	fmt.Fprintf(&b, "Server   : %s\n", srv.Host)
	fmt.Fprintf(&b, "Username : %s\n", prov.Username)
	if prov.Password != "" {
		fmt.Fprintf(&b, "Password : %s\n", prov.Password)
	}
	if prov.UUID != "" {
		fmt.Fprintf(&b, "ID       : %s\n", prov.UUID)
	}
	fmt.Fprintf(&b, "Expires  : %s (%d days)\n", prov.ExpireAt.Format(humanDate), days)
	if price > 0 {
		fmt.Fprintf(&b, "Price    : %d\n", price)
	}
	if len(prov.Parts) > 0 {
		fmt.Fprintf(&b, "Parts    : %s\n", partsLine(prov.Parts))
	}
	writeURIs(&b, prov.URIs)
	fmt.Fprintf(&b, "\nEXP:%s\n", prov.ExpireAt.Format(expiryLayout))
	return b.String()
}

// renewMessage renders the renewal confirmation with old and new expiry.
func renewMessage(srv *models.Server, prov *protocol.Provision, days int, price int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Account renewed\n\n", successMark)
	fmt.Fprintf(&b, "Protocol : %s\n", prov.Protocol)
	fmt.Fprintf(&b, "Server   : %s\n", srv.Host)
	fmt.Fprintf(&b, "Username : %s\n", prov.Username)
	if !prov.OldExpireAt.IsZero() {
		fmt.Fprintf(&b, "Old      : %s\n", prov.OldExpireAt.Format(humanDate))
	}
	fmt.Fprintf(&b, "New      : %s (+%d days)\n", prov.ExpireAt.Format(humanDate), days)
	if price > 0 {
		fmt.Fprintf(&b, "Price    : %d\n", price)
	}
	if len(prov.Parts) > 0 {
		fmt.Fprintf(&b, "Parts    : %s\n", partsLine(prov.Parts))
	}
	fmt.Fprintf(&b, "\nEXP:%s\n", prov.ExpireAt.Format(expiryLayout))
	return b.String()
}

// deleteMessage renders the deletion confirmation. The already-absent soft
// success gets the warning mark: nothing was removed, but the account is
// gone either way.
func deleteMessage(srv *models.Server, username, protocolTag string, alreadyAbsent bool) string {
	if alreadyAbsent {
		return fmt.Sprintf("%s Account %s (%s) was already absent on %s; nothing to remove.",
			warningMark, username, protocolTag, srv.Host)
	}
	return fmt.Sprintf("%s Account %s (%s) removed from %s.",
		successMark, username, protocolTag, srv.Host)
}

// trialMessage renders the trial activation block. No EXP line: trials are
// never renewed and never persisted.
func trialMessage(srv *models.Server, prov *protocol.Provision, minutes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Trial active for %d minutes\n\n", successMark, minutes)
	fmt.Fprintf(&b, "Protocol : %s\n", prov.Protocol)
	fmt.Fprintf(&b, "Server   : %s\n", srv.Host)
	fmt.Fprintf(&b, "Username : %s\n", prov.Username)
	if prov.Password != "" {
		fmt.Fprintf(&b, "Password : %s\n", prov.Password)
	}
	if prov.UUID != "" {
		fmt.Fprintf(&b, "ID       : %s\n", prov.UUID)
	}
	fmt.Fprintf(&b, "Expires  : %s\n", prov.ExpireAt.Format("15:04:05 MST"))
	if len(prov.Parts) > 0 {
		fmt.Fprintf(&b, "Parts    : %s\n", partsLine(prov.Parts))
	}
	writeURIs(&b, prov.URIs)
	return b.String()
}

func writeURIs(b *strings.Builder, uris []string) {
	if len(uris) == 0 {
		return
	}
	b.WriteString("\n")
	for _, uri := range uris {
		b.WriteString(uri)
		b.WriteString("\n")
	}
}

// partsLine summarizes bundle constituents, e.g.
// "vmess ok, vless failed (timeout), trojan ok".
func partsLine(parts []protocol.PartOutcome) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Err == nil {
			out = append(out, p.Protocol+" ok")
		} else {
			out = append(out, fmt.Sprintf("%s failed (%s)", p.Protocol, shortReason(p.Err)))
		}
	}
	return strings.Join(out, ", ")
}

// shortReason compresses an error into a word or two for inline lists.
func shortReason(err error) string {
	switch {
	case errors.Is(err, remote.ErrTimeout):
		return "timeout"
	case errors.Is(err, remote.ErrAlreadyExists):
		return "already exists"
	case errors.Is(err, remote.ErrUserNotFound):
		return "not found"
	case errors.Is(err, remote.ErrAuthRejected):
		return "auth rejected"
	case errors.Is(err, remote.ErrHostUnreachable), errors.Is(err, remote.ErrConnectFailed):
		return "unreachable"
	case errors.Is(err, remote.ErrValidation):
		return "invalid input"
	case errors.Is(err, remote.ErrParse):
		return "bad response"
	}
	return "error"
}
