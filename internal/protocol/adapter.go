// Package protocol holds one adapter per account family. Adapters own the
// verb semantics (duplicate rejection, renewal arithmetic delegation,
// idempotent delete) and translate between the orchestrator and the remote
// engine. Dispatch goes through a closed registry, never string switches at
// call sites.
package protocol

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
	"github.com/wenwu/saas-platform/provisioning-service/internal/remote"
)

// Runner executes one script on one host within a timeout budget. Satisfied
// by remote.SSHExecutor; faked in tests.
type Runner interface {
	Run(ctx context.Context, t remote.Target, script string, timeout time.Duration) (*remote.Output, error)
}

// Budgets are the per-verb watchdog timeouts. Bundle bounds the whole
// multi-protocol operation, not each constituent session.
type Budgets struct {
	Create time.Duration
	Renew  time.Duration
	Delete time.Duration
	Trial  time.Duration
	Bundle time.Duration
}

// CreateSpec carries validated creation inputs. ClientID is normally empty
// and generated per call; the bundle adapter pre-fills it so all constituent
// protocols share one identity.
type CreateSpec struct {
	Username string
	Password string // ssh family; generated when empty
	ClientID string // xray family; generated when empty
	Days     int
	QuotaGB  int
	IPLimit  int
}

// TrialSpec carries trial activation inputs. Trials live minutes, not days.
type TrialSpec struct {
	Username string
	ClientID string
	Minutes  int
}

// PartOutcome is one constituent result inside a bundle operation.
type PartOutcome struct {
	Protocol string
	Err      error
}

// Provision is the typed outcome of a settled verb. The orchestrator formats
// it into the user-facing result block and feeds reconciliation.
type Provision struct {
	Protocol string
	Username string
	Password string
	UUID     string

	// ExpireAt comes from the remote EXP tag when present, local fallback
	// otherwise. OldExpireAt is set by renewals when the host reported one.
	ExpireAt    time.Time
	OldExpireAt time.Time

	URIs []string

	// AlreadyAbsent marks the idempotent-delete soft success: the remote
	// user was already gone, so the desired state already held.
	AlreadyAbsent bool

	// Parts lists constituent outcomes for bundle operations.
	Parts []PartOutcome

	Raw string // remote stdout, kept for audit logs
}

// Adapter is one protocol family's verb set.
type Adapter interface {
	Protocol() string
	Create(ctx context.Context, srv *models.Server, spec CreateSpec) (*Provision, error)
	Renew(ctx context.Context, srv *models.Server, username string, days int) (*Provision, error)
	Delete(ctx context.Context, srv *models.Server, username string) (*Provision, error)
	Trial(ctx context.Context, srv *models.Server, spec TrialSpec) (*Provision, error)
}

// Registry is the closed protocol table, built once at startup.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry wires every supported adapter against one runner.
func NewRegistry(runner Runner, budgets Budgets) *Registry {
	vmess := newXrayAdapter(models.ProtocolVmess, runner, budgets)
	vless := newXrayAdapter(models.ProtocolVless, runner, budgets)
	trojan := newXrayAdapter(models.ProtocolTrojan, runner, budgets)

	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range []Adapter{
		newSSHAdapter(runner, budgets),
		vmess,
		vless,
		trojan,
		newBundleAdapter(budgets, vmess, vless, trojan),
	} {
		r.adapters[a.Protocol()] = a
	}
	return r
}

// Lookup returns the adapter for a protocol tag.
func (r *Registry) Lookup(protocol string) (Adapter, bool) {
	a, ok := r.adapters[protocol]
	return a, ok
}

// Protocols lists the registered tags, sorted, for error messages.
func (r *Registry) Protocols() []string {
	out := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func targetFor(srv *models.Server) remote.Target {
	return remote.Target{
		Host:     srv.Host,
		Port:     srv.SSHPort,
		User:     srv.RootUser,
		Password: srv.RootPassword,
	}
}

// execute runs one script and parses its output. Transport, watchdog, and
// parse failures come back as errors; script-reported failures come back
// inside the result for the caller to classify.
func execute(ctx context.Context, runner Runner, srv *models.Server, script string, budget time.Duration) (*remote.Result, error) {
	out, err := runner.Run(ctx, targetFor(srv), script, budget)
	if err != nil {
		return nil, err
	}
	remote.Progress(ctx, models.OpStatusParsing)
	return remote.Parse(out.Stdout)
}

// randomPassword returns n random bytes hex-encoded, 2n alphanumeric chars.
func randomPassword(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}

// TrialUsername generates a disposable trial account name.
func TrialUsername() string {
	max := big.NewInt(100000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("trial%05d", n.Int64())
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
