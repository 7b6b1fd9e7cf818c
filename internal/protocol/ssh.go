package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
	"github.com/wenwu/saas-platform/provisioning-service/internal/remote"
)

// sshAdapter provisions password-authenticated tunnel accounts backed by
// system users on the remote host.
type sshAdapter struct {
	runner  Runner
	budgets Budgets
}

func newSSHAdapter(runner Runner, budgets Budgets) *sshAdapter {
	return &sshAdapter{runner: runner, budgets: budgets}
}

func (a *sshAdapter) Protocol() string { return models.ProtocolSSH }

func (a *sshAdapter) Create(ctx context.Context, srv *models.Server, spec CreateSpec) (*Provision, error) {
	password := spec.Password
	if password == "" {
		password = randomPassword(8)
	}
	params := remote.Params{
		Username: spec.Username,
		Password: password,
		Days:     spec.Days,
		IPLimit:  orDefault(spec.IPLimit, srv.IPLimit),
		Domain:   srv.Host,
	}
	// Validation happens inside the builder, before any network activity.
	script, err := remote.BuildScript(models.VerbCreate, models.ProtocolSSH, params)
	if err != nil {
		return nil, err
	}
	res, err := execute(ctx, a.runner, srv, script, a.budgets.Create)
	if err != nil {
		return nil, err
	}
	if rerr := res.Err(); rerr != nil {
		return nil, rerr
	}

	exp := res.ExpireAt
	if exp.IsZero() {
		exp = time.Now().AddDate(0, 0, spec.Days)
	}
	uris := res.URIs
	if len(uris) == 0 {
		uris = []string{SSHURI(srv.Host, spec.Username, password)}
	}
	return &Provision{
		Protocol: models.ProtocolSSH,
		Username: spec.Username,
		Password: password,
		ExpireAt: exp,
		URIs:     uris,
		Raw:      res.Raw,
	}, nil
}

func (a *sshAdapter) Renew(ctx context.Context, srv *models.Server, username string, days int) (*Provision, error) {
	script, err := remote.BuildScript(models.VerbRenew, models.ProtocolSSH, remote.Params{
		Username: username,
		Days:     days,
	})
	if err != nil {
		return nil, err
	}
	res, err := execute(ctx, a.runner, srv, script, a.budgets.Renew)
	if err != nil {
		return nil, err
	}
	if rerr := res.Err(); rerr != nil {
		return nil, rerr
	}
	return renewalProvision(models.ProtocolSSH, username, days, res), nil
}

func (a *sshAdapter) Delete(ctx context.Context, srv *models.Server, username string) (*Provision, error) {
	script, err := remote.BuildScript(models.VerbDelete, models.ProtocolSSH, remote.Params{
		Username: username,
	})
	if err != nil {
		return nil, err
	}
	res, err := execute(ctx, a.runner, srv, script, a.budgets.Delete)
	if err != nil {
		return nil, err
	}
	if rerr := res.Err(); rerr != nil {
		// Deleting an absent user is the desired state already holding.
		if errors.Is(rerr, remote.ErrUserNotFound) {
			return &Provision{
				Protocol:      models.ProtocolSSH,
				Username:      username,
				AlreadyAbsent: true,
				Raw:           res.Raw,
			}, nil
		}
		return nil, rerr
	}
	return &Provision{Protocol: models.ProtocolSSH, Username: username, Raw: res.Raw}, nil
}

func (a *sshAdapter) Trial(ctx context.Context, srv *models.Server, spec TrialSpec) (*Provision, error) {
	password := randomPassword(8)
	script, err := remote.BuildScript(models.VerbTrial, models.ProtocolSSH, remote.Params{
		Username: spec.Username,
		Password: password,
		Minutes:  spec.Minutes,
		Domain:   srv.Host,
	})
	if err != nil {
		return nil, err
	}
	res, err := execute(ctx, a.runner, srv, script, a.budgets.Trial)
	if err != nil {
		return nil, err
	}
	if rerr := res.Err(); rerr != nil {
		return nil, rerr
	}
	uris := res.URIs
	if len(uris) == 0 {
		uris = []string{SSHURI(srv.Host, spec.Username, password)}
	}
	return &Provision{
		Protocol: models.ProtocolSSH,
		Username: spec.Username,
		Password: password,
		ExpireAt: time.Now().Add(time.Duration(spec.Minutes) * time.Minute),
		URIs:     uris,
		Raw:      res.Raw,
	}, nil
}

// renewalProvision assembles the shared renew outcome: both expiry bounds
// from the host's DEBUG lines, EXP tag preferred for the new one.
func renewalProvision(protocol, username string, days int, res *remote.Result) *Provision {
	p := &Provision{
		Protocol: protocol,
		Username: username,
		ExpireAt: res.ExpireAt,
		Raw:      res.Raw,
	}
	if old, ok := parseRemoteDate(res.Field("old_exp")); ok {
		p.OldExpireAt = old
	}
	if p.ExpireAt.IsZero() {
		if newExp, ok := parseRemoteDate(res.Field("new_exp")); ok {
			p.ExpireAt = newExp
		} else {
			p.ExpireAt = time.Now().AddDate(0, 0, days)
		}
	}
	return p
}

// parseRemoteDate accepts the date spellings hosts actually emit: the script
// tags use ISO, chage prints the long form.
func parseRemoteDate(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", "Jan 02, 2006", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
