package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
	"github.com/wenwu/saas-platform/provisioning-service/internal/remote"
)

// xrayAdapter provisions UUID-keyed accounts living as client stanzas in the
// remote xray config. One instance per protocol tag; vmess, vless, and
// trojan differ only in stanza shape and URI scheme.
type xrayAdapter struct {
	protocol string
	runner   Runner
	budgets  Budgets
}

func newXrayAdapter(protocol string, runner Runner, budgets Budgets) *xrayAdapter {
	return &xrayAdapter{protocol: protocol, runner: runner, budgets: budgets}
}

func (a *xrayAdapter) Protocol() string { return a.protocol }

func (a *xrayAdapter) Create(ctx context.Context, srv *models.Server, spec CreateSpec) (*Provision, error) {
	clientID := spec.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	params := remote.Params{
		Username: spec.Username,
		UUID:     clientID,
		Days:     spec.Days,
		QuotaGB:  orDefault(spec.QuotaGB, srv.QuotaGB),
		IPLimit:  orDefault(spec.IPLimit, srv.IPLimit),
		Domain:   srv.Host,
	}
	script, err := remote.BuildScript(models.VerbCreate, a.protocol, params)
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
		uris = BuildURIs(a.protocol, srv.Host, clientID, spec.Username)
	}
	return &Provision{
		Protocol: a.protocol,
		Username: spec.Username,
		UUID:     clientID,
		ExpireAt: exp,
		URIs:     uris,
		Raw:      res.Raw,
	}, nil
}

func (a *xrayAdapter) Renew(ctx context.Context, srv *models.Server, username string, days int) (*Provision, error) {
	script, err := remote.BuildScript(models.VerbRenew, a.protocol, remote.Params{
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
	return renewalProvision(a.protocol, username, days, res), nil
}

func (a *xrayAdapter) Delete(ctx context.Context, srv *models.Server, username string) (*Provision, error) {
	script, err := remote.BuildScript(models.VerbDelete, a.protocol, remote.Params{
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
		if errors.Is(rerr, remote.ErrUserNotFound) {
			return &Provision{
				Protocol:      a.protocol,
				Username:      username,
				AlreadyAbsent: true,
				Raw:           res.Raw,
			}, nil
		}
		return nil, rerr
	}
	return &Provision{Protocol: a.protocol, Username: username, Raw: res.Raw}, nil
}

func (a *xrayAdapter) Trial(ctx context.Context, srv *models.Server, spec TrialSpec) (*Provision, error) {
	clientID := spec.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	script, err := remote.BuildScript(models.VerbTrial, a.protocol, remote.Params{
		Username: spec.Username,
		UUID:     clientID,
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
	return &Provision{
		Protocol: a.protocol,
		Username: spec.Username,
		UUID:     clientID,
		ExpireAt: time.Now().Add(time.Duration(spec.Minutes) * time.Minute),
		URIs:     BuildURIs(a.protocol, srv.Host, clientID, spec.Username),
		Raw:      res.Raw,
	}, nil
}
