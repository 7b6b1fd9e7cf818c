package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
)

// bundleAdapter runs one verb across vmess, vless, and trojan under a single
// shared client identity. Policy: the bundle succeeds when at least one
// constituent succeeds; per-constituent outcomes ride along in Parts so the
// caller can surface or compensate partial failures.
type bundleAdapter struct {
	budgets Budgets
	parts   []Adapter
}

func newBundleAdapter(budgets Budgets, parts ...Adapter) *bundleAdapter {
	return &bundleAdapter{budgets: budgets, parts: parts}
}

func (a *bundleAdapter) Protocol() string { return models.ProtocolBundle }

func (a *bundleAdapter) Create(ctx context.Context, srv *models.Server, spec CreateSpec) (*Provision, error) {
	if spec.ClientID == "" {
		spec.ClientID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(ctx, a.budgets.Bundle)
	defer cancel()

	combined := &Provision{
		Protocol: models.ProtocolBundle,
		Username: spec.Username,
		UUID:     spec.ClientID,
	}
	var errs []error
	for _, part := range a.parts {
		p, err := part.Create(ctx, srv, spec)
		combined.Parts = append(combined.Parts, PartOutcome{Protocol: part.Protocol(), Err: err})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", part.Protocol(), err))
			continue
		}
		if combined.ExpireAt.IsZero() {
			combined.ExpireAt = p.ExpireAt
		}
		combined.URIs = append(combined.URIs, p.URIs...)
	}
	if len(errs) == len(a.parts) {
		return nil, fmt.Errorf("all bundle constituents failed: %w", errors.Join(errs...))
	}
	return combined, nil
}

func (a *bundleAdapter) Renew(ctx context.Context, srv *models.Server, username string, days int) (*Provision, error) {
	ctx, cancel := context.WithTimeout(ctx, a.budgets.Bundle)
	defer cancel()

	combined := &Provision{Protocol: models.ProtocolBundle, Username: username}
	var errs []error
	for _, part := range a.parts {
		p, err := part.Renew(ctx, srv, username, days)
		combined.Parts = append(combined.Parts, PartOutcome{Protocol: part.Protocol(), Err: err})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", part.Protocol(), err))
			continue
		}
		if combined.ExpireAt.IsZero() {
			combined.ExpireAt = p.ExpireAt
			combined.OldExpireAt = p.OldExpireAt
		}
	}
	if len(errs) == len(a.parts) {
		return nil, fmt.Errorf("all bundle constituents failed: %w", errors.Join(errs...))
	}
	return combined, nil
}

func (a *bundleAdapter) Delete(ctx context.Context, srv *models.Server, username string) (*Provision, error) {
	ctx, cancel := context.WithTimeout(ctx, a.budgets.Bundle)
	defer cancel()

	combined := &Provision{Protocol: models.ProtocolBundle, Username: username}
	absent := 0
	var errs []error
	for _, part := range a.parts {
		p, err := part.Delete(ctx, srv, username)
		combined.Parts = append(combined.Parts, PartOutcome{Protocol: part.Protocol(), Err: err})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", part.Protocol(), err))
			continue
		}
		if p.AlreadyAbsent {
			absent++
		}
	}
	if len(errs) == len(a.parts) {
		return nil, fmt.Errorf("all bundle constituents failed: %w", errors.Join(errs...))
	}
	// Absent everywhere it settled means the desired state already held.
	combined.AlreadyAbsent = absent == len(a.parts)-len(errs)
	return combined, nil
}

func (a *bundleAdapter) Trial(ctx context.Context, srv *models.Server, spec TrialSpec) (*Provision, error) {
	if spec.ClientID == "" {
		spec.ClientID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(ctx, a.budgets.Bundle)
	defer cancel()

	combined := &Provision{
		Protocol: models.ProtocolBundle,
		Username: spec.Username,
		UUID:     spec.ClientID,
	}
	var errs []error
	for _, part := range a.parts {
		p, err := part.Trial(ctx, srv, spec)
		combined.Parts = append(combined.Parts, PartOutcome{Protocol: part.Protocol(), Err: err})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", part.Protocol(), err))
			continue
		}
		if combined.ExpireAt.IsZero() {
			combined.ExpireAt = p.ExpireAt
		}
		combined.URIs = append(combined.URIs, p.URIs...)
	}
	if len(errs) == len(a.parts) {
		return nil, fmt.Errorf("all bundle constituents failed: %w", errors.Join(errs...))
	}
	return combined, nil
}
