package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wenwu/saas-platform/provisioning-service/internal/config"
	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
)

// SweepStore is the account selection and flag surface the scanner needs.
// Satisfied by repository.AccountRepository.
type SweepStore interface {
	ListDueForWarning(ctx context.Context, now time.Time, days int) ([]*models.Account, error)
	ListExpiredUnnotified(ctx context.Context, now time.Time, graceDays int) ([]*models.Account, error)
	ListDueForGraceDelete(ctx context.Context, now time.Time, graceDays int) ([]*models.Account, error)
	SetWarned(ctx context.Context, id string, days int) error
	MarkExpiredNotified(ctx context.Context, id string) error
}

// Notifier delivers expiry notices to account owners via the chat gateway.
type Notifier interface {
	ExpiryWarning(ctx context.Context, a *models.Account, daysLeft int) error
	ExpiredNotice(ctx context.Context, a *models.Account) error
}

// Scanner drives the expiration lifecycle over persisted accounts: warn at
// three days and one day out, notify once after expiry, and remove the
// account after the grace period. Every pass is idempotent; each action
// guards itself with a flag so a crashed pass repeats nothing.
type Scanner struct {
	cfg        *config.Config
	accounts   SweepStore
	servers    ServerStore
	adapters   Adapters
	reconciler *Reconciler
	notifier   Notifier
	logs       AuditLog
}

func NewScanner(
	cfg *config.Config,
	accounts SweepStore,
	servers ServerStore,
	adapters Adapters,
	reconciler *Reconciler,
	notifier Notifier,
	logs AuditLog,
) *Scanner {
	return &Scanner{
		cfg:        cfg,
		accounts:   accounts,
		servers:    servers,
		adapters:   adapters,
		reconciler: reconciler,
		notifier:   notifier,
		logs:       logs,
	}
}

// Run sweeps every interval until the context is canceled.
func (s *Scanner) Run(ctx context.Context) {
	log.Printf("[Scanner] started: interval=%s grace=%dd", s.cfg.Sweep.Interval, s.cfg.Sweep.GraceDays)

	ticker := time.NewTicker(s.cfg.Sweep.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Scanner] stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Printf("[Scanner] sweep failed: %v", err)
			}
		}
	}
}

// Sweep runs the four passes once and reports what each one did. The passes
// select disjoint rows (future warning windows, the grace window, past the
// grace window) so they can run concurrently.
func (s *Scanner) Sweep(ctx context.Context) (*models.SweepResponse, error) {
	now := time.Now()
	resp := &models.SweepResponse{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.warn(gctx, now, 3)
		resp.Warned3Day = n
		return err
	})
	g.Go(func() error {
		n, err := s.warn(gctx, now, 1)
		resp.Warned1Day = n
		return err
	})
	g.Go(func() error {
		n, err := s.notifyExpired(gctx, now)
		resp.ExpiredNotified = n
		return err
	})
	g.Go(func() error {
		n, err := s.deleteExpired(gctx, now)
		resp.Deleted = n
		return err
	})
	if err := g.Wait(); err != nil {
		return resp, err
	}

	resp.Message = fmt.Sprintf("sweep complete: warned3=%d warned1=%d expired=%d deleted=%d",
		resp.Warned3Day, resp.Warned1Day, resp.ExpiredNotified, resp.Deleted)
	if resp.Warned3Day+resp.Warned1Day+resp.ExpiredNotified+resp.Deleted > 0 {
		log.Printf("[Scanner] %s", resp.Message)
	}
	return resp, nil
}

// warn sends the N-day warning and sets the matching flag. The flag is set
// only after the notice goes out, so a failed delivery retries next pass.
func (s *Scanner) warn(ctx context.Context, now time.Time, days int) (int, error) {
	due, err := s.accounts.ListDueForWarning(ctx, now, days)
	if err != nil {
		return 0, fmt.Errorf("select %d-day warnings: %w", days, err)
	}

	warned := 0
	for _, a := range due {
		if err := s.notifier.ExpiryWarning(ctx, a, days); err != nil {
			log.Printf("[Scanner] %d-day warning for %s/%s failed: %v", days, a.Protocol, a.Username, err)
			continue
		}
		if err := s.accounts.SetWarned(ctx, a.ID, days); err != nil {
			log.Printf("[Scanner] %d-day flag for %s failed: %v", days, a.ID, err)
			continue
		}
		warned++
	}
	observeSweep(fmt.Sprintf("warn_%dday", days), warned)
	return warned, nil
}

// notifyExpired tells owners their account just lapsed and flips the row to
// expired. Runs once per account, guarded by the expired_notified flag.
func (s *Scanner) notifyExpired(ctx context.Context, now time.Time) (int, error) {
	due, err := s.accounts.ListExpiredUnnotified(ctx, now, s.cfg.Sweep.GraceDays)
	if err != nil {
		return 0, fmt.Errorf("select expired accounts: %w", err)
	}

	notified := 0
	for _, a := range due {
		if err := s.notifier.ExpiredNotice(ctx, a); err != nil {
			log.Printf("[Scanner] expiry notice for %s/%s failed: %v", a.Protocol, a.Username, err)
			continue
		}
		if err := s.accounts.MarkExpiredNotified(ctx, a.ID); err != nil {
			log.Printf("[Scanner] expired flag for %s failed: %v", a.ID, err)
			continue
		}
		notified++
	}
	observeSweep("expired_notice", notified)
	return notified, nil
}

// deleteExpired is the grace-period cleanup: remote delete first, then the
// local record goes regardless of the remote outcome. A host that is gone
// or unreachable must not keep its rows alive forever.
func (s *Scanner) deleteExpired(ctx context.Context, now time.Time) (int, error) {
	due, err := s.accounts.ListDueForGraceDelete(ctx, now, s.cfg.Sweep.GraceDays)
	if err != nil {
		return 0, fmt.Errorf("select grace deletions: %w", err)
	}

	deleted := 0
	for _, a := range due {
		s.remoteDelete(ctx, a)
		if err := s.reconciler.RecordDeletion(ctx, a.Username, a.ServerID, a.Protocol); err != nil {
			log.Printf("[Scanner] record removal for %s failed: %v", a.ID, err)
			continue
		}
		daysPast := int(now.Sub(a.ExpireAt).Hours() / 24)
		s.logs.LogAction(ctx, a.ID, "sweep", "deleted",
			fmt.Sprintf("%s/%s removed %d days after expiry", a.Protocol, a.Username, daysPast))
		deleted++
	}
	observeSweep("grace_delete", deleted)
	return deleted, nil
}

// remoteDelete best-effort removes the account from its host.
func (s *Scanner) remoteDelete(ctx context.Context, a *models.Account) {
	adapter, ok := s.adapters.Lookup(a.Protocol)
	if !ok {
		log.Printf("[Scanner] no adapter for %q, removing record only", a.Protocol)
		return
	}
	srv, err := s.servers.GetByID(ctx, a.ServerID)
	if err != nil {
		log.Printf("[Scanner] server %s for %s/%s unavailable: %v", a.ServerID, a.Protocol, a.Username, err)
		return
	}
	if _, err := adapter.Delete(ctx, srv, a.Username); err != nil {
		log.Printf("[Scanner] remote delete %s/%s on %s failed: %v", a.Protocol, a.Username, srv.Host, err)
	}
}
