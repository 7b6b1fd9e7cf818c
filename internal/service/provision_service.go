package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/wenwu/saas-platform/provisioning-service/internal/config"
	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
	"github.com/wenwu/saas-platform/provisioning-service/internal/protocol"
	"github.com/wenwu/saas-platform/provisioning-service/internal/remote"
	"github.com/wenwu/saas-platform/provisioning-service/internal/repository"
)

// ServerStore loads provisioning targets. Satisfied by
// repository.ServerRepository.
type ServerStore interface {
	GetByID(ctx context.Context, id string) (*models.Server, error)
}

// AccountQueries serves account lookups for the API surface.
type AccountQueries interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Account, error)
}

// AuditLog records operation outcomes for support and admin inspection.
type AuditLog interface {
	LogAction(ctx context.Context, accountID, action, status, message string) error
	LogActionWithMetadata(ctx context.Context, accountID, action, status, message string, metadata map[string]interface{}) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.ProvisionLog, error)
	ListRecent(ctx context.Context, limit int) ([]*models.ProvisionLog, error)
}

// Adapters resolves protocol tags. Satisfied by protocol.Registry.
type Adapters interface {
	Lookup(protocol string) (protocol.Adapter, bool)
	Protocols() []string
}

// ProvisionService orchestrates account provisioning: validate the request,
// dispatch to the protocol adapter, track the operation lifecycle, reconcile
// local state, and format the result string for the storefront.
//
// Expected failures (bad input, duplicates, unreachable hosts, watchdog
// timeouts) come back inside the response with a ✘ message and a nil error.
// The error return is reserved for faults the storefront cannot present to
// a user, which gin maps to a 500.
type ProvisionService struct {
	cfg        *config.Config
	adapters   Adapters
	servers    ServerStore
	accounts   AccountQueries
	logs       AuditLog
	reconciler *Reconciler
	tracker    *OperationTracker
}

// NewProvisionService creates a new provision service
func NewProvisionService(
	cfg *config.Config,
	adapters Adapters,
	servers ServerStore,
	accounts AccountQueries,
	logs AuditLog,
	reconciler *Reconciler,
	tracker *OperationTracker,
) *ProvisionService {
	return &ProvisionService{
		cfg:        cfg,
		adapters:   adapters,
		servers:    servers,
		accounts:   accounts,
		logs:       logs,
		reconciler: reconciler,
		tracker:    tracker,
	}
}

// Provision creates one account on a remote host.
func (s *ProvisionService) Provision(ctx context.Context, req *models.ProvisionRequest) (*models.ProvisionResponse, error) {
	log.Printf("[Provision] create %s/%s on server=%s for user=%s",
		req.Protocol, req.Username, req.ServerID, req.UserID)

	resp := &models.ProvisionResponse{Username: req.Username, Protocol: req.Protocol}

	adapter, ok := s.adapters.Lookup(req.Protocol)
	if !ok {
		resp.Message = unknownProtocolMessage(req.Protocol, s.adapters.Protocols())
		return resp, nil
	}
	// Charset check runs before the server row is even loaded; bad input
	// must cause zero I/O of any kind.
	if err := remote.ValidateUsername(req.Username); err != nil {
		resp.Message = failureMessage(err)
		return resp, nil
	}
	if req.Days <= 0 {
		resp.Message = failureMark + " Duration must be at least 1 day."
		return resp, nil
	}

	srv, err := s.servers.GetByID(ctx, req.ServerID)
	if errors.Is(err, repository.ErrNotFound) {
		resp.Message = failureMark + " Unknown server."
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load server %s: %w", req.ServerID, err)
	}
	if !srv.HasCapacity() {
		resp.Message = fmt.Sprintf("%s Server %s is full (%d/%d accounts). Choose another server.",
			failureMark, srv.Name, srv.AccountsCreated, srv.MaxAccounts)
		return resp, nil
	}

	op := s.tracker.Begin(models.VerbCreate, req.Protocol, req.Username, req.ServerID)
	ctx = remote.WithProgress(ctx, func(status string) { s.tracker.Transition(op.ID, status) })

	started := time.Now()
	prov, err := adapter.Create(ctx, srv, protocol.CreateSpec{
		Username: req.Username,
		Password: req.Password,
		Days:     req.Days,
		QuotaGB:  req.QuotaGB,
		IPLimit:  req.IPLimit,
	})
	if err != nil {
		s.settleFailure(ctx, op.ID, models.VerbCreate, req.Protocol, started, err)
		resp.Message = failureMessage(err)
		return resp, nil
	}

	message := createMessage(srv, prov, req.Days, req.Price)
	account := &models.Account{
		ID:          uuid.New().String(),
		Username:    req.Username,
		Protocol:    req.Protocol,
		ServerID:    srv.ID,
		OwnerID:     req.UserID,
		Status:      models.AccountStatusActive,
		RawResponse: message,
		URIs:        prov.URIs,
		CreatedAt:   time.Now(),
		ExpireAt:    prov.ExpireAt,
	}
	if err := s.reconciler.RecordCreate(ctx, account); err != nil {
		// The remote user exists but the record write failed. Take the
		// remote user back down so the storefront can safely retry.
		if _, derr := adapter.Delete(ctx, srv, req.Username); derr != nil {
			log.Printf("[Provision] rollback delete of %s/%s on %s failed: %v",
				req.Protocol, req.Username, srv.Host, derr)
		}
		s.tracker.Settle(op.ID, models.OpStatusFailed, err)
		observeOperation(req.Protocol, models.VerbCreate, outcomeFailed, time.Since(started))
		return nil, fmt.Errorf("save account: %w", err)
	}

	s.tracker.Settle(op.ID, models.OpStatusSucceeded, nil)
	observeOperation(req.Protocol, models.VerbCreate, outcomeSucceeded, time.Since(started))
	s.logs.LogActionWithMetadata(ctx, account.ID, models.VerbCreate, models.OpStatusSucceeded,
		fmt.Sprintf("%s account %s created on %s", req.Protocol, req.Username, srv.Host),
		map[string]interface{}{
			"server_id": srv.ID,
			"expire_at": prov.ExpireAt.Format(expiryLayout),
			"price":     req.Price,
		})

	resp.Success = true
	resp.AccountID = account.ID
	resp.ExpireAt = prov.ExpireAt.Format(expiryLayout)
	resp.URIs = prov.URIs
	resp.Message = message
	return resp, nil
}

// Renew extends an existing account. The new expiry is computed on the host
// from its own recorded date, never from the local row, and the stored
// record follows whatever the host reports.
func (s *ProvisionService) Renew(ctx context.Context, req *models.RenewRequest) (*models.RenewResponse, error) {
	log.Printf("[Renew] %s/%s on server=%s +%dd", req.Protocol, req.Username, req.ServerID, req.Days)

	resp := &models.RenewResponse{Username: req.Username}

	adapter, ok := s.adapters.Lookup(req.Protocol)
	if !ok {
		resp.Message = unknownProtocolMessage(req.Protocol, s.adapters.Protocols())
		return resp, nil
	}
	if err := remote.ValidateUsername(req.Username); err != nil {
		resp.Message = failureMessage(err)
		return resp, nil
	}
	if req.Days <= 0 {
		resp.Message = failureMark + " Duration must be at least 1 day."
		return resp, nil
	}

	srv, err := s.servers.GetByID(ctx, req.ServerID)
	if errors.Is(err, repository.ErrNotFound) {
		resp.Message = failureMark + " Unknown server."
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load server %s: %w", req.ServerID, err)
	}

	op := s.tracker.Begin(models.VerbRenew, req.Protocol, req.Username, req.ServerID)
	ctx = remote.WithProgress(ctx, func(status string) { s.tracker.Transition(op.ID, status) })

	started := time.Now()
	prov, err := adapter.Renew(ctx, srv, req.Username, req.Days)
	if err != nil {
		s.settleFailure(ctx, op.ID, models.VerbRenew, req.Protocol, started, err)
		resp.Message = failureMessage(err)
		return resp, nil
	}

	// The remote extension cannot be taken back, so a failed record update
	// is logged and reported as success anyway; the row converges on the
	// next operation or sweep.
	if err := s.reconciler.RecordRenewal(ctx, req.Username, srv.ID, req.Protocol, prov.ExpireAt); err != nil {
		log.Printf("[Renew] record update for %s/%s failed: %v", req.Protocol, req.Username, err)
	}

	s.tracker.Settle(op.ID, models.OpStatusSucceeded, nil)
	observeOperation(req.Protocol, models.VerbRenew, outcomeSucceeded, time.Since(started))
	s.logs.LogAction(ctx, "", models.VerbRenew, models.OpStatusSucceeded,
		fmt.Sprintf("%s account %s renewed %d days on %s", req.Protocol, req.Username, req.Days, srv.Host))

	resp.Success = true
	if !prov.OldExpireAt.IsZero() {
		resp.OldExpireAt = prov.OldExpireAt.Format(expiryLayout)
	}
	resp.NewExpireAt = prov.ExpireAt.Format(expiryLayout)
	resp.Message = renewMessage(srv, prov, req.Days, req.Price)
	return resp, nil
}

// Deprovision removes an account. Deleting an account that is already gone
// is reported as success with AlreadyAbsent set: the desired state holds.
func (s *ProvisionService) Deprovision(ctx context.Context, req *models.DeprovisionRequest) (*models.DeprovisionResponse, error) {
	log.Printf("[Deprovision] %s/%s on server=%s", req.Protocol, req.Username, req.ServerID)

	resp := &models.DeprovisionResponse{}

	adapter, ok := s.adapters.Lookup(req.Protocol)
	if !ok {
		resp.Message = unknownProtocolMessage(req.Protocol, s.adapters.Protocols())
		return resp, nil
	}
	if err := remote.ValidateUsername(req.Username); err != nil {
		resp.Message = failureMessage(err)
		return resp, nil
	}

	srv, err := s.servers.GetByID(ctx, req.ServerID)
	if errors.Is(err, repository.ErrNotFound) {
		resp.Message = failureMark + " Unknown server."
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load server %s: %w", req.ServerID, err)
	}

	op := s.tracker.Begin(models.VerbDelete, req.Protocol, req.Username, req.ServerID)
	ctx = remote.WithProgress(ctx, func(status string) { s.tracker.Transition(op.ID, status) })

	started := time.Now()
	prov, err := adapter.Delete(ctx, srv, req.Username)
	if err != nil {
		s.settleFailure(ctx, op.ID, models.VerbDelete, req.Protocol, started, err)
		resp.Message = failureMessage(err)
		return resp, nil
	}

	if err := s.reconciler.RecordDeletion(ctx, req.Username, srv.ID, req.Protocol); err != nil {
		log.Printf("[Deprovision] record removal for %s/%s failed: %v", req.Protocol, req.Username, err)
	}

	s.tracker.Settle(op.ID, models.OpStatusSucceeded, nil)
	observeOperation(req.Protocol, models.VerbDelete, outcomeSucceeded, time.Since(started))
	s.logs.LogAction(ctx, "", models.VerbDelete, models.OpStatusSucceeded,
		fmt.Sprintf("%s account %s removed from %s (already_absent=%v)",
			req.Protocol, req.Username, srv.Host, prov.AlreadyAbsent))

	resp.Success = true
	resp.AlreadyAbsent = prov.AlreadyAbsent
	resp.Message = deleteMessage(srv, req.Username, req.Protocol, prov.AlreadyAbsent)
	return resp, nil
}

// Trial activates a short-lived account that removes itself on the host.
// Trials are never persisted locally; there is nothing to renew or sweep.
func (s *ProvisionService) Trial(ctx context.Context, req *models.TrialRequest) (*models.TrialResponse, error) {
	log.Printf("[Trial] %s on server=%s for user=%s", req.Protocol, req.ServerID, req.UserID)

	resp := &models.TrialResponse{}

	adapter, ok := s.adapters.Lookup(req.Protocol)
	if !ok {
		resp.Message = unknownProtocolMessage(req.Protocol, s.adapters.Protocols())
		return resp, nil
	}

	srv, err := s.servers.GetByID(ctx, req.ServerID)
	if errors.Is(err, repository.ErrNotFound) {
		resp.Message = failureMark + " Unknown server."
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load server %s: %w", req.ServerID, err)
	}

	username := protocol.TrialUsername()
	resp.Username = username

	op := s.tracker.Begin(models.VerbTrial, req.Protocol, username, req.ServerID)
	ctx = remote.WithProgress(ctx, func(status string) { s.tracker.Transition(op.ID, status) })

	started := time.Now()
	prov, err := adapter.Trial(ctx, srv, protocol.TrialSpec{
		Username: username,
		Minutes:  s.cfg.Trial.Minutes,
	})
	if err != nil {
		s.settleFailure(ctx, op.ID, models.VerbTrial, req.Protocol, started, err)
		resp.Message = failureMessage(err)
		return resp, nil
	}

	s.tracker.Settle(op.ID, models.OpStatusSucceeded, nil)
	observeOperation(req.Protocol, models.VerbTrial, outcomeSucceeded, time.Since(started))
	s.logs.LogAction(ctx, "", models.VerbTrial, models.OpStatusSucceeded,
		fmt.Sprintf("%s trial %s activated on %s for user=%s", req.Protocol, username, srv.Host, req.UserID))

	resp.Success = true
	resp.ExpireAt = prov.ExpireAt.Format(time.RFC3339)
	resp.URIs = prov.URIs
	resp.Message = trialMessage(srv, prov, s.cfg.Trial.Minutes)
	return resp, nil
}

// GetAccount returns one account row with its stored result block.
func (s *ProvisionService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

// ListUserAccounts returns all accounts owned by a storefront user.
func (s *ProvisionService) ListUserAccounts(ctx context.Context, ownerID string) ([]*models.Account, error) {
	return s.accounts.ListByOwner(ctx, ownerID)
}

// AccountLogs returns the audit trail for one account.
func (s *ProvisionService) AccountLogs(ctx context.Context, accountID string, limit int) ([]*models.ProvisionLog, error) {
	return s.logs.ListByAccount(ctx, accountID, limit)
}

// RecentLogs returns the latest audit entries across all accounts.
func (s *ProvisionService) RecentLogs(ctx context.Context, limit int) ([]*models.ProvisionLog, error) {
	return s.logs.ListRecent(ctx, limit)
}

// Operations lists tracked operations, newest first.
func (s *ProvisionService) Operations() []models.Operation {
	return s.tracker.List()
}

// Operation returns one tracked operation by id.
func (s *ProvisionService) Operation(id string) (models.Operation, bool) {
	return s.tracker.Get(id)
}

// settleFailure resolves the tracked operation and writes the audit entry
// for a classified remote failure.
func (s *ProvisionService) settleFailure(ctx context.Context, opID, verb, protocolTag string, started time.Time, err error) {
	status := models.OpStatusFailed
	outcome := outcomeFailed
	if errors.Is(err, remote.ErrTimeout) {
		status = models.OpStatusTimedOut
		outcome = outcomeTimedOut
	}
	s.tracker.Settle(opID, status, err)
	observeOperation(protocolTag, verb, outcome, time.Since(started))
	s.logs.LogAction(ctx, "", verb, status, err.Error())
}
