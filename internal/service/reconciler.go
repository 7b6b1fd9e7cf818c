package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
	"github.com/wenwu/saas-platform/provisioning-service/internal/repository"
)

// AccountStore is the reconciliation write surface over account records.
// Satisfied by repository.AccountRepository.
type AccountStore interface {
	Upsert(ctx context.Context, a *models.Account) error
	RenewByKey(ctx context.Context, username, serverID, protocol string, expireAt time.Time) error
	DeleteByKey(ctx context.Context, username, serverID, protocol string) error
}

// ServerCounter bumps per-server capacity counters.
type ServerCounter interface {
	IncrementAccounts(ctx context.Context, id string) error
}

// AccountIndex is the advisory existence mirror in Redis.
type AccountIndex interface {
	Add(ctx context.Context, family, username string) error
	Remove(ctx context.Context, family, username string) error
}

// Reconciler applies the local half of a settled remote operation. No
// transaction spans the remote host and the store, so this layer keeps a
// strict order (account record first, then mirror and counters) and
// serializes writes per logical account so racing verbs cannot interleave.
//
// The account record write is authoritative and its failure is returned.
// Index and counter writes are advisory: failures are logged and the state
// converges on the next operation against the same account.
type Reconciler struct {
	accounts AccountStore
	servers  ServerCounter
	index    AccountIndex

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewReconciler(accounts AccountStore, servers ServerCounter, index AccountIndex) *Reconciler {
	return &Reconciler{
		accounts: accounts,
		servers:  servers,
		index:    index,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockFor hands out one mutex per logical account key.
func (r *Reconciler) lockFor(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

func accountKey(username, serverID, protocol string) string {
	return username + "/" + protocol + "@" + serverID
}

// RecordCreate persists a freshly provisioned account, mirrors it into the
// index, and bumps the server counter.
func (r *Reconciler) RecordCreate(ctx context.Context, a *models.Account) error {
	lock := r.lockFor(accountKey(a.Username, a.ServerID, a.Protocol))
	lock.Lock()
	defer lock.Unlock()

	if err := r.accounts.Upsert(ctx, a); err != nil {
		return fmt.Errorf("upsert account %s/%s: %w", a.Protocol, a.Username, err)
	}

	if err := r.index.Add(ctx, models.ProtocolFamily(a.Protocol), a.Username); err != nil {
		log.Printf("[Reconciler] index add %s/%s failed: %v", a.Protocol, a.Username, err)
	}
	if err := r.servers.IncrementAccounts(ctx, a.ServerID); err != nil {
		log.Printf("[Reconciler] account counter for server %s failed: %v", a.ServerID, err)
	}
	return nil
}

// RecordRenewal pushes the stored expiry forward and re-arms the active
// status. A renewal against a remote account with no local row adopts it:
// the host is the source of truth, so a fresh record is created rather than
// failing the renewal.
func (r *Reconciler) RecordRenewal(ctx context.Context, username, serverID, protocol string, expireAt time.Time) error {
	lock := r.lockFor(accountKey(username, serverID, protocol))
	lock.Lock()
	defer lock.Unlock()

	err := r.accounts.RenewByKey(ctx, username, serverID, protocol, expireAt)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("[Reconciler] adopting unrecorded account %s/%s on %s", protocol, username, serverID)
		err = r.accounts.Upsert(ctx, &models.Account{
			ID:        uuid.New().String(),
			Username:  username,
			Protocol:  protocol,
			ServerID:  serverID,
			Status:    models.AccountStatusActive,
			CreatedAt: time.Now(),
			ExpireAt:  expireAt,
		})
	}
	if err != nil {
		return fmt.Errorf("record renewal %s/%s: %w", protocol, username, err)
	}

	if ierr := r.index.Add(ctx, models.ProtocolFamily(protocol), username); ierr != nil {
		log.Printf("[Reconciler] index add %s/%s failed: %v", protocol, username, ierr)
	}
	return nil
}

// RecordDeletion removes the account row and its index entry. A missing row
// is a no-op, matching the idempotent remote delete.
func (r *Reconciler) RecordDeletion(ctx context.Context, username, serverID, protocol string) error {
	lock := r.lockFor(accountKey(username, serverID, protocol))
	lock.Lock()
	defer lock.Unlock()

	err := r.accounts.DeleteByKey(ctx, username, serverID, protocol)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete account %s/%s: %w", protocol, username, err)
	}

	if ierr := r.index.Remove(ctx, models.ProtocolFamily(protocol), username); ierr != nil {
		log.Printf("[Reconciler] index remove %s/%s failed: %v", protocol, username, ierr)
	}
	return nil
}
