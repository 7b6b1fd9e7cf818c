package service

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
)

// OperationTracker keeps in-flight and recently settled operations queryable.
// Every operation has an explicit lifecycle: Begin registers it, Transition
// records executor progress, Settle resolves it exactly once, and the prune
// loop drops settled entries after the retention window.
type OperationTracker struct {
	mu        sync.RWMutex
	ops       map[string]*models.Operation
	retention time.Duration
}

func NewOperationTracker(retention time.Duration) *OperationTracker {
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	return &OperationTracker{
		ops:       make(map[string]*models.Operation),
		retention: retention,
	}
}

// Begin registers a new operation in the requested state and returns a
// snapshot of it.
func (t *OperationTracker) Begin(verb, protocol, username, serverID string) models.Operation {
	op := &models.Operation{
		ID:        uuid.New().String(),
		Verb:      verb,
		Protocol:  protocol,
		Username:  username,
		ServerID:  serverID,
		Status:    models.OpStatusRequested,
		StartedAt: time.Now(),
	}

	t.mu.Lock()
	t.ops[op.ID] = op
	t.mu.Unlock()

	return *op
}

// Transition records executor progress. Settled operations ignore late
// transitions, so a racing watchdog and completion cannot reorder history.
func (t *OperationTracker) Transition(id, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[id]
	if !ok || op.Terminal() {
		return
	}
	op.Status = status
}

// Settle resolves an operation into a terminal state. The first settle wins;
// later calls are no-ops.
func (t *OperationTracker) Settle(id, status string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[id]
	if !ok || op.Terminal() {
		return
	}
	op.Status = status
	if err != nil {
		op.Error = err.Error()
	}
	now := time.Now()
	op.FinishedAt = &now
}

// Get returns a snapshot of one operation.
func (t *OperationTracker) Get(id string) (models.Operation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	op, ok := t.ops[id]
	if !ok {
		return models.Operation{}, false
	}
	return *op, true
}

// List returns snapshots of every tracked operation, newest first.
func (t *OperationTracker) List() []models.Operation {
	t.mu.RLock()
	out := make([]models.Operation, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, *op)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// prune drops settled operations that finished before the retention cutoff
// and returns how many were removed. In-flight operations are never pruned.
func (t *OperationTracker) prune(now time.Time) int {
	cutoff := now.Add(-t.retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, op := range t.ops {
		if op.Terminal() && op.FinishedAt != nil && op.FinishedAt.Before(cutoff) {
			delete(t.ops, id)
			removed++
		}
	}
	return removed
}

// Run prunes periodically until the context is canceled.
func (t *OperationTracker) Run(ctx context.Context) {
	interval := t.retention / 2
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.prune(time.Now()); n > 0 {
				log.Printf("[Operations] pruned %d settled operations", n)
			}
		}
	}
}
