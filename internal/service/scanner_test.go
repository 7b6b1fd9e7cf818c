package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/provisioning-service/internal/config"
	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
	"github.com/wenwu/saas-platform/provisioning-service/internal/protocol"
	"github.com/wenwu/saas-platform/provisioning-service/internal/remote"
)

// fakeSweepStore hands out pre-selected rows per window and records flag
// writes.
type fakeSweepStore struct {
	mu      sync.Mutex
	due3    []*models.Account
	due1    []*models.Account
	expired []*models.Account
	grace   []*models.Account

	warned   map[string]int
	notified []string

	listErr      error
	setWarnedErr error
}

func newFakeSweepStore() *fakeSweepStore {
	return &fakeSweepStore{warned: make(map[string]int)}
}

func (f *fakeSweepStore) ListDueForWarning(_ context.Context, _ time.Time, days int) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if days == 3 {
		return f.due3, nil
	}
	return f.due1, nil
}

func (f *fakeSweepStore) ListExpiredUnnotified(_ context.Context, _ time.Time, _ int) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.expired, nil
}

func (f *fakeSweepStore) ListDueForGraceDelete(_ context.Context, _ time.Time, _ int) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.grace, nil
}

func (f *fakeSweepStore) SetWarned(_ context.Context, id string, days int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setWarnedErr != nil {
		return f.setWarnedErr
	}
	f.warned[id] = days
	return nil
}

func (f *fakeSweepStore) MarkExpiredNotified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, id)
	return nil
}

func (f *fakeSweepStore) warnedDays(id string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.warned[id]
	return d, ok
}

type fakeNotifier struct {
	mu       sync.Mutex
	warnings []string
	expired  []string

	warnErr    error
	expiredErr error
}

func (f *fakeNotifier) ExpiryWarning(_ context.Context, a *models.Account, daysLeft int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.warnErr != nil {
		return f.warnErr
	}
	f.warnings = append(f.warnings, fmt.Sprintf("%s:%d", a.Username, daysLeft))
	return nil
}

func (f *fakeNotifier) ExpiredNotice(_ context.Context, a *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expiredErr != nil {
		return f.expiredErr
	}
	f.expired = append(f.expired, a.Username)
	return nil
}

type scannerFixture struct {
	scanner  *Scanner
	store    *fakeSweepStore
	notifier *fakeNotifier
	adapter  *fakeAdapter
	accounts *fakeAccounts
	idx      *fakeIndex
	audit    *fakeAudit
}

func newScannerFixture() *scannerFixture {
	adapter := &fakeAdapter{
		tag:        models.ProtocolVmess,
		deleteProv: &protocol.Provision{Protocol: models.ProtocolVmess},
	}
	store := newFakeSweepStore()
	notifier := &fakeNotifier{}
	accounts := newFakeAccounts()
	idx := newFakeIndex()
	audit := &fakeAudit{}

	cfg := &config.Config{Sweep: config.SweepConfig{Interval: time.Minute, GraceDays: 3}}
	scanner := NewScanner(
		cfg,
		store,
		&fakeServers{rows: map[string]*models.Server{"srv-1": {ID: "srv-1", Host: "sg1.example.com"}}},
		&fakeAdapters{byTag: map[string]protocol.Adapter{models.ProtocolVmess: adapter}},
		NewReconciler(accounts, newFakeCounter(), idx),
		notifier,
		audit,
	)

	return &scannerFixture{
		scanner:  scanner,
		store:    store,
		notifier: notifier,
		adapter:  adapter,
		accounts: accounts,
		idx:      idx,
		audit:    audit,
	}
}

func TestSweep_WarnsAndFlags(t *testing.T) {
	t.Parallel()

	fx := newScannerFixture()
	threeDay := activeAccount("alice", "srv-1", models.ProtocolVmess)
	oneDay := activeAccount("bob", "srv-1", models.ProtocolVmess)
	fx.store.due3 = []*models.Account{threeDay}
	fx.store.due1 = []*models.Account{oneDay}

	resp, err := fx.scanner.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Warned3Day)
	assert.Equal(t, 1, resp.Warned1Day)
	assert.Contains(t, resp.Message, "warned3=1 warned1=1")

	assert.Contains(t, fx.notifier.warnings, "alice:3")
	assert.Contains(t, fx.notifier.warnings, "bob:1")

	days, ok := fx.store.warnedDays(threeDay.ID)
	require.True(t, ok)
	assert.Equal(t, 3, days)
	days, ok = fx.store.warnedDays(oneDay.ID)
	require.True(t, ok)
	assert.Equal(t, 1, days)
}

func TestSweep_FlagWaitsForDelivery(t *testing.T) {
	t.Parallel()

	fx := newScannerFixture()
	fx.store.due3 = []*models.Account{activeAccount("alice", "srv-1", models.ProtocolVmess)}
	fx.notifier.warnErr = errors.New("gateway 502")

	resp, err := fx.scanner.Sweep(context.Background())
	require.NoError(t, err, "delivery failures are soft; the pass retries next tick")

	assert.Equal(t, 0, resp.Warned3Day)
	_, flagged := fx.store.warnedDays("acc-alice")
	assert.False(t, flagged, "an undelivered warning must stay selectable")
}

func TestSweep_ExpiredNotice(t *testing.T) {
	t.Parallel()

	fx := newScannerFixture()
	lapsed := activeAccount("carol", "srv-1", models.ProtocolVmess)
	lapsed.ExpireAt = time.Now().AddDate(0, 0, -1)
	fx.store.expired = []*models.Account{lapsed}

	resp, err := fx.scanner.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, resp.ExpiredNotified)
	assert.Contains(t, fx.notifier.expired, "carol")
	assert.Contains(t, fx.store.notified, lapsed.ID)
}

func TestSweep_GraceDeleteSurvivesRemoteFailure(t *testing.T) {
	t.Parallel()

	fx := newScannerFixture()
	stale := activeAccount("dave", "srv-1", models.ProtocolVmess)
	stale.ExpireAt = time.Now().AddDate(0, 0, -5)
	fx.store.grace = []*models.Account{stale}
	fx.adapter.deleteErr = remote.ErrHostUnreachable

	require.NoError(t, fx.accounts.Upsert(context.Background(), stale))
	require.NoError(t, fx.idx.Add(context.Background(), models.FamilyXray, "dave"))

	resp, err := fx.scanner.Sweep(context.Background())
	require.NoError(t, err)

	// A dead host must not keep its rows alive forever.
	assert.Equal(t, 1, resp.Deleted)
	assert.Equal(t, 0, fx.accounts.count())
	assert.False(t, fx.idx.has(models.FamilyXray, "dave"))

	_, _, del, _ := fx.adapter.calls()
	assert.Equal(t, 1, del, "the remote delete was attempted")

	entry, ok := fx.audit.last()
	require.True(t, ok)
	assert.Equal(t, "sweep", entry.action)
	assert.Equal(t, "deleted", entry.status)
	assert.Contains(t, entry.message, "days after expiry")
}

func TestSweep_GraceDeleteWithoutAdapter(t *testing.T) {
	t.Parallel()

	fx := newScannerFixture()
	legacy := activeAccount("eve", "srv-1", "legacy")
	legacy.ExpireAt = time.Now().AddDate(0, 0, -10)
	fx.store.grace = []*models.Account{legacy}
	require.NoError(t, fx.accounts.Upsert(context.Background(), legacy))

	resp, err := fx.scanner.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Deleted)
	assert.Equal(t, 0, fx.accounts.count(), "record goes even when no adapter can reach the host")
}

func TestSweep_SelectionErrorPropagates(t *testing.T) {
	t.Parallel()

	fx := newScannerFixture()
	fx.store.listErr = errors.New("connection reset")

	_, err := fx.scanner.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweep_QuietPass(t *testing.T) {
	t.Parallel()

	fx := newScannerFixture()
	resp, err := fx.scanner.Sweep(context.Background())
	require.NoError(t, err)

	assert.Zero(t, resp.Warned3Day)
	assert.Zero(t, resp.Warned1Day)
	assert.Zero(t, resp.ExpiredNotified)
	assert.Zero(t, resp.Deleted)
	assert.Equal(t, "sweep complete: warned3=0 warned1=0 expired=0 deleted=0", resp.Message)
}
