package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/provisioning-service/internal/config"
	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
	"github.com/wenwu/saas-platform/provisioning-service/internal/protocol"
	"github.com/wenwu/saas-platform/provisioning-service/internal/remote"
	"github.com/wenwu/saas-platform/provisioning-service/internal/repository"
)

// fakeAdapter plays back scripted verb outcomes and counts calls.
type fakeAdapter struct {
	mu  sync.Mutex
	tag string

	createProv *protocol.Provision
	createErr  error
	renewProv  *protocol.Provision
	renewErr   error
	deleteProv *protocol.Provision
	deleteErr  error
	trialProv  *protocol.Provision
	trialErr   error

	createCalls int
	renewCalls  int
	deleteCalls int
	trialCalls  int

	lastCreateSpec protocol.CreateSpec
	lastTrialSpec  protocol.TrialSpec
}

func (f *fakeAdapter) Protocol() string { return f.tag }

func (f *fakeAdapter) Create(_ context.Context, _ *models.Server, spec protocol.CreateSpec) (*protocol.Provision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastCreateSpec = spec
	if f.createErr != nil {
		return nil, f.createErr
	}
	prov := *f.createProv
	prov.Username = spec.Username
	return &prov, nil
}

func (f *fakeAdapter) Renew(_ context.Context, _ *models.Server, username string, _ int) (*protocol.Provision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewCalls++
	if f.renewErr != nil {
		return nil, f.renewErr
	}
	prov := *f.renewProv
	prov.Username = username
	return &prov, nil
}

func (f *fakeAdapter) Delete(_ context.Context, _ *models.Server, username string) (*protocol.Provision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	prov := *f.deleteProv
	prov.Username = username
	return &prov, nil
}

func (f *fakeAdapter) Trial(_ context.Context, _ *models.Server, spec protocol.TrialSpec) (*protocol.Provision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trialCalls++
	f.lastTrialSpec = spec
	if f.trialErr != nil {
		return nil, f.trialErr
	}
	prov := *f.trialProv
	prov.Username = spec.Username
	return &prov, nil
}

func (f *fakeAdapter) calls() (create, renew, del, trial int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.renewCalls, f.deleteCalls, f.trialCalls
}

type fakeAdapters struct {
	byTag map[string]protocol.Adapter
}

func (f *fakeAdapters) Lookup(tag string) (protocol.Adapter, bool) {
	a, ok := f.byTag[tag]
	return a, ok
}

func (f *fakeAdapters) Protocols() []string {
	out := make([]string, 0, len(f.byTag))
	for tag := range f.byTag {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

type fakeServers struct {
	rows map[string]*models.Server
	err  error
}

func (f *fakeServers) GetByID(_ context.Context, id string) (*models.Server, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

type auditEntry struct {
	accountID string
	action    string
	status    string
	message   string
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (f *fakeAudit) LogAction(_ context.Context, accountID, action, status, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, auditEntry{accountID, action, status, message})
	return nil
}

func (f *fakeAudit) LogActionWithMetadata(ctx context.Context, accountID, action, status, message string, _ map[string]interface{}) error {
	return f.LogAction(ctx, accountID, action, status, message)
}

func (f *fakeAudit) ListByAccount(_ context.Context, _ string, _ int) ([]*models.ProvisionLog, error) {
	return nil, nil
}

func (f *fakeAudit) ListRecent(_ context.Context, _ int) ([]*models.ProvisionLog, error) {
	return nil, nil
}

func (f *fakeAudit) last() (auditEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return auditEntry{}, false
	}
	return f.entries[len(f.entries)-1], true
}

// fixture wires a real service over in-memory collaborators and one scripted
// adapter registered as vmess.
type fixture struct {
	svc      *ProvisionService
	adapter  *fakeAdapter
	accounts *fakeAccounts
	counter  *fakeCounter
	idx      *fakeIndex
	audit    *fakeAudit
	tracker  *OperationTracker
	server   *models.Server
}

func newFixture() *fixture {
	adapter := &fakeAdapter{
		tag: models.ProtocolVmess,
		createProv: &protocol.Provision{
			Protocol: models.ProtocolVmess,
			UUID:     "11111111-2222-3333-4444-555555555555",
			ExpireAt: time.Date(2026, 9, 24, 0, 0, 0, 0, time.UTC),
			URIs:     []string{"vmess://tls-variant", "vmess://ws-variant"},
		},
		renewProv: &protocol.Provision{
			Protocol:    models.ProtocolVmess,
			OldExpireAt: time.Date(2026, 9, 24, 0, 0, 0, 0, time.UTC),
			ExpireAt:    time.Date(2026, 10, 24, 0, 0, 0, 0, time.UTC),
		},
		deleteProv: &protocol.Provision{Protocol: models.ProtocolVmess},
		trialProv: &protocol.Provision{
			Protocol: models.ProtocolVmess,
			UUID:     "66666666-7777-8888-9999-000000000000",
			ExpireAt: time.Now().Add(time.Hour),
			URIs:     []string{"vmess://trial"},
		},
	}

	server := &models.Server{
		ID:       "srv-1",
		Name:     "sg-01",
		Host:     "sg1.example.com",
		SSHPort:  22,
		RootUser: "root",
		QuotaGB:  100,
		IPLimit:  2,
	}

	accounts := newFakeAccounts()
	counter := newFakeCounter()
	idx := newFakeIndex()
	audit := &fakeAudit{}
	tracker := NewOperationTracker(time.Hour)

	cfg := &config.Config{Trial: config.TrialConfig{Minutes: 60}}
	svc := NewProvisionService(
		cfg,
		&fakeAdapters{byTag: map[string]protocol.Adapter{models.ProtocolVmess: adapter}},
		&fakeServers{rows: map[string]*models.Server{"srv-1": server}},
		accounts,
		audit,
		NewReconciler(accounts, counter, idx),
		tracker,
	)

	return &fixture{
		svc:      svc,
		adapter:  adapter,
		accounts: accounts,
		counter:  counter,
		idx:      idx,
		audit:    audit,
		tracker:  tracker,
		server:   server,
	}
}

func (fx *fixture) lastOp(t *testing.T) models.Operation {
	t.Helper()
	ops := fx.tracker.List()
	require.NotEmpty(t, ops, "expected a tracked operation")
	return ops[0]
}

func createReq() *models.ProvisionRequest {
	return &models.ProvisionRequest{
		UserID:   "user-7",
		Protocol: models.ProtocolVmess,
		ServerID: "srv-1",
		Username: "alice",
		Days:     30,
		Price:    5000,
	}
}

func TestProvision_Success(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	resp, err := fx.svc.Provision(context.Background(), createReq())
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.AccountID)
	assert.Equal(t, "2026-09-24", resp.ExpireAt)
	assert.Equal(t, []string{"vmess://tls-variant", "vmess://ws-variant"}, resp.URIs)
	assert.Contains(t, resp.Message, "✔ Account created on sg-01")
	assert.Contains(t, resp.Message, "EXP:2026-09-24")

	// Local state followed the remote success.
	row, ok := fx.accounts.get("alice", "srv-1", models.ProtocolVmess)
	require.True(t, ok)
	assert.Equal(t, "user-7", row.OwnerID)
	assert.Equal(t, resp.Message, row.RawResponse, "stored block must match what the user saw")
	assert.Equal(t, 1, fx.counter.bumped["srv-1"])
	assert.True(t, fx.idx.has(models.FamilyXray, "alice"))

	op := fx.lastOp(t)
	assert.Equal(t, models.OpStatusSucceeded, op.Status)

	entry, ok := fx.audit.last()
	require.True(t, ok)
	assert.Equal(t, models.VerbCreate, entry.action)
	assert.Equal(t, resp.AccountID, entry.accountID)
}

func TestProvision_UnknownProtocol(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	req := createReq()
	req.Protocol = "wireguard"

	resp, err := fx.svc.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, `Unknown protocol "wireguard"`)
	assert.Contains(t, resp.Message, "vmess")

	create, _, _, _ := fx.adapter.calls()
	assert.Equal(t, 0, create)
}

func TestProvision_InvalidUsername(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	req := createReq()
	req.Username = "no spaces allowed"

	resp, err := fx.svc.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "✘ Invalid input:")

	create, _, _, _ := fx.adapter.calls()
	assert.Equal(t, 0, create, "bad input must not reach the adapter")
	assert.Empty(t, fx.tracker.List(), "rejected requests are not tracked operations")
}

func TestProvision_NonPositiveDays(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	req := createReq()
	req.Days = 0

	resp, err := fx.svc.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "at least 1 day")
}

func TestProvision_UnknownServer(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	req := createReq()
	req.ServerID = "srv-404"

	resp, err := fx.svc.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "✘ Unknown server.", resp.Message)
}

func TestProvision_ServerFull(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	fx.server.MaxAccounts = 10
	fx.server.AccountsCreated = 10

	resp, err := fx.svc.Provision(context.Background(), createReq())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "is full (10/10 accounts)")

	create, _, _, _ := fx.adapter.calls()
	assert.Equal(t, 0, create)
}

func TestProvision_RemoteFailureIsSoft(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	fx.adapter.createErr = remote.ErrAlreadyExists

	resp, err := fx.svc.Provision(context.Background(), createReq())
	require.NoError(t, err, "classified remote failures are not transport errors")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "already taken")

	assert.Equal(t, 0, fx.accounts.count(), "no row for a failed creation")
	assert.Equal(t, models.OpStatusFailed, fx.lastOp(t).Status)
}

func TestProvision_TimeoutSettlesTimedOut(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	fx.adapter.createErr = remote.ErrTimeout

	resp, err := fx.svc.Provision(context.Background(), createReq())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "took too long")

	op := fx.lastOp(t)
	assert.Equal(t, models.OpStatusTimedOut, op.Status)
	assert.NotEmpty(t, op.Error)
}

func TestProvision_SaveFailureRollsBackRemote(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	fx.accounts.upsertErr = errors.New("connection refused")

	resp, err := fx.svc.Provision(context.Background(), createReq())
	require.Error(t, err, "a lost record is a hard fault the storefront must see")
	assert.Nil(t, resp)

	// The remote user was taken back down so a retry starts clean.
	_, _, del, _ := fx.adapter.calls()
	assert.Equal(t, 1, del)
	assert.Equal(t, models.OpStatusFailed, fx.lastOp(t).Status)
}

func TestRenew_Success(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	seed := activeAccount("alice", "srv-1", models.ProtocolVmess)
	seed.Warned3Day = true
	require.NoError(t, fx.accounts.Upsert(context.Background(), seed))

	resp, err := fx.svc.Renew(context.Background(), &models.RenewRequest{
		Protocol: models.ProtocolVmess,
		ServerID: "srv-1",
		Username: "alice",
		Days:     30,
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "2026-09-24", resp.OldExpireAt)
	assert.Equal(t, "2026-10-24", resp.NewExpireAt)
	assert.Contains(t, resp.Message, "✔ Account renewed")
	assert.Contains(t, resp.Message, "EXP:2026-10-24")

	row, ok := fx.accounts.get("alice", "srv-1", models.ProtocolVmess)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 24, 0, 0, 0, 0, time.UTC), row.ExpireAt)
	assert.False(t, row.Warned3Day)
}

func TestRenew_PersistFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	fx.accounts.renewErr = errors.New("db down")

	resp, err := fx.svc.Renew(context.Background(), &models.RenewRequest{
		Protocol: models.ProtocolVmess,
		ServerID: "srv-1",
		Username: "alice",
		Days:     30,
	})
	require.NoError(t, err)

	// The host already extended the account; that cannot be taken back, so
	// the user is told it worked and the row converges later.
	assert.True(t, resp.Success)
	assert.Equal(t, models.OpStatusSucceeded, fx.lastOp(t).Status)
}

func TestRenew_MissingRemoteUser(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	fx.adapter.renewErr = remote.ErrUserNotFound

	resp, err := fx.svc.Renew(context.Background(), &models.RenewRequest{
		Protocol: models.ProtocolVmess,
		ServerID: "srv-1",
		Username: "ghost",
		Days:     30,
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "No account with that username")
}

func TestDeprovision_RemovesRecord(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	require.NoError(t, fx.accounts.Upsert(context.Background(), activeAccount("alice", "srv-1", models.ProtocolVmess)))
	require.NoError(t, fx.idx.Add(context.Background(), models.FamilyXray, "alice"))

	resp, err := fx.svc.Deprovision(context.Background(), &models.DeprovisionRequest{
		Protocol: models.ProtocolVmess,
		ServerID: "srv-1",
		Username: "alice",
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.False(t, resp.AlreadyAbsent)
	assert.Contains(t, resp.Message, "✔ Account alice (vmess) removed")

	assert.Equal(t, 0, fx.accounts.count())
	assert.False(t, fx.idx.has(models.FamilyXray, "alice"))
}

func TestDeprovision_AlreadyAbsent(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	fx.adapter.deleteProv = &protocol.Provision{Protocol: models.ProtocolVmess, AlreadyAbsent: true}

	resp, err := fx.svc.Deprovision(context.Background(), &models.DeprovisionRequest{
		Protocol: models.ProtocolVmess,
		ServerID: "srv-1",
		Username: "alice",
	})
	require.NoError(t, err)

	assert.True(t, resp.Success, "the desired state already holds")
	assert.True(t, resp.AlreadyAbsent)
	assert.Contains(t, resp.Message, "⚠")
	assert.Contains(t, resp.Message, "already absent")
}

func TestTrial_NeverPersisted(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	resp, err := fx.svc.Trial(context.Background(), &models.TrialRequest{
		UserID:   "user-7",
		Protocol: models.ProtocolVmess,
		ServerID: "srv-1",
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Regexp(t, `^trial\d{5}$`, resp.Username)
	assert.Equal(t, 60, fx.adapter.lastTrialSpec.Minutes)
	assert.Contains(t, resp.Message, "Trial active for 60 minutes")
	assert.NotContains(t, resp.Message, "EXP:", "trials are never renewed")

	_, parseErr := time.Parse(time.RFC3339, resp.ExpireAt)
	assert.NoError(t, parseErr)

	assert.Equal(t, 0, fx.accounts.count(), "trials leave no local row")
	assert.Equal(t, models.OpStatusSucceeded, fx.lastOp(t).Status)
}

func TestProvision_SpecCarriesStorefrontOverrides(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	req := createReq()
	req.QuotaGB = 250
	req.IPLimit = 5

	_, err := fx.svc.Provision(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 250, fx.adapter.lastCreateSpec.QuotaGB)
	assert.Equal(t, 5, fx.adapter.lastCreateSpec.IPLimit)
	assert.Equal(t, 30, fx.adapter.lastCreateSpec.Days)
}
