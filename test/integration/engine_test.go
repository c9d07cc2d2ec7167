package integration

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/cleanup"
	"github.com/Ramsey-B/aster/pkg/clustering"
	"github.com/Ramsey-B/aster/pkg/engine"
	"github.com/Ramsey-B/aster/pkg/kafka"
	"github.com/Ramsey-B/aster/pkg/merge"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/registry"
	"github.com/Ramsey-B/aster/pkg/scoring"
)

// memoryStore backs the full engine stack in memory so the detection,
// preview, merge, and cleanup flows can run end to end without Postgres.
type memoryStore struct {
	mu         sync.Mutex
	accounts   map[string]models.Account
	dependents map[string]models.DependentRecord
	ledger     map[string]*models.MergeResult
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts:   make(map[string]models.Account),
		dependents: make(map[string]models.DependentRecord),
		ledger:     make(map[string]*models.MergeResult),
	}
}

func (s *memoryStore) List(ctx context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (s *memoryStore) GetByIDs(ctx context.Context, ids []string) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Account, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.accounts[id]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) Update(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = *account
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	return nil
}

func (s *memoryStore) ListByAccount(ctx context.Context, accountID string) ([]models.DependentRecord, error) {
	return s.ListByAccounts(ctx, []string{accountID})
}

func (s *memoryStore) ListByAccounts(ctx context.Context, accountIDs []string) ([]models.DependentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = true
	}
	var out []models.DependentRecord
	for _, r := range s.dependents {
		if wanted[r.AccountID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) ReassignOwner(ctx context.Context, recordID, newAccountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.dependents[recordID]
	r.AccountID = newAccountID
	s.dependents[recordID] = r
	return nil
}

func (s *memoryStore) DeleteDependent(ctx context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dependents, recordID)
	return nil
}

func (s *memoryStore) GetResult(ctx context.Context, key string) (*models.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger[key], nil
}

func (s *memoryStore) Record(ctx context.Context, key string, result *models.MergeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[key] = result
	return nil
}

// dependentView adapts memoryStore to the dependent-record store interface,
// whose Delete collides with the account store's
type dependentView struct{ *memoryStore }

func (v dependentView) Delete(ctx context.Context, recordID string) error {
	return v.DeleteDependent(ctx, recordID)
}

// ledgerView adapts memoryStore to the idempotency ledger interface
type ledgerView struct{ *memoryStore }

func (v ledgerView) Get(ctx context.Context, key string) (*models.MergeResult, error) {
	return v.GetResult(ctx, key)
}

type testStack struct {
	store    *memoryStore
	registry *registry.Registry
	engine   *engine.Engine
}

func newTestStack(t *testing.T, cleanupThreshold float64) *testStack {
	t.Helper()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	store := newMemoryStore()

	builder := clustering.NewBuilder(scoring.NewScorer(scoring.DefaultWeights()), false)
	reg := registry.New(logger, store, builder, 0.85, time.Hour)
	executor := merge.NewExecutor(logger, store, dependentView{store}, ledgerView{store}, reg, time.Second)
	policy := cleanup.NewPolicy(logger, reg, executor, store, cleanupThreshold)

	return &testStack{
		store:    store,
		registry: reg,
		engine:   engine.New(logger, reg, executor, policy, store, nil),
	}
}

func (ts *testStack) seedAccount(a models.Account) models.Account {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	ts.store.mu.Lock()
	ts.store.accounts[a.ID] = a
	ts.store.mu.Unlock()
	return a
}

func (ts *testStack) seedDependent(r models.DependentRecord) models.DependentRecord {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	ts.store.mu.Lock()
	ts.store.dependents[r.ID] = r
	ts.store.mu.Unlock()
	return r
}

func TestDetectPreviewMergeLifecycle(t *testing.T) {
	ts := newTestStack(t, 0.95)
	ctx := context.Background()

	primary := ts.seedAccount(models.Account{
		Name:      "Acme Corporation",
		Domain:    "acme.com",
		Industry:  "manufacturing",
		CreatedAt: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	duplicate := ts.seedAccount(models.Account{
		Name:      "Acme Corp",
		Domain:    "acme.com",
		Phone:     "+1 (555) 010-0100",
		CreatedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	ts.seedAccount(models.Account{
		Name:   "Zenith Analytics",
		Domain: "zenith.dev",
	})

	contact := ts.seedDependent(models.DependentRecord{
		AccountID:      duplicate.ID,
		Kind:           models.DependentKindContact,
		NaturalKey:     models.ContactNaturalKey("jane@acme.com"),
		LastActivityAt: time.Now().UTC(),
	})

	// Detection finds the acme pair and leaves the unrelated account alone
	clusters, err := ts.engine.GetDuplicateClusters(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{primary.ID, duplicate.ID}, clusters[0].AccountIDs)
	assert.GreaterOrEqual(t, clusters[0].Confidence, 0.85)

	// Preview resolves fields without touching storage
	preview, err := ts.engine.PreviewMerge(ctx, models.PreviewMergeRequest{
		PrimaryID:    primary.ID,
		SecondaryIDs: []string{duplicate.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Corporation", preview.Account.Name)
	assert.Equal(t, "+1 (555) 010-0100", preview.Account.Phone)

	stillThere, err := ts.store.Get(ctx, duplicate.ID)
	require.NoError(t, err)
	require.NotNil(t, stillThere)

	// Submit consumes the duplicate and moves its contact
	result, err := ts.engine.SubmitMerge(ctx, models.MergeJob{
		IdempotencyKey: uuid.New().String(),
		PrimaryID:      primary.ID,
		SecondaryIDs:   []string{duplicate.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AccountsRemoved)
	assert.Equal(t, 1, result.RelationshipsMoved)

	gone, err := ts.store.Get(ctx, duplicate.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	records, err := ts.store.ListByAccount(ctx, primary.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, contact.ID, records[0].ID)

	// The merged accounts' clusters are withheld until the next refresh
	clusters, err = ts.engine.GetDuplicateClusters(ctx)
	require.NoError(t, err)
	assert.Empty(t, clusters)

	clusters, err = ts.engine.RefreshClusters(ctx)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestAutoCleanupSweepsHighConfidenceClusters(t *testing.T) {
	ts := newTestStack(t, 0.95)
	ctx := context.Background()

	older := ts.seedAccount(models.Account{
		Name:      "Borealis Systems",
		Domain:    "borealis.io",
		CreatedAt: time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	ts.seedAccount(models.Account{
		Name:      "Borealis Systems Inc",
		Domain:    "borealis.io",
		CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	})

	outcomes, err := ts.engine.RunAutoCleanup(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Merged)
	assert.Equal(t, older.ID, outcomes[0].Result.PrimaryID)

	remaining, err := ts.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, older.ID, remaining[0].ID)

	// A second sweep over the refreshed registry finds nothing to do
	_, err = ts.engine.RefreshClusters(ctx)
	require.NoError(t, err)

	outcomes, err = ts.engine.RunAutoCleanup(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestAccountChangeInvalidatesClusters(t *testing.T) {
	ts := newTestStack(t, 0.95)
	ctx := context.Background()

	a := ts.seedAccount(models.Account{Name: "Acme Corporation", Domain: "acme.com"})
	ts.seedAccount(models.Account{Name: "Acme Corp", Domain: "acme.com"})

	clusters, err := ts.engine.GetDuplicateClusters(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	require.False(t, clusters[0].Stale)

	msg := &kafka.IncomingMessage{
		Value: []byte(`{"operation":"update","account_id":"` + a.ID + `"}`),
	}
	require.NoError(t, msg.ParseChange())
	require.NoError(t, ts.engine.HandleAccountChange(ctx, msg))

	// Clusters touching the changed account drop out until recomputed
	clusters, err = ts.engine.GetDuplicateClusters(ctx)
	require.NoError(t, err)
	assert.Empty(t, clusters)

	clusters, err = ts.engine.RefreshClusters(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.False(t, clusters[0].Stale)
}

func TestMergeRetryReplaysCommittedResult(t *testing.T) {
	ts := newTestStack(t, 0.95)
	ctx := context.Background()

	primary := ts.seedAccount(models.Account{Name: "Acme Corporation", Domain: "acme.com"})
	duplicate := ts.seedAccount(models.Account{Name: "Acme Corp", Domain: "acme.com"})

	job := models.MergeJob{
		IdempotencyKey: uuid.New().String(),
		PrimaryID:      primary.ID,
		SecondaryIDs:   []string{duplicate.ID},
	}

	first, err := ts.engine.SubmitMerge(ctx, job)
	require.NoError(t, err)

	// Resubmitting after the secondary is gone replays the committed result
	// instead of failing
	second, err := ts.engine.SubmitMerge(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
