package merge

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/models"
)

type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	updates  int
	deletes  int
	failNext error
}

func newMemAccounts(accounts ...models.Account) *memAccounts {
	m := &memAccounts{accounts: make(map[string]models.Account)}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *memAccounts) Get(ctx context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, err
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memAccounts) GetByIDs(ctx context.Context, ids []string) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Account, 0, len(ids))
	for _, id := range ids {
		if a, ok := m.accounts[id]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memAccounts) Update(ctx context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.accounts[account.ID] = *account
	return nil
}

func (m *memAccounts) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.accounts, id)
	return nil
}

type memDependents struct {
	mu      sync.Mutex
	records map[string]models.DependentRecord
}

func newMemDependents(records ...models.DependentRecord) *memDependents {
	m := &memDependents{records: make(map[string]models.DependentRecord)}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return m
}

func (m *memDependents) ListByAccount(ctx context.Context, accountID string) ([]models.DependentRecord, error) {
	return m.ListByAccounts(ctx, []string{accountID})
}

func (m *memDependents) ListByAccounts(ctx context.Context, accountIDs []string) ([]models.DependentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = true
	}
	var out []models.DependentRecord
	for _, r := range m.records {
		if wanted[r.AccountID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memDependents) ReassignOwner(ctx context.Context, recordID, newAccountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[recordID]
	r.AccountID = newAccountID
	m.records[recordID] = r
	return nil
}

func (m *memDependents) Delete(ctx context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordID)
	return nil
}

func (m *memDependents) owners() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.records))
	for id, r := range m.records {
		out[id] = r.AccountID
	}
	return out
}

type memLedger struct {
	mu      sync.Mutex
	results map[string]*models.MergeResult
	writes  int
}

func newMemLedger() *memLedger {
	return &memLedger{results: make(map[string]*models.MergeResult)}
}

func (m *memLedger) Get(ctx context.Context, key string) (*models.MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[key], nil
}

func (m *memLedger) Record(ctx context.Context, key string, result *models.MergeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.results[key] = result
	return nil
}

type memInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (m *memInvalidator) Invalidate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, id)
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestExecutor(accounts *memAccounts, dependents *memDependents, ledger *memLedger, inv Invalidator) *Executor {
	return NewExecutor(testLogger(), accounts, dependents, ledger, inv, time.Second)
}

func TestExecuteMergesAccounts(t *testing.T) {
	accounts := newMemAccounts(
		models.Account{ID: "p1", Name: "Acme Corp", Tags: []string{"enterprise"}},
		models.Account{ID: "s1", Name: "Acme Corporation", Phone: "555-0100", Tags: []string{"smb"}},
		models.Account{ID: "s2", Name: "Acme Inc", Tags: []string{"priority"}},
	)
	dependents := newMemDependents()
	ledger := newMemLedger()
	inv := &memInvalidator{}
	executor := newTestExecutor(accounts, dependents, ledger, inv)

	result, err := executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1", "s2"},
	})
	require.NoError(t, err)

	assert.Equal(t, "p1", result.PrimaryID)
	assert.Equal(t, []string{"s1", "s2"}, result.MergedAccountIDs)
	assert.Equal(t, 2, result.AccountsRemoved)

	// Secondaries are gone, primary survives with merged fields
	primary, err := accounts.Get(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, primary)
	assert.Equal(t, "Acme Corp", primary.Name)
	assert.Equal(t, "555-0100", primary.Phone)
	assert.ElementsMatch(t, []string{"enterprise", "smb", "priority"}, []string(primary.Tags))

	gone, err := accounts.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.Contains(t, inv.ids, "p1")
	assert.Contains(t, inv.ids, "s1")
	assert.Contains(t, inv.ids, "s2")
}

func TestExecuteReassignsDependents(t *testing.T) {
	accounts := newMemAccounts(
		models.Account{ID: "p1", Name: "Acme"},
		models.Account{ID: "s1", Name: "Acme Corp"},
	)
	now := time.Now().UTC()
	dependents := newMemDependents(
		models.DependentRecord{ID: "d1", AccountID: "s1", Kind: models.DependentKindContact, NaturalKey: "contact:jane@acme.com", LastActivityAt: now},
		models.DependentRecord{ID: "d2", AccountID: "s1", Kind: models.DependentKindDeal, NaturalKey: "deal:renewal-2026", LastActivityAt: now},
	)
	executor := newTestExecutor(accounts, dependents, newMemLedger(), nil)

	result, err := executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.RelationshipsMoved)
	assert.Equal(t, 0, result.RelationshipsDeduped)

	owners := dependents.owners()
	assert.Equal(t, "p1", owners["d1"])
	assert.Equal(t, "p1", owners["d2"])
}

func TestExecuteDeduplicatesCollidingDependents(t *testing.T) {
	accounts := newMemAccounts(
		models.Account{ID: "p1", Name: "Acme"},
		models.Account{ID: "s1", Name: "Acme Corp"},
	)
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	dependents := newMemDependents(
		// Same contact on both sides; the secondary's copy is more recent
		models.DependentRecord{ID: "d1", AccountID: "p1", Kind: models.DependentKindContact, NaturalKey: "contact:jane@acme.com", LastActivityAt: older},
		models.DependentRecord{ID: "d2", AccountID: "s1", Kind: models.DependentKindContact, NaturalKey: "contact:jane@acme.com", LastActivityAt: newer},
	)
	executor := newTestExecutor(accounts, dependents, newMemLedger(), nil)

	result, err := executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.RelationshipsMoved)
	assert.Equal(t, 1, result.RelationshipsDeduped)

	owners := dependents.owners()
	assert.NotContains(t, owners, "d1")
	assert.Equal(t, "p1", owners["d2"])
}

func TestExecuteDedupeTieBreaksOnLowestID(t *testing.T) {
	accounts := newMemAccounts(
		models.Account{ID: "p1", Name: "Acme"},
		models.Account{ID: "s1", Name: "Acme Corp"},
	)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dependents := newMemDependents(
		models.DependentRecord{ID: "d1", AccountID: "p1", Kind: models.DependentKindContact, NaturalKey: "contact:jane@acme.com", LastActivityAt: at},
		models.DependentRecord{ID: "d2", AccountID: "s1", Kind: models.DependentKindContact, NaturalKey: "contact:jane@acme.com", LastActivityAt: at},
	)
	executor := newTestExecutor(accounts, dependents, newMemLedger(), nil)

	_, err := executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1"},
	})
	require.NoError(t, err)

	owners := dependents.owners()
	assert.Equal(t, "p1", owners["d1"])
	assert.NotContains(t, owners, "d2")
}

func TestExecuteIdempotentReplay(t *testing.T) {
	accounts := newMemAccounts(
		models.Account{ID: "p1", Name: "Acme"},
		models.Account{ID: "s1", Name: "Acme Corp"},
	)
	ledger := newMemLedger()
	executor := newTestExecutor(accounts, newMemDependents(), ledger, nil)

	job := models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1"},
	}

	first, err := executor.Execute(context.Background(), job)
	require.NoError(t, err)

	updatesAfterFirst := accounts.updates
	deletesAfterFirst := accounts.deletes
	writesAfterFirst := ledger.writes

	second, err := executor.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, updatesAfterFirst, accounts.updates, "replay must not write")
	assert.Equal(t, deletesAfterFirst, accounts.deletes, "replay must not delete")
	assert.Equal(t, writesAfterFirst, ledger.writes, "replay must not re-record")
}

func TestExecuteKeyReuseForDifferentJobFails(t *testing.T) {
	accounts := newMemAccounts(
		models.Account{ID: "p1", Name: "Acme"},
		models.Account{ID: "s1", Name: "Acme Corp"},
		models.Account{ID: "x1", Name: "Zenith"},
		models.Account{ID: "x2", Name: "Zenith Inc"},
	)
	executor := newTestExecutor(accounts, newMemDependents(), newMemLedger(), nil)

	_, err := executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1"},
	})
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "x1",
		SecondaryIDs:   []string{"x2"},
	})
	require.Error(t, err)
	assert.Equal(t, CodeValidationFailed, CodeOf(err))
}

func TestExecuteKeyReuseForDifferentSecondariesFails(t *testing.T) {
	accounts := newMemAccounts(
		models.Account{ID: "p1", Name: "Acme"},
		models.Account{ID: "s1", Name: "Acme Corp"},
		models.Account{ID: "s2", Name: "Acme Corporation"},
	)
	executor := newTestExecutor(accounts, newMemDependents(), newMemLedger(), nil)

	_, err := executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1"},
	})
	require.NoError(t, err)

	// Same primary, same key, different secondary set: must not replay the
	// old result as if s2 had been merged
	_, err = executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s2"},
	})
	require.Error(t, err)
	assert.Equal(t, CodeValidationFailed, CodeOf(err))

	untouched, err := accounts.Get(context.Background(), "s2")
	require.NoError(t, err)
	assert.NotNil(t, untouched)
}

func TestExecuteReplayIgnoresSecondaryOrder(t *testing.T) {
	accounts := newMemAccounts(
		models.Account{ID: "p1", Name: "Acme"},
		models.Account{ID: "s1", Name: "Acme Corp"},
		models.Account{ID: "s2", Name: "Acme Corporation"},
	)
	executor := newTestExecutor(accounts, newMemDependents(), newMemLedger(), nil)

	first, err := executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1", "s2"},
	})
	require.NoError(t, err)

	second, err := executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s2", "s1"},
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExecutePrimaryGone(t *testing.T) {
	accounts := newMemAccounts(models.Account{ID: "s1", Name: "Acme"})
	executor := newTestExecutor(accounts, newMemDependents(), newMemLedger(), nil)

	_, err := executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1"},
	})
	require.Error(t, err)
	assert.Equal(t, CodePrimaryGone, CodeOf(err))
	assert.False(t, Retryable(err))
}

func TestExecuteMissingSecondariesAreDropped(t *testing.T) {
	accounts := newMemAccounts(
		models.Account{ID: "p1", Name: "Acme"},
		models.Account{ID: "s1", Name: "Acme Corp"},
	)
	executor := newTestExecutor(accounts, newMemDependents(), newMemLedger(), nil)

	result, err := executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1", "already-consumed"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"s1"}, result.MergedAccountIDs)
	assert.Equal(t, 1, result.AccountsRemoved)
}

func TestExecuteValidation(t *testing.T) {
	executor := newTestExecutor(newMemAccounts(), newMemDependents(), newMemLedger(), nil)

	tests := []struct {
		name string
		job  models.MergeJob
	}{
		{"missing key", models.MergeJob{PrimaryID: "p1", SecondaryIDs: []string{"s1"}}},
		{"missing primary", models.MergeJob{IdempotencyKey: "k", SecondaryIDs: []string{"s1"}}},
		{"no secondaries", models.MergeJob{IdempotencyKey: "k", PrimaryID: "p1"}},
		{"primary in secondaries", models.MergeJob{IdempotencyKey: "k", PrimaryID: "p1", SecondaryIDs: []string{"p1"}}},
		{"duplicate secondary", models.MergeJob{IdempotencyKey: "k", PrimaryID: "p1", SecondaryIDs: []string{"s1", "s1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executor.Execute(context.Background(), tt.job)
			require.Error(t, err)
			assert.Equal(t, CodeValidationFailed, CodeOf(err))
		})
	}
}

func TestExecuteStorageFailure(t *testing.T) {
	accounts := newMemAccounts(
		models.Account{ID: "p1", Name: "Acme"},
		models.Account{ID: "s1", Name: "Acme Corp"},
	)
	accounts.failNext = errors.New("connection reset")
	executor := newTestExecutor(accounts, newMemDependents(), newMemLedger(), nil)

	_, err := executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1"},
	})
	require.Error(t, err)
	assert.Equal(t, CodeStorageFailure, CodeOf(err))
	assert.True(t, Retryable(err))

	// The failed job must release its locks so a retry can proceed
	_, err = executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-1",
		PrimaryID:      "p1",
		SecondaryIDs:   []string{"s1"},
	})
	assert.NoError(t, err)
}

func TestExecuteConcurrentOverlappingJobs(t *testing.T) {
	accounts := newMemAccounts(
		models.Account{ID: "a", Name: "Acme"},
		models.Account{ID: "b", Name: "Acme Corp"},
		models.Account{ID: "c", Name: "Acme Inc"},
	)
	executor := NewExecutor(testLogger(), accounts, newMemDependents(), newMemLedger(), nil, 10*time.Millisecond)

	hold, err := executor.locks.AcquireAll(context.Background(), []string{"b"}, time.Second)
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-overlap",
		PrimaryID:      "a",
		SecondaryIDs:   []string{"b"},
	})
	require.Error(t, err)
	assert.Equal(t, CodeLocked, CodeOf(err))

	hold()

	_, err = executor.Execute(context.Background(), models.MergeJob{
		IdempotencyKey: "job-overlap",
		PrimaryID:      "a",
		SecondaryIDs:   []string{"b"},
	})
	assert.NoError(t, err)
}
