// Package merge implements the atomic, idempotent account merge executor
package merge

import (
	"context"
	"database/sql"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
)

// AccountStore is the account storage the executor mutates during a merge.
// Get and GetByIDs return only existing accounts; Get returns nil for a
// missing ID rather than an error.
type AccountStore interface {
	Get(ctx context.Context, id string) (*models.Account, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	Delete(ctx context.Context, id string) error
}

// DependentStore is the dependent-record storage (contacts, deals,
// activities) the executor reassigns and de-duplicates during a merge
type DependentStore interface {
	ListByAccount(ctx context.Context, accountID string) ([]models.DependentRecord, error)
	ListByAccounts(ctx context.Context, accountIDs []string) ([]models.DependentRecord, error)
	ReassignOwner(ctx context.Context, recordID, newAccountID string) error
	Delete(ctx context.Context, recordID string) error
}

// LedgerStore persists idempotency keys with their committed results so a
// retried job replays its prior result instead of re-mutating storage
type LedgerStore interface {
	Get(ctx context.Context, key string) (*models.MergeResult, error)
	Record(ctx context.Context, key string, result *models.MergeResult) error
}

// Invalidator receives the IDs touched by a committed merge so cached
// duplicate clusters referencing them are never served again
type Invalidator interface {
	Invalidate(accountID string)
}

// TxBeginner is implemented by stores whose backing database can wrap the
// whole mutation sequence in a single transaction. The returned context
// carries the open transaction to every store call made with it.
type TxBeginner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}
