package reconciler

import (
	"github.com/mundocripto/papertrade/internal/modules/portfolio"
)

// LedgerRemote adapts the ledger.db repositories to the RemoteStore
// interface the reconciler drains into.
type LedgerRemote struct {
	transactions *portfolio.TransactionRepository
	snapshots    *portfolio.SnapshotRepository
}

// NewLedgerRemote creates the remote store backed by ledger.db.
func NewLedgerRemote(transactions *portfolio.TransactionRepository, snapshots *portfolio.SnapshotRepository) *LedgerRemote {
	return &LedgerRemote{transactions: transactions, snapshots: snapshots}
}

// SaveTransaction inserts a transaction, deduplicated on client tx id.
func (r *LedgerRemote) SaveTransaction(userID int64, tx portfolio.Transaction) error {
	return r.transactions.Create(userID, tx)
}

// SaveSnapshot records a snapshot and replaces the stored positions.
func (r *LedgerRemote) SaveSnapshot(userID int64, snap portfolio.Snapshot) error {
	return r.snapshots.Save(userID, snap)
}
