// Package reconciler keeps the durable local fallback store and the remote
// ledger store in agreement. Writes land locally first; a background drain
// pushes them to the remote store with at-least-once delivery.
package reconciler

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mundocripto/papertrade/internal/modules/portfolio"
)

const (
	// maxBackups is the number of rolling snapshot backups kept per user.
	maxBackups = 5
	// maxPending bounds the per-user fallback queue; the oldest entries
	// are dropped first when the bound is hit.
	maxPending = 100
)

// LocalStore persists session snapshots and the pending transaction queue
// in cache.db. Blobs are msgpack-encoded.
type LocalStore struct {
	cacheDB *sql.DB
	log     zerolog.Logger
}

// PendingTransaction is one queued fallback row awaiting remote sync.
type PendingTransaction struct {
	RowID       int64
	UserKey     string
	Transaction portfolio.Transaction
}

// NewLocalStore creates a local store over cache.db.
func NewLocalStore(cacheDB *sql.DB, log zerolog.Logger) *LocalStore {
	return &LocalStore{
		cacheDB: cacheDB,
		log:     log.With().Str("component", "local_store").Logger(),
	}
}

// SaveSnapshot upserts the current snapshot for a session key and pushes
// the previous blob onto the rolling backup ring.
func (s *LocalStore) SaveSnapshot(userKey string, snap portfolio.Snapshot) error {
	blob, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dbtx, err := s.cacheDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	now := time.Now().Unix()

	// Keep the blob being replaced as a backup
	var previous []byte
	err = dbtx.QueryRow(
		"SELECT blob FROM session_snapshots WHERE user_key = ?", userKey,
	).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read previous snapshot: %w", err)
	}
	if len(previous) > 0 {
		if _, err := dbtx.Exec(
			"INSERT INTO snapshot_backups (user_key, blob, created_at) VALUES (?, ?, ?)",
			userKey, previous, now,
		); err != nil {
			return fmt.Errorf("failed to save backup: %w", err)
		}
		if _, err := dbtx.Exec(`
			DELETE FROM snapshot_backups
			WHERE user_key = ? AND id NOT IN (
				SELECT id FROM snapshot_backups
				WHERE user_key = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)
		`, userKey, userKey, maxBackups); err != nil {
			return fmt.Errorf("failed to prune backups: %w", err)
		}
	}

	if _, err := dbtx.Exec(`
		INSERT INTO session_snapshots (user_key, blob, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at
	`, userKey, blob, now); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.log.Debug().Str("user_key", userKey).Int("bytes", len(blob)).Msg("Snapshot stored locally")
	return nil
}

// LoadSnapshot returns the stored snapshot for a session key, or nil when
// none exists. A corrupt current blob falls back to the most recent backup
// that still decodes.
func (s *LocalStore) LoadSnapshot(userKey string) (*portfolio.Snapshot, error) {
	var blob []byte
	err := s.cacheDB.QueryRow(
		"SELECT blob FROM session_snapshots WHERE user_key = ?", userKey,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap portfolio.Snapshot
	if err := msgpack.Unmarshal(blob, &snap); err == nil {
		return &snap, nil
	}

	s.log.Warn().Str("user_key", userKey).Msg("Snapshot blob corrupt, trying backups")
	return s.loadFromBackups(userKey)
}

func (s *LocalStore) loadFromBackups(userKey string) (*portfolio.Snapshot, error) {
	rows, err := s.cacheDB.Query(`
		SELECT blob FROM snapshot_backups
		WHERE user_key = ?
		ORDER BY created_at DESC, id DESC
	`, userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load backups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		var snap portfolio.Snapshot
		if err := msgpack.Unmarshal(blob, &snap); err == nil {
			s.log.Info().Str("user_key", userKey).Msg("Recovered snapshot from backup")
			return &snap, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backups: %w", err)
	}

	return nil, nil
}

// EnqueueTransaction appends a transaction to the fallback queue for a
// session key, dropping the oldest unsynced rows past the queue bound.
func (s *LocalStore) EnqueueTransaction(userKey string, tx portfolio.Transaction) error {
	payload, err := msgpack.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	dbtx, err := s.cacheDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	if _, err := dbtx.Exec(
		"INSERT INTO fallback_transactions (user_key, payload, synced, created_at) VALUES (?, ?, 0, ?)",
		userKey, payload, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to enqueue transaction: %w", err)
	}

	if _, err := dbtx.Exec(`
		DELETE FROM fallback_transactions
		WHERE user_key = ? AND synced = 0 AND id NOT IN (
			SELECT id FROM fallback_transactions
			WHERE user_key = ? AND synced = 0
			ORDER BY id DESC
			LIMIT ?
		)
	`, userKey, userKey, maxPending); err != nil {
		return fmt.Errorf("failed to prune queue: %w", err)
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return nil
}

// PendingTransactions returns the unsynced queue for a session key in FIFO
// order.
func (s *LocalStore) PendingTransactions(userKey string) ([]PendingTransaction, error) {
	rows, err := s.cacheDB.Query(`
		SELECT id, user_key, payload FROM fallback_transactions
		WHERE user_key = ? AND synced = 0
		ORDER BY id ASC
	`, userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transactions: %w", err)
	}
	defer rows.Close()

	return scanPending(rows)
}

// AllPending returns every unsynced row across all session keys, FIFO per
// key.
func (s *LocalStore) AllPending() ([]PendingTransaction, error) {
	rows, err := s.cacheDB.Query(`
		SELECT id, user_key, payload FROM fallback_transactions
		WHERE synced = 0
		ORDER BY user_key, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transactions: %w", err)
	}
	defer rows.Close()

	return scanPending(rows)
}

func scanPending(rows *sql.Rows) ([]PendingTransaction, error) {
	var pending []PendingTransaction
	for rows.Next() {
		var p PendingTransaction
		var payload []byte
		if err := rows.Scan(&p.RowID, &p.UserKey, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan pending row: %w", err)
		}
		if err := msgpack.Unmarshal(payload, &p.Transaction); err != nil {
			// Undecodable rows are unreplayable; skip them rather than
			// wedging the queue.
			continue
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending rows: %w", err)
	}
	return pending, nil
}

// MarkSynced flags a queue row as delivered.
func (s *LocalStore) MarkSynced(rowID int64) error {
	_, err := s.cacheDB.Exec(
		"UPDATE fallback_transactions SET synced = 1 WHERE id = ?", rowID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark row synced: %w", err)
	}
	return nil
}

// PendingCount returns the number of unsynced queue rows across all keys.
func (s *LocalStore) PendingCount() (int, error) {
	var count int
	err := s.cacheDB.QueryRow(
		"SELECT COUNT(*) FROM fallback_transactions WHERE synced = 0",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending rows: %w", err)
	}
	return count, nil
}

// Rekey moves all local state from one session key to another. Used when a
// guest session is adopted by a freshly resolved identity. Existing state
// under the new key, if any, is replaced.
func (s *LocalStore) Rekey(oldKey, newKey string) error {
	dbtx, err := s.cacheDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	if _, err := dbtx.Exec("DELETE FROM session_snapshots WHERE user_key = ?", newKey); err != nil {
		return fmt.Errorf("failed to clear snapshot under new key: %w", err)
	}
	if _, err := dbtx.Exec(
		"UPDATE session_snapshots SET user_key = ? WHERE user_key = ?", newKey, oldKey,
	); err != nil {
		return fmt.Errorf("failed to rekey snapshot: %w", err)
	}
	if _, err := dbtx.Exec(
		"UPDATE snapshot_backups SET user_key = ? WHERE user_key = ?", newKey, oldKey,
	); err != nil {
		return fmt.Errorf("failed to rekey backups: %w", err)
	}
	if _, err := dbtx.Exec(
		"UPDATE fallback_transactions SET user_key = ? WHERE user_key = ?", newKey, oldKey,
	); err != nil {
		return fmt.Errorf("failed to rekey queue: %w", err)
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rekey: %w", err)
	}

	s.log.Info().Str("from", oldKey).Str("to", newKey).Msg("Local state rekeyed")
	return nil
}

// DeleteKey removes all local state for a session key. Used by portfolio
// reset.
func (s *LocalStore) DeleteKey(userKey string) error {
	dbtx, err := s.cacheDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	for _, table := range []string{"session_snapshots", "snapshot_backups", "fallback_transactions"} {
		if _, err := dbtx.Exec("DELETE FROM "+table+" WHERE user_key = ?", userKey); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}
