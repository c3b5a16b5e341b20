package portfolio

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotRepository persists portfolio snapshots and the current open
// positions in ledger.db. Snapshots accumulate as a daily-ish history;
// positions are replaced wholesale on every save so the table always
// mirrors the live session.
type SnapshotRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

const investmentColumns = `position_id, crypto_symbol, crypto_name, amount, purchase_price, current_price, current_value, profit, profit_percentage, investment_value`

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(ledgerDB *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "snapshot").Logger(),
	}
}

// Save records the snapshot aggregates and replaces the user's stored
// positions, atomically.
func (r *SnapshotRepository) Save(userID int64, snap Snapshot) error {
	positionsJSON, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("failed to encode positions: %w", err)
	}

	dbtx, err := r.ledgerDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	now := time.Now().Unix()

	_, err = dbtx.Exec(`
		INSERT INTO portfolio_snapshots
		(user_id, total_balance, available_balance, total_invested,
		 total_profit, total_profit_percentage, positions_json, snapshot_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		userID,
		snap.TotalBalance,
		snap.AvailableBalance,
		snap.TotalInvested,
		snap.TotalProfit,
		snap.TotalProfitPct,
		string(positionsJSON),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if _, err := dbtx.Exec("DELETE FROM portfolio_investments WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}

	for _, pos := range snap.Positions {
		_, err := dbtx.Exec(`
			INSERT INTO portfolio_investments
			(user_id, position_id, crypto_symbol, crypto_name, amount,
			 purchase_price, current_price, current_value, profit,
			 profit_percentage, investment_value, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			userID,
			pos.ID,
			strings.ToUpper(strings.TrimSpace(pos.Symbol)),
			nullString(pos.Name),
			pos.Quantity,
			pos.PurchasePrice,
			pos.CurrentPrice,
			pos.CurrentValue,
			pos.Profit,
			pos.ProfitPercentage,
			pos.InvestmentValue,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert position: %w", err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	r.log.Debug().
		Int64("user_id", userID).
		Int("positions", len(snap.Positions)).
		Float64("total_value", snap.TotalValue).
		Msg("Snapshot saved")

	return nil
}

// GetLatest returns the most recent snapshot for a user, or nil when the
// user has never saved one.
func (r *SnapshotRepository) GetLatest(userID int64) (*Snapshot, error) {
	query := `
		SELECT total_balance, available_balance, total_invested,
		       total_profit, total_profit_percentage, positions_json, snapshot_date
		FROM portfolio_snapshots
		WHERE user_id = ?
		ORDER BY snapshot_date DESC, id DESC
		LIMIT 1
	`

	var snap Snapshot
	var positionsJSON sql.NullString
	var snapshotDate int64

	err := r.ledgerDB.QueryRow(query, userID).Scan(
		&snap.TotalBalance,
		&snap.AvailableBalance,
		&snap.TotalInvested,
		&snap.TotalProfit,
		&snap.TotalProfitPct,
		&positionsJSON,
		&snapshotDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	snap.Initialized = true
	snap.SavedAt = time.Unix(snapshotDate, 0).UTC()

	if positionsJSON.Valid && positionsJSON.String != "" {
		if err := json.Unmarshal([]byte(positionsJSON.String), &snap.Positions); err != nil {
			return nil, fmt.Errorf("failed to decode positions: %w", err)
		}
	}

	return &snap, nil
}

// GetInvestments returns the user's current stored positions, largest
// holdings first.
func (r *SnapshotRepository) GetInvestments(userID int64) ([]Position, error) {
	query := `
		SELECT ` + investmentColumns + ` FROM portfolio_investments
		WHERE user_id = ?
		ORDER BY current_value DESC
	`

	rows, err := r.ledgerDB.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get investments: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var pos Position
		var name sql.NullString
		err := rows.Scan(
			&pos.ID,
			&pos.Symbol,
			&name,
			&pos.Quantity,
			&pos.PurchasePrice,
			&pos.CurrentPrice,
			&pos.CurrentValue,
			&pos.Profit,
			&pos.ProfitPercentage,
			&pos.InvestmentValue,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan investment: %w", err)
		}
		if name.Valid {
			pos.Name = name.String
		}
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating investments: %w", err)
	}

	return positions, nil
}

// DeleteForUser removes all snapshots and positions for a user. Used by
// portfolio reset only.
func (r *SnapshotRepository) DeleteForUser(userID int64) error {
	dbtx, err := r.ledgerDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	if _, err := dbtx.Exec("DELETE FROM portfolio_snapshots WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	if _, err := dbtx.Exec("DELETE FROM portfolio_investments WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete investments: %w", err)
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	r.log.Info().Int64("user_id", userID).Msg("Snapshots and positions deleted")
	return nil
}
