package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TransactionRepository persists completed transactions in ledger.db.
// The table is append-only: rows are only ever inserted or bulk-deleted on
// portfolio reset, never updated.
type TransactionRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// transactionColumns avoids SELECT * which breaks when the schema changes.
// Column order must match scanTransaction().
const transactionColumns = `client_tx_id, type, crypto_symbol, crypto_name, amount, price, investment, sale_value, purchase_price, profit, profit_percentage, fee, total_cost, net_amount, timestamp`

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(ledgerDB *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "transaction").Logger(),
	}
}

// Create inserts a transaction for a user. Delivery from the write-behind
// queue is at-least-once, so inserts are deduplicated on the client
// transaction id: a duplicate is skipped silently.
func (r *TransactionRepository) Create(userID int64, tx Transaction) error {
	if tx.ID != "" {
		exists, err := r.Exists(tx.ID)
		if err != nil {
			return fmt.Errorf("failed to check for existing transaction: %w", err)
		}
		if exists {
			r.log.Debug().
				Str("client_tx_id", tx.ID).
				Msg("Transaction already recorded, skipping duplicate")
			return nil
		}
	}

	query := `
		INSERT INTO portfolio_transactions
		(user_id, type, crypto_symbol, crypto_name, amount, price, investment,
		 sale_value, purchase_price, profit, profit_percentage, fee, total_cost,
		 net_amount, status, client_tx_id, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.ledgerDB.Exec(query,
		userID,
		string(tx.Type),
		nullString(strings.ToUpper(strings.TrimSpace(tx.Symbol))),
		nullString(tx.Name),
		nullFloat64(tx.Quantity),
		nullFloat64(tx.Price),
		nullFloat64(tx.Investment),
		nullFloat64(tx.SaleValue),
		nullFloat64(tx.PurchasePrice),
		nullFloat64(tx.Profit),
		nullFloat64(tx.ProfitPercentage),
		tx.Fee,
		nullFloat64(tx.TotalCost),
		nullFloat64(tx.NetAmount),
		"completed",
		nullString(tx.ID),
		tx.Timestamp.Unix(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	r.log.Info().
		Int64("user_id", userID).
		Str("type", string(tx.Type)).
		Str("symbol", tx.Symbol).
		Msg("Transaction recorded")

	return nil
}

// Exists checks whether a transaction with the given client id is already
// recorded.
func (r *TransactionRepository) Exists(clientTxID string) (bool, error) {
	query := "SELECT 1 FROM portfolio_transactions WHERE client_tx_id = ? LIMIT 1"

	var exists int
	err := r.ledgerDB.QueryRow(query, clientTxID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}

	return true, nil
}

// GetHistory retrieves a user's transaction history, most recent first.
// A non-positive limit defaults to 50.
func (r *TransactionRepository) GetHistory(userID int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + transactionColumns + ` FROM portfolio_transactions
		WHERE user_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := r.ledgerDB.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		tx, err := r.scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// CountForUser returns the number of recorded transactions for a user.
func (r *TransactionRepository) CountForUser(userID int64) (int, error) {
	var count int
	err := r.ledgerDB.QueryRow(
		"SELECT COUNT(*) FROM portfolio_transactions WHERE user_id = ?",
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// DeleteForUser removes all transaction rows for a user. Used by portfolio
// reset only.
func (r *TransactionRepository) DeleteForUser(userID int64) error {
	_, err := r.ledgerDB.Exec(
		"DELETE FROM portfolio_transactions WHERE user_id = ?",
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete transactions: %w", err)
	}

	r.log.Info().Int64("user_id", userID).Msg("Transaction history deleted")
	return nil
}

func (r *TransactionRepository) scanTransaction(rows *sql.Rows) (Transaction, error) {
	var tx Transaction
	var txType string
	var clientTxID, symbol, name sql.NullString
	var amount, price, investment, saleValue, purchasePrice sql.NullFloat64
	var profit, profitPct, totalCost, netAmount sql.NullFloat64
	var timestamp int64

	err := rows.Scan(
		&clientTxID,
		&txType,
		&symbol,
		&name,
		&amount,
		&price,
		&investment,
		&saleValue,
		&purchasePrice,
		&profit,
		&profitPct,
		&tx.Fee,
		&totalCost,
		&netAmount,
		&timestamp,
	)
	if err != nil {
		return tx, err
	}

	tx.Type = TransactionType(txType)
	tx.Timestamp = time.Unix(timestamp, 0).UTC()

	if clientTxID.Valid {
		tx.ID = clientTxID.String
	}
	if symbol.Valid {
		tx.Symbol = symbol.String
	}
	if name.Valid {
		tx.Name = name.String
	}
	if amount.Valid {
		tx.Quantity = amount.Float64
	}
	if price.Valid {
		tx.Price = price.Float64
	}
	if investment.Valid {
		tx.Investment = investment.Float64
	}
	if saleValue.Valid {
		tx.SaleValue = saleValue.Float64
	}
	if purchasePrice.Valid {
		tx.PurchasePrice = purchasePrice.Float64
	}
	if profit.Valid {
		tx.Profit = profit.Float64
	}
	if profitPct.Valid {
		tx.ProfitPercentage = profitPct.Float64
	}
	if totalCost.Valid {
		tx.TotalCost = totalCost.Float64
	}
	if netAmount.Valid {
		tx.NetAmount = netAmount.Float64
	}

	return tx, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
