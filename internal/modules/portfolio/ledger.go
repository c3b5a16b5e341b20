package portfolio

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Ledger holds the in-memory trading state for one session: simulated
// balances, open positions, and the transaction history in reverse
// chronological order (most recent first).
//
// Ledger is not safe for concurrent use. Callers serialize access; the
// session manager holds one lock per session.
type Ledger struct {
	initialized      bool
	totalBalance     float64 // initial capital minus gross withdrawals
	availableBalance float64
	positions        []Position
	transactions     []Transaction

	now func() time.Time
}

// NewLedger returns an uninitialized ledger. All trading operations fail
// with ErrNotInitialized until Initialize is called or state is restored.
func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// Initialize seeds the ledger with the starting capital. It can only run
// once per ledger; Reset returns the ledger to the uninitialized state.
func (l *Ledger) Initialize(capital float64) error {
	if l.initialized {
		return ErrAlreadyInitialized
	}
	if capital < MinInitialCapital || capital > MaxInitialCapital {
		return ErrInvalidInitialCapital
	}
	l.initialized = true
	l.totalBalance = capital
	l.availableBalance = capital
	l.positions = nil
	l.transactions = nil
	return nil
}

// Initialized reports whether the ledger has been seeded with capital.
func (l *Ledger) Initialized() bool { return l.initialized }

// Buy spends `investment` dollars on `symbol` at `price`, charging the
// trading fee on top. Every buy opens a distinct position, even for a
// symbol already held.
func (l *Ledger) Buy(symbol, name string, investment, price float64) (*Transaction, error) {
	if !l.initialized {
		return nil, ErrNotInitialized
	}
	if price <= 0 {
		return nil, ErrInvalidAmount
	}
	if investment < MinTradeAmount {
		return nil, ErrBelowMinimum
	}
	fee := investment * TradingFeeRate
	totalCost := investment + fee
	if totalCost > l.availableBalance {
		return nil, ErrInsufficientFunds
	}

	quantity := investment / price
	l.availableBalance -= totalCost
	l.positions = append(l.positions, Position{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Name:            name,
		Quantity:        quantity,
		PurchasePrice:   price,
		CurrentPrice:    price,
		InvestmentValue: investment,
		CurrentValue:    quantity * price,
	})

	tx := Transaction{
		ID:         uuid.NewString(),
		Type:       TransactionBuy,
		Symbol:     symbol,
		Name:       name,
		Quantity:   quantity,
		Price:      price,
		Investment: investment,
		Fee:        fee,
		TotalCost:  totalCost,
		Timestamp:  l.now(),
	}
	l.record(tx)
	return &tx, nil
}

// Sell liquidates `percentage` percent of the position's quantity at the
// position's current price. The trading fee comes out of the proceeds, so
// the credited amount is gross minus fee. Profit is measured against the
// purchase price, before the fee.
func (l *Ledger) Sell(positionID string, percentage float64) (*Transaction, error) {
	if !l.initialized {
		return nil, ErrNotInitialized
	}
	if percentage <= 0 || percentage > 100 {
		return nil, ErrInvalidPercentage
	}
	idx := -1
	for i := range l.positions {
		if l.positions[i].ID == positionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrPositionNotFound
	}

	pos := &l.positions[idx]
	symbol, name := pos.Symbol, pos.Name
	sellPrice, purchasePrice := pos.CurrentPrice, pos.PurchasePrice
	quantity := pos.Quantity * percentage / 100
	if quantity <= 0 {
		return nil, ErrNonPositiveQuantity
	}

	gross := quantity * sellPrice
	fee := gross * TradingFeeRate
	net := gross - fee
	costBasis := quantity * purchasePrice
	profit := gross - costBasis
	profitPct := 0.0
	if costBasis > 0 {
		profitPct = profit / costBasis * 100
	}

	l.availableBalance += net
	pos.Quantity -= quantity
	pos.InvestmentValue = pos.Quantity * pos.PurchasePrice
	pos.CurrentValue = pos.Quantity * pos.CurrentPrice
	pos.Profit = pos.CurrentValue - pos.InvestmentValue
	if pos.InvestmentValue > 0 {
		pos.ProfitPercentage = pos.Profit / pos.InvestmentValue * 100
	} else {
		pos.ProfitPercentage = 0
	}
	if pos.Quantity < PositionEpsilon {
		l.positions = append(l.positions[:idx], l.positions[idx+1:]...)
	}

	tx := Transaction{
		ID:               uuid.NewString(),
		Type:             TransactionSell,
		Symbol:           symbol,
		Name:             name,
		Quantity:         quantity,
		Price:            sellPrice,
		SaleValue:        gross,
		PurchasePrice:    purchasePrice,
		Profit:           profit,
		ProfitPercentage: profitPct,
		Fee:              fee,
		NetAmount:        net,
		Timestamp:        l.now(),
	}
	l.record(tx)
	return &tx, nil
}

// Withdraw debits the gross amount from the available balance and from the
// total balance baseline. The withdrawal fee is absorbed from the proceeds:
// the caller receives amount minus fee.
func (l *Ledger) Withdraw(amount float64) (*Transaction, error) {
	if !l.initialized {
		return nil, ErrNotInitialized
	}
	if amount < MinWithdrawAmount {
		return nil, ErrBelowMinimum
	}
	fee := math.Max(amount*WithdrawalFeeRate, MinWithdrawalFee)
	if fee >= amount {
		return nil, ErrFeeExceedsAmount
	}
	if amount > l.availableBalance {
		return nil, ErrInsufficientFunds
	}

	l.availableBalance -= amount
	l.totalBalance -= amount

	tx := Transaction{
		ID:        uuid.NewString(),
		Type:      TransactionWithdraw,
		Fee:       fee,
		NetAmount: amount - fee,
		Timestamp: l.now(),
	}
	l.record(tx)
	return &tx, nil
}

// Recompute refreshes every position against the given price table and
// returns the derived aggregates. Positions whose symbol is missing from
// the table keep their last known price. Recompute never mutates balances,
// so calling it repeatedly with the same prices is a no-op.
func (l *Ledger) Recompute(prices map[string]float64) Snapshot {
	for i := range l.positions {
		pos := &l.positions[i]
		if p, ok := prices[pos.Symbol]; ok && p > 0 {
			pos.CurrentPrice = p
		}
		pos.CurrentValue = pos.Quantity * pos.CurrentPrice
		pos.Profit = pos.CurrentValue - pos.InvestmentValue
		if pos.InvestmentValue > 0 {
			pos.ProfitPercentage = pos.Profit / pos.InvestmentValue * 100
		} else {
			pos.ProfitPercentage = 0
		}
	}
	return l.Snapshot()
}

// Snapshot captures the full ledger state with derived aggregates:
//
//	totalInvested = sum of position cost bases
//	totalValue    = availableBalance + sum of position current values
//	totalProfit   = totalValue - totalBalance
func (l *Ledger) Snapshot() Snapshot {
	var invested, current float64
	for i := range l.positions {
		invested += l.positions[i].InvestmentValue
		current += l.positions[i].CurrentValue
	}
	totalValue := l.availableBalance + current
	totalProfit := totalValue - l.totalBalance
	profitPct := 0.0
	if l.totalBalance > 0 {
		profitPct = totalProfit / l.totalBalance * 100
	}

	positions := make([]Position, len(l.positions))
	copy(positions, l.positions)
	transactions := make([]Transaction, len(l.transactions))
	copy(transactions, l.transactions)

	return Snapshot{
		Initialized:      l.initialized,
		TotalBalance:     l.totalBalance,
		AvailableBalance: l.availableBalance,
		TotalInvested:    invested,
		TotalValue:       totalValue,
		TotalProfit:      totalProfit,
		TotalProfitPct:   profitPct,
		Positions:        positions,
		Transactions:     transactions,
		SavedAt:          l.now(),
	}
}

// Restore replaces the ledger state with a previously captured snapshot.
// Derived fields are recomputed on the next Snapshot call, so stale
// aggregates in the stored blob are harmless.
func (l *Ledger) Restore(s Snapshot) {
	l.initialized = s.Initialized
	l.totalBalance = s.TotalBalance
	l.availableBalance = s.AvailableBalance
	l.positions = make([]Position, len(s.Positions))
	copy(l.positions, s.Positions)
	l.transactions = make([]Transaction, len(s.Transactions))
	copy(l.transactions, s.Transactions)
}

// Reset wipes all state and returns the ledger to the uninitialized state.
func (l *Ledger) Reset() {
	l.initialized = false
	l.totalBalance = 0
	l.availableBalance = 0
	l.positions = nil
	l.transactions = nil
}

// Positions returns a copy of the open positions.
func (l *Ledger) Positions() []Position {
	out := make([]Position, len(l.positions))
	copy(out, l.positions)
	return out
}

// Position returns the open position with the given id.
func (l *Ledger) Position(id string) (Position, bool) {
	for i := range l.positions {
		if l.positions[i].ID == id {
			return l.positions[i], true
		}
	}
	return Position{}, false
}

// Transactions returns up to limit history entries, most recent first.
// A non-positive limit returns the full history.
func (l *Ledger) Transactions(limit int) []Transaction {
	n := len(l.transactions)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Transaction, n)
	copy(out, l.transactions[:n])
	return out
}

// AvailableBalance returns the uncommitted cash balance.
func (l *Ledger) AvailableBalance() float64 { return l.availableBalance }

// TotalBalance returns the capital baseline (initial capital minus gross
// withdrawals).
func (l *Ledger) TotalBalance() float64 { return l.totalBalance }

func (l *Ledger) record(tx Transaction) {
	l.transactions = append([]Transaction{tx}, l.transactions...)
}
