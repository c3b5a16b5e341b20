package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, capital float64) *Ledger {
	t.Helper()
	l := NewLedger()
	require.NoError(t, l.Initialize(capital))
	return l
}

func TestLedgerInitialize(t *testing.T) {
	tests := []struct {
		name    string
		capital float64
		wantErr error
	}{
		{"minimum capital", 100, nil},
		{"maximum capital", 1_000_000, nil},
		{"typical capital", 1000, nil},
		{"below minimum", 99.99, ErrInvalidInitialCapital},
		{"above maximum", 1_000_000.01, ErrInvalidInitialCapital},
		{"zero", 0, ErrInvalidInitialCapital},
		{"negative", -500, ErrInvalidInitialCapital},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger()
			err := l.Initialize(tt.capital)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, l.Initialized())
				return
			}
			require.NoError(t, err)
			assert.True(t, l.Initialized())
			assert.Equal(t, tt.capital, l.AvailableBalance())
			assert.Equal(t, tt.capital, l.TotalBalance())
		})
	}
}

func TestLedgerInitializeTwice(t *testing.T) {
	l := newTestLedger(t, 1000)
	assert.ErrorIs(t, l.Initialize(2000), ErrAlreadyInitialized)
	assert.Equal(t, 1000.0, l.TotalBalance())
}

func TestLedgerOperationsRequireInitialization(t *testing.T) {
	l := NewLedger()

	_, err := l.Buy("BTC", "Bitcoin", 100, 45000)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = l.Sell("some-id", 50)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = l.Withdraw(100)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestLedgerBuy(t *testing.T) {
	l := newTestLedger(t, 1000)

	tx, err := l.Buy("BTC", "Bitcoin", 100, 45000)
	require.NoError(t, err)

	assert.Equal(t, TransactionBuy, tx.Type)
	assert.Equal(t, "BTC", tx.Symbol)
	assert.InDelta(t, 0.25, tx.Fee, 1e-9)
	assert.InDelta(t, 100.25, tx.TotalCost, 1e-9)
	assert.InDelta(t, 100.0/45000.0, tx.Quantity, 1e-12)
	assert.InDelta(t, 899.75, l.AvailableBalance(), 1e-9)

	positions := l.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC", positions[0].Symbol)
	assert.InDelta(t, 45000.0, positions[0].PurchasePrice, 1e-9)
	assert.InDelta(t, 100.0, positions[0].InvestmentValue, 1e-9)
	assert.NotEmpty(t, positions[0].ID)
}

func TestLedgerBuyValidation(t *testing.T) {
	l := newTestLedger(t, 1000)

	_, err := l.Buy("BTC", "Bitcoin", 9.99, 45000)
	assert.ErrorIs(t, err, ErrBelowMinimum)

	// 1000 gross needs 1002.50 including the fee
	_, err = l.Buy("BTC", "Bitcoin", 1000, 45000)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = l.Buy("BTC", "Bitcoin", 100, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// Failed operations must not touch the balance
	assert.Equal(t, 1000.0, l.AvailableBalance())
	assert.Empty(t, l.Positions())
	assert.Empty(t, l.Transactions(0))
}

func TestLedgerBuyOpensSeparatePositions(t *testing.T) {
	l := newTestLedger(t, 1000)

	_, err := l.Buy("BTC", "Bitcoin", 100, 45000)
	require.NoError(t, err)
	_, err = l.Buy("BTC", "Bitcoin", 50, 46000)
	require.NoError(t, err)

	positions := l.Positions()
	require.Len(t, positions, 2)
	assert.NotEqual(t, positions[0].ID, positions[1].ID)
}

func TestLedgerSellPartial(t *testing.T) {
	l := newTestLedger(t, 1000)
	buyTx, err := l.Buy("BTC", "Bitcoin", 100, 45000)
	require.NoError(t, err)

	positions := l.Positions()
	require.Len(t, positions, 1)

	tx, err := l.Sell(positions[0].ID, 50)
	require.NoError(t, err)

	assert.Equal(t, TransactionSell, tx.Type)
	assert.InDelta(t, buyTx.Quantity/2, tx.Quantity, 1e-12)
	assert.InDelta(t, 50.0, tx.SaleValue, 1e-9)
	assert.InDelta(t, 0.125, tx.Fee, 1e-9)
	assert.InDelta(t, 49.875, tx.NetAmount, 1e-9)
	// Sold at the purchase price: no profit before the fee
	assert.InDelta(t, 0.0, tx.Profit, 1e-9)

	assert.InDelta(t, 899.75+49.875, l.AvailableBalance(), 1e-9)

	positions = l.Positions()
	require.Len(t, positions, 1)
	assert.InDelta(t, buyTx.Quantity/2, positions[0].Quantity, 1e-12)
	assert.InDelta(t, 50.0, positions[0].InvestmentValue, 1e-9)
}

func TestLedgerSellFullRemovesPosition(t *testing.T) {
	l := newTestLedger(t, 1000)
	_, err := l.Buy("ETH", "Ethereum", 300, 3000)
	require.NoError(t, err)

	positions := l.Positions()
	require.Len(t, positions, 1)

	_, err = l.Sell(positions[0].ID, 100)
	require.NoError(t, err)
	assert.Empty(t, l.Positions())
}

func TestLedgerSellWithProfit(t *testing.T) {
	l := newTestLedger(t, 1000)
	_, err := l.Buy("BTC", "Bitcoin", 100, 45000)
	require.NoError(t, err)

	// Price rises 10%
	l.Recompute(map[string]float64{"BTC": 49500})

	positions := l.Positions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 110.0, positions[0].CurrentValue, 1e-6)
	assert.InDelta(t, 10.0, positions[0].Profit, 1e-6)
	assert.InDelta(t, 10.0, positions[0].ProfitPercentage, 1e-6)

	tx, err := l.Sell(positions[0].ID, 100)
	require.NoError(t, err)
	assert.InDelta(t, 110.0, tx.SaleValue, 1e-6)
	assert.InDelta(t, 10.0, tx.Profit, 1e-6)
	assert.InDelta(t, 10.0, tx.ProfitPercentage, 1e-6)
	assert.InDelta(t, 110.0*0.0025, tx.Fee, 1e-9)
}

func TestLedgerSellValidation(t *testing.T) {
	l := newTestLedger(t, 1000)
	_, err := l.Buy("BTC", "Bitcoin", 100, 45000)
	require.NoError(t, err)
	posID := l.Positions()[0].ID

	_, err = l.Sell("missing", 50)
	assert.ErrorIs(t, err, ErrPositionNotFound)

	_, err = l.Sell(posID, 0)
	assert.ErrorIs(t, err, ErrInvalidPercentage)

	_, err = l.Sell(posID, -10)
	assert.ErrorIs(t, err, ErrInvalidPercentage)

	_, err = l.Sell(posID, 100.01)
	assert.ErrorIs(t, err, ErrInvalidPercentage)
}

func TestLedgerWithdraw(t *testing.T) {
	l := newTestLedger(t, 1000)

	tx, err := l.Withdraw(10)
	require.NoError(t, err)

	// 1.5% of 10 is 0.15, below the $5 floor
	assert.InDelta(t, 5.0, tx.Fee, 1e-9)
	assert.InDelta(t, 5.0, tx.NetAmount, 1e-9)
	assert.InDelta(t, 990.0, l.AvailableBalance(), 1e-9)
	assert.InDelta(t, 990.0, l.TotalBalance(), 1e-9)
}

func TestLedgerWithdrawPercentageFee(t *testing.T) {
	l := newTestLedger(t, 10000)

	tx, err := l.Withdraw(1000)
	require.NoError(t, err)

	assert.InDelta(t, 15.0, tx.Fee, 1e-9)
	assert.InDelta(t, 985.0, tx.NetAmount, 1e-9)
	assert.InDelta(t, 9000.0, l.AvailableBalance(), 1e-9)
	assert.InDelta(t, 9000.0, l.TotalBalance(), 1e-9)
}

func TestLedgerWithdrawValidation(t *testing.T) {
	l := newTestLedger(t, 1000)

	_, err := l.Withdraw(9.99)
	assert.ErrorIs(t, err, ErrBelowMinimum)

	_, err = l.Withdraw(2000)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	assert.Equal(t, 1000.0, l.AvailableBalance())
	assert.Equal(t, 1000.0, l.TotalBalance())
}

func TestLedgerRecomputeIdempotent(t *testing.T) {
	l := newTestLedger(t, 1000)
	_, err := l.Buy("BTC", "Bitcoin", 100, 45000)
	require.NoError(t, err)

	prices := map[string]float64{"BTC": 47000}
	first := l.Recompute(prices)
	second := l.Recompute(prices)

	assert.Equal(t, first.AvailableBalance, second.AvailableBalance)
	assert.Equal(t, first.TotalValue, second.TotalValue)
	assert.Equal(t, first.TotalProfit, second.TotalProfit)
}

func TestLedgerRecomputeKeepsUnknownSymbolPrice(t *testing.T) {
	l := newTestLedger(t, 1000)
	_, err := l.Buy("ADA", "Cardano", 50, 1.2)
	require.NoError(t, err)

	l.Recompute(map[string]float64{"BTC": 47000})

	positions := l.Positions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 1.2, positions[0].CurrentPrice, 1e-12)
}

func TestLedgerSnapshotAggregates(t *testing.T) {
	l := newTestLedger(t, 1000)
	_, err := l.Buy("BTC", "Bitcoin", 100, 45000)
	require.NoError(t, err)

	snap := l.Recompute(map[string]float64{"BTC": 49500})

	assert.InDelta(t, 1000.0, snap.TotalBalance, 1e-9)
	assert.InDelta(t, 899.75, snap.AvailableBalance, 1e-9)
	assert.InDelta(t, 100.0, snap.TotalInvested, 1e-9)
	assert.InDelta(t, 899.75+110.0, snap.TotalValue, 1e-6)
	// Profit reflects the 10% gain minus the fee paid on the buy
	assert.InDelta(t, 9.75, snap.TotalProfit, 1e-6)
	assert.InDelta(t, 0.975, snap.TotalProfitPct, 1e-6)
}

func TestLedgerSnapshotRestoreRoundTrip(t *testing.T) {
	l := newTestLedger(t, 1000)
	_, err := l.Buy("BTC", "Bitcoin", 100, 45000)
	require.NoError(t, err)
	_, err = l.Withdraw(50)
	require.NoError(t, err)

	snap := l.Snapshot()

	restored := NewLedger()
	restored.Restore(snap)

	assert.True(t, restored.Initialized())
	assert.InDelta(t, l.AvailableBalance(), restored.AvailableBalance(), 1e-12)
	assert.InDelta(t, l.TotalBalance(), restored.TotalBalance(), 1e-12)
	assert.Equal(t, len(l.Positions()), len(restored.Positions()))
	assert.Equal(t, len(l.Transactions(0)), len(restored.Transactions(0)))

	// The restored ledger must reject re-initialization
	assert.ErrorIs(t, restored.Initialize(500), ErrAlreadyInitialized)
}

func TestLedgerTransactionsOrderAndLimit(t *testing.T) {
	l := newTestLedger(t, 10000)

	_, err := l.Buy("BTC", "Bitcoin", 100, 45000)
	require.NoError(t, err)
	_, err = l.Buy("ETH", "Ethereum", 200, 3000)
	require.NoError(t, err)
	_, err = l.Withdraw(50)
	require.NoError(t, err)

	all := l.Transactions(0)
	require.Len(t, all, 3)
	assert.Equal(t, TransactionWithdraw, all[0].Type)
	assert.Equal(t, TransactionBuy, all[1].Type)
	assert.Equal(t, "ETH", all[1].Symbol)
	assert.Equal(t, "BTC", all[2].Symbol)

	limited := l.Transactions(2)
	require.Len(t, limited, 2)
	assert.Equal(t, TransactionWithdraw, limited[0].Type)
}

func TestLedgerReset(t *testing.T) {
	l := newTestLedger(t, 1000)
	_, err := l.Buy("BTC", "Bitcoin", 100, 45000)
	require.NoError(t, err)

	l.Reset()

	assert.False(t, l.Initialized())
	assert.Zero(t, l.AvailableBalance())
	assert.Empty(t, l.Positions())
	assert.Empty(t, l.Transactions(0))
	require.NoError(t, l.Initialize(500))
}
