// Package portfolio implements the paper-trading ledger: simulated balances,
// open positions, and the append-only transaction log produced by buy, sell
// and withdraw operations.
package portfolio

import (
	"time"
)

// Trading fee configuration. Values match the simulator's published fee
// schedule and must not be changed without migrating stored history.
const (
	TradingFeeRate    = 0.0025 // 0.25% on buys and sells
	WithdrawalFeeRate = 0.015  // 1.5% on withdrawals
	MinWithdrawalFee  = 5.0    // $5 floor on the withdrawal fee
	MinTradeAmount    = 10.0   // Minimum buy investment
	MinWithdrawAmount = 10.0   // Minimum withdrawal
	MinInitialCapital = 100.0
	MaxInitialCapital = 1_000_000.0

	// PositionEpsilon is the quantity below which a position is considered
	// fully closed and removed.
	PositionEpsilon = 1e-6
)

// TransactionType discriminates log entries
type TransactionType string

const (
	TransactionBuy      TransactionType = "buy"
	TransactionSell     TransactionType = "sell"
	TransactionWithdraw TransactionType = "withdraw"
)

// Position is an open simulated holding of one crypto symbol.
// Owned exclusively by the Ledger: created on buy, mutated on partial sell
// or price refresh, removed on full sell or when quantity drops below
// PositionEpsilon.
type Position struct {
	ID               string  `json:"id" msgpack:"id"`
	Symbol           string  `json:"cryptoSymbol" msgpack:"symbol"`
	Name             string  `json:"cryptoName" msgpack:"name"`
	Quantity         float64 `json:"amount" msgpack:"quantity"`
	PurchasePrice    float64 `json:"purchasePrice" msgpack:"purchase_price"`
	CurrentPrice     float64 `json:"currentPrice" msgpack:"current_price"`
	InvestmentValue  float64 `json:"investmentValue" msgpack:"investment_value"`
	CurrentValue     float64 `json:"currentValue" msgpack:"current_value"`
	Profit           float64 `json:"profit" msgpack:"profit"`
	ProfitPercentage float64 `json:"profitPercentage" msgpack:"profit_percentage"`
}

// Transaction is an immutable record of a completed operation.
// Fields not applicable to the operation type are zero (withdrawals carry no
// symbol, buys carry no profit).
type Transaction struct {
	ID               string          `json:"id" msgpack:"id"`
	Type             TransactionType `json:"type" msgpack:"type"`
	Symbol           string          `json:"cryptoSymbol,omitempty" msgpack:"symbol"`
	Name             string          `json:"cryptoName,omitempty" msgpack:"name"`
	Quantity         float64         `json:"amount,omitempty" msgpack:"quantity"`
	Price            float64         `json:"price,omitempty" msgpack:"price"`
	Investment       float64         `json:"investment,omitempty" msgpack:"investment"`
	SaleValue        float64         `json:"saleValue,omitempty" msgpack:"sale_value"`
	PurchasePrice    float64         `json:"purchasePrice,omitempty" msgpack:"purchase_price"`
	Profit           float64         `json:"profit,omitempty" msgpack:"profit"`
	ProfitPercentage float64         `json:"profitPercentage,omitempty" msgpack:"profit_percentage"`
	Fee              float64         `json:"fee" msgpack:"fee"`
	TotalCost        float64         `json:"totalCost,omitempty" msgpack:"total_cost"`
	NetAmount        float64         `json:"netAmount,omitempty" msgpack:"net_amount"`
	Timestamp        time.Time       `json:"timestamp" msgpack:"timestamp"`
}

// GrossValue returns the gross money value of the transaction: the
// investment for buys, the sale value for sells, the withdrawn amount for
// withdrawals.
func (t Transaction) GrossValue() float64 {
	switch t.Type {
	case TransactionBuy:
		return t.Investment
	case TransactionSell:
		return t.SaleValue
	case TransactionWithdraw:
		return t.NetAmount + t.Fee
	}
	return 0
}

// Snapshot is the full serializable state of a trading session: the ledger
// aggregate fields, open positions, and transaction history. It is the unit
// of local persistence and of remote snapshot mirroring.
type Snapshot struct {
	Initialized      bool          `json:"initialized" msgpack:"initialized"`
	TotalBalance     float64       `json:"totalBalance" msgpack:"total_balance"`
	AvailableBalance float64       `json:"availableBalance" msgpack:"available_balance"`
	TotalInvested    float64       `json:"totalInvested" msgpack:"total_invested"`
	TotalValue       float64       `json:"totalValue" msgpack:"total_value"`
	TotalProfit      float64       `json:"totalProfit" msgpack:"total_profit"`
	TotalProfitPct   float64       `json:"totalProfitPercentage" msgpack:"total_profit_pct"`
	Positions        []Position    `json:"investments" msgpack:"positions"`
	Transactions     []Transaction `json:"transactionHistory" msgpack:"transactions"`
	SavedAt          time.Time     `json:"timestamp" msgpack:"saved_at"`
}
