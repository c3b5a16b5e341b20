package trading

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mundocripto/papertrade/internal/modules/auth"
	"github.com/mundocripto/papertrade/internal/modules/market"
	"github.com/mundocripto/papertrade/internal/modules/portfolio"
	"github.com/mundocripto/papertrade/internal/reconciler"
)

type testStack struct {
	service      *Service
	sessions     *SessionManager
	rec          *reconciler.Reconciler
	transactions *portfolio.TransactionRepository
	snapshots    *portfolio.SnapshotRepository
	feed         *market.Feed
}

func setupStack(t *testing.T) *testStack {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	ledgerDB := openTestDB(t, `
		CREATE TABLE portfolio_transactions (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id           INTEGER NOT NULL,
			type              TEXT NOT NULL,
			crypto_symbol     TEXT,
			crypto_name       TEXT,
			amount            REAL,
			price             REAL,
			investment        REAL,
			sale_value        REAL,
			purchase_price    REAL,
			profit            REAL,
			profit_percentage REAL,
			fee               REAL NOT NULL,
			total_cost        REAL,
			net_amount        REAL,
			status            TEXT NOT NULL DEFAULT 'completed',
			client_tx_id      TEXT UNIQUE,
			timestamp         INTEGER NOT NULL,
			created_at        INTEGER NOT NULL
		);
		CREATE TABLE portfolio_snapshots (
			id                      INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id                 INTEGER NOT NULL,
			total_balance           REAL NOT NULL,
			available_balance       REAL NOT NULL,
			total_invested          REAL NOT NULL,
			total_profit            REAL NOT NULL,
			total_profit_percentage REAL NOT NULL,
			positions_json          TEXT,
			snapshot_date           INTEGER NOT NULL
		);
		CREATE TABLE portfolio_investments (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id           INTEGER NOT NULL,
			position_id       TEXT NOT NULL,
			crypto_symbol     TEXT NOT NULL,
			crypto_name       TEXT,
			amount            REAL NOT NULL,
			purchase_price    REAL NOT NULL,
			current_price     REAL NOT NULL,
			current_value     REAL NOT NULL,
			profit            REAL NOT NULL,
			profit_percentage REAL NOT NULL,
			investment_value  REAL NOT NULL,
			updated_at        INTEGER NOT NULL,
			UNIQUE(user_id, position_id)
		);
	`)
	cacheDB := openTestDB(t, `
		CREATE TABLE session_snapshots (
			user_key   TEXT PRIMARY KEY,
			blob       BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE snapshot_backups (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_key   TEXT NOT NULL,
			blob       BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE fallback_transactions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_key   TEXT NOT NULL,
			payload    BLOB NOT NULL,
			synced     INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
	`)

	transactions := portfolio.NewTransactionRepository(ledgerDB, log)
	snapshots := portfolio.NewSnapshotRepository(ledgerDB, log)
	local := reconciler.NewLocalStore(cacheDB, log)
	remote := reconciler.NewLedgerRemote(transactions, snapshots)
	rec := reconciler.New(local, remote, reconciler.Config{MaxAttempts: 2, RetryDelay: time.Millisecond}, log)

	feed := market.NewFeed(log)
	sessions := NewSessionManager(rec, snapshots, transactions, log)
	service := NewService(sessions, feed, rec, transactions, snapshots, log)

	return &testStack{
		service:      service,
		sessions:     sessions,
		rec:          rec,
		transactions: transactions,
		snapshots:    snapshots,
		feed:         feed,
	}
}

func openTestDB(t *testing.T, schema string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(schema)
	require.NoError(t, err, "Failed to create test tables")
	return db
}

var guest = auth.Identity{Guest: true}

func user(id int64) auth.Identity {
	return auth.Identity{UserID: id}
}

func TestGuestTradingFlow(t *testing.T) {
	stack := setupStack(t)
	svc := stack.service

	snap, err := svc.Initialize(guest, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, snap.AvailableBalance, 1e-9)

	tx, snap, err := svc.Buy(guest, "BTC", 100)
	require.NoError(t, err)
	assert.Equal(t, portfolio.TransactionBuy, tx.Type)
	assert.InDelta(t, 899.75, snap.AvailableBalance, 1e-9)
	require.Len(t, snap.Positions, 1)

	tx, snap, err = svc.Sell(guest, snap.Positions[0].ID, 100)
	require.NoError(t, err)
	assert.Equal(t, portfolio.TransactionSell, tx.Type)
	assert.Empty(t, snap.Positions)

	tx, snap, err = svc.Withdraw(guest, 10)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, tx.Fee, 1e-9)
	assert.InDelta(t, 990.0, snap.TotalBalance, 1e-9)

	history := svc.Transactions(guest, 50)
	require.Len(t, history, 3)
	assert.Equal(t, portfolio.TransactionWithdraw, history[0].Type)
}

func TestBuyRejectsUnknownSymbol(t *testing.T) {
	stack := setupStack(t)

	_, err := stack.service.Initialize(guest, 1000)
	require.NoError(t, err)

	_, _, err = stack.service.Buy(guest, "NOPE", 100)
	assert.ErrorIs(t, err, portfolio.ErrUnknownSymbol)
}

func TestSessionRestoresFromLocalSnapshot(t *testing.T) {
	stack := setupStack(t)
	svc := stack.service

	_, err := svc.Initialize(guest, 1000)
	require.NoError(t, err)
	_, _, err = svc.Buy(guest, "ETH", 200)
	require.NoError(t, err)

	// Simulate a restart: drop the live session, keep the cache
	stack.sessions.Drop("guest")

	snap := svc.Portfolio(guest)
	assert.True(t, snap.Initialized)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "ETH", snap.Positions[0].Symbol)
	require.Len(t, svc.Transactions(guest, 50), 1)
}

func TestAuthenticatedTradesDrainToLedger(t *testing.T) {
	stack := setupStack(t)
	svc := stack.service
	alice := user(1)

	_, err := svc.Initialize(alice, 1000)
	require.NoError(t, err)
	_, _, err = svc.Buy(alice, "BTC", 100)
	require.NoError(t, err)
	_, _, err = svc.Withdraw(alice, 20)
	require.NoError(t, err)

	stack.rec.Drain()

	history, err := stack.transactions.GetHistory(1, 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, portfolio.TransactionWithdraw, history[0].Type)
	assert.Equal(t, portfolio.TransactionBuy, history[1].Type)

	// Redundant drains must not duplicate rows
	stack.rec.Drain()
	count, err := stack.transactions.CountForUser(1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSessionRestoresFromRemoteWhenCacheLost(t *testing.T) {
	stack := setupStack(t)
	svc := stack.service
	alice := user(1)

	_, err := svc.Initialize(alice, 1000)
	require.NoError(t, err)
	_, _, err = svc.Buy(alice, "BTC", 100)
	require.NoError(t, err)
	stack.rec.Drain()

	// Lose both the live session and the local cache
	stack.sessions.Drop("user:1")
	require.NoError(t, stack.rec.Reset("user:1"))

	snap := svc.Portfolio(alice)
	assert.True(t, snap.Initialized)
	assert.InDelta(t, 899.75, snap.AvailableBalance, 1e-9)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "BTC", snap.Positions[0].Symbol)

	// History came back from the transaction table
	history := svc.Transactions(alice, 50)
	require.Len(t, history, 1)
	assert.Equal(t, portfolio.TransactionBuy, history[0].Type)
}

func TestGuestAdoptionOnLogin(t *testing.T) {
	stack := setupStack(t)
	svc := stack.service
	bob := user(2)

	_, err := svc.Initialize(guest, 1000)
	require.NoError(t, err)
	_, _, err = svc.Buy(guest, "ADA", 50)
	require.NoError(t, err)

	svc.AdoptGuest(bob)
	stack.rec.Drain()

	// The guest's trades now belong to the user
	snap := svc.Portfolio(bob)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "ADA", snap.Positions[0].Symbol)

	count, err := stack.transactions.CountForUser(2)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A fresh guest session starts empty
	stack.sessions.Drop("guest")
	guestSnap := svc.Portfolio(guest)
	assert.False(t, guestSnap.Initialized)
}

func TestAdoptionReKeysLiveSessionSafely(t *testing.T) {
	stack := setupStack(t)
	svc := stack.service
	dave := user(9)

	_, err := svc.Initialize(guest, 1000)
	require.NoError(t, err)

	// An in-flight request holds the guest session while the login path
	// adopts it. Key reads and the re-key write must not race.
	session := stack.sessions.Get(guest)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = session.Key()
		}
	}()
	go func() {
		defer wg.Done()
		_, err := stack.sessions.AdoptGuest(dave)
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.Equal(t, "user:9", session.Key())

	// Operations through the held session now persist under the user key
	_, _, err = svc.Buy(dave, "BTC", 100)
	require.NoError(t, err)
	stack.rec.Drain()
	count, err := stack.transactions.CountForUser(9)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGuestAdoptionSkippedWhenUserHasState(t *testing.T) {
	stack := setupStack(t)
	svc := stack.service
	carol := user(3)

	// Carol already has a portfolio
	_, err := svc.Initialize(carol, 5000)
	require.NoError(t, err)

	// A guest starts a separate session
	stack.sessions.Drop("user:3")
	_, err = svc.Initialize(guest, 1000)
	require.NoError(t, err)

	svc.AdoptGuest(carol)

	// Carol keeps her own portfolio
	snap := svc.Portfolio(carol)
	assert.InDelta(t, 5000.0, snap.TotalBalance, 1e-9)
}

func TestResetClearsAllState(t *testing.T) {
	stack := setupStack(t)
	svc := stack.service
	dave := user(4)

	_, err := svc.Initialize(dave, 1000)
	require.NoError(t, err)
	_, _, err = svc.Buy(dave, "SOL", 100)
	require.NoError(t, err)
	stack.rec.Drain()

	require.NoError(t, svc.Reset(dave))

	snap := svc.Portfolio(dave)
	assert.False(t, snap.Initialized)

	count, err := stack.transactions.CountForUser(4)
	require.NoError(t, err)
	assert.Zero(t, count)

	latest, err := stack.snapshots.GetLatest(4)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestInitializeTwiceFails(t *testing.T) {
	stack := setupStack(t)

	_, err := stack.service.Initialize(guest, 1000)
	require.NoError(t, err)

	_, err = stack.service.Initialize(guest, 2000)
	assert.ErrorIs(t, err, portfolio.ErrAlreadyInitialized)
}

func TestExportIncludesFullState(t *testing.T) {
	stack := setupStack(t)
	svc := stack.service

	_, err := svc.Initialize(guest, 1000)
	require.NoError(t, err)
	_, _, err = svc.Buy(guest, "BTC", 100)
	require.NoError(t, err)

	export := svc.Export(guest)
	assert.True(t, export.Initialized)
	require.Len(t, export.Positions, 1)
	require.Len(t, export.Transactions, 1)
	assert.False(t, export.SavedAt.IsZero())
}

func TestSaveAllFlushesInitializedSessions(t *testing.T) {
	stack := setupStack(t)
	svc := stack.service
	erin := user(5)

	_, err := svc.Initialize(erin, 1000)
	require.NoError(t, err)

	// Touch a second, uninitialized session
	svc.Portfolio(guest)

	stack.sessions.SaveAll()

	latest, err := stack.snapshots.GetLatest(5)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.InDelta(t, 1000.0, latest.AvailableBalance, 1e-9)

	assert.Equal(t, 2, stack.sessions.Count())
}
