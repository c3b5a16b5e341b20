package trading

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/mundocripto/papertrade/internal/modules/auth"
	"github.com/mundocripto/papertrade/internal/modules/market"
	"github.com/mundocripto/papertrade/internal/modules/portfolio"
	"github.com/mundocripto/papertrade/internal/reconciler"
)

// Service executes trading operations against the caller's session.
// Every mutating operation records the transaction through the reconciler
// and refreshes the local snapshot, so a crash between autosaves loses
// nothing.
type Service struct {
	sessions     *SessionManager
	feed         *market.Feed
	rec          *reconciler.Reconciler
	transactions *portfolio.TransactionRepository
	snapshots    *portfolio.SnapshotRepository
	log          zerolog.Logger
}

// NewService creates a trading service.
func NewService(
	sessions *SessionManager,
	feed *market.Feed,
	rec *reconciler.Reconciler,
	transactions *portfolio.TransactionRepository,
	snapshots *portfolio.SnapshotRepository,
	log zerolog.Logger,
) *Service {
	return &Service{
		sessions:     sessions,
		feed:         feed,
		rec:          rec,
		transactions: transactions,
		snapshots:    snapshots,
		log:          log.With().Str("service", "trading").Logger(),
	}
}

// Sessions exposes the session manager for the autosave job and adoption
// hooks.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Initialize seeds the caller's session with starting capital.
func (s *Service) Initialize(identity auth.Identity, capital float64) (portfolio.Snapshot, error) {
	session := s.sessions.Get(identity)

	var snap portfolio.Snapshot
	err := session.withLock(func(l *portfolio.Ledger) error {
		if err := l.Initialize(capital); err != nil {
			return err
		}
		snap = l.Recompute(s.feed.Prices())
		return nil
	})
	if err != nil {
		return portfolio.Snapshot{}, err
	}

	s.persistSnapshot(session.Key(), snap)
	s.log.Info().Str("session", session.Key()).Float64("capital", capital).Msg("Session initialized")
	return snap, nil
}

// Buy invests `amount` dollars in `symbol` at the current market price.
func (s *Service) Buy(identity auth.Identity, symbol string, amount float64) (*portfolio.Transaction, portfolio.Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	price, ok := s.feed.Price(symbol)
	if !ok {
		return nil, portfolio.Snapshot{}, portfolio.ErrUnknownSymbol
	}
	name, _ := s.feed.Name(symbol)

	session := s.sessions.Get(identity)

	var tx *portfolio.Transaction
	var snap portfolio.Snapshot
	err := session.withLock(func(l *portfolio.Ledger) error {
		var err error
		tx, err = l.Buy(symbol, name, amount, price)
		if err != nil {
			return err
		}
		snap = l.Recompute(s.feed.Prices())
		return nil
	})
	if err != nil {
		return nil, portfolio.Snapshot{}, err
	}

	s.persistTransaction(session.Key(), *tx, snap)
	return tx, snap, nil
}

// Sell liquidates a percentage of one position at its current price.
// Prices are refreshed before the sale so the fill matches the market.
func (s *Service) Sell(identity auth.Identity, positionID string, percentage float64) (*portfolio.Transaction, portfolio.Snapshot, error) {
	session := s.sessions.Get(identity)

	var tx *portfolio.Transaction
	var snap portfolio.Snapshot
	err := session.withLock(func(l *portfolio.Ledger) error {
		l.Recompute(s.feed.Prices())
		var err error
		tx, err = l.Sell(positionID, percentage)
		if err != nil {
			return err
		}
		snap = l.Snapshot()
		return nil
	})
	if err != nil {
		return nil, portfolio.Snapshot{}, err
	}

	s.persistTransaction(session.Key(), *tx, snap)
	return tx, snap, nil
}

// Withdraw takes money out of the simulated portfolio.
func (s *Service) Withdraw(identity auth.Identity, amount float64) (*portfolio.Transaction, portfolio.Snapshot, error) {
	session := s.sessions.Get(identity)

	var tx *portfolio.Transaction
	var snap portfolio.Snapshot
	err := session.withLock(func(l *portfolio.Ledger) error {
		var err error
		tx, err = l.Withdraw(amount)
		if err != nil {
			return err
		}
		snap = l.Recompute(s.feed.Prices())
		return nil
	})
	if err != nil {
		return nil, portfolio.Snapshot{}, err
	}

	s.persistTransaction(session.Key(), *tx, snap)
	return tx, snap, nil
}

// Portfolio returns the session state valued at current prices.
func (s *Service) Portfolio(identity auth.Identity) portfolio.Snapshot {
	session := s.sessions.Get(identity)

	var snap portfolio.Snapshot
	session.withLock(func(l *portfolio.Ledger) error {
		snap = l.Recompute(s.feed.Prices())
		return nil
	})
	return snap
}

// Transactions returns the session's recent history, most recent first.
func (s *Service) Transactions(identity auth.Identity, limit int) []portfolio.Transaction {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	session := s.sessions.Get(identity)

	var history []portfolio.Transaction
	session.withLock(func(l *portfolio.Ledger) error {
		history = l.Transactions(limit)
		return nil
	})
	return history
}

// Reset wipes the session and all of its persisted state, local and
// remote.
func (s *Service) Reset(identity auth.Identity) error {
	session := s.sessions.Get(identity)

	session.withLock(func(l *portfolio.Ledger) error {
		l.Reset()
		return nil
	})

	key := session.Key()
	if err := s.rec.Reset(key); err != nil {
		return err
	}

	if !identity.Guest {
		if err := s.transactions.DeleteForUser(identity.UserID); err != nil {
			return err
		}
		if err := s.snapshots.DeleteForUser(identity.UserID); err != nil {
			return err
		}
	}

	s.sessions.Drop(key)
	s.log.Info().Str("session", key).Msg("Session reset")
	return nil
}

// Export returns the full session state, including complete history, for
// client-side download.
func (s *Service) Export(identity auth.Identity) portfolio.Snapshot {
	session := s.sessions.Get(identity)

	var snap portfolio.Snapshot
	session.withLock(func(l *portfolio.Ledger) error {
		l.Recompute(s.feed.Prices())
		snap = l.Snapshot()
		return nil
	})
	return snap
}

// AdoptGuest is called after login or registration to hand the anonymous
// session to the new identity.
func (s *Service) AdoptGuest(identity auth.Identity) {
	adopted, err := s.sessions.AdoptGuest(identity)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", identity.UserID).Msg("Guest adoption failed")
		return
	}
	if adopted {
		// Flush the adopted state under its new key right away
		session := s.sessions.Get(identity)
		var snap portfolio.Snapshot
		var initialized bool
		session.withLock(func(l *portfolio.Ledger) error {
			initialized = l.Initialized()
			snap = l.Snapshot()
			return nil
		})
		if initialized {
			s.persistSnapshot(session.Key(), snap)
		}
	}
}

func (s *Service) persistTransaction(key string, tx portfolio.Transaction, snap portfolio.Snapshot) {
	if err := s.rec.Record(key, tx); err != nil {
		s.log.Error().Err(err).Str("session", key).Str("tx", tx.ID).Msg("Failed to queue transaction")
	}
	s.persistSnapshot(key, snap)
}

func (s *Service) persistSnapshot(key string, snap portfolio.Snapshot) {
	if err := s.rec.SaveSnapshot(key, snap); err != nil {
		s.log.Error().Err(err).Str("session", key).Msg("Failed to save snapshot")
	}
}
