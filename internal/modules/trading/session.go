// Package trading runs the live paper-trading sessions: one in-memory
// ledger per session key, restored from local or remote persistence on
// first access and flushed back on a schedule.
package trading

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/mundocripto/papertrade/internal/modules/auth"
	"github.com/mundocripto/papertrade/internal/modules/portfolio"
	"github.com/mundocripto/papertrade/internal/reconciler"
)

// Session is one live trading session. All ledger access goes through the
// session lock.
type Session struct {
	mu     sync.Mutex
	key    string
	ledger *portfolio.Ledger
}

// Key returns the session's storage key. Adoption can re-key a live
// session, so reads go through the session lock.
func (s *Session) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// withLock runs fn while holding the session lock.
func (s *Session) withLock(fn func(l *portfolio.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.ledger)
}

// SessionManager owns the live sessions. Sessions are created lazily: the
// first access restores state from the local snapshot store, then from the
// remote ledger for authenticated users, and starts empty otherwise.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	rec          *reconciler.Reconciler
	snapshots    *portfolio.SnapshotRepository
	transactions *portfolio.TransactionRepository
	log          zerolog.Logger
}

// NewSessionManager creates a session manager.
func NewSessionManager(
	rec *reconciler.Reconciler,
	snapshots *portfolio.SnapshotRepository,
	transactions *portfolio.TransactionRepository,
	log zerolog.Logger,
) *SessionManager {
	return &SessionManager{
		sessions:     make(map[string]*Session),
		rec:          rec,
		snapshots:    snapshots,
		transactions: transactions,
		log:          log.With().Str("component", "sessions").Logger(),
	}
}

// Get returns the live session for an identity, restoring or creating it
// as needed.
func (m *SessionManager) Get(identity auth.Identity) *Session {
	key := identity.SessionKey()

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s
	}

	ledger := portfolio.NewLedger()
	if snap := m.restore(key, identity); snap != nil {
		ledger.Restore(*snap)
		m.log.Info().Str("session", key).Msg("Session restored")
	}

	s := &Session{key: key, ledger: ledger}
	m.sessions[key] = s
	return s
}

// restore loads the most recent persisted state for a key: the local
// snapshot wins because it carries the full history; the remote ledger is
// the fallback for authenticated users whose local cache was lost.
func (m *SessionManager) restore(key string, identity auth.Identity) *portfolio.Snapshot {
	snap, err := m.rec.LoadSnapshot(key)
	if err != nil {
		m.log.Warn().Err(err).Str("session", key).Msg("Local snapshot load failed")
	}
	if snap != nil {
		return snap
	}

	if identity.Guest {
		return nil
	}

	remote, err := m.snapshots.GetLatest(identity.UserID)
	if err != nil {
		m.log.Warn().Err(err).Str("session", key).Msg("Remote snapshot load failed")
		return nil
	}
	if remote == nil {
		return nil
	}

	// Remote snapshots carry aggregates and positions; history lives in
	// the transaction table.
	history, err := m.transactions.GetHistory(identity.UserID, 50)
	if err != nil {
		m.log.Warn().Err(err).Str("session", key).Msg("Remote history load failed")
	}
	remote.Transactions = history
	return remote
}

// AdoptGuest hands the guest session over to a freshly authenticated user,
// provided the user has no saved state of their own. Returns true when the
// adoption happened.
func (m *SessionManager) AdoptGuest(identity auth.Identity) (bool, error) {
	if identity.Guest {
		return false, nil
	}
	userKey := identity.SessionKey()

	m.mu.Lock()
	defer m.mu.Unlock()

	guest, ok := m.sessions["guest"]
	if !ok {
		return false, nil
	}
	guest.mu.Lock()
	initialized := guest.ledger.Initialized()
	guest.mu.Unlock()
	if !initialized {
		return false, nil
	}

	// Existing user state wins over the anonymous session
	if snap, err := m.rec.LoadSnapshot(userKey); err == nil && snap != nil {
		return false, nil
	}
	if remote, err := m.snapshots.GetLatest(identity.UserID); err == nil && remote != nil {
		return false, nil
	}

	if err := m.rec.AdoptGuest("guest", userKey); err != nil {
		return false, err
	}

	delete(m.sessions, "guest")
	guest.mu.Lock()
	guest.key = userKey
	guest.mu.Unlock()
	m.sessions[userKey] = guest

	m.log.Info().Int64("user_id", identity.UserID).Msg("Guest session adopted")
	return true, nil
}

// Drop removes a live session without touching persisted state.
func (m *SessionManager) Drop(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
}

// SaveAll flushes every live session snapshot through the reconciler.
// Called by the autosave job and on shutdown.
func (m *SessionManager) SaveAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var saved int
	for _, s := range sessions {
		s.mu.Lock()
		initialized := s.ledger.Initialized()
		snap := s.ledger.Snapshot()
		key := s.key
		s.mu.Unlock()

		if !initialized {
			continue
		}
		if err := m.rec.SaveSnapshot(key, snap); err != nil {
			m.log.Warn().Err(err).Str("session", key).Msg("Autosave failed")
			continue
		}
		saved++
	}

	if saved > 0 {
		m.log.Info().Int("sessions", saved).Msg("Sessions autosaved")
	}
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
