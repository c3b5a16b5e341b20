package reconciler

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mundocripto/papertrade/internal/modules/portfolio"
)

// RemoteStore is the durable ledger the reconciler drains into.
type RemoteStore interface {
	SaveTransaction(userID int64, tx portfolio.Transaction) error
	SaveSnapshot(userID int64, snap portfolio.Snapshot) error
}

// Config tunes the drain retry policy.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// Reconciler implements write-behind persistence: every transaction lands
// in the local fallback queue first, then a drain pushes it to the remote
// store. Delivery is at-least-once; the remote store deduplicates on the
// client transaction id.
type Reconciler struct {
	local  *LocalStore
	remote RemoteStore
	cfg    Config
	log    zerolog.Logger

	notify chan struct{}

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	drainMu sync.Mutex
}

// New creates a reconciler. Zero config fields fall back to 10 attempts
// and a 500ms delay.
func New(local *LocalStore, remote RemoteStore, cfg Config, log zerolog.Logger) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Reconciler{
		local:  local,
		remote: remote,
		cfg:    cfg,
		log:    log.With().Str("component", "reconciler").Logger(),
		notify: make(chan struct{}, 1),
	}
}

// Record queues a transaction for remote delivery. The local enqueue is
// the durability point: once it succeeds the transaction survives a crash
// and the caller does not wait for the remote store.
func (r *Reconciler) Record(userKey string, tx portfolio.Transaction) error {
	if err := r.local.EnqueueTransaction(userKey, tx); err != nil {
		return err
	}
	r.requestDrain()
	return nil
}

// SaveSnapshot persists a snapshot locally and, for authenticated
// sessions, mirrors it to the remote store. A remote failure is logged and
// swallowed: the local copy plus the queued transactions are enough to
// rebuild.
func (r *Reconciler) SaveSnapshot(userKey string, snap portfolio.Snapshot) error {
	if err := r.local.SaveSnapshot(userKey, snap); err != nil {
		return err
	}

	if userID, ok := parseUserKey(userKey); ok {
		if err := r.remote.SaveSnapshot(userID, snap); err != nil {
			r.log.Warn().Err(err).Str("user_key", userKey).Msg("Remote snapshot save failed, local copy kept")
		}
	}
	return nil
}

// LoadSnapshot returns the locally stored snapshot for a session key.
func (r *Reconciler) LoadSnapshot(userKey string) (*portfolio.Snapshot, error) {
	return r.local.LoadSnapshot(userKey)
}

// AdoptGuest moves the guest session's local state under the user's key
// and drains whatever was queued while anonymous. Called once the guest's
// identity resolves at login or registration.
func (r *Reconciler) AdoptGuest(guestKey, userKey string) error {
	if err := r.local.Rekey(guestKey, userKey); err != nil {
		return err
	}
	r.requestDrain()
	return nil
}

// Reset drops all local state for a session key.
func (r *Reconciler) Reset(userKey string) error {
	return r.local.DeleteKey(userKey)
}

// PendingCount exposes the queue depth for the status endpoint.
func (r *Reconciler) PendingCount() (int, error) {
	return r.local.PendingCount()
}

// Start launches the background worker that services drain requests.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.run()

	r.log.Info().Msg("Reconciler started")
}

// Stop shuts the background worker down and waits for it to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info().Msg("Reconciler stopped")
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		case <-r.notify:
			r.Drain()
		}
	}
}

func (r *Reconciler) requestDrain() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Drain pushes every pending queue row to the remote store, retrying each
// row up to MaxAttempts with a fixed delay. Rows that still fail stay
// pending for the next drain; guest rows are skipped until their identity
// resolves. Drains never run concurrently.
func (r *Reconciler) Drain() {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	pending, err := r.local.AllPending()
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to read pending queue")
		return
	}
	if len(pending) == 0 {
		return
	}

	var delivered, skipped, failed int
	for _, p := range pending {
		userID, ok := parseUserKey(p.UserKey)
		if !ok {
			skipped++
			continue
		}

		if err := r.deliverWithRetry(userID, p.Transaction); err != nil {
			r.log.Warn().Err(err).
				Int64("row_id", p.RowID).
				Str("user_key", p.UserKey).
				Msg("Transaction delivery failed, row stays pending")
			failed++
			continue
		}

		if err := r.local.MarkSynced(p.RowID); err != nil {
			// The remote insert is idempotent on client_tx_id, so a
			// redelivery on the next drain is harmless.
			r.log.Warn().Err(err).Int64("row_id", p.RowID).Msg("Failed to mark row synced")
		}
		delivered++
	}

	r.log.Info().
		Int("delivered", delivered).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("Drain complete")
}

func (r *Reconciler) deliverWithRetry(userID int64, tx portfolio.Transaction) error {
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err = r.remote.SaveTransaction(userID, tx)
		if err == nil {
			return nil
		}
		if attempt < r.cfg.MaxAttempts {
			time.Sleep(r.cfg.RetryDelay)
		}
	}
	return err
}

// parseUserKey extracts the user id from keys of the form "user:N".
// Guest keys have no remote identity and return false.
func parseUserKey(key string) (int64, bool) {
	raw, ok := strings.CutPrefix(key, "user:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
