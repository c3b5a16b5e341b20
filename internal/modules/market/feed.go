// Package market implements the simulated price feed: a small fixed
// universe of crypto symbols whose prices follow a bounded random walk.
package market

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// maxStepPct bounds each tick to +/-5% of the previous price.
	maxStepPct = 0.05
	// priceFloor keeps prices from collapsing to zero.
	priceFloor = 0.01
	// historySize bounds the per-symbol price history ring.
	historySize = 720
)

// Quote is the public view of one symbol at one instant.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"changePercentage"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type symbolState struct {
	name      string
	initial   float64
	price     float64
	history   []float64
	updatedAt time.Time
}

// Feed holds the live simulated market. Safe for concurrent use.
type Feed struct {
	mu      sync.RWMutex
	symbols map[string]*symbolState
	order   []string

	subMu   sync.Mutex
	subs    map[int]chan []Quote
	nextSub int

	rng *rand.Rand
	log zerolog.Logger
}

// seed is the fixed trading universe with its starting prices.
var seed = []struct {
	symbol string
	name   string
	price  float64
}{
	{"BTC", "Bitcoin", 45000},
	{"ETH", "Ethereum", 3000},
	{"ADA", "Cardano", 1.2},
	{"SOL", "Solana", 100},
	{"DOGE", "Dogecoin", 0.15},
	{"XRP", "Ripple", 0.75},
	{"DOT", "Polkadot", 8.5},
	{"LTC", "Litecoin", 75},
	{"LINK", "Chainlink", 18},
	{"XLM", "Stellar", 0.35},
}

// NewFeed creates a feed seeded with the fixed symbol universe.
func NewFeed(log zerolog.Logger) *Feed {
	f := &Feed{
		symbols: make(map[string]*symbolState, len(seed)),
		subs:    make(map[int]chan []Quote),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     log.With().Str("component", "market_feed").Logger(),
	}
	now := time.Now()
	for _, s := range seed {
		f.symbols[s.symbol] = &symbolState{
			name:      s.name,
			initial:   s.price,
			price:     s.price,
			history:   []float64{s.price},
			updatedAt: now,
		}
		f.order = append(f.order, s.symbol)
	}
	return f
}

// Tick advances every symbol one random step and notifies subscribers.
// Each step multiplies the price by a factor drawn uniformly from
// [1-maxStepPct, 1+maxStepPct], clamped at the price floor.
func (f *Feed) Tick() {
	f.mu.Lock()
	now := time.Now()
	for _, sym := range f.order {
		st := f.symbols[sym]
		step := 1 + (f.rng.Float64()*2-1)*maxStepPct
		price := st.price * step
		if price < priceFloor {
			price = priceFloor
		}
		st.price = price
		st.updatedAt = now
		st.history = append(st.history, price)
		if len(st.history) > historySize {
			st.history = st.history[len(st.history)-historySize:]
		}
	}
	quotes := f.buildQuotes()
	f.mu.Unlock()

	f.publish(quotes)
}

// Prices returns the current price of every symbol.
func (f *Feed) Prices() map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	prices := make(map[string]float64, len(f.symbols))
	for sym, st := range f.symbols {
		prices[sym] = st.price
	}
	return prices
}

// Price returns the current price of one symbol.
func (f *Feed) Price(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st, ok := f.symbols[symbol]
	if !ok {
		return 0, false
	}
	return st.price, true
}

// Name returns the display name of a symbol.
func (f *Feed) Name(symbol string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st, ok := f.symbols[symbol]
	if !ok {
		return "", false
	}
	return st.name, true
}

// Quotes returns the current quote for every symbol in universe order.
func (f *Feed) Quotes() []Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.buildQuotes()
}

// History returns up to n most recent prices for a symbol, oldest first.
func (f *Feed) History(symbol string, n int) []float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st, ok := f.symbols[symbol]
	if !ok {
		return nil
	}
	h := st.history
	if n > 0 && n < len(h) {
		h = h[len(h)-n:]
	}
	out := make([]float64, len(h))
	copy(out, h)
	return out
}

// Symbols returns the trading universe in alphabetical order.
func (f *Feed) Symbols() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	sort.Strings(out)
	return out
}

// Subscribe registers a quote listener. Slow subscribers drop updates
// rather than blocking the tick. The returned func unsubscribes.
func (f *Feed) Subscribe() (<-chan []Quote, func()) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	id := f.nextSub
	f.nextSub++
	ch := make(chan []Quote, 4)
	f.subs[id] = ch

	cancel := func() {
		f.subMu.Lock()
		defer f.subMu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// buildQuotes assumes the caller holds at least a read lock.
func (f *Feed) buildQuotes() []Quote {
	quotes := make([]Quote, 0, len(f.order))
	for _, sym := range f.order {
		st := f.symbols[sym]
		change := st.price - st.initial
		changePct := 0.0
		if st.initial > 0 {
			changePct = change / st.initial * 100
		}
		quotes = append(quotes, Quote{
			Symbol:    sym,
			Name:      st.name,
			Price:     st.price,
			Change:    change,
			ChangePct: changePct,
			UpdatedAt: st.updatedAt,
		})
	}
	return quotes
}

func (f *Feed) publish(quotes []Quote) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	for id, ch := range f.subs {
		select {
		case ch <- quotes:
		default:
			f.log.Debug().Int("subscriber", id).Msg("Dropping quote update for slow subscriber")
		}
	}
}
