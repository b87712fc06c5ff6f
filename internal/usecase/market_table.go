package usecase

import (
	"math"
	"sync"
	"time"

	"SignalFuse/internal/domain/models"
)

// MarketTable is the live instrument-price table. The feed subscriber is the
// single writer of prices; the broker and HTTP handlers read snapshots.
type MarketTable struct {
	mu    sync.RWMutex
	byID  map[string]*models.Instrument
	order []string
}

// NewMarketTable seeds the table. Seeded prices are treated as the cached price.
func NewMarketTable(seed []models.Instrument) *MarketTable {
	t := &MarketTable{byID: make(map[string]*models.Instrument, len(seed))}
	for _, in := range seed {
		t.Upsert(in)
	}
	return t
}

// Upsert adds an instrument or refreshes its descriptive fields. An existing
// live price is kept.
func (t *MarketTable) Upsert(in models.Instrument) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.byID[in.ID]; ok {
		if in.Symbol != "" {
			cur.Symbol = in.Symbol
		}
		if in.Question != "" {
			cur.Question = in.Question
		}
		return
	}
	cp := in
	t.byID[in.ID] = &cp
	t.order = append(t.order, in.ID)
}

// Apply updates the cached price when it differs from the delta. It reports
// the change and whether one happened. Unknown instruments are ignored.
// LastUpdate never moves backwards, even for deltas with older timestamps.
func (t *MarketTable) Apply(d models.PriceDelta, now time.Time) (models.PriceChange, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if math.IsNaN(d.Price) || math.IsInf(d.Price, 0) {
		return models.PriceChange{}, false
	}
	in, ok := t.byID[d.InstrumentID]
	if !ok || in.LastPrice == d.Price {
		return models.PriceChange{}, false
	}

	ts := d.Timestamp
	if ts.IsZero() {
		ts = now
	}
	if ts.Before(in.LastUpdate) {
		ts = in.LastUpdate
	}

	change := models.PriceChange{
		InstrumentID: in.ID,
		Price:        d.Price,
		Previous:     in.LastPrice,
		Timestamp:    ts,
	}
	in.LastPrice = d.Price
	in.LastUpdate = ts
	return change, true
}

// Get returns a copy of one instrument.
func (t *MarketTable) Get(id string) (models.Instrument, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	in, ok := t.byID[id]
	if !ok {
		return models.Instrument{}, false
	}
	return *in, true
}

// Snapshot copies all instruments in insertion order.
func (t *MarketTable) Snapshot() []models.Instrument {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Instrument, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.byID[id])
	}
	return out
}

// IDs lists the tracked instrument ids in insertion order.
func (t *MarketTable) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.order...)
}

func (t *MarketTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}
