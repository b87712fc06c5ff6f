package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"SignalFuse/internal/domain/models"
	drepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/services/indicators"
	"SignalFuse/pkg/logger"
	"SignalFuse/pkg/window"
)

// AnomalySource is the read side of the oracle detector.
type AnomalySource interface {
	Signals() ([]models.AnomalyEpisode, error)
	Refresh() <-chan struct{}
}

// FusionConfig tunes the joined view.
type FusionConfig struct {
	HistorySize  int // live price points kept per instrument
	MovementsMax int // movements attached to one update
}

// SignalFusionBroker joins live prices, oracle anomalies and movements per
// instrument and broadcasts one MARKET_UPDATE per changed instrument.
type SignalFusionBroker struct {
	table      *MarketTable
	anomalies  AnomalySource
	ledger     *MovementLedger
	correlator *Correlator
	hub        *Hub
	publisher  drepo.UpdatePublisher
	catalog    drepo.MarketCatalog
	clock      clockwork.Clock
	log        *logger.Logger
	metrics    drepo.Metrics
	cfg        FusionConfig

	mu      sync.Mutex
	history map[string]*window.Window[models.PricePoint]
}

// NewSignalFusionBroker wires the broker. publisher and catalog may be nil.
func NewSignalFusionBroker(
	table *MarketTable,
	anomalies AnomalySource,
	ledger *MovementLedger,
	correlator *Correlator,
	hub *Hub,
	publisher drepo.UpdatePublisher,
	catalog drepo.MarketCatalog,
	cfg FusionConfig,
	metrics drepo.Metrics,
	log *logger.Logger,
	clk clockwork.Clock,
) *SignalFusionBroker {
	if cfg.HistorySize < indicators.MinPoints {
		cfg.HistorySize = 120
	}
	if cfg.MovementsMax <= 0 {
		cfg.MovementsMax = 20
	}
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &SignalFusionBroker{
		table:      table,
		anomalies:  anomalies,
		ledger:     ledger,
		correlator: correlator,
		hub:        hub,
		publisher:  publisher,
		catalog:    catalog,
		clock:      clk,
		log:        log,
		metrics:    metrics,
		cfg:        cfg,
		history:    make(map[string]*window.Window[models.PricePoint]),
	}
}

// Run consumes the three input streams until ctx is cancelled.
func (b *SignalFusionBroker) Run(ctx context.Context, changes <-chan models.PriceChange, movements <-chan models.Movement) error {
	var refresh <-chan struct{}
	if b.anomalies != nil {
		refresh = b.anomalies.Refresh()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			b.OnPriceChange(ctx, ch)
		case <-refresh:
			b.OnAnomalyRefresh(ctx)
		case m, ok := <-movements:
			if !ok {
				movements = nil
				continue
			}
			b.OnMovement(ctx, m)
		}
	}
}

// OnPriceChange records the price point and broadcasts the instrument.
func (b *SignalFusionBroker) OnPriceChange(ctx context.Context, ch models.PriceChange) {
	b.RecordPoint(ch.InstrumentID, models.PricePoint{Time: ch.Timestamp, Price: ch.Price})
	b.publish(ctx, ch.InstrumentID)
}

// OnAnomalyRefresh broadcasts every instrument with at least one correlated episode.
func (b *SignalFusionBroker) OnAnomalyRefresh(ctx context.Context) {
	episodes := b.episodes()
	if len(episodes) == 0 {
		return
	}
	for _, in := range b.table.Snapshot() {
		if len(b.correlatedEpisodes(in, episodes)) > 0 {
			b.publish(ctx, in.ID)
		}
	}
}

// OnMovement broadcasts every instrument the movement correlates with.
func (b *SignalFusionBroker) OnMovement(ctx context.Context, m models.Movement) {
	for _, in := range b.table.Snapshot() {
		if b.correlator.Match(instrumentText(in), m.CorrelationKey) {
			b.publish(ctx, in.ID)
		}
	}
}

// RecordPoint appends a live price point for indicator computation.
func (b *SignalFusionBroker) RecordPoint(instrumentID string, p models.PricePoint) {
	b.mu.Lock()
	w, ok := b.history[instrumentID]
	if !ok {
		w = window.New(b.cfg.HistorySize, func(p models.PricePoint) float64 { return p.Price })
		b.history[instrumentID] = w
	}
	b.mu.Unlock()
	w.Push(p)
}

func (b *SignalFusionBroker) livePoints(instrumentID string) []models.PricePoint {
	b.mu.Lock()
	w, ok := b.history[instrumentID]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return w.All()
}

// Compose builds the joined view of one instrument from current state.
func (b *SignalFusionBroker) Compose(instrumentID string) (models.MarketUpdate, error) {
	in, ok := b.table.Get(instrumentID)
	if !ok {
		return models.MarketUpdate{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrumentID)
	}
	u := models.MarketUpdate{
		Type:         models.MessageMarketUpdate,
		InstrumentID: in.ID,
		Price:        in.LastPrice,
		Question:     in.Question,
		Timestamp:    in.LastUpdate,
		Anomalies:    b.correlatedEpisodes(in, b.episodes()),
		Movements:    b.correlatedMovements(in),
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = b.clock.Now()
	}
	if set, err := indicators.Compute(b.livePoints(in.ID)); err == nil {
		u.Indicators = set
	}
	return u, nil
}

// Indicators computes the signal set from live points, falling back to the
// catalog's price history when fewer than the minimum live points exist.
func (b *SignalFusionBroker) Indicators(ctx context.Context, instrumentID, interval string) (*models.TechnicalSignalSet, error) {
	if _, ok := b.table.Get(instrumentID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrumentID)
	}
	points := b.livePoints(instrumentID)
	if len(points) < indicators.MinPoints && b.catalog != nil {
		hist, err := b.catalog.PriceHistory(ctx, instrumentID, interval)
		if err != nil {
			b.metrics.RecordError("catalog_history")
			return nil, fmt.Errorf("price history %s: %w", instrumentID, err)
		}
		points = hist
	}
	return indicators.Compute(points)
}

// Welcome encodes the greeting for a new subscriber.
func (b *SignalFusionBroker) Welcome() []byte {
	msg, err := json.Marshal(models.WelcomeMessage{
		Type:        models.MessageWelcome,
		Message:     "connected to signal stream",
		Instruments: b.table.Len(),
		Timestamp:   b.clock.Now(),
	})
	if err != nil {
		b.log.Error("encode welcome", logger.Error(err))
		return nil
	}
	return msg
}

func (b *SignalFusionBroker) publish(ctx context.Context, instrumentID string) {
	u, err := b.Compose(instrumentID)
	if err != nil {
		return
	}
	msg, err := json.Marshal(u)
	if err != nil {
		b.log.Error("encode market update", logger.String("instrument", instrumentID), logger.Error(err))
		return
	}
	start := time.Now()
	_, skipped := b.hub.Broadcast(msg)
	if skipped > 0 {
		b.log.Debug("slow subscribers skipped", logger.String("instrument", instrumentID), logger.Int("skipped", skipped))
	}
	b.metrics.RecordLatency("broadcast", time.Since(start).Seconds())

	if b.publisher != nil {
		if err := b.publisher.PublishUpdate(ctx, &u); err != nil {
			b.metrics.RecordError("publish_update")
			b.log.Warn("publish update failed", logger.String("instrument", instrumentID), logger.Error(err))
		}
	}
}

func (b *SignalFusionBroker) episodes() []models.AnomalyEpisode {
	if b.anomalies == nil {
		return nil
	}
	eps, err := b.anomalies.Signals()
	if err != nil && !errors.Is(err, ErrInsufficientData) {
		b.log.Warn("read anomaly signals", logger.Error(err))
	}
	return eps
}

func (b *SignalFusionBroker) correlatedEpisodes(in models.Instrument, eps []models.AnomalyEpisode) []models.AnomalyEpisode {
	text := instrumentText(in)
	var out []models.AnomalyEpisode
	for _, ep := range eps {
		if b.correlator.Match(text, ep.Symbol) {
			ep.History = nil
			out = append(out, ep)
		}
	}
	return out
}

func (b *SignalFusionBroker) correlatedMovements(in models.Instrument) []models.Movement {
	if b.ledger == nil {
		return nil
	}
	text := instrumentText(in)
	var out []models.Movement
	for _, m := range b.ledger.Recent(0) {
		if b.correlator.Match(text, m.CorrelationKey) {
			out = append(out, m)
			if len(out) == b.cfg.MovementsMax {
				break
			}
		}
	}
	return out
}

func instrumentText(in models.Instrument) string {
	return in.Symbol + " " + in.Question
}
