package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"SignalFuse/internal/domain/models"
	drepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/service/oracle"
	"SignalFuse/pkg/logger"
	"SignalFuse/pkg/window"
)

// OracleFeed names one polled oracle price feed.
type OracleFeed struct {
	ID     string
	Symbol string
}

// OracleDetectorConfig holds the polling cadence and the anomaly heuristic.
// The thresholds are empirical: a sample is anomalous when its score drops
// more than AnomalyDrop below the mean of the last Baseline scores.
type OracleDetectorConfig struct {
	Interval      time.Duration
	Timeout       time.Duration
	Window        int
	Baseline      int
	AnomalyDrop   float64
	CriticalBelow float64
}

// DefaultOracleDetectorConfig polls every 3s over a 60-sample window.
func DefaultOracleDetectorConfig() OracleDetectorConfig {
	return OracleDetectorConfig{
		Interval:      3 * time.Second,
		Timeout:       3 * time.Second,
		Window:        window.DefaultCapacity,
		Baseline:      10,
		AnomalyDrop:   15,
		CriticalBelow: 30,
	}
}

// OracleAnomalyDetector keeps a bounded window of confidence samples per feed
// and derives anomaly episodes from the window contents at read time.
type OracleAnomalyDetector struct {
	source  drepo.OracleSource
	metrics drepo.Metrics
	log     *logger.Logger
	clock   clockwork.Clock
	cfg     OracleDetectorConfig

	ids     []string
	symbols map[string]string
	windows map[string]*window.Window[models.OracleSample]

	refresh chan struct{}
}

// NewOracleAnomalyDetector creates a detector for a fixed feed set.
func NewOracleAnomalyDetector(
	source drepo.OracleSource,
	feeds []OracleFeed,
	cfg OracleDetectorConfig,
	metrics drepo.Metrics,
	log *logger.Logger,
	clk clockwork.Clock,
) *OracleAnomalyDetector {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = window.DefaultCapacity
	}
	if cfg.Baseline <= 0 {
		cfg.Baseline = 10
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

	d := &OracleAnomalyDetector{
		source:  source,
		metrics: metrics,
		log:     log,
		clock:   clk,
		cfg:     cfg,
		symbols: make(map[string]string, len(feeds)),
		windows: make(map[string]*window.Window[models.OracleSample], len(feeds)),
		refresh: make(chan struct{}, 1),
	}
	for _, f := range feeds {
		id := oracle.NormalizeID(f.ID)
		if _, dup := d.windows[id]; dup {
			continue
		}
		d.ids = append(d.ids, id)
		d.symbols[id] = f.Symbol
		d.windows[id] = window.New(cfg.Window, func(s models.OracleSample) float64 { return s.Score })
	}
	return d
}

// ConfidenceScore maps a confidence interval to [0,100]:
// clamp(100 - spreadPct*100, 0, 100) with spreadPct = conf/price*100.
// Non-finite input scores 0.
func ConfidenceScore(price, conf float64) float64 {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) || math.IsNaN(conf) || math.IsInf(conf, 0) {
		return 0
	}
	spreadPct := conf / price * 100
	score := 100 - spreadPct*100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Run polls on every tick until ctx is cancelled. The first poll happens immediately.
func (d *OracleAnomalyDetector) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.log.Info("oracle detector started",
		logger.Int("feeds", len(d.ids)),
		logger.Duration("interval_ms", d.cfg.Interval),
	)

	_ = d.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			_ = d.Poll(ctx)
		}
	}
}

// Poll fetches one quote per feed and appends a sample to each window.
// Failures are logged and counted; the windows simply do not grow this tick.
func (d *OracleAnomalyDetector) Poll(ctx context.Context) error {
	if len(d.ids) == 0 {
		return nil
	}
	start := time.Now()

	pctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	quotes, err := d.source.Latest(pctx, d.ids)
	if err != nil {
		d.metrics.RecordError("oracle_poll")
		d.log.Warn("oracle poll failed", logger.Error(err))
		return fmt.Errorf("oracle poll: %w", err)
	}

	now := d.clock.Now()
	appended := 0
	for _, q := range quotes {
		w, ok := d.windows[oracle.NormalizeID(q.ID)]
		if !ok {
			continue
		}
		w.Push(models.OracleSample{
			Timestamp: now,
			Price:     q.Price,
			Score:     ConfidenceScore(q.Price, q.ConfidenceInterval),
		})
		appended++
	}

	d.metrics.RecordLatency("oracle_poll", time.Since(start).Seconds())
	if appended > 0 {
		select {
		case d.refresh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Refresh signals after every poll that appended at least one sample.
// Signals are coalesced: one pending tick at most.
func (d *OracleAnomalyDetector) Refresh() <-chan struct{} { return d.refresh }

// Signals returns one episode per feed with at least one sample, newest first.
func (d *OracleAnomalyDetector) Signals() ([]models.AnomalyEpisode, error) {
	out := make([]models.AnomalyEpisode, 0, len(d.ids))
	for _, id := range d.ids {
		if ep, ok := d.episode(id); ok {
			out = append(out, ep)
		}
	}
	if len(out) == 0 {
		return nil, ErrInsufficientData
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp().After(out[j].Timestamp())
	})
	return out, nil
}

// Episode returns the current episode of a single feed.
func (d *OracleAnomalyDetector) Episode(id string) (models.AnomalyEpisode, error) {
	ep, ok := d.episode(oracle.NormalizeID(id))
	if !ok {
		return models.AnomalyEpisode{}, ErrInsufficientData
	}
	return ep, nil
}

func (d *OracleAnomalyDetector) episode(id string) (models.AnomalyEpisode, bool) {
	w, ok := d.windows[id]
	if !ok {
		return models.AnomalyEpisode{}, false
	}
	history := w.All()
	if len(history) == 0 {
		return models.AnomalyEpisode{}, false
	}
	latest := history[len(history)-1]

	recent := history
	if len(recent) > d.cfg.Baseline {
		recent = recent[len(recent)-d.cfg.Baseline:]
	}
	scores := make([]float64, len(recent))
	for i, s := range recent {
		scores[i] = s.Score
	}
	baseline := window.Mean(scores)

	isAnomaly := latest.Score < baseline-d.cfg.AnomalyDrop
	severity := models.SeverityLow
	switch {
	case latest.Score < d.cfg.CriticalBelow:
		severity = models.SeverityCritical
	case isAnomaly:
		severity = models.SeverityHigh
	}

	return models.AnomalyEpisode{
		PriceID:   id,
		Symbol:    d.symbols[id],
		Latest:    latest,
		Baseline:  baseline,
		IsAnomaly: isAnomaly,
		Severity:  severity,
		History:   history,
	}, true
}
