package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"SignalFuse/internal/domain/models"
	drepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/service/marketfeed"
	"SignalFuse/pkg/logger"
)

// MarketFeedConfig controls keepalive and reconnect timing.
type MarketFeedConfig struct {
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	ChangeBuffer   int
}

// MarketFeedSubscriber keeps one upstream feed connection alive, applies
// deltas to the market table and emits a change event per real price move.
//
// State machine: Disconnected -> Connecting -> Connected -> Closing|Disconnected.
// Reconnection is unconditional and unbounded: after any session error the
// subscriber waits ReconnectDelay and dials again with the same instrument set.
type MarketFeedSubscriber struct {
	stream  drepo.MarketStream
	table   *MarketTable
	clock   clockwork.Clock
	log     *logger.Logger
	metrics drepo.Metrics
	cfg     MarketFeedConfig

	state    atomic.Int32
	sessions atomic.Int64
	changes  chan models.PriceChange
}

// NewMarketFeedSubscriber creates a subscriber over table's instruments.
func NewMarketFeedSubscriber(
	stream drepo.MarketStream,
	table *MarketTable,
	cfg MarketFeedConfig,
	metrics drepo.Metrics,
	log *logger.Logger,
	clk clockwork.Clock,
) *MarketFeedSubscriber {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.ChangeBuffer <= 0 {
		cfg.ChangeBuffer = 1024
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
	return &MarketFeedSubscriber{
		stream:  stream,
		table:   table,
		clock:   clk,
		log:     log,
		metrics: metrics,
		cfg:     cfg,
		changes: make(chan models.PriceChange, cfg.ChangeBuffer),
	}
}

// Changes delivers price change events. Events are dropped when the consumer lags.
func (s *MarketFeedSubscriber) Changes() <-chan models.PriceChange { return s.changes }

// State reports the current connection state.
func (s *MarketFeedSubscriber) State() models.FeedState {
	return models.FeedState(s.state.Load())
}

// Sessions counts successful connect+subscribe cycles.
func (s *MarketFeedSubscriber) Sessions() int64 { return s.sessions.Load() }

func (s *MarketFeedSubscriber) setState(st models.FeedState) {
	prev := models.FeedState(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("feed state", logger.String("from", prev.String()), logger.String("to", st.String()))
	}
}

// Run drives the state machine until ctx is cancelled.
func (s *MarketFeedSubscriber) Run(ctx context.Context) error {
	for {
		s.setState(models.FeedConnecting)
		err := s.session(ctx)

		if ctx.Err() != nil {
			s.setState(models.FeedClosing)
			_ = s.stream.Close()
			s.setState(models.FeedDisconnected)
			return nil
		}

		s.setState(models.FeedDisconnected)
		s.metrics.RecordError("feed_session")
		s.log.Warn("feed session ended, reconnecting",
			logger.Error(err),
			logger.Duration("delay_ms", s.cfg.ReconnectDelay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *MarketFeedSubscriber) session(ctx context.Context) error {
	if err := s.stream.Connect(ctx); err != nil {
		return err
	}
	ids := s.table.IDs()
	if err := s.stream.Subscribe(ctx, ids); err != nil {
		_ = s.stream.Close()
		return err
	}
	s.sessions.Add(1)
	s.setState(models.FeedConnected)
	s.log.Info("feed connected", logger.Int("instruments", len(ids)))

	var wg sync.WaitGroup
	defer wg.Wait()
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepalive(sctx)
	}()

	for {
		d, err := s.stream.Next(sctx)
		if err != nil {
			if errors.Is(err, marketfeed.ErrMalformedMessage) {
				s.metrics.RecordError("feed_malformed")
				s.log.Warn("dropping malformed feed frame", logger.Error(err))
				continue
			}
			_ = s.stream.Close()
			return err
		}
		s.apply(d)
	}
}

func (s *MarketFeedSubscriber) keepalive(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.stream.Ping(ctx); err != nil {
				s.log.Warn("feed keepalive failed", logger.Error(err))
			}
		}
	}
}

func (s *MarketFeedSubscriber) apply(d models.PriceDelta) {
	change, ok := s.table.Apply(d, s.clock.Now())
	if !ok {
		return
	}
	s.metrics.RecordLastPrice(change.InstrumentID, change.Price)
	select {
	case s.changes <- change:
	default:
		s.metrics.RecordError("feed_change_dropped")
	}
}
