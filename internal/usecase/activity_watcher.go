package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"SignalFuse/internal/domain/models"
	drepo "SignalFuse/internal/domain/repository"
	"SignalFuse/pkg/logger"
	"SignalFuse/pkg/util"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ActivityConfig tunes movement synthesis.
type ActivityConfig struct {
	// PlaceholderAmount is recorded for every movement; notifications carry no
	// parsed transfer amount.
	PlaceholderAmount float64
	Token             string
	ResubscribeDelay  time.Duration
	RecordTimeout     time.Duration
	MovementBuffer    int
}

// ActivityWatcher keeps one log subscription per tracked address and turns
// notifications into movements.
type ActivityWatcher struct {
	stream   drepo.LogStream
	recorder drepo.MovementRecorder
	ledger   *MovementLedger
	clock    clockwork.Clock
	log      *logger.Logger
	metrics  drepo.Metrics
	cfg      ActivityConfig
	newID    func() string

	root   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tracked map[string]*watch

	movements chan models.Movement
}

type watch struct {
	addr   models.TrackedAddress
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	sub      drepo.LogSubscription
	released bool
}

func (w *watch) subscription() drepo.LogSubscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sub
}

// setSubscription stores s unless the watch was already released. The caller
// owns s when it returns false.
func (w *watch) setSubscription(s drepo.LogSubscription) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return false
	}
	w.sub = s
	return true
}

// release marks the watch finished and hands back the held subscription, if any.
func (w *watch) release() drepo.LogSubscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.released = true
	s := w.sub
	w.sub = nil
	return s
}

// NewActivityWatcher creates a watcher. recorder may be nil.
func NewActivityWatcher(
	stream drepo.LogStream,
	recorder drepo.MovementRecorder,
	ledger *MovementLedger,
	cfg ActivityConfig,
	metrics drepo.Metrics,
	log *logger.Logger,
	clk clockwork.Clock,
) *ActivityWatcher {
	if cfg.Token == "" {
		cfg.Token = "SOL"
	}
	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = 5 * time.Second
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 5 * time.Second
	}
	if cfg.MovementBuffer <= 0 {
		cfg.MovementBuffer = 256
	}
	if ledger == nil {
		ledger = NewMovementLedger(0)
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
	root, cancel := context.WithCancel(context.Background())
	return &ActivityWatcher{
		stream:    stream,
		recorder:  recorder,
		ledger:    ledger,
		clock:     clk,
		log:       log,
		metrics:   metrics,
		cfg:       cfg,
		newID:     uuid.NewString,
		root:      root,
		cancel:    cancel,
		tracked:   make(map[string]*watch),
		movements: make(chan models.Movement, cfg.MovementBuffer),
	}
}

// Track starts watching address. Tracking an already tracked address is a no-op.
// A malformed address is rejected with ErrInvalidAddress and creates no state.
func (a *ActivityWatcher) Track(ctx context.Context, address, correlationKey string) error {
	address = strings.TrimSpace(address)
	if !util.IsSolanaAddress(address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	// Reserve the address, then subscribe without holding a.mu.
	a.mu.Lock()
	if _, ok := a.tracked[address]; ok {
		a.mu.Unlock()
		return nil
	}
	wctx, cancel := context.WithCancel(a.root)
	w := &watch{
		addr:   models.TrackedAddress{Address: address, CorrelationKey: correlationKey, Since: a.clock.Now()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.tracked[address] = w
	a.mu.Unlock()

	// Untrack cancels wctx, which aborts a pending subscribe.
	sctx, stop := context.WithCancel(ctx)
	unhook := context.AfterFunc(wctx, stop)
	sub, err := a.stream.SubscribeLogs(sctx, address)
	unhook()
	stop()
	if err != nil {
		a.mu.Lock()
		owned := a.tracked[address] == w
		if owned {
			delete(a.tracked, address)
		}
		a.mu.Unlock()
		cancel()
		w.release()
		close(w.done)
		if !owned {
			return nil
		}
		a.metrics.RecordError("activity_subscribe")
		return fmt.Errorf("track %s: %w", address, err)
	}
	if !w.setSubscription(sub) {
		// Untracked while subscribing.
		_ = sub.Unsubscribe()
		close(w.done)
		return nil
	}
	go a.loop(wctx, w)

	a.log.Info("tracking address", logger.String("address", address), logger.String("key", correlationKey))
	return nil
}

// Untrack stops watching address and returns once its subscription is
// released. Untracking an unknown address is a no-op.
func (a *ActivityWatcher) Untrack(address string) error {
	a.mu.Lock()
	w, ok := a.tracked[strings.TrimSpace(address)]
	if ok {
		delete(a.tracked, w.addr.Address)
	}
	a.mu.Unlock()
	if !ok {
		return nil
	}

	w.cancel()
	var err error
	if sub := w.release(); sub != nil {
		err = sub.Unsubscribe()
	}
	<-w.done
	if err != nil {
		a.log.Warn("unsubscribe failed", logger.String("address", w.addr.Address), logger.Error(err))
	}
	a.log.Info("untracked address", logger.String("address", w.addr.Address))
	return nil
}

// TrackedAddresses lists tracked addresses, oldest registration first.
func (a *ActivityWatcher) TrackedAddresses() []models.TrackedAddress {
	a.mu.Lock()
	out := make([]models.TrackedAddress, 0, len(a.tracked))
	for _, w := range a.tracked {
		out = append(out, w.addr)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].Address < out[j].Address
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// Movements delivers every synthesized movement. Dropped when the consumer lags;
// the ledger still has them.
func (a *ActivityWatcher) Movements() <-chan models.Movement { return a.movements }

func (a *ActivityWatcher) Ledger() *MovementLedger { return a.ledger }

// Close untracks every address.
func (a *ActivityWatcher) Close() error {
	a.mu.Lock()
	addrs := make([]string, 0, len(a.tracked))
	for addr := range a.tracked {
		addrs = append(addrs, addr)
	}
	a.mu.Unlock()
	for _, addr := range addrs {
		_ = a.Untrack(addr)
	}
	a.cancel()
	return nil
}

func (a *ActivityWatcher) loop(ctx context.Context, w *watch) {
	defer close(w.done)
	defer func() {
		if sub := w.release(); sub != nil {
			_ = sub.Unsubscribe()
		}
	}()
	for {
		if sub := w.subscription(); sub != nil {
			a.consume(ctx, w, sub)
		}
		if ctx.Err() != nil {
			return
		}

		// The subscription ended without Untrack: the stream dropped.
		a.log.Warn("log subscription ended, resubscribing",
			logger.String("address", w.addr.Address),
			logger.Duration("delay_ms", a.cfg.ResubscribeDelay),
		)
		w.setSubscription(nil)
		select {
		case <-ctx.Done():
			return
		case <-a.clock.After(a.cfg.ResubscribeDelay):
		}
		sub, err := a.stream.SubscribeLogs(ctx, w.addr.Address)
		if err != nil {
			a.metrics.RecordError("activity_resubscribe")
			continue
		}
		if ctx.Err() != nil || !w.setSubscription(sub) {
			_ = sub.Unsubscribe()
			return
		}
	}
}

func (a *ActivityWatcher) consume(ctx context.Context, w *watch, sub drepo.LogSubscription) {
	ch := sub.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			a.handle(ctx, w.addr, n)
		}
	}
}

func (a *ActivityWatcher) handle(ctx context.Context, addr models.TrackedAddress, n models.LogNotification) {
	if n.Err != "" {
		a.metrics.RecordError("activity_failed_tx")
		return
	}

	m := models.Movement{
		ID:             a.newID(),
		Address:        addr.Address,
		CorrelationKey: addr.CorrelationKey,
		Kind:           ClassifyMovement(n.Logs),
		Amount:         a.cfg.PlaceholderAmount,
		Token:          a.cfg.Token,
		Timestamp:      a.clock.Now(),
		Signature:      n.Signature,
	}
	a.ledger.Append(m)
	a.metrics.RecordMessageSent("activity", addr.Address)

	select {
	case a.movements <- m:
	default:
		a.metrics.RecordError("activity_movement_dropped")
	}

	if a.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, a.cfg.RecordTimeout)
	defer cancel()
	if err := a.recorder.Record(rctx, &m); err != nil {
		a.metrics.RecordError("activity_record")
		a.log.Warn("movement recording failed",
			logger.String("movement_id", m.ID),
			logger.String("address", m.Address),
			logger.Error(err),
		)
	}
}

// ClassifyMovement infers a movement kind from program log lines.
// Anything not recognised as a withdrawal or a trade counts as a deposit.
func ClassifyMovement(logs []string) models.MovementKind {
	kind := models.MovementDeposit
	for _, line := range logs {
		l := strings.ToLower(line)
		switch {
		case strings.Contains(l, "withdraw"):
			return models.MovementWithdraw
		case strings.Contains(l, "swap"), strings.Contains(l, "trade"), strings.Contains(l, "fill"):
			kind = models.MovementTrade
		}
	}
	return kind
}
