package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	"SignalFuse/pkg/logger"
)

var (
	// ErrThrottled means the movement was not forwarded because its address
	// exceeded the per-address rate.
	ErrThrottled = errors.New("recording throttled")
	// ErrBufferFull means the movement was dropped from external recording.
	ErrBufferFull = errors.New("recording buffer full")
)

const (
	minBackoff = 50 * time.Millisecond
	maxBackoff = 2 * time.Second

	sweepInterval = time.Minute
)

// RecordingPipeline sits between the activity watcher and an external
// MovementRecorder. Record validates and throttles per address, then enqueues
// without blocking; a background worker forwards with capped exponential
// backoff. Movements dropped here are still present in the in-memory ledger.
type RecordingPipeline struct {
	rec         domrepo.MovementRecorder
	metrics     domrepo.Metrics
	log         *logger.Logger
	clock       clockwork.Clock
	maxRPS      int
	bufSize     int
	maxAttempts int
	timeout     time.Duration

	bufCh chan *models.Movement

	mu        sync.Mutex
	lastSeen  map[string]time.Time // per-address last accepted time
	lastSweep time.Time
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type PipelineOption func(*RecordingPipeline)

// WithMaxRPS sets the max movements per second per address.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RecordingPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the queue size in front of the downstream recorder.
func WithBufferSize(n int) PipelineOption {
	return func(p *RecordingPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithMaxAttempts sets how many times the worker tries one movement.
func WithMaxAttempts(n int) PipelineOption {
	return func(p *RecordingPipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithTimeout bounds each downstream call.
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *RecordingPipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithClock injects the clock used for throttling and backoff.
func WithClock(c clockwork.Clock) PipelineOption {
	return func(p *RecordingPipeline) {
		if c != nil {
			p.clock = c
		}
	}
}

// NewRecordingPipeline creates a new pipeline in front of rec.
func NewRecordingPipeline(rec domrepo.MovementRecorder, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *RecordingPipeline {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	p := &RecordingPipeline{
		rec:         rec,
		metrics:     metrics,
		log:         log,
		clock:       clockwork.NewRealClock(),
		maxRPS:      20,
		bufSize:     1024,
		maxAttempts: 5,
		timeout:     5 * time.Second,
		lastSeen:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Movement, p.bufSize)
	return p
}

// Start launches the background forwarder.
func (p *RecordingPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-p.bufCh:
				p.forward(ctx, m)
			}
		}
	}()
}

func (p *RecordingPipeline) forward(ctx context.Context, m *models.Movement) {
	backoff := minBackoff
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		err = p.rec.Record(cctx, m)
		cancel()
		if err == nil {
			p.metrics.RecordMessageSent("recorder", m.Address)
			p.metrics.RecordLatency("recorder_forward", time.Since(start).Seconds())
			return
		}
		p.metrics.RecordError("recorder_forward")
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	p.log.Error("movement not recorded",
		logger.String("movement_id", m.ID),
		logger.String("address", m.Address),
		logger.Int("attempts", p.maxAttempts),
		logger.Error(err),
	)
}

// Record validates, throttles and enqueues m. It never blocks on the
// downstream recorder.
func (p *RecordingPipeline) Record(_ context.Context, m *models.Movement) error {
	if err := validateMovement(m); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.allow(m.Address, p.clock.Now()) {
		p.metrics.RecordError("pipeline_throttle")
		return ErrThrottled
	}
	select {
	case p.bufCh <- m:
		p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return ErrBufferFull
	}
}

// Close stops the forwarder and closes the downstream recorder.
func (p *RecordingPipeline) Close() error {
	p.mu.Lock()
	cancel := p.cancel
	p.started = false
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	if p.rec != nil {
		return p.rec.Close()
	}
	return nil
}

func validateMovement(m *models.Movement) error {
	if m == nil {
		return fmt.Errorf("movement nil")
	}
	if m.ID == "" || m.Address == "" {
		return fmt.Errorf("movement id and address are required")
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("movement timestamp missing")
	}
	if m.Amount < 0 {
		return fmt.Errorf("negative amount")
	}
	return nil
}

func (p *RecordingPipeline) allow(address string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	gap := time.Second / time.Duration(p.maxRPS)
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastSweep) >= sweepInterval {
		p.sweepLocked(now, gap)
	}
	last := p.lastSeen[address]
	if !last.IsZero() && now.Sub(last) < gap {
		return false
	}
	p.lastSeen[address] = now
	return true
}

// sweepLocked drops addresses that could no longer be throttled.
func (p *RecordingPipeline) sweepLocked(now time.Time, gap time.Duration) {
	for addr, last := range p.lastSeen {
		if now.Sub(last) >= gap {
			delete(p.lastSeen, addr)
		}
	}
	p.lastSweep = now
}

func (p *RecordingPipeline) trackedAddresses() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lastSeen)
}
