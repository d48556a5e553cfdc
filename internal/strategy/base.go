package strategy

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"strategy-runner/internal/recorder"
)

// runner is the kind-specific part of an instance.
type runner interface {
	run(ctl *loopCtl) error
	params() any
	updateParams(partial map[string]any) (any, error)
}

// lifecycle belongs to one run of the control loop.
type lifecycle struct {
	ctx      context.Context // aborts in-flight gateway I/O
	cancel   context.CancelFunc
	stop     chan struct{} // cooperative stop signal
	stopOnce sync.Once
	done     chan struct{}
}

func (l *lifecycle) signal() { l.stopOnce.Do(func() { close(l.stop) }) }

// loopCtl is handed to the kind loop; it owns sleeping and stop detection.
type loopCtl struct {
	io    context.Context
	stop  <-chan struct{}
	slice time.Duration
}

// stopped reports whether the loop was asked to exit.
func (c *loopCtl) stopped() bool {
	select {
	case <-c.stop:
		return true
	case <-c.io.Done():
		return true
	default:
		return false
	}
}

// sleep waits d in slices and returns false as soon as a stop is requested.
func (c *loopCtl) sleep(d time.Duration) bool {
	for d > 0 {
		step := d
		if step > c.slice {
			step = c.slice
		}
		t := time.NewTimer(step)
		select {
		case <-c.stop:
			t.Stop()
			return false
		case <-c.io.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		d -= step
	}
	return !c.stopped()
}

// base implements the Strategy lifecycle shared by every kind.
type base struct {
	cfg  Config
	deps Deps
	opts Options
	log  *zap.Logger
	impl runner

	active atomic.Bool

	mu     sync.Mutex // guards lc and exited
	lc     *lifecycle
	exited chan struct{} // done of the most recent loop, nil before the first start

	stateMu   sync.RWMutex
	pos       position
	startedAt time.Time
	lastErr   string
	lastSnap  time.Time
}

func newBase(cfg Config, deps Deps) *base {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.Nop{}
	}
	b := &base{
		cfg:  cfg,
		deps: deps,
		opts: deps.Options.withDefaults(),
		log: deps.Logger.With(
			zap.String("strategy_id", cfg.ID),
			zap.String("kind", string(cfg.Kind)),
			zap.String("symbol", cfg.Symbol)),
	}
	b.active.Store(cfg.Active)
	return b
}

func (b *base) ID() string { return b.cfg.ID }
func (b *base) Kind() Kind { return b.cfg.Kind }

// Config returns the identity with the live parameters.
func (b *base) Config() Config {
	c := b.cfg
	c.Active = b.active.Load()
	c.Params = marshalParams(b.impl.params())
	return c
}

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done is closed once the most recent control loop has returned, including a
// loop that Stop abandoned. It is closed for an instance that never started.
func (b *base) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exited == nil {
		return closedDone
	}
	return b.exited
}

func (b *base) running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lc != nil
}

// Start verifies the venue and launches the control loop. Starting a running
// instance is a no-op.
func (b *base) Start(ctx context.Context) error {
	if !b.active.Load() {
		return ErrInactive
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lc != nil {
		return nil
	}
	if b.exited != nil {
		select {
		case <-b.exited:
		default:
			return ErrStopping
		}
	}
	if err := b.deps.Gateway.Ping(ctx); err != nil {
		b.log.Error("gateway unreachable, not starting", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	ioCtx, cancel := context.WithCancel(context.Background())
	lc := &lifecycle{
		ctx:    ioCtx,
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	b.lc = lc
	b.exited = lc.done

	b.stateMu.Lock()
	b.pos = position{}
	b.startedAt = b.opts.Now()
	b.lastErr = ""
	b.lastSnap = time.Time{}
	b.stateMu.Unlock()

	b.log.Info("strategy started")
	go b.loop(lc)
	return nil
}

func (b *base) loop(lc *lifecycle) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			b.log.Error("strategy loop panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
		if err != nil {
			b.fail(err)
		} else {
			b.log.Info("strategy loop exited")
		}
		lc.cancel()
		close(lc.done)
		b.mu.Lock()
		if b.lc == lc {
			b.lc = nil
		}
		b.mu.Unlock()
		if b.deps.OnExit != nil {
			b.deps.OnExit(b.cfg.ID, err)
		}
	}()

	ctl := &loopCtl{io: lc.ctx, stop: lc.stop, slice: b.opts.SleepSlice}
	err = b.impl.run(ctl)
}

// fail marks the instance inactive after an unrecoverable loop error.
func (b *base) fail(err error) {
	b.active.Store(false)
	b.stateMu.Lock()
	b.lastErr = err.Error()
	b.stateMu.Unlock()
	b.log.Error("strategy failed, deactivated", zap.Error(err))
}

// Stop signals the loop, waits for the grace period, then aborts in-flight
// I/O. A loop that still does not return is abandoned; Done stays open until
// it finally returns.
func (b *base) Stop(ctx context.Context) error {
	b.active.Store(false)
	b.mu.Lock()
	lc := b.lc
	b.mu.Unlock()
	if lc == nil {
		return nil
	}

	lc.signal()
	grace := time.NewTimer(b.opts.StopGrace)
	defer grace.Stop()
	select {
	case <-lc.done:
	case <-grace.C:
		b.log.Warn("strategy did not stop within grace period, aborting",
			zap.Duration("grace", b.opts.StopGrace))
		b.abort(lc)
	case <-ctx.Done():
		b.log.Warn("stop interrupted, aborting", zap.Error(ctx.Err()))
		b.abort(lc)
	}

	b.mu.Lock()
	if b.lc == lc {
		b.lc = nil
	}
	b.mu.Unlock()
	b.log.Info("strategy stopped")
	return nil
}

func (b *base) abort(lc *lifecycle) {
	lc.cancel()
	t := time.NewTimer(b.opts.AbortWait)
	defer t.Stop()
	select {
	case <-lc.done:
	case <-t.C:
		b.log.Error("strategy loop abandoned")
	}
}

// UpdateConfig merges partial into the live parameters.
func (b *base) UpdateConfig(partial map[string]any) error {
	next, err := b.impl.updateParams(partial)
	if err != nil {
		return err
	}
	b.log.Info("parameters updated", zap.Any("params", next))
	return nil
}

func (b *base) Status() Status {
	running := b.running()
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	st := Status{
		ID:          b.cfg.ID,
		Name:        b.cfg.Name,
		Kind:        b.cfg.Kind,
		Symbol:      b.cfg.Symbol,
		Active:      b.active.Load(),
		Running:     running,
		Params:      b.impl.params(),
		Position:    b.pos.size,
		EntryPrice:  b.pos.entryPrice(),
		RealizedPnL: b.pos.realized,
		Trades:      b.pos.trades,
		LastError:   b.lastErr,
	}
	if !b.startedAt.IsZero() {
		t := b.startedAt
		st.StartedAt = &t
	}
	return st
}

func (b *base) snapshotPosition() position {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.pos
}

// maybeSnapshot records a performance snapshot when the interval has elapsed.
func (b *base) maybeSnapshot(ctx context.Context, mark float64) {
	if b.opts.SnapshotInterval <= 0 {
		return
	}
	now := b.opts.Now()
	b.stateMu.Lock()
	if !b.lastSnap.IsZero() && now.Sub(b.lastSnap) < b.opts.SnapshotInterval {
		b.stateMu.Unlock()
		return
	}
	b.lastSnap = now
	pos := b.pos
	b.stateMu.Unlock()

	snap := recorder.Snapshot{
		Time:           now.UTC(),
		RealizedPnL:    pos.realized,
		UnrealizedPnL:  pos.unrealized(mark),
		Trades:         pos.trades,
		Position:       pos.size,
		PortfolioValue: b.portfolioValue(ctx, mark),
	}
	if err := b.deps.Recorder.RecordSnapshot(ctx, b.cfg.ID, b.cfg.OwnerID, snap); err != nil {
		b.log.Warn("record snapshot failed", zap.Error(err))
	}
}
