package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-runner/pkg/exchanges/common"
	"strategy-runner/pkg/exchanges/paper"
)

type exitLog struct {
	mu   sync.Mutex
	errs []error
}

func (e *exitLog) record(_ string, err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
}

func (e *exitLog) calls() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}

func accumulationConfig(t *testing.T, active bool) Config {
	return Config{
		ID:     "dca-life",
		Name:   "life",
		Kind:   KindAccumulation,
		Symbol: "btcusdt",
		Active: active,
		Params: rawParams(t, map[string]any{
			"purchase_amount_quote":     10,
			"purchase_interval_seconds": 3600,
		}),
	}
}

func TestStartRequiresActive(t *testing.T) {
	gw := newPaper(map[string]float64{"USDT": 1000}, nil)
	s, err := New(accumulationConfig(t, false), testDeps(gw, nil))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(context.Background()), ErrInactive)
	assert.False(t, s.Status().Running)
}

func TestStartFailsWhenGatewayUnreachable(t *testing.T) {
	gw := newPaper(map[string]float64{"USDT": 1000}, nil)
	gw.SetReachable(false)
	s, err := New(accumulationConfig(t, true), testDeps(gw, nil))
	require.NoError(t, err)

	err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.False(t, s.Status().Running)
}

func TestStartStopLifecycle(t *testing.T) {
	gw := newPaper(map[string]float64{"USDT": 1000}, nil)
	gw.SetPrice("BTCUSDT", 20000)
	exits := &exitLog{}
	deps := testDeps(gw, &memRecorder{})
	deps.OnExit = exits.record

	s, err := New(accumulationConfig(t, true), deps)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", s.Config().Symbol)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool { return s.Status().Trades == 1 }, 2*time.Second, 5*time.Millisecond)
	st := s.Status()
	assert.True(t, st.Running)
	assert.True(t, st.Active)
	require.NotNil(t, st.StartedAt)

	require.NoError(t, s.Stop(ctx))
	st = s.Status()
	assert.False(t, st.Running)
	assert.False(t, st.Active)
	assert.Equal(t, 1, st.Trades)

	require.Eventually(t, func() bool { return len(exits.calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, exits.calls()[0])

	require.NoError(t, s.Stop(ctx))
}

type panickyGateway struct {
	*paper.Gateway
}

func (panickyGateway) PlaceOrder(context.Context, common.OrderRequest) (common.Order, error) {
	panic("venue exploded")
}

func TestLoopPanicDeactivates(t *testing.T) {
	gw := newPaper(map[string]float64{"USDT": 1000}, nil)
	gw.SetPrice("BTCUSDT", 20000)
	exits := &exitLog{}
	deps := testDeps(panickyGateway{gw}, nil)
	deps.OnExit = exits.record

	s, err := New(accumulationConfig(t, true), deps)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return !s.Status().Running }, 2*time.Second, 5*time.Millisecond)
	st := s.Status()
	assert.False(t, st.Active)
	assert.Contains(t, st.LastError, "venue exploded")

	require.Eventually(t, func() bool { return len(exits.calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Error(t, exits.calls()[0])
}

// stubbornRunner ignores the stop signal and only honours the I/O context.
type stubbornRunner struct{ aborted chan struct{} }

func (r *stubbornRunner) run(ctl *loopCtl) error {
	<-ctl.io.Done()
	close(r.aborted)
	return nil
}
func (r *stubbornRunner) params() any { return nil }
func (r *stubbornRunner) updateParams(map[string]any) (any, error) {
	return nil, errors.New("immutable")
}

func TestStopAbortsAfterGrace(t *testing.T) {
	gw := newPaper(nil, nil)
	b := newBase(Config{ID: "stuck", Kind: KindGrid, Symbol: "BTCUSDT", Active: true}, testDeps(gw, nil))
	r := &stubbornRunner{aborted: make(chan struct{})}
	b.impl = r

	require.NoError(t, b.Start(context.Background()))
	begin := time.Now()
	require.NoError(t, b.Stop(context.Background()))

	assert.GreaterOrEqual(t, time.Since(begin), 300*time.Millisecond)
	assert.False(t, b.running())
	select {
	case <-r.aborted:
	case <-time.After(time.Second):
		t.Fatal("runner context was never canceled")
	}
}

func TestLoopSleepStopsEarly(t *testing.T) {
	stop := make(chan struct{})
	ctl := &loopCtl{io: context.Background(), stop: stop, slice: 5 * time.Millisecond}
	assert.True(t, ctl.sleep(10*time.Millisecond))

	close(stop)
	begin := time.Now()
	assert.False(t, ctl.sleep(time.Hour))
	assert.Less(t, time.Since(begin), time.Second)
	assert.True(t, ctl.stopped())
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(Config{ID: "x", Kind: "arbitrage", Symbol: "BTCUSDT"}, testDeps(newPaper(nil, nil), nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	k, err := ParseKind("DCA")
	require.NoError(t, err)
	assert.Equal(t, KindAccumulation, k)
}

// wedgedRunner ignores both the stop signal and the I/O context until released.
type wedgedRunner struct{ release chan struct{} }

func (r *wedgedRunner) run(*loopCtl) error {
	<-r.release
	return nil
}
func (r *wedgedRunner) params() any { return nil }
func (r *wedgedRunner) updateParams(map[string]any) (any, error) {
	return nil, errors.New("immutable")
}

func TestStartRefusedWhileAbandonedLoopRuns(t *testing.T) {
	gw := newPaper(nil, nil)
	b := newBase(Config{ID: "wedged", Kind: KindGrid, Symbol: "BTCUSDT", Active: true}, testDeps(gw, nil))
	r := &wedgedRunner{release: make(chan struct{})}
	b.impl = r

	select {
	case <-b.Done():
	default:
		t.Fatal("never-started instance should report done")
	}

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Stop(ctx))
	assert.False(t, b.running())

	b.active.Store(true)
	assert.ErrorIs(t, b.Start(ctx), ErrStopping)
	assert.False(t, b.running())

	close(r.release)
	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not finish after release")
	}
	// The released runner returns at once, so the fresh loop ends on its own.
	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Stop(ctx))
}
