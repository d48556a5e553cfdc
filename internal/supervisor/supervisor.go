// Package supervisor owns the running strategy instances and routes lifecycle
// requests to them. At most one instance runs per strategy id.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"strategy-runner/internal/events"
	"strategy-runner/internal/recorder"
	"strategy-runner/internal/strategy"
	"strategy-runner/pkg/exchanges/common"
)

// Factory builds an instance; strategy.New in production.
type Factory func(cfg strategy.Config, deps strategy.Deps) (strategy.Strategy, error)

// Options wires a Supervisor.
type Options struct {
	Source   ConfigSource // optional; Register-only when nil
	Gateway  common.Gateway
	Recorder recorder.Recorder
	Bus      *events.Bus
	Logger   *zap.Logger
	Strategy strategy.Options
	Factory  Factory
}

// Supervisor is safe for concurrent use.
type Supervisor struct {
	src     ConfigSource
	gw      common.Gateway
	rec     recorder.Recorder
	bus     *events.Bus
	log     *zap.Logger
	opts    strategy.Options
	factory Factory

	mu        sync.Mutex
	configs   map[string]strategy.Config
	instances map[string]strategy.Strategy
	last      map[string]strategy.Status // final status of stopped instances
	draining  map[string]<-chan struct{} // loops abandoned by Stop that have not returned
	revs      map[string]uint64          // bumped on every local config change
	idLocks   map[string]*sync.Mutex
	closed    bool
}

func New(o Options) *Supervisor {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rec := o.Recorder
	if rec == nil {
		rec = recorder.Nop{}
	}
	f := o.Factory
	if f == nil {
		f = strategy.New
	}
	return &Supervisor{
		src:       o.Source,
		gw:        o.Gateway,
		rec:       rec,
		bus:       o.Bus,
		log:       log.With(zap.String("component", "supervisor")),
		opts:      o.Strategy,
		factory:   f,
		configs:   make(map[string]strategy.Config),
		instances: make(map[string]strategy.Strategy),
		last:      make(map[string]strategy.Status),
		draining:  make(map[string]<-chan struct{}),
		revs:      make(map[string]uint64),
		idLocks:   make(map[string]*sync.Mutex),
	}
}

// ErrShutdown is returned by Start after Shutdown.
var ErrShutdown = errors.New("supervisor is shut down")

// Register adds or replaces a definition. It does not start anything.
func (s *Supervisor) Register(cfg strategy.Config) error {
	if err := strategy.Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	s.configs[cfg.ID] = cfg
	s.revs[cfg.ID]++
	s.mu.Unlock()
	return nil
}

// Load registers every definition from the source.
func (s *Supervisor) Load(ctx context.Context) error {
	if s.src == nil {
		return nil
	}
	s.mu.Lock()
	seen := make(map[string]uint64, len(s.revs))
	for id, r := range s.revs {
		seen[id] = r
	}
	s.mu.Unlock()

	cfgs, err := s.src.List(ctx)
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	s.mu.Lock()
	for _, c := range cfgs {
		// A config changed while the source was being read is newer than the read.
		if s.revs[c.ID] != seen[c.ID] {
			continue
		}
		s.configs[c.ID] = c
	}
	s.mu.Unlock()
	s.log.Info("strategies loaded", zap.Int("count", len(cfgs)))
	return nil
}

func (s *Supervisor) lockID(id string) func() {
	s.mu.Lock()
	l, ok := s.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.idLocks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Supervisor) config(ctx context.Context, id string) (strategy.Config, error) {
	s.mu.Lock()
	cfg, ok := s.configs[id]
	s.mu.Unlock()
	if ok {
		return cfg, nil
	}
	if s.src == nil {
		return strategy.Config{}, strategy.ErrNotFound
	}
	cfg, err := s.src.Get(ctx, id)
	if err != nil {
		return strategy.Config{}, err
	}
	s.mu.Lock()
	s.configs[id] = cfg
	s.mu.Unlock()
	return cfg, nil
}

// drained reports whether no abandoned loop for id is still running.
func (s *Supervisor) drained(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	done, ok := s.draining[id]
	if !ok {
		return true
	}
	select {
	case <-done:
		delete(s.draining, id)
		return true
	default:
		return false
	}
}

func (s *Supervisor) instance(id string) strategy.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances[id]
}

// Start launches the instance for id. Starting a running instance is a no-op.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	unlock := s.lockID(id)
	defer unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrShutdown
	}

	if inst := s.instance(id); inst != nil && inst.Status().Running {
		s.log.Info("strategy already running", zap.String("strategy_id", id))
		return nil
	}
	if !s.drained(id) {
		return fmt.Errorf("%w: %s", strategy.ErrStopping, id)
	}
	cfg, err := s.config(ctx, id)
	if err != nil {
		return err
	}
	if !cfg.Active {
		return fmt.Errorf("%w: %s", strategy.ErrInactive, id)
	}

	inst, err := s.factory(cfg, strategy.Deps{
		Gateway:  s.gw,
		Recorder: s.rec,
		Logger:   s.log.Named("strategy"),
		Options:  s.opts,
		OnExit:   s.onExit,
	})
	if err != nil {
		return err
	}
	if err := inst.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", id, err)
	}

	s.mu.Lock()
	s.instances[id] = inst
	delete(s.last, id)
	s.mu.Unlock()
	s.publish(events.EventStrategyStarted, cfg, "")
	return nil
}

// onExit runs on the instance goroutine; it must not take id locks.
func (s *Supervisor) onExit(id string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	cfg := s.configs[id]
	s.mu.Unlock()
	s.log.Error("strategy loop failed", zap.String("strategy_id", id), zap.Error(err))
	s.publish(events.EventStrategyFailed, cfg, err.Error())
}

// Stop stops and forgets the instance for id. Stopping an idle strategy is a no-op.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	unlock := s.lockID(id)
	defer unlock()

	inst := s.instance(id)
	if inst == nil {
		if _, err := s.config(ctx, id); err != nil {
			return err
		}
		return nil
	}
	if err := inst.Stop(ctx); err != nil {
		s.log.Warn("stop returned error, removing instance anyway", zap.String("strategy_id", id), zap.Error(err))
	}

	final := inst.Status()
	s.mu.Lock()
	delete(s.instances, id)
	s.last[id] = final
	select {
	case <-inst.Done():
	default:
		s.draining[id] = inst.Done()
	}
	s.mu.Unlock()
	s.publish(events.EventStrategyStopped, inst.Config(), "")
	return nil
}

// Status returns the live status, the final status of a stopped instance, or
// the stored definition of one that never ran.
func (s *Supervisor) Status(ctx context.Context, id string) (strategy.Status, error) {
	if inst := s.instance(id); inst != nil {
		return inst.Status(), nil
	}
	s.mu.Lock()
	st, ok := s.last[id]
	s.mu.Unlock()
	if ok {
		return st, nil
	}
	cfg, err := s.config(ctx, id)
	if err != nil {
		return strategy.Status{}, err
	}
	return idleStatus(cfg), nil
}

func idleStatus(cfg strategy.Config) strategy.Status {
	return strategy.Status{
		ID:     cfg.ID,
		Name:   cfg.Name,
		Kind:   cfg.Kind,
		Symbol: cfg.Symbol,
		Active: cfg.Active,
		Params: cfg.Params,
	}
}

// List returns the status of every known strategy ordered by id.
func (s *Supervisor) List(ctx context.Context) ([]strategy.Status, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	out := make([]strategy.Status, 0, len(ids))
	for _, id := range ids {
		st, err := s.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Owner returns the owner id of a strategy.
func (s *Supervisor) Owner(ctx context.Context, id string) (string, error) {
	cfg, err := s.config(ctx, id)
	if err != nil {
		return "", err
	}
	return cfg.OwnerID, nil
}

// Config returns the stored definition of a strategy.
func (s *Supervisor) Config(ctx context.Context, id string) (strategy.Config, error) {
	return s.config(ctx, id)
}

// UpdateConfig merges partial into the parameters of id, hot-swapping them
// into a running instance, and persists the result.
func (s *Supervisor) UpdateConfig(ctx context.Context, id string, partial map[string]any) (strategy.Config, error) {
	unlock := s.lockID(id)
	defer unlock()

	cfg, err := s.config(ctx, id)
	if err != nil {
		return strategy.Config{}, err
	}

	target := s.instance(id)
	if target == nil {
		// Merge through a throwaway instance so validation matches the live path.
		deps := strategy.Deps{Gateway: s.gw, Recorder: recorder.Nop{}, Logger: s.log, Options: s.opts}
		if target, err = s.factory(cfg, deps); err != nil {
			return strategy.Config{}, err
		}
	}
	if err := target.UpdateConfig(partial); err != nil {
		return strategy.Config{}, err
	}
	cfg.Params = target.Config().Params

	if s.src != nil {
		if err := s.src.SaveParams(ctx, id, cfg.Params); err != nil {
			return strategy.Config{}, fmt.Errorf("persist params for %s: %w", id, err)
		}
	}
	s.mu.Lock()
	s.configs[id] = cfg
	s.revs[id]++
	if st, ok := s.last[id]; ok {
		st.Params = cfg.Params
		s.last[id] = st
	}
	s.mu.Unlock()
	s.publish(events.EventParamsUpdated, cfg, "")
	return cfg, nil
}

// StartActive starts every active definition; failures are logged.
func (s *Supervisor) StartActive(ctx context.Context) {
	s.mu.Lock()
	var ids []string
	for id, c := range s.configs {
		if c.Active {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		if err := s.Start(ctx, id); err != nil {
			s.log.Error("auto-start failed", zap.String("strategy_id", id), zap.Error(err))
		}
	}
}

// Shutdown stops every running instance in parallel. Safe to call repeatedly.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Stop(ctx, id); err != nil {
				s.log.Warn("stop during shutdown failed", zap.String("strategy_id", id), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()
	if len(ids) > 0 {
		s.log.Info("all strategies stopped", zap.Int("count", len(ids)))
	}
}

func (s *Supervisor) publish(e events.Event, cfg strategy.Config, reason string) {
	s.bus.Publish(e, events.Lifecycle{
		StrategyID: cfg.ID,
		Kind:       string(cfg.Kind),
		Symbol:     cfg.Symbol,
		Reason:     reason,
	})
}
