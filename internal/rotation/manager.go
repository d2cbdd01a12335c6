package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/defgrid/tunnelrotor/internal/catalog"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config names the manager's own timings (spec.md §4.7, §6). Timeouts
// and paths owned by collaborators (TunnelController, RoutingSwitcher,
// ...) live in their own Config types.
type Config struct {
	RotationInterval    time.Duration
	HealthCheckInterval time.Duration

	// WorkerBackoff is the fixed sleep the coordinator takes after a
	// cycle panics or returns an unanticipated error, before resuming
	// event processing (spec.md §5, §7 "the rotation worker sleeps a
	// fixed backoff (5 min) after exceptions").
	WorkerBackoff time.Duration
}

// tunnelController is the subset of tunnel.Controller the manager
// needs, so tests can exercise the state machine with a fake that
// never touches a real process or a real network interface.
type tunnelController interface {
	Connect(ctx context.Context, endpoint catalog.Endpoint, iface string) error
	Disconnect(iface string) error
	IsLive(iface string) bool
}

// prober is the subset of reachability.Prober the manager needs.
type prober interface {
	Probe(ctx context.Context, iface string) bool
}

// routingSwitcher is the subset of routing.Switcher the manager needs.
type routingSwitcher interface {
	Setup() error
	Switch(iface string) error
	Teardown() error
	Active() string
}

// blacklistRegistry is the subset of blacklist.Registry the manager needs.
type blacklistRegistry interface {
	Add(name string, now time.Time)
	Filter(endpoints []catalog.Endpoint, now time.Time) []catalog.Endpoint
}

// catalogSource is the subset of catalog.Catalog the manager needs.
type catalogSource interface {
	List() []catalog.Endpoint
}

// randSource is the one method the manager needs from *rand.Rand,
// injected so endpoint selection is deterministic and reproducible in
// tests (spec.md §9: "randomization should be injectable for tests,
// seeded RNG as a collaborator").
type randSource interface {
	Intn(n int) int
}

// event is a unit of work delivered to the single coordinator
// goroutine. All state mutation happens on that goroutine, which is
// what makes rotation cycles and health checks mutually exclusive
// without an explicit lock around each operation (spec.md §5 "single
// coordination lock").
type event struct {
	kind eventKind
}

type eventKind int

const (
	eventTick eventKind = iota
	eventHealthCheck
)

// Manager is RotationManager (spec.md §4.7): it owns RotationState and
// drives the startup, rotation, health-check and emergency-switch
// protocols against its collaborators.
type Manager struct {
	cfg    Config
	cat    catalogSource
	bl     blacklistRegistry
	tun    tunnelController
	probe  prober
	sw     routingSwitcher
	rng    randSource
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state RotationState

	events chan event
}

func NewManager(
	cfg Config,
	cat catalogSource,
	bl blacklistRegistry,
	tun tunnelController,
	probe prober,
	sw routingSwitcher,
	rng randSource,
	logger zerolog.Logger,
) *Manager {
	if cfg.WorkerBackoff == 0 {
		cfg.WorkerBackoff = 5 * time.Minute
	}
	return &Manager{
		cfg:    cfg,
		cat:    cat,
		bl:     bl,
		tun:    tun,
		probe:  probe,
		sw:     sw,
		rng:    rng,
		logger: logger,
		now:    time.Now,
		events: make(chan event, 4),
	}
}

// State returns a snapshot of the current role bindings.
func (m *Manager) State() RotationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setPrimary(ep *catalog.Endpoint, iface string, health SlotHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.setPrimary(ep, iface, health)
}

func (m *Manager) setSecondary(ep *catalog.Endpoint, health SlotHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.setSecondary(ep, health)
}

func (m *Manager) clearSecondary() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.clearSecondary()
}

func (m *Manager) setStaging(ep *catalog.Endpoint, health SlotHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.setStaging(ep, health)
}

func (m *Manager) clearStaging() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.clearStaging()
}

func (m *Manager) occupied() EndpointSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Occupied()
}

// Run starts the two timer-driven event sources and the coordinator
// loop that consumes them, and blocks until ctx is cancelled (spec.md
// §4.7.5, §4.7.4). Startup must have already completed successfully.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.RotationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				select {
				case m.events <- event{kind: eventTick}:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				select {
				case m.events <- event{kind: eventHealthCheck}:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		return m.coordinate(ctx)
	})

	return g.Wait()
}

// coordinate is the single goroutine that serializes every mutation of
// RotationState: a planned rotation cycle and a health check (and the
// emergency switch it may trigger) can never interleave, since both
// only ever run here, one event at a time. An unanticipated error or
// panic inside a cycle is caught at this loop boundary, logged, and
// followed by a fixed backoff before the next event is processed
// (spec.md §5, §7) — mirroring the Python original's per-worker
// `except Exception: log; time.sleep(backoff)` guard. The coordinator
// itself never exits because of a cycle failure; only ctx cancellation
// stops it.
func (m *Manager) coordinate(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			cid := uuid.New().String()
			logger := m.logger.With().Str("correlation_id", cid).Logger()

			if !m.runCycle(ctx, logger, ev) {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(m.cfg.WorkerBackoff):
				}
			}
		}
	}
}

// runCycle dispatches one event to its cycle function, recovering a
// panic the same way an unanticipated error is handled. It reports
// whether the cycle completed cleanly (no error, no panic); the caller
// backs off when it did not.
func (m *Manager) runCycle(ctx context.Context, logger zerolog.Logger, ev event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("rotation coordinator: cycle panicked")
			ok = false
		}
	}()

	var err error
	switch ev.kind {
	case eventTick:
		err = m.rotationCycle(ctx, logger)
	case eventHealthCheck:
		err = m.healthCheckCycle(ctx, logger)
	}
	if err != nil {
		logger.Error().Err(err).Msg("rotation coordinator: cycle failed")
		return false
	}
	return true
}

// Shutdown tears down every connected tunnel and the routing mark
// chain (spec.md §4.7.7). It is safe to call even if Startup never
// fully completed.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, iface := range []string{ifacePrimary, ifaceSecondary, ifaceStaging} {
		if err := m.tun.Disconnect(iface); err != nil {
			errs = append(errs, err)
		}
	}

	if err := m.sw.Teardown(); err != nil {
		errs = append(errs, err)
	}

	m.mu.Lock()
	m.state = RotationState{}
	m.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("rotation: shutdown encountered %d error(s), first: %w", len(errs), errs[0])
	}
	return nil
}
