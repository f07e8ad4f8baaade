package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/henriblancke/dagster/internal/ir"
	"github.com/henriblancke/dagster/internal/sensor"
	"github.com/henriblancke/dagster/internal/telemetry"
)

// DefaultPollInterval is the spacing of scheduling iterations in Run.
const DefaultPollInterval = 5 * time.Second

var (
	// ErrUnknownSensor is returned for a sensor name not in the registry.
	ErrUnknownSensor = errors.New("unknown sensor")

	// ErrTickInProgress is returned when a tick of the same sensor is
	// already running.
	ErrTickInProgress = errors.New("tick already in progress")
)

// Store is the durable state the daemon writes. *store.Store implements it.
type Store interface {
	sensor.CursorStore

	RecordTick(ctx context.Context, tick ir.TickRecord) (int64, error)
	CommitTick(ctx context.Context, tick ir.TickRecord) (int64, error)
	Ticks(ctx context.Context, sensorName string, limit int) ([]ir.TickRecord, error)
	SensorStatus(ctx context.Context, sensorName string) (ir.SensorStatus, bool, error)
	SetSensorStatus(ctx context.Context, sensorName string, status ir.SensorStatus) error
	ReportEngineEvent(ctx context.Context, sensorName string, run ir.RunRecord, status ir.RunStatus, at time.Time) (ir.Event, error)
}

// Daemon schedules and persists sensor ticks.
//
// Thread-safety model:
//   - TickSensor: safe from any goroutine; ticks of one sensor are serialized
//   - RunIteration: safe from any goroutine
//   - Run: blocks; call from one goroutine
type Daemon struct {
	registry  *sensor.Registry
	evaluator *sensor.Evaluator
	store     Store
	cursors   sensor.CursorStore // nil: cursors live in store
	clock     sensor.Clock
	ids       IDGenerator
	telemetry *telemetry.Provider
	logger    *slog.Logger
	interval  time.Duration

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithClock sets the clock used for tick timestamps and pacing.
func WithClock(c sensor.Clock) Option {
	return func(d *Daemon) { d.clock = c }
}

// WithIDGenerator sets the tick id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Daemon) { d.ids = g }
}

// WithTelemetry records tick metrics and spans on p.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(d *Daemon) { d.telemetry = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) { d.logger = logger }
}

// WithPollInterval sets the spacing of iterations in Run.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithCursorStore persists cursors in cs instead of the tick store. The
// evaluator must have been built over the same cursor store.
func WithCursorStore(cs sensor.CursorStore) Option {
	return func(d *Daemon) { d.cursors = cs }
}

// New creates a Daemon.
func New(registry *sensor.Registry, evaluator *sensor.Evaluator, s Store, opts ...Option) *Daemon {
	d := &Daemon{
		registry:  registry,
		evaluator: evaluator,
		store:     s,
		clock:     sensor.SystemClock,
		ids:       UUIDv7Generator{},
		logger:    slog.Default(),
		interval:  DefaultPollInterval,
		locks:     make(map[string]*sync.Mutex),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "daemon")
	return d
}

// Registry returns the sensors the daemon ticks.
func (d *Daemon) Registry() *sensor.Registry { return d.registry }

// CursorStore returns where sensor cursors are persisted.
func (d *Daemon) CursorStore() sensor.CursorStore {
	if d.cursors != nil {
		return d.cursors
	}
	return d.store
}

// Run ticks due sensors every poll interval until ctx is cancelled.
// The first iteration starts immediately. An in-flight iteration finishes
// before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("daemon starting", "sensors", d.registry.Len(), "poll_interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.RunIteration(ctx); err != nil {
			d.logger.Error("iteration failed", "error", err)
		}

		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunIteration ticks every RUNNING sensor whose minimum interval has
// elapsed, concurrently across sensors. Results are ordered by sensor name.
// Sensors that are stopped, not yet due or busy are left out.
//
// The returned error joins the persistence failures of the iteration.
func (d *Daemon) RunIteration(ctx context.Context) ([]Result, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
		errs    []error
	)

	for _, def := range d.registry.All() {
		status, err := d.Status(ctx, def.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if status != ir.SensorStatusRunning {
			continue
		}
		// A busy sensor keeps its interval slot for the next iteration.
		lock := d.lockFor(def.Name)
		if !lock.TryLock() {
			d.logger.Debug("skipping busy sensor", "sensor", def.Name)
			continue
		}
		if !d.limiterFor(def).AllowN(d.clock.Now(), 1) {
			lock.Unlock()
			continue
		}

		wg.Add(1)
		go func(def *sensor.Definition, lock *sync.Mutex) {
			defer wg.Done()
			res, err := d.tickLocked(ctx, def)
			lock.Unlock()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, err)
			default:
				results = append(results, res)
			}
		}(def, lock)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Sensor < results[j].Sensor })
	return results, errors.Join(errs...)
}

// Status returns the effective status of a sensor: the persisted toggle if
// any, else the definition's default status.
func (d *Daemon) Status(ctx context.Context, name string) (ir.SensorStatus, error) {
	def, ok := d.registry.Get(name)
	if !ok {
		return "", fmt.Errorf("status %s: %w", name, ErrUnknownSensor)
	}
	status, found, err := d.store.SensorStatus(ctx, name)
	if err != nil {
		return "", fmt.Errorf("status %s: %w", name, err)
	}
	if !found {
		return def.DefaultStatus, nil
	}
	return status, nil
}

// Start persists a RUNNING toggle for a sensor.
func (d *Daemon) Start(ctx context.Context, name string) error {
	return d.setStatus(ctx, name, ir.SensorStatusRunning)
}

// Stop persists a STOPPED toggle for a sensor.
func (d *Daemon) Stop(ctx context.Context, name string) error {
	return d.setStatus(ctx, name, ir.SensorStatusStopped)
}

func (d *Daemon) setStatus(ctx context.Context, name string, status ir.SensorStatus) error {
	if _, ok := d.registry.Get(name); !ok {
		return fmt.Errorf("set status %s: %w", name, ErrUnknownSensor)
	}
	if err := d.store.SetSensorStatus(ctx, name, status); err != nil {
		return err
	}
	d.logger.Info("sensor status changed", "sensor", name, "status", status)
	return nil
}

// Ticks returns the newest ticks of a registered sensor, newest first.
func (d *Daemon) Ticks(ctx context.Context, name string, limit int) ([]ir.TickRecord, error) {
	if _, ok := d.registry.Get(name); !ok {
		return nil, fmt.Errorf("ticks %s: %w", name, ErrUnknownSensor)
	}
	return d.store.Ticks(ctx, name, limit)
}

func (d *Daemon) lockFor(name string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[name]
	if !ok {
		l = &sync.Mutex{}
		d.locks[name] = l
	}
	return l
}

func (d *Daemon) limiterFor(def *sensor.Definition) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[def.Name]
	if !ok {
		every := time.Duration(def.MinimumIntervalSeconds) * time.Second
		l = rate.NewLimiter(rate.Every(every), 1)
		d.limiters[def.Name] = l
	}
	return l
}
