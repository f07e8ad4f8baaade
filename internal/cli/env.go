package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/henriblancke/dagster/internal/config"
	"github.com/henriblancke/dagster/internal/daemon"
	"github.com/henriblancke/dagster/internal/redisstore"
	"github.com/henriblancke/dagster/internal/sensor"
	"github.com/henriblancke/dagster/internal/store"
	"github.com/henriblancke/dagster/internal/telemetry"
)

// cursorDeleter is implemented by both cursor backends.
type cursorDeleter interface {
	sensor.CursorStore
	DeleteCursor(ctx context.Context, sensorName string) error
}

// environment is everything a command needs, built from the configuration.
type environment struct {
	cfg       *config.Config
	store     *store.Store
	redis     *redisstore.Store // nil unless cursor_store is redis
	registry  *sensor.Registry
	daemon    *daemon.Daemon
	telemetry *telemetry.Provider
	logger    *slog.Logger
	clock     sensor.Clock
}

// loadConfig loads --config, or the defaults when it is not set, and applies
// flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(opts.ConfigPath); err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level and
// --log-format overrides the configured format.
func newLogger(opts *RootOptions, cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}

	format := cfg.Format
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openEnvironment loads the configuration, opens the stores and builds the
// daemon. withTelemetry attaches a metrics provider. Callers must Close the
// result.
func openEnvironment(opts *RootOptions, cmd *cobra.Command, withTelemetry bool) (*environment, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	env := &environment{
		cfg:    cfg,
		logger: newLogger(opts, cfg.Log, cmd.ErrOrStderr()),
		clock:  opts.Clock,
	}
	if env.clock == nil {
		env.clock = sensor.SystemClock
	}

	env.registry, err = cfg.Registry()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid sensor definitions", err)
	}

	env.logger.Debug("opening database", "path", cfg.Database)
	env.store, err = store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	var cursors sensor.CursorStore = env.store
	if cfg.CursorStore == config.CursorStoreRedis {
		env.redis = redisstore.New(redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err := env.redis.Ping(cmd.Context()); err != nil {
			env.Close()
			return nil, WrapExitError(ExitCommandError, "failed to reach redis", err)
		}
		cursors = env.redis
	}

	if withTelemetry {
		env.telemetry, err = telemetry.New(telemetry.WithLogger(env.logger))
		if err != nil {
			env.Close()
			return nil, WrapExitError(ExitCommandError, "failed to set up telemetry", err)
		}
	}

	evaluator := sensor.NewEvaluator(env.store, env.store, cursors,
		sensor.WithClock(env.clock),
		sensor.WithRepository(cfg.Origin()),
		sensor.WithLogger(env.logger),
	)
	daemonOpts := []daemon.Option{
		daemon.WithClock(env.clock),
		daemon.WithLogger(env.logger),
		daemon.WithPollInterval(cfg.PollIntervalDuration()),
	}
	if opts.IDs != nil {
		daemonOpts = append(daemonOpts, daemon.WithIDGenerator(opts.IDs))
	}
	if env.redis != nil {
		daemonOpts = append(daemonOpts, daemon.WithCursorStore(env.redis))
	}
	if env.telemetry != nil {
		daemonOpts = append(daemonOpts, daemon.WithTelemetry(env.telemetry))
	}
	env.daemon = daemon.New(env.registry, evaluator, env.store, daemonOpts...)
	return env, nil
}

// cursorStore returns the configured cursor backend.
func (e *environment) cursorStore() cursorDeleter {
	if e.redis != nil {
		return e.redis
	}
	return e.store
}

// lookup returns the registered definition, or reports an unknown sensor.
func (e *environment) lookup(f *OutputFormatter, name string) (*sensor.Definition, error) {
	def, ok := e.registry.Get(name)
	if !ok {
		return nil, f.Fail(ExitCommandError, ErrCodeUnknownSensor,
			fmt.Sprintf("unknown sensor %q", name), nil)
	}
	return def, nil
}

// Close releases the stores.
func (e *environment) Close() error {
	var errs []error
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}
