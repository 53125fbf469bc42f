package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/adamancini/hold/internal/cache"
	"github.com/adamancini/hold/internal/config"
	"github.com/adamancini/hold/internal/logging"
	"github.com/adamancini/hold/internal/metrics"
	"github.com/adamancini/hold/internal/output"
	"github.com/adamancini/hold/internal/state"
	"github.com/adamancini/hold/internal/transport"
	"github.com/adamancini/hold/internal/update"
)

// app holds everything a command needs to talk to the orchestrator.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   state.Store
	metrics *metrics.Metrics
	orch    *update.Orchestrator
	out     *output.Writer
}

func newWriter(w io.Writer) (*output.Writer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewWriter(w, format), nil
}

// loadConfig finds and loads the config. Without a config file the
// defaults are used, so cargos can still be addressed by id.
func loadConfig() (*config.Config, error) {
	path, err := config.FindConfig(configPath)
	if errors.Is(err, config.ErrNoConfig) {
		return config.Default()
	}
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// logLevel applies --verbose and --quiet on top of the configured level.
func logLevel(cfg *config.Config) string {
	switch {
	case verbose:
		return "debug"
	case quiet:
		return "error"
	}
	return cfg.Log.Level
}

func openStore(ctx context.Context, cfg config.StateConfig) (state.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if cfg.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0755); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
		return state.NewSQL(ctx, state.DriverSQLite, cfg.DSN)
	case config.DriverLibSQL:
		return state.NewSQL(ctx, state.DriverLibSQL, cfg.DSN)
	case config.DriverFile:
		return state.NewFile(cfg.DSN)
	}
	return nil, fmt.Errorf("unsupported state driver %q", cfg.Driver)
}

// openApp wires config, logging, storage, transport and metrics into an
// orchestrator. Interrupted updates from earlier runs are recovered.
func openApp(ctx context.Context, stdout, stderr io.Writer) (*app, error) {
	out, err := newWriter(stdout)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logLevel(cfg), cfg.Log.Format, stderr)
	if err != nil {
		return nil, err
	}
	entry := logrus.NewEntry(logger)

	store, err := openStore(ctx, cfg.State)
	if err != nil {
		return nil, err
	}

	files, err := cache.NewDisk(cfg.CacheDir, entry)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	userAgent := cfg.Transport.UserAgent
	if userAgent == "" {
		userAgent = "hold/" + holdVersion
	}
	httpTransport := transport.NewHTTP(transport.Options{
		Timeout:   cfg.Timeout(),
		UserAgent: userAgent,
		Quota:     transport.NewDiskQuota(cfg.CacheDir, cfg.QuotaBytes()),
	})
	tr := transport.NewRetry(httpTransport, cfg.Retries(), cfg.RetryDelay(), entry.WithField("component", "transport"))

	m, err := metrics.New()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	orch, err := update.New(update.Options{
		Transport:        tr,
		Cache:            files,
		Store:            store,
		Log:              entry,
		Metrics:          m,
		DisallowReserved: cfg.DisallowReserved,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if recovered, err := orch.Recover(ctx); err != nil {
		logger.WithError(err).Warn("Failed to recover interrupted updates")
	} else if len(recovered) > 0 {
		logger.WithField("cargos", recovered).Info("Recovered interrupted updates")
	}

	return &app{
		cfg:     cfg,
		log:     logger,
		store:   store,
		metrics: m,
		orch:    orch,
		out:     out,
	}, nil
}

// Close stops the orchestrator, exports metrics and closes the store.
func (a *app) Close() error {
	var errs []error
	if err := a.orch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		a.log.WithError(err).Warn("Failed to write metrics textfile")
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// cargos resolves command arguments to configured cargos. With no
// arguments every configured cargo is returned.
func (a *app) cargos(args []string) ([]config.Cargo, error) {
	if len(args) == 0 {
		if len(a.cfg.Cargos) == 0 {
			return nil, fmt.Errorf("no cargos configured")
		}
		return a.cfg.Cargos, nil
	}

	cargos := make([]config.Cargo, 0, len(args))
	for _, ref := range args {
		c, err := a.cfg.GetCargo(ref)
		if err != nil {
			return nil, err
		}
		cargos = append(cargos, *c)
	}
	return cargos, nil
}

// cargoID maps a configured name to its id. Unknown refs are used as ids
// so records of cargos no longer in the config stay reachable.
func (a *app) cargoID(ref string) string {
	if c, err := a.cfg.GetCargo(ref); err == nil {
		return c.ID
	}
	return ref
}

// withApp runs fn against a freshly opened app and closes it afterwards.
func withApp(ctx context.Context, stdout, stderr io.Writer, fn func(*app) error) (err error) {
	a, err := openApp(ctx, stdout, stderr)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
