package cmd

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/formrunner/internal/config"
	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/driver/chrome"
	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/event"
	"github.com/Iron-Ham/formrunner/internal/logging"
	"github.com/Iron-Ham/formrunner/internal/orchestrator"
	"github.com/Iron-Ham/formrunner/internal/store"
	"github.com/Iron-Ham/formrunner/internal/submit"
)

// app bundles the services a command runs against. Close releases them in
// reverse order of creation.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  store.Store
	driver driver.FormDriver

	closers []func() error
}

// newApp loads the configuration and opens the logger and store. The form
// driver is only started when withDriver is set, so that offline commands
// never launch a browser.
func newApp(ctx context.Context, withDriver bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg}

	logger, err := logging.NewLogger(logging.Options{
		Dir:   cfg.Logging.Dir,
		Level: cfg.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	})
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.closers = append(a.closers, logger.Close)

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	if withDriver {
		if err := a.lockStore(); err != nil {
			_ = a.Close()
			return nil, err
		}
		if err := a.startDriver(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Kind {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreSQLite:
		s, err := store.OpenSQLite(ctx, cfg.Store.ResolvePath())
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return s, nil
	default:
		return nil, errors.NewValidationError("unknown store kind").WithField("store.kind").WithValue(cfg.Store.Kind)
	}
}

// lockStore keeps a second serve process off the same sqlite file.
func (a *app) lockStore() error {
	if a.cfg.Store.Kind != config.StoreSQLite {
		return nil
	}
	lock := store.NewFileLock(a.cfg.Store.ResolvePath())
	if err := lock.TryLock(); err != nil {
		return fmt.Errorf("another formrunner serve is using the store: %w", err)
	}
	a.closers = append(a.closers, lock.Unlock)
	return nil
}

func (a *app) startDriver() error {
	switch a.cfg.Driver.Kind {
	case config.DriverNoop:
		a.driver = driver.NewNoop()
	case config.DriverChrome:
		d, err := chrome.New(chrome.OptionsFromConfig(a.cfg), a.logger.With("component", "chrome"))
		if err != nil {
			return fmt.Errorf("create chrome driver: %w", err)
		}
		a.driver = d
		a.closers = append(a.closers, d.Close)
	default:
		return errors.NewValidationError("unknown driver kind").WithField("driver.kind").WithValue(a.cfg.Driver.Kind)
	}
	a.logger.Info("form driver ready", "kind", a.cfg.Driver.Kind)
	return nil
}

// orchestrator wires the pipeline to the app's driver and store.
func (a *app) orchestrator(events event.Publisher) *orchestrator.Orchestrator {
	machine := submit.New(a.driver,
		submit.WithMaxRetries(a.cfg.Submit.MaxRetries),
		submit.WithCallTimeout(a.cfg.Submit.CallTimeout()),
		submit.WithLogger(a.logger.WithPhase("submit")),
	)
	return orchestrator.New(a.driver, a.store,
		orchestrator.WithSettings(orchestrator.SettingsFromConfig(a.cfg)),
		orchestrator.WithMachine(machine),
		orchestrator.WithPublisher(events),
		orchestrator.WithLogger(a.logger),
	)
}

// Close releases everything newApp opened.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
