// Package orchestrator runs formrunner tasks: it spreads a target's items
// over a bounded set of browser sessions, verifies what the portal recorded,
// and resubmits the stragglers.
package orchestrator

import (
	"time"

	"github.com/Iron-Ham/formrunner/internal/config"
	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/event"
	"github.com/Iron-Ham/formrunner/internal/logging"
	"github.com/Iron-Ham/formrunner/internal/store"
	"github.com/Iron-Ham/formrunner/internal/submit"
)

// Settings bound the work a single task may do.
type Settings struct {
	// MaxSessions caps concurrent sessions per task.
	MaxSessions int
	// BatchSize is the number of items one session should carry before
	// another session is opened.
	BatchSize int
	// SubBatchSize is the number of items entered into one form.
	SubBatchSize int
	// FormSteps is the number of pages in a new record's form.
	FormSteps int
	// CallTimeout bounds driver calls made outside the state machine
	// (EditRecord and Probe).
	CallTimeout time.Duration
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default())
}

// SettingsFromConfig extracts Settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxSessions:  cfg.Sessions.MaxSessions,
		BatchSize:    cfg.Sessions.BatchSize,
		SubBatchSize: cfg.Sessions.SubBatchSize,
		FormSteps:    cfg.Submit.FormSteps,
		CallTimeout:  cfg.Submit.CallTimeout(),
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxSessions < 1 {
		s.MaxSessions = d.MaxSessions
	}
	if s.BatchSize < 1 {
		s.BatchSize = d.BatchSize
	}
	if s.SubBatchSize < 1 {
		s.SubBatchSize = d.SubBatchSize
	}
	if s.FormSteps < 1 {
		s.FormSteps = d.FormSteps
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = d.CallTimeout
	}
	return s
}

// Orchestrator runs tasks against one driver and one store. It holds no
// per-task state and is shared by every task the dispatcher starts.
type Orchestrator struct {
	driver   driver.FormDriver
	store    store.Store
	machine  *submit.Machine
	events   event.Publisher
	logger   *logging.Logger
	settings Settings
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettings sets the task limits. Zero fields take their defaults.
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) {
		o.settings = s
	}
}

// WithMachine sets the submission state machine. By default one is built
// from the driver with the configured call timeout.
func WithMachine(m *submit.Machine) Option {
	return func(o *Orchestrator) {
		o.machine = m
	}
}

// WithPublisher sets where progress and result events go.
func WithPublisher(p event.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.events = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator.
func New(d driver.FormDriver, st store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		driver: d,
		store:  st,
		events: discard{},
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.settings = o.settings.withDefaults()
	if o.machine == nil {
		o.machine = submit.New(d,
			submit.WithCallTimeout(o.settings.CallTimeout),
			submit.WithLogger(o.logger))
	}
	return o
}

// Settings returns the effective settings.
func (o *Orchestrator) Settings() Settings {
	return o.settings
}

// sessionsFor returns the session cap for a task that asked for requested
// sessions. Zero or negative means the configured maximum, and a request
// never exceeds it.
func (o *Orchestrator) sessionsFor(requested int) int {
	if requested < 1 {
		return o.settings.MaxSessions
	}
	return min(requested, o.settings.MaxSessions)
}

type discard struct{}

func (discard) Publish(event.Event) {}
