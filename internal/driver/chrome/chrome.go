// Package chrome implements driver.FormDriver on a headless Chrome browser
// through the DevTools protocol.
//
// One browser process is shared by every session. Each session is a tab,
// and probes open a short-lived tab of their own so that they never disturb
// a form in progress.
package chrome

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/Iron-Ham/formrunner/internal/config"
	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/logging"
	"github.com/Iron-Ham/formrunner/internal/poll"
)

// Options configures the driver.
type Options struct {
	BaseURL   string
	FormPath  string
	ProbePath string
	EditPath  string
	UserAgent string
	Headless  bool
	Selectors config.SelectorsConfig
	// ReadyTimeout bounds each wait for a page to settle.
	ReadyTimeout time.Duration
	// Poll sets the backoff of readiness waits. Its Timeout is ignored.
	Poll poll.Options
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:      cfg.Driver.BaseURL,
		FormPath:     cfg.Driver.FormPath,
		ProbePath:    cfg.Driver.ProbePath,
		EditPath:     cfg.Driver.EditPath,
		UserAgent:    cfg.Driver.UserAgent,
		Headless:     cfg.Driver.Headless,
		Selectors:    cfg.Driver.Selectors,
		ReadyTimeout: cfg.Submit.CallTimeout(),
		Poll: poll.Options{
			Interval:    100 * time.Millisecond,
			MaxInterval: cfg.Control.MaxPollInterval(),
		},
	}
}

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Driver is a driver.FormDriver backed by Chrome.
type Driver struct {
	opts   Options
	base   *url.URL
	logger *logging.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	startOnce sync.Once
	startErr  error

	nextID atomic.Int64
	mu     sync.Mutex
	tabs   map[string]tab
}

var _ driver.FormDriver = (*Driver)(nil)

// New prepares a driver. The browser is launched on first use.
func New(opts Options, logger *logging.Logger) (*Driver, error) {
	base, err := parseBaseURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 30 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...), "source", "chromedp")
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Warn(fmt.Sprintf(format, args...), "source", "chromedp")
		}),
	)

	return &Driver{
		opts:          opts,
		base:          base,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabs:          make(map[string]tab),
	}, nil
}

// start launches the browser once.
func (d *Driver) start() error {
	d.startOnce.Do(func() {
		d.startErr = chromedp.Run(d.browserCtx)
		if d.startErr != nil {
			d.logger.Error("failed to launch browser", "error", d.startErr.Error())
		} else {
			d.logger.Info("browser launched", "headless", d.opts.Headless)
		}
	})
	if d.startErr != nil {
		return fmt.Errorf("launch browser: %w", d.startErr)
	}
	return nil
}

// newTab opens a tab. Its first run happens on the tab context itself, so
// later per-call timeouts cancel actions without closing the tab.
func (d *Driver) newTab(ctx context.Context) (tab, error) {
	if err := d.start(); err != nil {
		return tab{}, err
	}
	tctx, cancel := chromedp.NewContext(d.browserCtx)
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tctx)
	stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return tab{}, ctx.Err()
		}
		return tab{}, fmt.Errorf("open tab: %w", err)
	}
	return tab{ctx: tctx, cancel: cancel}, nil
}

// run executes actions in t bounded by ctx.
func run(ctx context.Context, t tab, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (d *Driver) session(s driver.SessionHandle) (tab, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tabs[s.ID]
	if !ok {
		return tab{}, errors.NewNotFoundError("session", s.ID).WithCause(errors.ErrSessionUnavailable)
	}
	return t, nil
}

// AcquireSession implements driver.FormDriver. It opens a tab on the
// target's form and waits for the page to load.
func (d *Driver) AcquireSession(ctx context.Context, targetID string) (driver.SessionHandle, error) {
	t, err := d.newTab(ctx)
	if err != nil {
		return driver.SessionHandle{}, err
	}
	if err := d.open(ctx, t, resolve(d.base, d.opts.FormPath, map[string]string{"target": targetID})); err != nil {
		t.cancel()
		return driver.SessionHandle{}, err
	}

	h := driver.SessionHandle{
		ID:       fmt.Sprintf("tab-%d", d.nextID.Add(1)),
		TargetID: targetID,
	}
	d.mu.Lock()
	d.tabs[h.ID] = t
	d.mu.Unlock()

	d.logger.WithTarget(targetID).Debug("session opened", "session", h.ID)
	return h, nil
}

// ReleaseSession implements driver.FormDriver.
func (d *Driver) ReleaseSession(s driver.SessionHandle) {
	d.mu.Lock()
	t, ok := d.tabs[s.ID]
	delete(d.tabs, s.ID)
	d.mu.Unlock()
	if ok {
		t.cancel()
		d.logger.WithTarget(s.TargetID).Debug("session closed", "session", s.ID)
	}
}

// FillFields implements driver.FormDriver.
func (d *Driver) FillFields(ctx context.Context, s driver.SessionHandle, payloads []driver.Payload) error {
	t, err := d.session(s)
	if err != nil {
		return err
	}
	fields, err := fieldsOf(d.opts.Selectors.Field, payloads)
	if err != nil {
		return err
	}
	for _, f := range fields {
		var found bool
		if err := run(ctx, t, chromedp.Evaluate(fillJS(f.Selector, f.Value), &found)); err != nil {
			return fmt.Errorf("fill %s: %w", f.Selector, err)
		}
		if !found {
			return fmt.Errorf("%w: %s", errors.ErrElementNotFound, f.Selector)
		}
	}
	return nil
}

// Submit implements driver.FormDriver. The step is rejected when the page
// shows validation messages after it settles.
func (d *Driver) Submit(ctx context.Context, s driver.SessionHandle, isLastStep bool) (driver.Result, error) {
	t, err := d.session(s)
	if err != nil {
		return driver.Result{}, err
	}
	sel := d.opts.Selectors.Submit
	if err := d.click(ctx, t, sel, errors.ErrElementNotFound); err != nil {
		return driver.Result{}, err
	}
	if err := d.waitReady(ctx, t, "submit"); err != nil {
		return driver.Result{}, err
	}

	var messages []string
	if d.opts.Selectors.ValidationError != "" {
		if err := run(ctx, t, chromedp.Evaluate(textsJS(d.opts.Selectors.ValidationError), &messages)); err != nil {
			return driver.Result{}, fmt.Errorf("read validation messages: %w", err)
		}
	}
	if len(messages) > 0 {
		d.logger.WithTarget(s.TargetID).Debug("step rejected", "session", s.ID, "last_step", isLastStep, "messages", messages)
	}
	return driver.Result{Accepted: len(messages) == 0, Messages: messages}, nil
}

// Save implements driver.FormDriver. It waits until the page exposes the
// new record's identifier.
func (d *Driver) Save(ctx context.Context, s driver.SessionHandle) (string, error) {
	t, err := d.session(s)
	if err != nil {
		return "", err
	}
	if err := d.click(ctx, t, d.opts.Selectors.Save, errors.ErrSaveButtonNotFound); err != nil {
		return "", err
	}

	var id string
	err = poll.Until(ctx, d.pollOptions("record id"), func(ctx context.Context) (bool, error) {
		if err := run(ctx, t, chromedp.Evaluate(recordIDJS(d.opts.Selectors.ExternalID), &id)); err != nil {
			return false, err
		}
		return id != "", nil
	})
	if err != nil {
		return "", err
	}
	d.logger.WithTarget(s.TargetID).Debug("record saved", "session", s.ID, "external_id", id)
	return id, nil
}

// EditRecord implements driver.FormDriver.
func (d *Driver) EditRecord(ctx context.Context, s driver.SessionHandle, externalID string) error {
	t, err := d.session(s)
	if err != nil {
		return err
	}
	if err := d.open(ctx, t, resolve(d.base, d.opts.EditPath, map[string]string{"id": externalID})); err != nil {
		return err
	}
	var ok bool
	if err := run(ctx, t, chromedp.Evaluate(existsJS(d.opts.Selectors.Submit), &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: edit form for %s has no %s", errors.ErrElementNotFound, externalID, d.opts.Selectors.Submit)
	}
	return nil
}

// Probe implements driver.FormDriver. A record is complete when its page
// shows no incomplete marker.
func (d *Driver) Probe(ctx context.Context, externalID string) (bool, error) {
	t, err := d.newTab(ctx)
	if err != nil {
		return false, err
	}
	defer t.cancel()

	if err := d.open(ctx, t, resolve(d.base, d.opts.ProbePath, map[string]string{"id": externalID})); err != nil {
		return false, err
	}
	var nodes []*cdp.Node
	err = run(ctx, t, chromedp.Nodes(d.opts.Selectors.Incomplete, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", externalID, err)
	}
	return len(nodes) == 0, nil
}

// Close shuts every tab and the browser down.
func (d *Driver) Close() error {
	d.mu.Lock()
	for id, t := range d.tabs {
		t.cancel()
		delete(d.tabs, id)
	}
	d.mu.Unlock()

	d.browserCancel()
	d.allocCancel()
	return nil
}

// open navigates t to u and waits for the page to load.
func (d *Driver) open(ctx context.Context, t tab, u string) error {
	if err := run(ctx, t, chromedp.Navigate(u)); err != nil {
		return fmt.Errorf("navigate to %s: %w", u, err)
	}
	return d.waitReady(ctx, t, "page load")
}

// click presses the control matched by sel, or returns missing if there is
// none.
func (d *Driver) click(ctx context.Context, t tab, sel string, missing error) error {
	var ok bool
	if err := run(ctx, t, chromedp.Evaluate(existsJS(sel), &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", missing, sel)
	}
	if err := run(ctx, t, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

func (d *Driver) waitReady(ctx context.Context, t tab, op string) error {
	return poll.Until(ctx, d.pollOptions(op), func(ctx context.Context) (bool, error) {
		var ready bool
		if err := run(ctx, t, chromedp.Evaluate(readyJS, &ready)); err != nil {
			return false, err
		}
		return ready, nil
	})
}

func (d *Driver) pollOptions(op string) poll.Options {
	opts := d.opts.Poll
	opts.Timeout = d.opts.ReadyTimeout
	opts.Operation = op
	return opts
}
