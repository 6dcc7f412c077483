// Package session owns the lifecycle of the one browser a test run uses:
// launched lazily on first use, configured once, and quit exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/driver/cdp"
	"github.com/devicelab-dev/browser-runner/pkg/driver/playwright"
	"github.com/devicelab-dev/browser-runner/pkg/driver/webdriver"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
)

// Backend names.
const (
	BackendWebDriver  = "webdriver"
	BackendPlaywright = "playwright"
	BackendCDP        = "cdp"
)

// DefaultWebDriverURL is where a standalone driver or grid usually listens.
const DefaultWebDriverURL = "http://127.0.0.1:4444"

// Options configures the browser a Manager launches.
type Options struct {
	Browser      core.BrowserName
	Backend      string // webdriver (default), playwright, cdp
	WebDriverURL string
	DriverBinary string // local driver executable, webdriver backend only
	BrowserPath  string // browser executable, cdp backend only
	Headless     bool
	Args         []string

	// Applied once after launch.
	ImplicitWait time.Duration
	Maximize     bool
	BaseURL      string
}

// Launcher starts a browser for the given options.
type Launcher func(ctx context.Context, opts Options) (core.Browser, error)

var (
	launchersMu sync.RWMutex
	launchers   = map[string]Launcher{
		BackendWebDriver:  launchWebDriver,
		BackendPlaywright: launchPlaywright,
		BackendCDP:        launchCDP,
	}
)

// Register adds or replaces a backend.
func Register(name string, l Launcher) {
	launchersMu.Lock()
	defer launchersMu.Unlock()
	launchers[strings.ToLower(name)] = l
}

// Backends lists the registered backend names.
func Backends() []string {
	launchersMu.RLock()
	defer launchersMu.RUnlock()
	return backendNamesLocked()
}

func lookup(name string) (Launcher, error) {
	if strings.TrimSpace(name) == "" {
		name = BackendWebDriver
	}
	launchersMu.RLock()
	defer launchersMu.RUnlock()
	l, ok := launchers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, core.ErrInvalidConfig.WithMessagef("unknown backend %q (want one of %s)", name, strings.Join(backendNamesLocked(), ", "))
	}
	return l, nil
}

func backendNamesLocked() []string {
	names := make([]string, 0, len(launchers))
	for name := range launchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func launchWebDriver(ctx context.Context, opts Options) (core.Browser, error) {
	url := opts.WebDriverURL
	if url == "" && opts.DriverBinary == "" {
		url = DefaultWebDriverURL
	}
	return webdriver.Open(ctx, webdriver.Config{
		Browser:      opts.Browser,
		Headless:     opts.Headless,
		Args:         opts.Args,
		ServerURL:    url,
		DriverBinary: opts.DriverBinary,
	})
}

func launchPlaywright(_ context.Context, opts Options) (core.Browser, error) {
	return playwright.Launch(playwright.Config{
		Browser:  opts.Browser,
		Headless: opts.Headless,
		Args:     opts.Args,
	})
}

func launchCDP(_ context.Context, opts Options) (core.Browser, error) {
	return cdp.Launch(cdp.Config{
		Browser:  opts.Browser,
		Headless: opts.Headless,
		Args:     opts.Args,
		ExecPath: opts.BrowserPath,
	})
}

// Manager holds at most one live browser. The zero value is not usable;
// use New.
type Manager struct {
	opts Options

	mu      sync.Mutex
	browser core.Browser
	closed  bool
}

// New returns a manager that launches nothing until Browser is called.
func New(opts Options) *Manager {
	if opts.Browser == "" {
		opts.Browser = core.DefaultBrowser
	}
	return &Manager{opts: opts}
}

// Options returns the launch options.
func (m *Manager) Options() Options {
	return m.opts
}

// Browser returns the shared browser, launching and configuring it on the
// first call. Concurrent callers get the same instance.
func (m *Manager) Browser(ctx context.Context) (core.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, core.ErrBrowserUnreachable.WithMessage("session is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	launch, err := lookup(m.opts.Backend)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logger.Info("launching %s via %s backend", m.opts.Browser, backendName(m.opts.Backend))
	b, err := launch(ctx, m.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", m.opts.Browser, err)
	}
	if err := m.prepare(b); err != nil {
		if qerr := b.Quit(); qerr != nil {
			logger.Warn("quit after failed setup: %v", qerr)
		}
		return nil, err
	}
	logger.Info("browser ready in %s", time.Since(start).Round(time.Millisecond))

	m.browser = b
	return b, nil
}

func backendName(name string) string {
	if name == "" {
		return BackendWebDriver
	}
	return name
}

// prepare applies the implicit wait, window size and start page.
func (m *Manager) prepare(b core.Browser) error {
	if err := b.SetImplicitWait(m.opts.ImplicitWait); err != nil {
		return fmt.Errorf("failed to set implicit wait: %w", err)
	}
	if m.opts.Maximize {
		if err := b.MaximizeWindow(); err != nil {
			// Some drivers refuse in headless mode; not fatal.
			logger.Warn("maximize window: %v", err)
		}
	}
	if m.opts.BaseURL != "" {
		if err := b.Navigate(m.opts.BaseURL); err != nil {
			return fmt.Errorf("failed to open %s: %w", m.opts.BaseURL, err)
		}
	}
	return nil
}

// Active reports whether a browser is currently live.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser != nil
}

// Close quits the browser once. A browser that is already gone is logged,
// not reported. Later calls do nothing.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.browser == nil {
		return nil
	}

	b := m.browser
	m.browser = nil
	if err := b.Quit(); err != nil {
		if errors.Is(err, core.ErrBrowserUnreachable) {
			logger.Warn("browser already gone on close: %v", err)
			return nil
		}
		return fmt.Errorf("failed to quit browser: %w", err)
	}
	logger.Info("browser closed")
	return nil
}

// CloseOnSignal closes the session when the process gets SIGINT or SIGTERM,
// or when ctx is done. The returned stop function releases the handler
// without closing.
func (m *Manager) CloseOnSignal(ctx context.Context) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		select {
		case sig := <-sigs:
			logger.Warn("received %s, closing browser", sig)
		case <-ctx.Done():
		case <-done:
			return
		}
		if err := m.Close(); err != nil {
			logger.Error("close on shutdown: %v", err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
			<-finished
		})
	}
}
