// Package steps binds Gherkin phrases to the page facade. Scenarios share
// one browser session: it is opened by the first scenario's Before hook
// and closed when the suite ends, or earlier by "Close application".
package steps

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/cucumber/godog"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
	"github.com/devicelab-dev/browser-runner/pkg/page"
)

// DefaultAppURL is opened by "Open Facebook application".
const DefaultAppURL = "https://www.facebook.com/"

// Session is the browser lifecycle the library drives. session.Manager
// implements it.
type Session interface {
	Browser(ctx context.Context) (core.Browser, error)
	Close() error
}

// Config configures a Library.
type Config struct {
	// NewSession creates a session when none is live: before the first
	// scenario and after "Close application".
	NewSession func() Session

	AppURL      string
	PageOptions []page.Option
}

// Library holds the state scenarios share.
type Library struct {
	cfg Config

	mu      sync.Mutex
	session Session
	page    *page.Page
}

// New creates a Library.
func New(cfg Config) *Library {
	if cfg.AppURL == "" {
		cfg.AppURL = DefaultAppURL
	}
	return &Library{cfg: cfg}
}

// InitializeTestSuite closes the session after the last scenario.
func (l *Library) InitializeTestSuite(ts *godog.TestSuiteContext) {
	ts.AfterSuite(func() {
		if err := l.Close(); err != nil {
			logger.Error("close browser after suite: %v", err)
		}
	})
}

// InitializeScenario registers the hooks and every step phrase.
func (l *Library) InitializeScenario(sc *godog.ScenarioContext) {
	sc.Before(l.beforeScenario)
	sc.After(l.afterScenario)

	// Facebook login page
	sc.Step(`^Open Facebook application$`, l.openApplication)
	sc.Step(`^Verify email textbox is displayed$`, func() error { return l.verifyDisplayed("id=email") })
	sc.Step(`^Verify password textbox is displayed$`, func() error { return l.verifyDisplayed("id=pass") })
	sc.Step(`^Close application$`, l.closeApplication)

	// Generic phrases; locators use the strategy=selector form.
	sc.Step(`^I open "([^"]*)"$`, l.open)
	sc.Step(`^I click "([^"]*)"$`, l.click)
	sc.Step(`^I type "([^"]*)" into "([^"]*)"$`, l.typeInto)
	sc.Step(`^I select "([^"]*)" from "([^"]*)"$`, l.selectFrom)
	sc.Step(`^I press "([^"]*)" on "([^"]*)"$`, l.pressKey)
	sc.Step(`^I switch to the window titled "([^"]*)"$`, l.switchWindow)
	sc.Step(`^I accept the alert$`, l.acceptAlert)
	sc.Step(`^I dismiss the alert$`, l.dismissAlert)
	sc.Step(`^I wait (\d+) seconds?$`, l.waitSeconds)
	sc.Step(`^"([^"]*)" should be displayed$`, l.verifyDisplayed)
	sc.Step(`^"([^"]*)" should not be displayed$`, l.verifyUndisplayed)
	sc.Step(`^"([^"]*)" should have text "([^"]*)"$`, l.verifyText)
	sc.Step(`^the title should be "([^"]*)"$`, l.verifyTitle)
	sc.Step(`^the alert text should be "([^"]*)"$`, l.verifyAlertText)
}

// Close ends the live session, if any.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Library) closeLocked() error {
	s := l.session
	l.session = nil
	l.page = nil
	if s == nil {
		return nil
	}
	return s.Close()
}

func (l *Library) beforeScenario(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil {
		if l.cfg.NewSession == nil {
			return ctx, core.ErrMissingRequired.WithMessage("no browser session configured")
		}
		l.session = l.cfg.NewSession()
	}
	b, err := l.session.Browser(ctx)
	if err != nil {
		return ctx, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	l.page = page.New(b, l.cfg.PageOptions...)
	logger.Info("scenario started: %s", sc.Name)
	return ctx, nil
}

func (l *Library) afterScenario(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
	if err != nil {
		logger.Warn("scenario failed: %s: %v", sc.Name, err)
	} else {
		logger.Info("scenario passed: %s", sc.Name)
	}
	return ctx, nil
}

// current returns the page of the running scenario.
func (l *Library) current() (*page.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.page == nil {
		return nil, core.ErrBrowserUnreachable.WithMessage("application is closed")
	}
	return l.page, nil
}

func (l *Library) openApplication() error {
	return l.open(l.cfg.AppURL)
}

func (l *Library) closeApplication() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Library) open(url string) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	return p.Open(url)
}

func (l *Library) click(loc string) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	if _, err := p.WaitForClickable(loc); err != nil {
		return err
	}
	return p.Click(loc)
}

func (l *Library) typeInto(text, loc string) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	if _, err := p.WaitForVisible(loc); err != nil {
		return err
	}
	return p.Type(loc, text)
}

func (l *Library) selectFrom(text, loc string) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	return p.SelectByText(loc, text)
}

func (l *Library) pressKey(name, loc string) error {
	key, err := core.ParseKey(name)
	if err != nil {
		return err
	}
	p, err := l.current()
	if err != nil {
		return err
	}
	return p.PressKey(loc, key)
}

func (l *Library) switchWindow(title string) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	return p.SwitchWindowByTitle(title)
}

func (l *Library) acceptAlert() error {
	p, err := l.current()
	if err != nil {
		return err
	}
	return p.AcceptAlert()
}

func (l *Library) dismissAlert() error {
	p, err := l.current()
	if err != nil {
		return err
	}
	return p.DismissAlert()
}

func (l *Library) waitSeconds(raw string) error {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return core.ErrInvalidConfig.WithMessagef("invalid wait %q", raw)
	}
	p, err := l.current()
	if err != nil {
		return err
	}
	p.SleepInSecond(n)
	return nil
}

func (l *Library) verifyDisplayed(loc string) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	displayed, err := p.IsDisplayed(loc)
	if err != nil {
		return err
	}
	if !displayed {
		return core.ErrElementNotVisible.WithMessagef("%s is not displayed", loc)
	}
	return nil
}

func (l *Library) verifyUndisplayed(loc string) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	hidden, err := p.IsUndisplayed(loc)
	if err != nil {
		return err
	}
	if !hidden {
		return core.ErrElementVisible.WithMessagef("%s is displayed", loc)
	}
	return nil
}

func (l *Library) verifyText(loc, want string) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	got, err := p.Text(loc)
	if err != nil {
		return err
	}
	if got != want {
		return core.ErrTextMismatch.WithMessagef("%s has text %q, want %q", loc, got, want)
	}
	return nil
}

func (l *Library) verifyTitle(want string) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	got, err := p.Title()
	if err != nil {
		return err
	}
	if got != want {
		return core.ErrTextMismatch.WithMessagef("title is %q, want %q", got, want)
	}
	return nil
}

func (l *Library) verifyAlertText(want string) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	got, err := p.WaitAlert()
	if err != nil {
		return err
	}
	if got != want {
		return core.ErrTextMismatch.WithMessagef("alert text is %q, want %q", got, want)
	}
	return nil
}
