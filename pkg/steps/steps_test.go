package steps

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/driver/mock"
	"github.com/devicelab-dev/browser-runner/pkg/page"
	"github.com/devicelab-dev/browser-runner/pkg/session"
)

const facebookPage = `<html><head><title>Facebook</title></head><body>
<form>
  <input id="email" name="email">
  <input id="pass" name="pass" type="password">
  <button name="login" type="button" data-show="#welcome">Log in</button>
  <button id="forgot" type="button" data-confirm="Reset password?">Forgot?</button>
  <select id="lang"><option>English</option><option>Deutsch</option></select>
</form>
<div id="welcome" hidden>Welcome</div>
<a id="help" data-open-window="https://fb.test/help">Help</a>
</body></html>`

const helpPage = `<html><head><title>Help Center</title></head><body></body></html>`

// fakeSession counts launches and closes of mock browsers.
type fakeSession struct {
	browser *mock.Browser
	closes  int
}

func (s *fakeSession) Browser(context.Context) (core.Browser, error) {
	return s.browser, nil
}

func (s *fakeSession) Close() error {
	s.closes++
	return s.browser.Quit()
}

type sessions struct {
	created []*fakeSession
}

func (s *sessions) new() Session {
	fs := &fakeSession{browser: mock.New(
		mock.WithPage(DefaultAppURL, facebookPage),
		mock.WithPage("https://fb.test/help", helpPage),
	)}
	s.created = append(s.created, fs)
	return fs
}

func fastPage() []page.Option {
	return []page.Option{
		page.WithLongTimeout(200 * time.Millisecond),
		page.WithShortTimeout(10 * time.Millisecond),
		page.WithPollInterval(5 * time.Millisecond),
		page.WithSleep(func(time.Duration) {}),
	}
}

func runSuite(t *testing.T, lib *Library, features string, testingT bool) int {
	t.Helper()
	opts := &godog.Options{
		Format:          "progress",
		Output:          io.Discard,
		Strict:          true,
		FeatureContents: []godog.Feature{{Name: "test.feature", Contents: []byte(features)}},
	}
	if testingT {
		opts.TestingT = t
	}
	return godog.TestSuite{
		Name:                 "steps",
		TestSuiteInitializer: lib.InitializeTestSuite,
		ScenarioInitializer:  lib.InitializeScenario,
		Options:              opts,
	}.Run()
}

func TestLibrary_FacebookFeature(t *testing.T) {
	s := &sessions{}
	lib := New(Config{NewSession: s.new, PageOptions: fastPage()})

	status := godog.TestSuite{
		Name:                 "facebook",
		TestSuiteInitializer: lib.InitializeTestSuite,
		ScenarioInitializer:  lib.InitializeScenario,
		Options: &godog.Options{
			Format:   "progress",
			Output:   io.Discard,
			Strict:   true,
			Paths:    []string{"../../features/facebook.feature"},
			TestingT: t,
		},
	}.Run()

	require.Equal(t, 0, status)
	// The first scenario closes the application, so the second gets a new browser.
	require.Len(t, s.created, 2)
	assert.Equal(t, 1, s.created[0].closes)
	assert.Equal(t, 1, s.created[1].closes, "closed once after the suite")
	assert.True(t, s.created[1].browser.Closed())
}

func TestLibrary_SharesSessionAcrossScenarios(t *testing.T) {
	s := &sessions{}
	lib := New(Config{NewSession: s.new, PageOptions: fastPage()})

	status := runSuite(t, lib, `
Feature: shared browser
  Scenario: first
    Given I open "https://www.facebook.com/"
    Then the title should be "Facebook"

  Scenario: second
    Given Open Facebook application
    When I click "name=login"
    Then "id=welcome" should have text "Welcome"
`, true)

	require.Equal(t, 0, status)
	assert.Len(t, s.created, 1)
}

func TestLibrary_GenericSteps(t *testing.T) {
	s := &sessions{}
	lib := New(Config{NewSession: s.new, PageOptions: fastPage()})

	status := runSuite(t, lib, `
Feature: generic steps
  Scenario: forms, dialogs and windows
    Given Open Facebook application
    Then "id=welcome" should not be displayed
    When I type "ada@example.com" into "id=email"
    And I press "Enter" on "id=email"
    And I select "Deutsch" from "id=lang"
    And I click "id=forgot"
    Then the alert text should be "Reset password?"
    When I dismiss the alert
    And I click "id=help"
    And I switch to the window titled "Help Center"
    Then the title should be "Help Center"
    And I wait 0 seconds
`, true)

	require.Equal(t, 0, status)
	b := s.created[0].browser
	assert.Equal(t, []string{"dismissed:Reset password?"}, b.AlertLog())
	assert.Equal(t, []string{"Enter@#email"}, b.Keys())
}

func TestLibrary_FailingAssertion(t *testing.T) {
	s := &sessions{}
	lib := New(Config{NewSession: s.new, PageOptions: fastPage()})

	status := runSuite(t, lib, `
Feature: failing
  Scenario: hidden element
    Given Open Facebook application
    Then "id=welcome" should be displayed
`, false)

	assert.NotEqual(t, 0, status)
	require.Len(t, s.created, 1)
	assert.True(t, s.created[0].browser.Closed(), "session closed even when a scenario fails")
}

func TestLibrary_UndefinedStepFailsStrict(t *testing.T) {
	s := &sessions{}
	lib := New(Config{NewSession: s.new, PageOptions: fastPage()})

	status := runSuite(t, lib, `
Feature: undefined
  Scenario: typo
    Given I teleport to "somewhere"
`, false)

	assert.NotEqual(t, 0, status)
}

func TestLibrary_NoSession(t *testing.T) {
	lib := New(Config{PageOptions: fastPage()})

	status := runSuite(t, lib, `
Feature: no session
  Scenario: cannot start
    Given Open Facebook application
`, false)

	assert.NotEqual(t, 0, status)
}

func TestLibrary_WithSessionManager(t *testing.T) {
	var launched []*mock.Browser
	session.Register("steps-mock", func(ctx context.Context, o session.Options) (core.Browser, error) {
		b := mock.New(mock.WithPage(DefaultAppURL, facebookPage))
		launched = append(launched, b)
		return b, nil
	})

	lib := New(Config{
		NewSession: func() Session {
			return session.New(session.Options{Backend: "steps-mock", BaseURL: DefaultAppURL, Maximize: true})
		},
		PageOptions: fastPage(),
	})

	status := runSuite(t, lib, `
Feature: base url
  Scenario: start page is the base url
    Then Verify email textbox is displayed
`, true)

	require.Equal(t, 0, status)
	require.Len(t, launched, 1)
	assert.True(t, launched[0].Maximized())
	assert.True(t, launched[0].Closed())
}

func TestLibrary_StepsAfterCloseFail(t *testing.T) {
	s := &sessions{}
	lib := New(Config{NewSession: s.new, PageOptions: fastPage()})

	status := runSuite(t, lib, `
Feature: closed
  Scenario: use after close
    Given Open Facebook application
    And Close application
    Then Verify email textbox is displayed
`, false)

	assert.NotEqual(t, 0, status)
	assert.NoError(t, lib.Close())
}
