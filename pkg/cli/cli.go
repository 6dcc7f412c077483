// Package cli provides the command-line interface for browser-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/browser-runner/pkg/session"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands. Values set here win over the
// workspace config.yaml.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "browser",
		Aliases: []string{"b"},
		Usage:   "Browser to run (chrome, firefox, edge); unknown names fall back to chrome",
		EnvVars: []string{"BROWSER"},
	},
	&cli.StringFlag{
		Name:    "backend",
		Usage:   "Automation backend (webdriver, playwright, cdp)",
		Value:   session.BackendWebDriver,
		EnvVars: []string{"BROWSER_RUNNER_BACKEND"},
	},
	&cli.StringFlag{
		Name:    "webdriver-url",
		Usage:   "WebDriver server or grid URL (webdriver backend)",
		Value:   session.DefaultWebDriverURL,
		EnvVars: []string{"WEBDRIVER_URL"},
	},
	&cli.StringFlag{
		Name:  "driver-binary",
		Usage: "Start this chromedriver/geckodriver/msedgedriver instead of connecting to --webdriver-url",
	},
	&cli.StringFlag{
		Name:  "browser-path",
		Usage: "Browser executable (cdp backend)",
	},
	&cli.BoolFlag{
		Name:    "headless",
		Usage:   "Run the browser without a window",
		EnvVars: []string{"BROWSER_RUNNER_HEADLESS"},
	},
	&cli.StringFlag{
		Name:    "base-url",
		Usage:   "Page opened after launch; relative flow URLs resolve against it",
		EnvVars: []string{"BASE_URL"},
	},
	&cli.StringFlag{
		Name:  "click-strategy",
		Usage: "How checkboxes and radios are clicked (native, script)",
	},
	&cli.DurationFlag{
		Name:  "long-timeout",
		Usage: "Explicit wait timeout and implicit wait (default 30s)",
	},
	&cli.DurationFlag{
		Name:  "short-timeout",
		Usage: "Timeout for absence checks (default 5s)",
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "Path to workspace config.yaml (default: ./config.yaml when present)",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Also write log lines to stderr",
		EnvVars: []string{"BROWSER_RUNNER_VERBOSE"},
	},
	&cli.StringFlag{
		Name:  "log-file",
		Usage: "Log file (default: <home>/logs/browser-runner.log, or the report directory for test)",
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "browser-runner",
		Usage:   "Browser UI test runner for YAML flows and Gherkin features",
		Version: Version,
		Description: `browser-runner drives a real browser through WebDriver, Playwright or
the Chrome DevTools Protocol. Locators use the strategy=selector form:
xpath=, css=, id=, name=, class=.

Examples:
  browser-runner test flows/
  browser-runner --browser firefox --headless test login.yaml -e USER=ada
  browser-runner --backend playwright bdd features/
  browser-runner validate flows/`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			testCommand,
			bddCommand,
			validateCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
