package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cucumber/godog"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/browser-runner/pkg/logger"
	"github.com/devicelab-dev/browser-runner/pkg/session"
	"github.com/devicelab-dev/browser-runner/pkg/steps"
)

var bddCommand = &cli.Command{
	Name:      "bdd",
	Usage:     "Run Gherkin features with the built-in step library",
	ArgsUsage: "[feature-file-or-folder]...",
	Description: `Run .feature files through godog. All scenarios share one browser:
it starts before the first scenario and is closed when the suite ends
(or by the "Close application" step, after which the next scenario
starts a new one).

Examples:
  browser-runner bdd
  browser-runner --browser firefox bdd features/facebook.feature
  browser-runner bdd features/ --tags @smoke --format cucumber`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "tags",
			Usage: "Tag expression selecting scenarios (e.g. \"@smoke && ~@wip\")",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "godog formatter (pretty, progress, cucumber, junit)",
			Value: "pretty",
		},
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "Fail on undefined or pending steps",
			Value: true,
		},
		&cli.StringFlag{
			Name:  "app-url",
			Usage: "URL opened by \"Open Facebook application\"",
			Value: steps.DefaultAppURL,
		},
	},
	Action: runBDD,
}

func runBDD(c *cli.Context) error {
	workspace, err := loadWorkspaceConfig(c)
	if err != nil {
		return err
	}
	settings, err := resolveBrowserSettings(c, workspace)
	if err != nil {
		return err
	}

	if err := logger.Init(loggerOptions(c, workspace, "")); err != nil {
		fmt.Printf("Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()

	paths := c.Args().Slice()
	if len(paths) == 0 {
		paths = []string{"features"}
	}
	logger.Info("=== BDD run started: %v ===", paths)

	lib := steps.New(steps.Config{
		NewSession: func() steps.Session {
			return session.New(settings.Session)
		},
		AppURL:      c.String("app-url"),
		PageOptions: settings.PageOptions(),
	})
	defer func() {
		if err := lib.Close(); err != nil {
			logger.Error("Failed to close browser: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		// Closing here unblocks a scenario stuck on a dead browser.
		if err := lib.Close(); err != nil {
			logger.Error("close on shutdown: %v", err)
		}
	}()

	status := godog.TestSuite{
		Name:                 "browser-runner",
		TestSuiteInitializer: lib.InitializeTestSuite,
		ScenarioInitializer:  lib.InitializeScenario,
		Options: &godog.Options{
			Format:         c.String("format"),
			Paths:          paths,
			Tags:           c.String("tags"),
			Strict:         c.Bool("strict"),
			NoColors:       !colorsEnabled,
			Output:         os.Stdout,
			Concurrency:    1,
			DefaultContext: ctx,
		},
	}.Run()

	logger.Info("BDD run finished with status %d", status)
	if status != 0 {
		return cli.Exit("", status)
	}
	return nil
}
