package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/browser-runner/pkg/config"
	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
	"github.com/devicelab-dev/browser-runner/pkg/page"
	"github.com/devicelab-dev/browser-runner/pkg/session"
)

// BrowserSettings is the resolved browser configuration shared by the
// test and bdd commands.
type BrowserSettings struct {
	Session       session.Options
	ClickStrategy core.ClickStrategy
	LongTimeout   time.Duration
	ShortTimeout  time.Duration
}

// PageOptions returns the facade options for these settings.
func (s *BrowserSettings) PageOptions() []page.Option {
	return []page.Option{
		page.WithLongTimeout(s.LongTimeout),
		page.WithShortTimeout(s.ShortTimeout),
		page.WithClickStrategy(s.ClickStrategy),
	}
}

// Info describes the browser for the report.
func (s *BrowserSettings) Info() core.BrowserInfo {
	backend := s.Session.Backend
	if backend == "" {
		backend = session.BackendWebDriver
	}
	return core.BrowserInfo{
		Browser:  s.Session.Browser,
		Backend:  backend,
		Headless: s.Session.Headless,
		BaseURL:  s.Session.BaseURL,
	}
}

// loadWorkspaceConfig loads --config, or ./config.yaml when present.
func loadWorkspaceConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadFromDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// stringSetting prefers an explicitly set flag (or its env var), then the
// config value, then the flag default.
func stringSetting(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

func durationSetting(c *cli.Context, name string, fromConfig, def time.Duration) time.Duration {
	if c.IsSet(name) {
		return c.Duration(name)
	}
	if fromConfig > 0 {
		return fromConfig
	}
	return def
}

// resolveBrowserSettings merges flags, environment and workspace config.
func resolveBrowserSettings(c *cli.Context, cfg *config.Config) (*BrowserSettings, error) {
	raw := c.String("browser")
	browser, fellBack := core.ResolveBrowserName(raw, cfg.Browser)
	if fellBack {
		requested := raw
		if requested == "" {
			requested = cfg.Browser
		}
		logger.Warn("unknown browser %q, using %s", requested, browser)
		fmt.Fprintf(os.Stderr, "Warning: unknown browser %q, using %s\n", requested, browser)
	}

	strategy, err := core.ParseClickStrategy(stringSetting(c, "click-strategy", cfg.ClickStrategy))
	if err != nil {
		return nil, err
	}

	long := durationSetting(c, "long-timeout", cfg.Timeouts.Long, page.DefaultLongTimeout)
	short := durationSetting(c, "short-timeout", cfg.Timeouts.Short, page.DefaultShortTimeout)
	if long < 0 || short < 0 {
		return nil, core.ErrInvalidConfig.WithMessage("timeouts must not be negative")
	}

	return &BrowserSettings{
		Session: session.Options{
			Browser:      browser,
			Backend:      stringSetting(c, "backend", cfg.Backend),
			WebDriverURL: stringSetting(c, "webdriver-url", cfg.WebDriverURL),
			DriverBinary: stringSetting(c, "driver-binary", cfg.DriverBinary),
			BrowserPath:  c.String("browser-path"),
			Headless:     c.Bool("headless") || cfg.Headless,
			ImplicitWait: long,
			Maximize:     true,
			BaseURL:      stringSetting(c, "base-url", cfg.BaseURL),
		},
		ClickStrategy: strategy,
		LongTimeout:   long,
		ShortTimeout:  short,
	}, nil
}

// loggerOptions resolves the log file: --log-file, then the config's log
// section, then fallback (or the home log file when fallback is empty).
func loggerOptions(c *cli.Context, cfg *config.Config, fallback string) logger.Options {
	logCfg := cfg.Log
	if c.IsSet("log-file") {
		logCfg.File = c.String("log-file")
	} else if logCfg.File == "" {
		logCfg.File = fallback
	}
	return logCfg.Options(c.Bool("verbose"))
}

// mergeEnv layers -e values over the config env.
func mergeEnv(fromConfig map[string]string, flags []string) map[string]string {
	merged := make(map[string]string, len(fromConfig))
	for k, v := range fromConfig {
		merged[k] = v
	}
	for k, v := range parseEnvVars(flags) {
		merged[k] = v
	}
	return merged
}

func sliceSetting(c *cli.Context, name string, fromConfig []string) []string {
	if c.IsSet(name) {
		return c.StringSlice(name)
	}
	return fromConfig
}
