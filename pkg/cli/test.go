package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/browser-runner/pkg/config"
	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/executor"
	"github.com/devicelab-dev/browser-runner/pkg/flow"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
	"github.com/devicelab-dev/browser-runner/pkg/report"
	"github.com/devicelab-dev/browser-runner/pkg/session"
	"github.com/devicelab-dev/browser-runner/pkg/validator"
)

var testCommand = &cli.Command{
	Name:      "test",
	Usage:     "Run YAML flows in a browser",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Run one or more flow files against one shared browser.

Reports are generated in the output directory:
  - Default: <home>/reports/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

Without arguments the current directory is scanned using the flows
patterns of config.yaml.

Examples:
  browser-runner test login.yaml
  browser-runner test flows/ -e USER=ada -e PASS=secret
  browser-runner test flows/ --include-tags smoke --exclude-tags wip
  browser-runner --browser firefox --headless test flows/ --output ./out --flatten`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Variables available to flows (KEY=VALUE)",
		},
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports (default: <home>/reports)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},
		&cli.BoolFlag{
			Name:  "stop-on-fail",
			Usage: "Skip the remaining flows after the first failure",
		},
	},
	Action: runTest,
}

// RunConfig holds the resolved settings of one test run.
type RunConfig struct {
	// Paths
	FlowPaths []string
	Patterns  []string // config.yaml flows globs, applied to directory scans

	// Environment
	Env map[string]string

	// Filtering
	IncludeTags []string
	ExcludeTags []string

	// Output
	OutputDir  string // Final resolved output directory
	StopOnFail bool

	Browser *BrowserSettings
	Log     logger.Options
}

func runTest(c *cli.Context) error {
	workspace, err := loadWorkspaceConfig(c)
	if err != nil {
		return err
	}

	paths := c.Args().Slice()
	if len(paths) == 0 {
		if len(workspace.Flows) == 0 {
			return fmt.Errorf("at least one flow file or folder is required")
		}
		paths = []string{"."}
	}

	outputDir, err := resolveOutputDir(c.String("output"), c.Bool("flatten"))
	if err != nil {
		return err
	}

	settings, err := resolveBrowserSettings(c, workspace)
	if err != nil {
		return err
	}

	cfg := &RunConfig{
		FlowPaths:   paths,
		Patterns:    workspace.Flows,
		Env:         mergeEnv(workspace.Env, c.StringSlice("env")),
		IncludeTags: sliceSetting(c, "include-tags", workspace.IncludeTags),
		ExcludeTags: sliceSetting(c, "exclude-tags", workspace.ExcludeTags),
		OutputDir:   outputDir,
		StopOnFail:  c.Bool("stop-on-fail"),
		Browser:     settings,
		Log:         loggerOptions(c, workspace, filepath.Join(outputDir, "browser-runner.log")),
	}
	return executeTest(cfg, workspace.ArtifactConfig())
}

// resolveOutputDir determines the output directory based on flags.
// - No --output: <home>/reports/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = config.GetReportsDir()
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

func executeTest(cfg *RunConfig, artifacts core.ArtifactConfig) error {
	// 1. Create output directory
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// 2. Initialize logging
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Printf("Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()

	logger.Info("=== Test execution started ===")
	logger.Info("Output directory: %s", cfg.OutputDir)
	logger.Info("Browser: %s via %s", cfg.Browser.Session.Browser, cfg.Browser.Info().Backend)

	// 3. Validate and parse flows before any browser starts
	flows, err := validateAndParseFlows(cfg)
	if err != nil {
		logger.Error("Flow validation failed: %v", err)
		return err
	}
	logger.Info("Validated %d flow(s)", len(flows))

	// 4. One browser for the whole run, closed on exit or Ctrl+C
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := session.New(cfg.Browser.Session)
	stop := mgr.CloseOnSignal(ctx)
	defer func() {
		stop()
		if err := mgr.Close(); err != nil {
			logger.Error("Failed to close browser: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: failed to close browser: %v\n", err)
		}
	}()

	// 5. Execute flows
	runner := executor.New(mgr, executor.RunnerConfig{
		OutputDir:      cfg.OutputDir,
		StopOnFail:     cfg.StopOnFail,
		Artifacts:      artifacts,
		Env:            cfg.Env,
		Browser:        cfg.Browser.Info(),
		CI:             detectCI(),
		RunnerVersion:  Version,
		PageOptions:    cfg.Browser.PageOptions(),
		OnFlowStart:    onFlowStart,
		OnStepComplete: onStepComplete,
		OnNestedStep:   onNestedStep,
		OnFlowEnd:      onFlowEnd,
	})
	result, err := runner.Run(ctx, flows)
	if err != nil {
		logger.Error("Flow execution failed: %v", err)
		return err
	}

	// 6. Print results from the report files
	if err := printReportOutput(cfg.OutputDir, result); err != nil {
		fmt.Printf("Warning: Failed to print report output: %v\n", err)
		printSummary(result)
	}

	fmt.Println()
	fmt.Println("  Report:")
	fmt.Printf("    JSON:   %s\n", filepath.Join(cfg.OutputDir, "report.json"))
	fmt.Println()

	if !result.Success() {
		return cli.Exit("", 1)
	}
	return nil
}

// validateAndParseFlows validates and parses all flow files.
func validateAndParseFlows(cfg *RunConfig) ([]flow.Flow, error) {
	v, err := validator.New(cfg.IncludeTags, cfg.ExcludeTags).WithPatterns(cfg.Patterns)
	if err != nil {
		return nil, err
	}

	var files []string
	var allErrors []error
	for _, path := range cfg.FlowPaths {
		result := v.Validate(path)
		files = append(files, result.Files...)
		allErrors = append(allErrors, result.Errors...)
	}

	if len(allErrors) > 0 {
		fmt.Fprintf(os.Stderr, "Validation errors:\n")
		for _, err := range allErrors {
			fmt.Fprintf(os.Stderr, "  - %v\n", err)
		}
		return nil, fmt.Errorf("validation failed with %d error(s)", len(allErrors))
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no test flows found")
	}

	fmt.Printf("\n%sSetup%s\n", color(colorBold), color(colorReset))
	fmt.Println(strings.Repeat("─", 40))
	fmt.Printf("  %s✓%s Found %d test flow(s)\n", color(colorGreen), color(colorReset), len(files))
	fmt.Printf("  %s✓%s Browser: %s (%s)\n", color(colorGreen), color(colorReset),
		cfg.Browser.Session.Browser, cfg.Browser.Info().Backend)

	flows := make([]flow.Flow, 0, len(files))
	for _, path := range files {
		f, err := flow.ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		flows = append(flows, *f)
	}
	return flows, nil
}

// detectCI reads build information from well-known CI environment variables.
func detectCI() *report.CI {
	switch {
	case os.Getenv("GITHUB_ACTIONS") == "true":
		ci := &report.CI{
			Provider: "github",
			BuildID:  os.Getenv("GITHUB_RUN_ID"),
			Branch:   os.Getenv("GITHUB_REF_NAME"),
			Commit:   os.Getenv("GITHUB_SHA"),
		}
		if server, repo := os.Getenv("GITHUB_SERVER_URL"), os.Getenv("GITHUB_REPOSITORY"); server != "" && repo != "" && ci.BuildID != "" {
			ci.BuildURL = fmt.Sprintf("%s/%s/actions/runs/%s", server, repo, ci.BuildID)
		}
		return ci
	case os.Getenv("GITLAB_CI") == "true":
		return &report.CI{
			Provider: "gitlab",
			BuildID:  os.Getenv("CI_PIPELINE_ID"),
			BuildURL: os.Getenv("CI_PIPELINE_URL"),
			Branch:   os.Getenv("CI_COMMIT_REF_NAME"),
			Commit:   os.Getenv("CI_COMMIT_SHA"),
		}
	case os.Getenv("JENKINS_URL") != "":
		return &report.CI{
			Provider: "jenkins",
			BuildID:  os.Getenv("BUILD_NUMBER"),
			BuildURL: os.Getenv("BUILD_URL"),
			Branch:   os.Getenv("GIT_BRANCH"),
			Commit:   os.Getenv("GIT_COMMIT"),
		}
	}
	return nil
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Steps slower than this are flagged
const slowThreshold = 5 * time.Second

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// Live progress callbacks

func onFlowStart(flowIdx, totalFlows int, name, file string) {
	fmt.Printf("\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), flowIdx+1, totalFlows, color(colorReset),
		color(colorBold), name, color(colorReset), file)
	fmt.Println(strings.Repeat("─", 60))
}

func onStepComplete(_ int, desc string, status core.StepStatus, duration time.Duration, errMsg string) {
	printStep("    ", desc, status, duration, errMsg, isCompoundStep(desc))
}

func onNestedStep(depth int, desc string, status core.StepStatus, duration time.Duration, errMsg string) {
	printStep(strings.Repeat("  ", 2+depth+1), desc, status, duration, errMsg, false)
}

// printStep prints one step line; compound steps are never flagged slow.
func printStep(indent, desc string, status core.StepStatus, duration time.Duration, errMsg string, compound bool) {
	durStr := formatDuration(duration)
	switch status {
	case core.StatusPassed:
		symbol, symbolColor, durColor := "✓", color(colorGreen), ""
		if duration >= slowThreshold && !compound {
			symbol, symbolColor, durColor = "⚠", color(colorYellow), color(colorYellow)
		}
		fmt.Printf("%s%s%s%s %s %s(%s)%s\n",
			indent, symbolColor, symbol, color(colorReset), desc, durColor, durStr, color(colorReset))
	case core.StatusWarned:
		fmt.Printf("%s%s⚠%s %s (%s)\n", indent, color(colorYellow), color(colorReset), desc, durStr)
		if errMsg != "" {
			fmt.Printf("%s  %s╰─%s %s\n", indent, color(colorGray), color(colorReset), errMsg)
		}
	case core.StatusSkipped:
		fmt.Printf("%s%s-%s %s\n", indent, color(colorCyan), color(colorReset), desc)
	default:
		fmt.Printf("%s%s✗%s %s (%s)\n", indent, color(colorRed), color(colorReset), desc, durStr)
		if errMsg != "" {
			fmt.Printf("%s  %s╰─%s %s\n", indent, color(colorGray), color(colorReset), errMsg)
		}
	}
}

func isCompoundStep(desc string) bool {
	return strings.HasPrefix(desc, "runFlow") || strings.HasPrefix(desc, "repeat")
}

func onFlowEnd(result *core.FlowResult) {
	symbol, symbolColor := "✓", color(colorGreen)
	switch result.Status {
	case core.StatusFailed, core.StatusErrored:
		symbol, symbolColor = "✗", color(colorRed)
	case core.StatusSkipped:
		symbol, symbolColor = "-", color(colorCyan)
	case core.StatusWarned:
		symbol, symbolColor = "⚠", color(colorYellow)
	}
	fmt.Printf("%s%s %s%s %s%s%s\n",
		symbolColor, symbol, color(colorReset), result.Name,
		color(colorGray), formatDuration(result.Duration), color(colorReset))
	if result.Error != "" && !result.Status.IsSuccess() {
		fmt.Printf("  %s╰─%s %s\n", color(colorGray), color(colorReset), result.Error)
	}
}

// statusLabel renders a flow status for the summary table.
func statusLabel(s core.StepStatus) (string, string) {
	switch s {
	case core.StatusFailed, core.StatusErrored:
		return "✗ FAIL", color(colorRed)
	case core.StatusSkipped:
		return "- SKIP", color(colorCyan)
	case core.StatusWarned:
		return "⚠ WARN", color(colorYellow)
	default:
		return "✓ PASS", color(colorGreen)
	}
}

func printSummary(result *core.SuiteResult) {
	totalSteps, passedSteps, failedSteps, skippedSteps := 0, 0, 0, 0
	for _, fr := range result.Flows {
		totalSteps += fr.TotalSteps
		passedSteps += fr.PassedSteps + fr.WarnedSteps
		failedSteps += fr.FailedSteps
		skippedSteps += fr.SkippedSteps
	}

	fmt.Println()
	if passedSteps > 0 {
		fmt.Printf("  %s%d steps passing%s (%s)\n", color(colorGreen), passedSteps, color(colorReset), formatDuration(result.Duration))
	}
	if failedSteps > 0 {
		fmt.Printf("  %s%d steps failing%s\n", color(colorRed), failedSteps, color(colorReset))
	}
	if skippedSteps > 0 {
		fmt.Printf("  %s%d steps skipped%s\n", color(colorCyan), skippedSteps, color(colorReset))
	}
	fmt.Println()

	tableWidth := 92
	fmt.Println(strings.Repeat("═", tableWidth))
	fmt.Printf("  %-42s %6s %7s %6s %6s %6s %10s\n", "Flow", "Status", "Steps", "Pass", "Fail", "Skip", "Duration")
	fmt.Println(strings.Repeat("─", tableWidth))

	for _, fr := range result.Flows {
		status, statusColor := statusLabel(fr.Status)
		fmt.Printf("  %-42s %s%6s%s %7d %6d %6d %6d %10s\n",
			truncate(fr.Name, 42), statusColor, status, color(colorReset),
			fr.TotalSteps, fr.PassedSteps+fr.WarnedSteps, fr.FailedSteps, fr.SkippedSteps,
			formatDuration(fr.Duration))
	}

	fmt.Println(strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.PassedFlows, result.TotalFlows)
	statusColor := color(colorGreen)
	if result.FailedFlows > 0 {
		statusColor = color(colorRed)
	}
	fmt.Printf("  %s%-42s%s %s%6s%s %7d %6d %6d %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		totalSteps, passedSteps, failedSteps, skippedSteps,
		formatDuration(result.Duration))
	fmt.Println(strings.Repeat("═", tableWidth))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// formatDuration shows milliseconds below 1s, seconds below a minute,
// minutes and seconds otherwise.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
