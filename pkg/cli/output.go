package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/report"
)

// printReportOutput prints the failure details and the summary table from
// the report files the run wrote.
func printReportOutput(outputDir string, result *core.SuiteResult) error {
	index, details, err := report.ReadReport(outputDir)
	if err != nil {
		return err
	}

	printFailures(outputDir, index, details)
	printSummary(result)
	printBrowserSummary(index)
	return nil
}

// printFailures lists every failed command with its artifacts, so a
// screenshot is one click away from the terminal.
func printFailures(outputDir string, index *report.Index, details []report.FlowDetail) {
	printed := false
	for i, entry := range index.Flows {
		if entry.Status != report.StatusFailed || i >= len(details) {
			continue
		}
		if !printed {
			fmt.Printf("\n%sFailures%s\n", color(colorBold), color(colorReset))
			fmt.Println(strings.Repeat("─", 60))
			printed = true
		}
		fmt.Printf("\n  %s✗%s %s%s%s (%s)\n",
			color(colorRed), color(colorReset),
			color(colorBold), entry.Name, color(colorReset), entry.SourceFile)
		if entry.Error != nil && *entry.Error != "" {
			fmt.Printf("    %s╰─%s %s\n", color(colorGray), color(colorReset), *entry.Error)
		}
		for _, cmd := range details[i].Commands {
			printFailedCommand(outputDir, cmd, 0)
		}
	}
}

func printFailedCommand(outputDir string, cmd report.Command, depth int) {
	if cmd.Status != report.StatusFailed && cmd.Status != report.StatusWarned {
		return
	}
	indent := strings.Repeat("  ", 2+depth)

	description := cmd.Label
	if description == "" {
		description = cmd.Type
	}
	if cmd.Params != nil && cmd.Params.Locator != "" {
		description += " " + cmd.Params.Locator
	}

	symbol, symbolColor := "✗", color(colorRed)
	if cmd.Status == report.StatusWarned {
		symbol, symbolColor = "⚠", color(colorYellow)
	}
	fmt.Printf("%s%s%s%s %s\n", indent, symbolColor, symbol, color(colorReset), description)
	if cmd.Error != nil && cmd.Error.Message != "" {
		fmt.Printf("%s  %s[%s]%s %s\n", indent, color(colorGray), cmd.Error.Type, color(colorReset), cmd.Error.Message)
	}
	for _, path := range []string{cmd.Artifacts.ScreenshotAfter, cmd.Artifacts.PageSource} {
		if path != "" {
			fmt.Printf("%s  %s↳ %s%s\n", indent, color(colorGray), filepath.Join(outputDir, path), color(colorReset))
		}
	}

	for _, sub := range cmd.SubCommands {
		printFailedCommand(outputDir, sub, depth+1)
	}
}

// printBrowserSummary prints what the run ran against.
func printBrowserSummary(index *report.Index) {
	b := index.Browser
	mode := "headed"
	if b.Headless {
		mode = "headless"
	}
	fmt.Printf("\n  Browser: %s via %s (%s)\n", b.Browser, b.Backend, mode)
	if b.BaseURL != "" {
		fmt.Printf("  Base URL: %s\n", b.BaseURL)
	}
	fmt.Printf("  Flows: %d • Passed: %s%d%s • Failed: %s%d%s • Skipped: %d\n",
		index.Summary.Total,
		color(colorGreen), index.Summary.Passed, color(colorReset),
		color(colorRed), index.Summary.Failed, color(colorReset),
		index.Summary.Skipped)
}
