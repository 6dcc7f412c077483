package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/browser-runner/pkg/flow"
	"github.com/devicelab-dev/browser-runner/pkg/validator"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check flow files and locators without starting a browser",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Parse every flow, check every locator and follow runFlow references.
All errors are reported at once; the exit code is 1 when any is found.

Examples:
  browser-runner validate flows/
  browser-runner validate login.yaml checkout.yaml --include-tags smoke`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},
	},
	Action: runValidate,
}

func runValidate(c *cli.Context) error {
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

	v, err := validator.New(
		sliceSetting(c, "include-tags", workspace.IncludeTags),
		sliceSetting(c, "exclude-tags", workspace.ExcludeTags),
	).WithPatterns(workspace.Flows)
	if err != nil {
		return err
	}

	var files []string
	var errs []error
	for _, path := range paths {
		result := v.Validate(path)
		files = append(files, result.Files...)
		errs = append(errs, result.Errors...)
	}

	fmt.Printf("\n%sValidate%s\n", color(colorBold), color(colorReset))
	fmt.Println(strings.Repeat("─", 40))
	for _, file := range files {
		// Already parsed by the validator; this only counts steps.
		steps := 0
		if f, err := flow.ParseFile(file); err == nil {
			steps = len(f.Steps)
		}
		fmt.Printf("  %s✓%s %s %s(%d steps)%s\n", color(colorGreen), color(colorReset), file, color(colorGray), steps, color(colorReset))
	}
	for _, err := range errs {
		fmt.Printf("  %s✗%s %v\n", color(colorRed), color(colorReset), err)
	}
	fmt.Println()

	if len(errs) > 0 {
		fmt.Printf("  %s%d error(s)%s in %d flow(s)\n", color(colorRed), len(errs), color(colorReset), len(files))
		return cli.Exit("", 1)
	}
	if len(files) == 0 {
		return fmt.Errorf("no test flows found")
	}
	fmt.Printf("  %s%d flow(s) valid%s\n", color(colorGreen), len(files), color(colorReset))
	return nil
}
