// Command browser-runner runs YAML flows and Gherkin features against a browser.
package main

import "github.com/devicelab-dev/browser-runner/pkg/cli"

func main() {
	cli.Execute()
}
