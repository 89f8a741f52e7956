// Command fundx runs and controls the fund manager daemon.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"fundx/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
