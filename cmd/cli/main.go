// Package main is the entry point for jobctl, the command-line client of the
// jobrunner controller.
package main

import (
	"os"

	"jobrunner/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
