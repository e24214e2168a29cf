// Package main is the entry point for pagectl.
// pagectl is the terminal tool for starting and inspecting generation jobs.
package main

import (
	"os"

	"pagegen/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
