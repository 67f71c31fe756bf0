// Package main provides the entry point for the orcctl operator CLI.
package main

import (
	"os"

	"github.com/randalmurphal/orcd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
