// Package main is the entry point of the leapcrawl CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/leapcrawl/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
