// Package main provides the entry point for the dropwatch daemon.
package main

import (
	"os"

	"github.com/Aman-CERP/dropwatch/cmd/dropwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
