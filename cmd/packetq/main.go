// Package main is the entry point for the packetq application.
package main

import (
	"os"

	"github.com/jmylchreest/packetq/cmd/packetq/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
