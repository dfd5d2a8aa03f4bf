// Package main is the entry point for the slackask MCP server.
package main

import (
	"fmt"
	"os"

	"slackask/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
