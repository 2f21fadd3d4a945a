// Command tablefinder answers restaurant questions with tool-using model
// agents, streaming progress and validating rich UI answers.
//
// Usage:
//
//	tablefinder [flags] <command> [args]
//
// Commands:
//
//	ask          - Ask the restaurant agent (with retry)
//	graph        - Ask the search, data, presenter pipeline
//	serve        - Serve the agent over HTTP and WebSocket
//	validate     - Check an answer against the A2UI contract
//	transcripts  - Show recorded attempts
//	version      - Show version information
package main

import (
	"os"

	"github.com/tablefinder/tablefinder/cmd/tablefinder/commands"
	"github.com/tablefinder/tablefinder/pkg/cli"
)

func main() {
	if err := commands.Execute(); err != nil {
		cli.PrintError("%v", err)
		os.Exit(1)
	}
}
