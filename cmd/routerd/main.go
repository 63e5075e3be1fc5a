// Package main provides the routerd CLI.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "init":
		initCmd(args)
	case "serve":
		serveCmd(args)
	case "reset":
		resetCmd(args)
	case "version":
		fmt.Printf("routerd %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`routerd - multi-tenant chat-bot routing runtime

Usage:
  routerd <command> [options]

Commands:
  init      Create the SQLite database and run migrations
  serve     Run the dispatch loop against a database and service tree
  reset     Delete orphaned service bundles, or rebuild a chat's snapshot
  version   Print version information
  help      Show this help message

Run 'routerd <command> -h' for more information on a command.`)
}
