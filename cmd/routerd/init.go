package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chatcore/router/store"
)

// initCmd creates the SQLite database at the given path (or opens it if
// it already exists) and runs any unapplied migrations.
func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dbPath := fs.String("db", "router.db", "SQLite database path")

	fs.Usage = func() {
		fmt.Println(`Usage: routerd init [options]

Create the SQLite database and run migrations. Safe to run against an
existing database: already-applied migrations are skipped.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	st, err := store.Open(store.Config{Path: *dbPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	fmt.Printf("Database ready at %s\n", *dbPath)
}
