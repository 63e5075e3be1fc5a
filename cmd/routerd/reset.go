package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chatcore/router"
	"github.com/chatcore/router/snapshot"
	"github.com/chatcore/router/store"
)

// resetCmd deletes service bundles no longer referenced by any live
// snapshot. With -chat set, it instead forces a fresh snapshot rebuild
// for that one chat by deleting its cached snapshot row.
func resetCmd(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	dbPath := fs.String("db", "router.db", "SQLite database path")
	servicesDir := fs.String("services", "./services", "Directory service sources are read from")
	chatID := fs.String("chat", "", "Force a snapshot rebuild for this chat instead of GC")
	dryRun := fs.Bool("dry-run", false, "Report what GC would delete without deleting")

	fs.Usage = func() {
		fmt.Println(`Usage: routerd reset [options]

With no -chat flag, deletes every service bundle no longer referenced by
a live snapshot. Do not run this while a snapshot build may be in flight.

With -chat, drops that chat's cached snapshot so the next dispatch
rebuilds it from the current configuration.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	st, err := store.Open(store.Config{Path: *dbPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}

	if *chatID != "" {
		defer st.Close()

		rec, ok, err := st.GetChatConfig(*chatID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "No configuration found for chat %s\n", *chatID)
			os.Exit(1)
		}
		if err := st.DeleteSnapshot(rec.ConfigHash); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Cleared cached snapshot for chat %s (configHash %s)\n", *chatID, rec.ConfigHash)
		return
	}

	rt, err := router.New(st, router.Options{Source: snapshot.NewFileSource(*servicesDir)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting runtime: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	result, err := rt.GCOrphanBundles(*dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	verb := "Deleted"
	if *dryRun {
		verb = "Would delete"
	}
	fmt.Printf("%s %d orphan bundle(s), kept %d live bundle(s)\n", verb, len(result.Deleted), len(result.Kept))
}
