package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatcore/router"
	"github.com/chatcore/router/dispatch"
	"github.com/chatcore/router/snapshot"
	"github.com/chatcore/router/store"
)

// serveCmd runs the dispatch loop: each line of stdin is a JSON-encoded
// dispatch.Event, each line of stdout the resulting sdk.Response. Nothing
// is written for an event that matched no route or whose dispatch failed
// (the failure is logged instead). This is the minimal adapter
// surface a platform-specific bot process (Telegram, Discord, ...) drives
// over a pipe; a real deployment would replace stdin/stdout with that
// platform's webhook or long-poll loop.
func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", "router.db", "SQLite database path")
	servicesDir := fs.String("services", "./services", "Directory service sources are read from")
	sandboxImage := fs.String("sandbox-image", "", "Override the default sandbox container image")
	reapSchedule := fs.String("reap-schedule", "@every 1m", "Cron schedule for the TTL sweep, empty to disable")
	flowSweepSchedule := fs.String("flow-sweep-schedule", "@every 1m", "Cron schedule for the active-flow sweep, empty to disable")

	fs.Usage = func() {
		fmt.Println(`Usage: routerd serve [options]

Run the dispatch loop, reading events from stdin and writing responses to
stdout, one JSON object per line.

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

	rt, err := router.New(st, router.Options{
		Source:            snapshot.NewFileSource(*servicesDir),
		SandboxImage:      *sandboxImage,
		ReapSchedule:      *reapSchedule,
		FlowSweepSchedule: *flowSweepSchedule,
	})
	if err != nil {
		st.Close()
		fmt.Fprintf(os.Stderr, "Error starting runtime: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("routerd: serving", "db", *dbPath, "services", *servicesDir)
	runLoop(ctx, rt)
	slog.Info("routerd: shutting down")
}

func runLoop(ctx context.Context, rt *router.Runtime) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	enc := json.NewEncoder(os.Stdout)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			var ev dispatch.Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				slog.Warn("routerd: malformed event", "error", err)
				continue
			}

			resp, err := rt.Dispatch(ctx, ev)
			if err != nil {
				slog.Warn("routerd: dispatch failed", "chatId", ev.ChatID, "error", err)
				continue
			}
			if resp == nil {
				continue
			}
			if err := enc.Encode(resp); err != nil {
				slog.Warn("routerd: failed to write response", "error", err)
			}
		}
	}
}
