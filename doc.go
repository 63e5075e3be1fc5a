// Package router provides a multi-tenant chat-bot routing runtime.
//
// Each chat (tenant) selects a configuration listing a set of services. A
// service is a self-contained unit of program code implementing one of
// three kinds: a single-command responder, a multi-step command-flow with
// per-user state, or a listener observing every message. The runtime
// receives chat events (commands, inline-button callbacks, free messages),
// routes each event to the correct service(s) for that chat, executes the
// service's code in an isolated sandbox process with no filesystem/network/
// environment ambient authority, applies the service's structured response,
// and enforces time-to-live expiration on produced bot messages so
// conversations self-clean.
//
// # Subsystems
//
//   - store: SQLite-backed chat-config rows, routing snapshots keyed by
//     configuration hash, content-addressed service bundles, and a
//     migration framework.
//   - snapshot: compiles a chat's configuration document into an executable
//     routing table, bundling each service's source with the SDK runtime
//     and caching the result by content hash.
//   - sdk: the wire contract services are written against — event records
//     in, response records out.
//   - dispatch: resolves an incoming event to one or more routes, invokes
//     the sandbox host, and merges the resulting state directive back.
//   - sandbox: launches one isolated child process per service invocation,
//     streams the payload in, reads the response out, and enforces a
//     wall-clock timeout.
//   - state: ephemeral per-(chat,user,service) flow state plus
//     per-(chat,user) active-flow session tracking with TTL.
//   - ttlreaper: durable best-effort scheduling of bot-message deletions
//     across restarts.
//
// # Quick start
//
//	st, err := store.Open(store.Config{Path: ":memory:"})
//	rt, err := router.New(st, router.Options{Source: mySourceReader})
//	defer rt.Close()
//
//	resp, err := rt.Dispatch(ctx, dispatch.Event{
//	    Kind:    sdk.EventKindCommand,
//	    Command: "hello",
//	    ChatID:  "1",
//	    UserID:  "2",
//	})
//
// # Thread safety
//
// Runtime is safe for concurrent use across chats: each sandbox invocation
// is an isolated child process, and the in-memory maps in state are
// serialized by a mutex per map. Within a single (chatID, userID), the
// caller is responsible for serializing events (see dispatch's ordering
// guarantees).
package router
