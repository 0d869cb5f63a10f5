// Package coordinator implements the coordination core of the chapter relay:
// it tracks connected clients and their roles, keeps the translation queue
// with at most one task in flight, and routes messages between the control
// application and the worker.
//
// # Overview
//
// Exactly two roles matter. The control app (the desktop application) asks
// for chapters to be translated and receives status. The worker (the browser
// extension) receives one chapter at a time and reports completion or
// failure. Any number of other connections may exist; they receive
// broadcasts and may exchange targeted messages.
//
// # Architecture
//
//	┌─────────────────────────────────────────┐
//	│              COORDINATOR                │
//	│        (single event-loop goroutine)    │
//	├─────────────────────────────────────────┤
//	│  ┌───────────────────────────────────┐  │
//	│  │  Relay (message router)           │  │
//	│  │  - decode → exhaustive switch     │  │
//	│  │  - broadcast / targeted / none    │  │
//	│  └───────────────────────────────────┘  │
//	│  ┌───────────────┐  ┌────────────────┐  │
//	│  │ Registry      │  │ WorkQueue      │  │
//	│  │ - connections │  │ - FIFO backlog │  │
//	│  │ - worker slot │  │ - in-flight    │  │
//	│  │ - control slot│  │ - dedup by key │  │
//	│  └───────────────┘  └────────────────┘  │
//	│  ┌───────────────────────────────────┐  │
//	│  │  HeartbeatMonitor                 │  │
//	│  │  - ticker → Sweep on the loop     │  │
//	│  └───────────────────────────────────┘  │
//	└─────────────────────────────────────────┘
//
// # Core Components
//
// Registry: one entry per live connection
//   - Assigns nothing itself; ids come from the Coordinator (UUIDs)
//   - Direct-lookup slots for the current worker and control app
//   - Identifying a new worker removes every previous worker
//
// WorkQueue: admission control
//   - A work key (chapter source URL) is queued or in flight at most once
//   - One item in flight, bound to the connection it was sent to
//   - Failed and released items go back to the front
//
// Relay: routing table
//   - identify            → Registry.Identify, then Dispatch for workers
//   - start_translation   → WorkQueue.Enqueue, then Dispatch
//   - start_bulk_scrape   → forwarded to the worker, or worker_offline
//   - translation_complete→ WorkQueue.Complete, broadcast, Dispatch
//   - translation_failed  → WorkQueue.Fail, notify control app, Dispatch after backoff
//   - sync_pending_chapters → reset_pending_status for untracked chapters
//   - direct-message, cancel-task → target connection only
//   - anything else       → broadcast verbatim
//
// HeartbeatMonitor: liveness
//   - Every interval, connections that did not answer the last probe are
//     closed; the rest are probed again
//
// # Failure Handling
//
// Worker failure: the item returns to the front of the queue and dispatch is
// held for RetryBackoff, so an unhealthy worker is not hammered.
//
// Worker disconnect: the in-flight item returns to the front of the queue.
// A worker that crashes mid-chapter does not leave the queue stuck.
//
// Stale reports: completion and failure are accepted only from the
// connection the item was dispatched to. Reports from an evicted worker are
// logged and ignored.
//
// Drift after restart: the queue lives in memory. A restarted control app
// sends sync_pending_chapters and is told which chapters to reset.
//
// # Concurrency and Synchronization
//
// The Relay, Registry and WorkQueue hold no locks. The Coordinator owns them
// and runs every mutation on one goroutine; transport goroutines and timers
// communicate by posting closures. Tests drive a Relay directly with a fake
// Scheduler, or a Coordinator with clockwork's fake clock.
//
// # Configuration
//
//	HeartbeatInterval: 10s   // Probe period; one missed round evicts
//	RetryBackoff:      5s    // Hold before retrying a failed chapter
//	EventBuffer:       256   // Event channel capacity
//
// # Usage Example
//
//	coord := coordinator.New(coordinator.DefaultConfig(), clockwork.NewRealClock(), logger)
//	go coord.Run(ctx)
//
//	// per accepted WebSocket
//	id := coord.Connect(peer)
//	for frame := range frames {
//	    coord.Deliver(id, frame)
//	}
//	coord.Disconnect(id, "Normal closure")
//
// # See Also
//
//   - internal/protocol: envelope and message types
//   - internal/transport: WebSocket peers feeding the coordinator
package coordinator
