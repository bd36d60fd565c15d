// Package run drives a single assistant run to a terminal status.
//
// # Lifecycle
//
//	submitted ─► in_progress ─► completed
//	                 │  ▲
//	                 ▼  │
//	          requires_action
//	                 │
//	                 └─► failed | cancelled | expired
//
// Backend status strings are mapped with ParseStatus. Terminal statuses
// reported by the backend are final; the poller never retries them.
//
// # Polling
//
// Between reads the poller sleeps with capped exponential backoff (500ms
// doubling to 5s by default). The whole Drive call is bounded by a timeout
// (90s by default); when it passes, or the caller's context ends, the run is
// treated as expired locally and cancelled on the backend if it implements
// Canceller.
//
// Failed status reads and failed tool submissions are retried within the same
// budget. Wrap an error with Permanent to stop immediately.
//
// # Tool Rounds
//
// On requires_action the pending calls are handed to a ToolResolver. The run
// is resumed only when the results answer every call exactly once; otherwise
// Drive fails with ErrIncompleteToolResults and nothing is submitted.
package run
