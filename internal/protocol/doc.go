// Package protocol implements the client side of the tool protocol against an
// external peer process.
//
// A Client spawns the peer through package subprocess, runs one reader
// goroutine that decodes the peer's stdout, and correlates responses with
// outstanding requests by integer id. Ids come from a strictly increasing
// per-client counter and are never reused, including across restarts.
//
// Every outstanding request is resolved exactly once, by whichever of the
// reader (response), the timer (timeout), the caller's context, or the
// terminator (process exit or Stop) removes its entry from the table first.
//
// Lifecycle:
//
//	NotStarted → Starting → Ready ⇄ Degraded → Terminated
//
// Degraded is entered when the peer writes an unparsable frame; the process
// is kept. Terminated is absorbing: calls fail fast with a
// ProcessTerminatedError until Restart is called.
package protocol
