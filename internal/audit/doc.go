// Package audit writes the tool invocation journal.
//
// Every invocation attempt, local or forwarded to a peer, produces exactly one
// Record appended as a JSON line. The journal owns its file for the lifetime
// of the process; write failures are reported to a diagnostic logger and never
// reach the caller of the tool.
package audit
