// Package subprocess manages a child process reached over piped stdio.
//
// A Process spawns a command with stdin, stdout and stderr pipes, buffers the
// tail of stderr for diagnostics, serializes writes to stdin and guarantees
// that Stop leaves no orphaned child: stdin is closed first, and the process
// is killed if it has not exited within the grace period.
package subprocess
