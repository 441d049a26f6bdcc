// Package mitigate acts on positive verdicts: evidence capture, process
// termination, and alert delivery, each independently fault-isolated.
package mitigate

import "context"

// ProcessController abstracts the OS process-control capability.
type ProcessController interface {
	// Alive reports whether a process with the given pid currently exists.
	Alive(pid int) bool
	// Terminate requests a graceful exit and escalates to a forced kill if
	// the process has not exited before ctx expires. A process that is
	// already gone counts as success.
	Terminate(ctx context.Context, pid int) error
}
