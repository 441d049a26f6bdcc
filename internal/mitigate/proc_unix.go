//go:build linux || darwin

package mitigate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// OSController terminates processes through kill(2).
type OSController struct{}

// NewOSController returns the platform process controller.
func NewOSController() *OSController {
	return &OSController{}
}

// Alive probes the pid with signal 0. EPERM means the process exists but
// belongs to another user, which still counts as alive.
func (c *OSController) Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

// Terminate sends SIGTERM, polls for exit until ctx expires, then
// escalates to SIGKILL. ESRCH at any step means the process is already
// gone and is treated as success.
func (c *OSController) Terminate(ctx context.Context, pid int) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				return fmt.Errorf("force-kill pid %d: %w", pid, err)
			}
			return nil
		case <-ticker.C:
			if !c.Alive(pid) {
				return nil
			}
		}
	}
}
