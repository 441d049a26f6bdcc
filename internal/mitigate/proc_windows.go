//go:build windows

package mitigate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/windows"
)

// OSController terminates processes through the Win32 process API.
type OSController struct{}

// NewOSController returns the platform process controller.
func NewOSController() *OSController {
	return &OSController{}
}

// Alive reports whether the pid names a running process.
func (c *OSController) Alive(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == 259 // STILL_ACTIVE
}

// Terminate ends the process, waiting up to the ctx deadline for it to
// exit. Windows has no graceful-termination signal for arbitrary
// processes, so TerminateProcess is both the first and the forced path.
func (c *OSController) Terminate(ctx context.Context, pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE|windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return nil // already gone
		}
		return fmt.Errorf("open pid %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)

	if err := windows.TerminateProcess(h, 1); err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) && !c.Alive(pid) {
			return nil
		}
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}

	wait := uint32(windows.INFINITE)
	if dl, ok := ctx.Deadline(); ok {
		remaining := time.Until(dl)
		if remaining < 0 {
			remaining = 0
		}
		wait = uint32(remaining / time.Millisecond)
	}
	ev, err := windows.WaitForSingleObject(h, wait)
	if err != nil {
		return fmt.Errorf("wait on pid %d: %w", pid, err)
	}
	if ev == uint32(windows.WAIT_TIMEOUT) {
		return fmt.Errorf("pid %d did not exit within deadline", pid)
	}
	return nil
}
