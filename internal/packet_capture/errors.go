package packet_capture

import (
	"github.com/pkg/errors"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is running or paused.
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotRunning is returned by Pause/Resume when there is nothing to toggle.
	ErrNotRunning = errors.New("not running")
	// ErrInterfaceResolution marks a failed own address lookup. Start goes on without it.
	ErrInterfaceResolution = errors.New("interface resolution failed")
	// ErrCaptureSource marks a failure of the underlying capture handle.
	ErrCaptureSource = errors.New("capture source error")
)
