package driver

import (
	"fmt"
	"time"
)

var (
	// ErrClosing marks operations attempted during or after Close().
	ErrClosing = fmt.Errorf("driver client closing")

	// ErrStreamBusy rejects a second concurrent consumer on one stream.
	// The handshake holds the status consumer slot while waiting for
	// acknowledgment, so Configure and Status().Recv exclude each other.
	ErrStreamBusy = fmt.Errorf("stream busy: another consumer is active")

	// ErrConfigureBusy rejects overlapping configuration handshakes.
	ErrConfigureBusy = fmt.Errorf("configure already in flight")

	// ErrHeartbeatRunning rejects StartHeartbeat while the monitor runs.
	ErrHeartbeatRunning = fmt.Errorf("heartbeat already running")
)

// KeepAliveError reports remote silence exceeding the heartbeat window.
// Delivered exactly once through Errors(), after which the monitor is
// stopped. Sibling streams are left open: whether silence is fatal to
// the whole session is the caller's decision.
type KeepAliveError struct {
	Silence time.Duration
	Window  time.Duration
}

func (e *KeepAliveError) Error() string {
	return fmt.Sprintf("keepalive timeout: no pong for %s (window %s)", e.Silence, e.Window)
}
