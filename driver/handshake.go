package driver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
)

// ConfigResult is the outcome of a configuration handshake. The zero
// value is only returned together with a non-nil error.
type ConfigResult uint8

const (
	ConfigAcknowledged ConfigResult = iota + 1
	ConfigTimedOut
)

func (r ConfigResult) String() string {
	switch r {
	case ConfigAcknowledged:
		return "acknowledged"
	case ConfigTimedOut:
		return "timed out"
	}
	return "invalid"
}

func (r ConfigResult) Acked() bool { return r == ConfigAcknowledged }

// Configure pushes one configuration payload and waits for the remote
// driver to speak up on the status channel, which counts as the
// acknowledgment: payloads are opaque here so no content match is
// possible. The send is fire-and-forget; expiry of timeout is an
// expected operating condition reported as ConfigTimedOut, not an
// error, and there is no automatic retry.
//
// At most one handshake may be in flight (ErrConfigureBusy otherwise)
// and the handshake claims the status consumer slot for the duration
// of the wait: a concurrent Status().Recv loses the slot race with
// ErrStreamBusy on whichever side comes second.
func (c *Client) Configure(ctx context.Context, payload []byte, timeout time.Duration) (ConfigResult, error) {
	if timeout <= 0 {
		return 0, errors.NotValidf("configure timeout=%v", timeout)
	}
	if !atomic.CompareAndSwapUint32(&c.configuring, 0, 1) {
		return 0, ErrConfigureBusy
	}
	defer atomic.StoreUint32(&c.configuring, 0)
	if !c.alive.Add(1) {
		return 0, ErrClosing
	}
	defer c.alive.Done()
	if !c.status.claim() {
		return 0, ErrStreamBusy
	}
	defer c.status.release()

	// a status message already buffered predates the push and cannot
	// acknowledge it
drain:
	for {
		select {
		case _, ok := <-c.status.out:
			if !ok {
				return 0, ErrClosing
			}
		default:
			break drain
		}
	}

	if err := c.push.Send(ctx, payload); err != nil {
		return 0, errors.Annotate(err, "configure send")
	}
	c.log.Debugf("configure sent bytes=%d timeout=%s", len(payload), timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case _, ok := <-c.status.out:
		if !ok {
			return 0, ErrClosing
		}
		return ConfigAcknowledged, nil

	case <-timer.C:
		return ConfigTimedOut, nil

	case <-ctx.Done():
		return 0, ctx.Err()

	case <-c.alive.StopChan():
		return 0, ErrClosing
	}
}
