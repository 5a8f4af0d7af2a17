package driver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"

	"github.com/matrix-io/malos-go/log2"
	"github.com/matrix-io/malos-go/transport"
)

// StartHeartbeat dials the heartbeat endpoint and spawns the monitor
// in the client's lifetime scope. The monitor pings every tick
// (default window/4) and, once remote silence exceeds window, emits a
// single *KeepAliveError on Errors() and stops; it never restarts on
// its own. Returns ErrHeartbeatRunning while a monitor is active; a
// fresh start is allowed after the previous monitor stopped.
func (c *Client) StartHeartbeat(window time.Duration) error {
	if window <= 0 {
		return errors.NotValidf("heartbeat window=%v", window)
	}
	tick := c.opt.HeartbeatTick
	if tick == 0 {
		tick = window / 4
	}
	if tick >= window {
		return errors.NotValidf("heartbeat tick=%v must be below window=%v", tick, window)
	}

	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	if c.hb != nil && !c.hb.isStopped() {
		return ErrHeartbeatRunning
	}
	if !c.alive.Add(1) {
		return ErrClosing
	}

	ep := c.endpoint(transport.ChannelHeartbeat, c.opt.HeartbeatPort)
	dialCtx, cancel := context.WithTimeout(c.runCtx, c.opt.DialTimeout)
	defer cancel()
	conn, err := c.opt.Dialer.DialReq(dialCtx, ep)
	if err != nil {
		c.alive.Done()
		return errors.Annotatef(err, "dial %s", ep.Channel)
	}

	hb := &heartbeat{
		conn:     conn,
		window:   window,
		tick:     tick,
		lastPong: atomic_clock.New(),
		log:      c.log,
		report:   c.reportErr,
	}
	c.hb = hb
	go func() {
		defer c.alive.Done()
		hb.run(c.runCtx)
	}()
	c.log.Debugf("heartbeat start window=%s tick=%s", window, tick)
	return nil
}

// Heartbeat reports monitor state: time since the last successful
// pong, consecutive misses, and whether the monitor is running.
func (c *Client) Heartbeat() (sincePong time.Duration, misses uint32, running bool) {
	c.hbMu.Lock()
	hb := c.hb
	c.hbMu.Unlock()
	if hb == nil {
		return 0, 0, false
	}
	return atomic_clock.Since(hb.lastPong), atomic.LoadUint32(&hb.misses), !hb.isStopped()
}

// heartbeat exchanges ping/pong over the request-reply endpoint which
// it owns exclusively: run() closes the connection on exit, including
// the fatal silence path, so the endpoint is released the moment the
// monitor stops.
type heartbeat struct {
	conn     transport.ReqConn
	window   time.Duration
	tick     time.Duration
	lastPong *atomic_clock.Clock
	misses   uint32
	stopped  uint32
	log      *log2.Log
	report   func(error)
}

func (hb *heartbeat) isStopped() bool { return atomic.LoadUint32(&hb.stopped) != 0 }

func (hb *heartbeat) run(ctx context.Context) {
	defer atomic.StoreUint32(&hb.stopped, 1)
	defer func() { _ = hb.conn.Close() }()

	// silence is measured from the last pong; before the first pong the
	// monitor start is the reference point
	hb.lastPong.SetNow()

	ticker := time.NewTicker(hb.tick)
	defer ticker.Stop()
	for {
		cycleCtx, cancel := context.WithTimeout(ctx, hb.tick)
		_, err := hb.conn.SendRecv(cycleCtx, nil)
		cancel()
		switch {
		case err == nil:
			hb.lastPong.SetNow()
			atomic.StoreUint32(&hb.misses, 0)

		case ctx.Err() != nil:
			// cancelled from Close, clean stop: a pending round trip is
			// abandoned, not awaited
			return

		default:
			n := atomic.AddUint32(&hb.misses, 1)
			silence := atomic_clock.Since(hb.lastPong)
			hb.log.Debugf("heartbeat miss n=%d silence=%s err=%v", n, silence, err)
			if silence > hb.window {
				hb.report(&KeepAliveError{Silence: silence, Window: hb.window})
				return
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
