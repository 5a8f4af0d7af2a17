package driver

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/matrix-io/malos-go/log2"
)

const DefaultConfigTimeout = 5 * time.Second

// LoopDriver describes one remote driver managed by a Loop.
type LoopDriver struct {
	Options ClientOptions

	// Config, when set, is pushed once at startup; the handshake result
	// is logged, a timeout is not fatal.
	Config        []byte
	ConfigTimeout time.Duration // default DefaultConfigTimeout

	// HeartbeatWindow > 0 starts the keepalive monitor. Remote silence
	// stops the whole loop cleanly: a driver that stopped answering
	// pings has also stopped sending updates.
	HeartbeatWindow time.Duration

	OnData   func([]byte)
	OnStatus func([]byte)
}

// Loop runs a set of driver clients and delivers their broadcast
// streams to callbacks, for deployments that watch several sensors at
// once. Call Run once; Stop (or ctx cancellation) terminates every
// client.
type Loop struct {
	log   *log2.Log
	alive *alive.Alive

	mu      sync.Mutex
	drivers []LoopDriver
	clients []*Client
}

func NewLoop(log *log2.Log) *Loop {
	return &Loop{
		log:   log,
		alive: alive.NewAlive(),
	}
}

func (lp *Loop) Add(d LoopDriver) {
	lp.mu.Lock()
	lp.drivers = append(lp.drivers, d)
	lp.mu.Unlock()
}

// Stop terminates Run. Safe to call concurrently and more than once.
func (lp *Loop) Stop() { lp.alive.Stop() }

// Run constructs, configures and pumps every added driver, then blocks
// until ctx is cancelled or Stop is called. Construction or heartbeat
// start failure of any driver aborts the whole loop; handshake timeout
// does not. All clients are closed before Run returns.
func (lp *Loop) Run(ctx context.Context) error {
	lp.mu.Lock()
	drivers := make([]LoopDriver, len(lp.drivers))
	copy(drivers, lp.drivers)
	lp.mu.Unlock()
	if len(drivers) == 0 {
		return errors.NotValidf("loop without drivers")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		lp.alive.Stop()
		lp.alive.Wait()
		lp.closeAll()
	}()

	for i := range drivers {
		d := &drivers[i]
		client, err := New(d.Options)
		if err != nil {
			return errors.Annotatef(err, "loop driver=%d", i)
		}
		lp.mu.Lock()
		lp.clients = append(lp.clients, client)
		lp.mu.Unlock()

		if d.Config != nil {
			timeout := d.ConfigTimeout
			if timeout == 0 {
				timeout = DefaultConfigTimeout
			}
			res, err := client.Configure(runCtx, d.Config, timeout)
			if err != nil {
				return errors.Annotatef(err, "loop configure driver=%d", i)
			}
			lp.log.Infof("loop driver=%d configure result=%s", i, res)
		}
		if d.HeartbeatWindow > 0 {
			if err := client.StartHeartbeat(d.HeartbeatWindow); err != nil {
				return errors.Annotatef(err, "loop heartbeat driver=%d", i)
			}
		}

		lp.pumpStream(runCtx, client.Data(), d.OnData)
		lp.pumpStream(runCtx, client.Status(), d.OnStatus)
		lp.watchErrors(runCtx, client, i)
	}

	select {
	case <-runCtx.Done():
	case <-lp.alive.StopChan():
	}
	return nil
}

func (lp *Loop) pumpStream(ctx context.Context, s *Stream, fn func([]byte)) {
	if fn == nil || !lp.alive.Add(1) {
		return
	}
	go func() {
		defer lp.alive.Done()
		for {
			b, err := s.Recv(ctx)
			switch {
			case err == nil:
				fn(b)
			case err == io.EOF || ctx.Err() != nil:
				return
			default:
				lp.log.Errorf("loop stream recv err=%v", err)
				return
			}
		}
	}()
}

func (lp *Loop) watchErrors(ctx context.Context, client *Client, i int) {
	if !lp.alive.Add(1) {
		return
	}
	go func() {
		defer lp.alive.Done()
		for {
			select {
			case e := <-client.Errors():
				lp.log.Errorf("loop driver=%d err=%v", i, e)
				if _, ok := e.(*KeepAliveError); ok {
					lp.alive.Stop()
					return
				}

			case <-ctx.Done():
				return

			case <-lp.alive.StopChan():
				return
			}
		}
	}()
}

func (lp *Loop) closeAll() {
	lp.mu.Lock()
	clients := lp.clients
	lp.clients = nil
	lp.mu.Unlock()
	for _, client := range clients {
		if err := client.Close(); err != nil {
			lp.log.Errorf("loop close err=%v", err)
		}
	}
}
