// Package driver is a client for MALOS-style remote sensor/actuator
// services. A remote driver exposes four channels: configuration push,
// status/error broadcast, data broadcast and a heartbeat exchange.
// Client owns one connection per channel and is fully self-contained:
// instances share no state and shut down independently.
package driver

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/matrix-io/malos-go/helpers"
	"github.com/matrix-io/malos-go/log2"
	"github.com/matrix-io/malos-go/transport"
)

const errorBacklog = 8

type ClientOptions struct {
	Host     string
	BasePort uint16

	// optional per-channel overrides of the BasePort+offset convention
	ConfigPort    uint16
	HeartbeatPort uint16
	StatusPort    uint16
	DataPort      uint16

	// HeartbeatTick overrides the ping interval, default window/4.
	HeartbeatTick time.Duration

	Dialer      transport.Dialer // default: ZeroMQ binding
	DialTimeout time.Duration
	Log         *log2.Log
}

func (opt *ClientOptions) normalize() error {
	if opt.Host == "" {
		return errors.NotValidf("driver client Host empty")
	}
	if opt.BasePort == 0 && (opt.ConfigPort == 0 || opt.HeartbeatPort == 0 || opt.StatusPort == 0 || opt.DataPort == 0) {
		return errors.NotValidf("driver client BasePort empty")
	}
	if opt.ConfigPort == 0 {
		opt.ConfigPort = opt.BasePort
	}
	if opt.HeartbeatPort == 0 {
		opt.HeartbeatPort = opt.BasePort + 1
	}
	if opt.StatusPort == 0 {
		opt.StatusPort = opt.BasePort + 2
	}
	if opt.DataPort == 0 {
		opt.DataPort = opt.BasePort + 3
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = transport.DefaultDialTimeout
	}
	if opt.Dialer == nil {
		opt.Dialer = transport.NewZmqDialer(transport.ZmqOptions{
			Log:         opt.Log,
			DialTimeout: opt.DialTimeout,
		})
	}
	return nil
}

// Client contract:
// - New() opens the config push and both subscribe endpoints, all or nothing
// - Configure, the heartbeat monitor and both stream consumers are
//   independent activities, none blocks another
// - transport failures are local to one channel and surface on Errors(),
//   there is no automatic reconnect or retry
// - Close() is idempotent, unblocks all consumers, closes endpoints in
//   the fixed order heartbeat -> data -> status -> push
type Client struct {
	opt   ClientOptions
	log   *log2.Log
	alive *alive.Alive

	runCtx    context.Context
	runCancel context.CancelFunc

	push   transport.PushConn
	status *Stream
	data   *Stream

	hbMu sync.Mutex
	hb   *heartbeat

	errch       chan error
	configuring uint32
	closeOnce   sync.Once
	closeErr    error
}

func New(opt ClientOptions) (*Client, error) {
	if err := opt.normalize(); err != nil {
		return nil, err
	}
	c := &Client{
		opt:   opt,
		log:   opt.Log,
		alive: alive.NewAlive(),
		errch: make(chan error, errorBacklog),
	}
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	dialCtx, cancel := context.WithTimeout(c.runCtx, opt.DialTimeout)
	defer cancel()

	var err error
	pushEp := c.endpoint(transport.ChannelConfig, opt.ConfigPort)
	if c.push, err = opt.Dialer.DialPush(dialCtx, pushEp); err != nil {
		c.runCancel()
		return nil, errors.Annotatef(err, "dial %s", pushEp.Channel)
	}
	statusEp := c.endpoint(transport.ChannelStatus, opt.StatusPort)
	statusConn, err := opt.Dialer.DialSub(dialCtx, statusEp)
	if err != nil {
		_ = c.push.Close()
		c.runCancel()
		return nil, errors.Annotatef(err, "dial %s", statusEp.Channel)
	}
	dataEp := c.endpoint(transport.ChannelData, opt.DataPort)
	dataConn, err := opt.Dialer.DialSub(dialCtx, dataEp)
	if err != nil {
		_ = statusConn.Close()
		_ = c.push.Close()
		c.runCancel()
		return nil, errors.Annotatef(err, "dial %s", dataEp.Channel)
	}

	c.status = newStream(transport.ChannelStatus, statusConn, c.log, c.reportErr)
	c.data = newStream(transport.ChannelData, dataConn, c.log, c.reportErr)
	c.alive.Add(2)
	go func() { defer c.alive.Done(); c.status.pump(c.runCtx) }()
	go func() { defer c.alive.Done(); c.data.pump(c.runCtx) }()
	c.log.Debugf("driver client open host=%s config=%d heartbeat=%d status=%d data=%d",
		opt.Host, opt.ConfigPort, opt.HeartbeatPort, opt.StatusPort, opt.DataPort)
	return c, nil
}

func (c *Client) endpoint(ch transport.Channel, port uint16) transport.Endpoint {
	return transport.Endpoint{Host: c.opt.Host, Port: port, Channel: ch}
}

// Status returns the status/error broadcast stream. Single consumer;
// also claimed temporarily by Configure while it waits for
// acknowledgment, do not pull from it during a handshake.
func (c *Client) Status() *Stream { return c.status }

// Data returns the data broadcast stream. Single consumer.
func (c *Client) Data() *Stream { return c.data }

// Errors is the error-observation path: keepalive timeout and
// channel-local transport failures. The client never acts on these
// itself, recovery policy belongs to the caller.
func (c *Client) Errors() <-chan error { return c.errch }

func (c *Client) reportErr(e error) {
	select {
	case c.errch <- e:
	default:
		c.log.Errorf("error backlog full, dropped err=%v", e)
	}
}

// Close stops the heartbeat monitor, unblocks stream consumers with
// io.EOF and closes endpoints in order heartbeat -> data -> status ->
// push. Safe to call more than once; later calls return the first
// result without further effect.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.log.Debugf("driver client closing host=%s", c.opt.Host)
		c.runCancel()
		c.alive.Stop()
		// the heartbeat monitor releases its endpoint before Wait returns
		c.alive.Wait()

		errs := make([]error, 0, 3)
		if err := c.data.conn.Close(); err != nil {
			errs = append(errs, errors.Annotate(err, "close data"))
		}
		if err := c.status.conn.Close(); err != nil {
			errs = append(errs, errors.Annotate(err, "close status"))
		}
		if err := c.push.Close(); err != nil {
			errs = append(errs, errors.Annotate(err, "close config push"))
		}
		c.closeErr = helpers.FoldErrors(errs)
	})
	return c.closeErr
}
