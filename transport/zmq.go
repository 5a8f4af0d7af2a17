package transport

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/juju/errors"

	"github.com/matrix-io/malos-go/helpers"
	"github.com/matrix-io/malos-go/log2"
)

// ZeroMQ binding, the canonical MALOS wire: config over PUSH, status
// and data over SUB, heartbeat over REQ.
type ZmqOptions struct {
	Log         *log2.Log
	DialTimeout time.Duration
}

type zmqDialer struct {
	opt ZmqOptions
}

func NewZmqDialer(opt ZmqOptions) Dialer {
	if opt.DialTimeout == 0 {
		opt.DialTimeout = DefaultDialTimeout
	}
	return &zmqDialer{opt: opt}
}

func (d *zmqDialer) sockOptions() []zmq4.Option {
	return []zmq4.Option{
		zmq4.WithDialerTimeout(d.opt.DialTimeout),
		zmq4.WithDialerMaxRetries(0),
	}
}

// Socket lifetime is managed by Close, not by the dial ctx, hence
// context.Background at socket creation.
func (d *zmqDialer) dial(ctx context.Context, sock zmq4.Socket, ep Endpoint) error {
	errch := make(chan error, 1)
	go func() { errch <- sock.Dial(ep.URL()) }()
	select {
	case err := <-errch:
		if err != nil {
			_ = sock.Close()
			return errors.Annotatef(err, "zmq dial %s", ep)
		}
		return nil

	case <-ctx.Done():
		go func() { <-errch; _ = sock.Close() }()
		return errors.Annotatef(ctx.Err(), "zmq dial %s", ep)
	}
}

func (d *zmqDialer) DialPush(ctx context.Context, ep Endpoint) (PushConn, error) {
	sock := zmq4.NewPush(context.Background(), d.sockOptions()...)
	if err := d.dial(ctx, sock, ep); err != nil {
		return nil, err
	}
	d.opt.Log.Debugf("zmq push open %s", ep)
	return &zmqPush{sock: sock, ep: ep}, nil
}

func (d *zmqDialer) DialSub(ctx context.Context, ep Endpoint) (SubConn, error) {
	sock := zmq4.NewSub(context.Background(), d.sockOptions()...)
	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		_ = sock.Close()
		return nil, errors.Annotatef(err, "zmq subscribe %s", ep)
	}
	if err := d.dial(ctx, sock, ep); err != nil {
		return nil, err
	}
	c := &zmqSub{
		sock: sock,
		ep:   ep,
		msgs: make(chan []byte, 1),
		done: make(chan struct{}),
	}
	go c.reader()
	d.opt.Log.Debugf("zmq sub open %s", ep)
	return c, nil
}

func (d *zmqDialer) DialReq(ctx context.Context, ep Endpoint) (ReqConn, error) {
	c := &zmqReq{d: d, ep: ep}
	if err := c.redial(ctx); err != nil {
		return nil, err
	}
	d.opt.Log.Debugf("zmq req open %s", ep)
	return c, nil
}

type zmqPush struct {
	mu   sync.Mutex
	sock zmq4.Socket
	ep   Endpoint
}

func (c *zmqPush) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.sock.Send(zmq4.NewMsg(payload)); err != nil {
		return errors.Annotatef(err, "zmq send %s", c.ep)
	}
	return nil
}

func (c *zmqPush) Close() error { return c.sock.Close() }

type zmqSub struct {
	sock      zmq4.Socket
	ep        Endpoint
	msgs      chan []byte
	done      chan struct{}
	err       helpers.AtomicError
	closeOnce sync.Once
}

func (c *zmqSub) reader() {
	defer close(c.msgs)
	for {
		msg, err := c.sock.Recv()
		if err != nil {
			c.err.StoreOnce(err)
			return
		}
		if len(msg.Frames) == 0 {
			continue
		}
		select {
		case c.msgs <- msg.Frames[0]:
		case <-c.done:
			return
		}
	}
}

func (c *zmqSub) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-c.msgs:
		if !ok {
			if e, _ := c.err.Load(); e != nil && !isClosedConn(e) {
				return nil, errors.Annotatef(e, "zmq recv %s", c.ep)
			}
			return nil, io.EOF
		}
		return b, nil

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-c.done:
		return nil, io.EOF
	}
}

func (c *zmqSub) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.sock.Close()
}

// REQ socket with redial. An abandoned reply poisons the REQ state
// machine, so a timed-out round trip drops the socket and the next
// SendRecv dials a fresh one.
type zmqReq struct {
	mu     sync.Mutex
	d      *zmqDialer
	ep     Endpoint
	sock   zmq4.Socket // nil between drop and redial
	closed bool
}

func (c *zmqReq) redial(ctx context.Context) error {
	sock := zmq4.NewReq(context.Background(), c.d.sockOptions()...)
	if err := c.d.dial(ctx, sock, c.ep); err != nil {
		return err
	}
	c.sock = sock
	return nil
}

func (c *zmqReq) SendRecv(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnClosed
	}
	if c.sock == nil {
		if err := c.redial(ctx); err != nil {
			return nil, err
		}
	}
	if err := c.sock.Send(zmq4.NewMsg(payload)); err != nil {
		c.drop()
		return nil, errors.Annotatef(err, "zmq send %s", c.ep)
	}

	type reply struct {
		msg zmq4.Msg
		err error
	}
	ch := make(chan reply, 1)
	go func(sock zmq4.Socket) {
		m, e := sock.Recv()
		ch <- reply{msg: m, err: e}
	}(c.sock)

	select {
	case r := <-ch:
		if r.err != nil {
			c.drop()
			return nil, errors.Annotatef(r.err, "zmq recv %s", c.ep)
		}
		if len(r.msg.Frames) == 0 {
			return nil, nil
		}
		return r.msg.Frames[0], nil

	case <-ctx.Done():
		c.drop()
		return nil, ctx.Err()
	}
}

func (c *zmqReq) drop() {
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
}

func (c *zmqReq) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var err error
	if c.sock != nil {
		err = c.sock.Close()
		c.sock = nil
	}
	return err
}

func isClosedConn(e error) bool {
	if e == io.EOF {
		return true
	}
	s := e.Error()
	return strings.Contains(s, "use of closed") ||
		strings.Contains(s, "socket closed") ||
		strings.Contains(s, "context canceled")
}
