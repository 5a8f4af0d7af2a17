package driver

import (
	"context"
	"io"
	"sync"

	"github.com/matrix-io/malos-go/transport"
)

// mockDialer hands out in-memory connections and records the order in
// which they are closed.
type mockDialer struct {
	mu       sync.Mutex
	dialErr  map[transport.Channel]error
	push     *mockPush
	subs     map[transport.Channel]*mockSub
	reqs     []*mockReq
	closeLog []transport.Channel
}

func newMockDialer() *mockDialer {
	return &mockDialer{
		dialErr: make(map[transport.Channel]error),
		subs:    make(map[transport.Channel]*mockSub),
	}
}

func (d *mockDialer) record(ch transport.Channel) {
	d.mu.Lock()
	d.closeLog = append(d.closeLog, ch)
	d.mu.Unlock()
}

func (d *mockDialer) closed() []transport.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]transport.Channel, len(d.closeLog))
	copy(out, d.closeLog)
	return out
}

func (d *mockDialer) sub(ch transport.Channel) *mockSub {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subs[ch]
}

func (d *mockDialer) lastReq() *mockReq {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.reqs) == 0 {
		return nil
	}
	return d.reqs[len(d.reqs)-1]
}

func (d *mockDialer) DialPush(ctx context.Context, ep transport.Endpoint) (transport.PushConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dialErr[ep.Channel]; err != nil {
		return nil, err
	}
	d.push = &mockPush{d: d, channel: ep.Channel}
	return d.push, nil
}

func (d *mockDialer) DialSub(ctx context.Context, ep transport.Endpoint) (transport.SubConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dialErr[ep.Channel]; err != nil {
		return nil, err
	}
	s := &mockSub{
		d:       d,
		channel: ep.Channel,
		msgs:    make(chan []byte, 16),
		errch:   make(chan error, 1),
		done:    make(chan struct{}),
	}
	d.subs[ep.Channel] = s
	return s, nil
}

func (d *mockDialer) DialReq(ctx context.Context, ep transport.Endpoint) (transport.ReqConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dialErr[ep.Channel]; err != nil {
		return nil, err
	}
	r := &mockReq{d: d, channel: ep.Channel, done: make(chan struct{})}
	d.reqs = append(d.reqs, r)
	return r, nil
}

type mockPush struct {
	d       *mockDialer
	channel transport.Channel
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	once    sync.Once
}

func (m *mockPush) Send(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, payload)
	return nil
}

func (m *mockPush) Close() error {
	m.once.Do(func() { m.d.record(m.channel) })
	return nil
}

func (m *mockPush) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockPush) failSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

type mockSub struct {
	d       *mockDialer
	channel transport.Channel
	msgs    chan []byte
	errch   chan error
	done    chan struct{}
	once    sync.Once
	eofOnce sync.Once
}

func (m *mockSub) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-m.msgs:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case err := <-m.errch:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, io.EOF
	}
}

func (m *mockSub) Close() error {
	m.once.Do(func() {
		m.d.record(m.channel)
		close(m.done)
	})
	return nil
}

func (m *mockSub) inject(b []byte) { m.msgs <- b }

// closeRemote simulates the publisher going away.
func (m *mockSub) closeRemote() { m.eofOnce.Do(func() { close(m.msgs) }) }

func (m *mockSub) fail(err error) { m.errch <- err }

type mockReq struct {
	d       *mockDialer
	channel transport.Channel
	done    chan struct{}
	mu      sync.Mutex
	pings   int
	silent  bool
	once    sync.Once
}

func (m *mockReq) SendRecv(ctx context.Context, payload []byte) ([]byte, error) {
	m.mu.Lock()
	m.pings++
	silent := m.silent
	m.mu.Unlock()
	if silent {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.done:
			return nil, transport.ErrConnClosed
		}
	}
	return []byte("pong"), nil
}

func (m *mockReq) Close() error {
	m.once.Do(func() {
		m.d.record(m.channel)
		close(m.done)
	})
	return nil
}

func (m *mockReq) pingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

func (m *mockReq) goSilent() {
	m.mu.Lock()
	m.silent = true
	m.mu.Unlock()
}
