// Package transport is the messaging boundary of the driver client.
//
// A remote driver exposes four logical channels, each with a fixed
// pattern: config is push, status and data are broadcast subscriptions,
// heartbeat is request-reply. The client core talks to per-channel
// connections through the interfaces below and never sees wire framing.
//
// Connection contract:
// - payloads are opaque byte sequences, delivered in arrival order
// - Recv/SendRecv observe ctx cancellation promptly
// - Recv returns io.EOF when the remote side closed the channel
// - a connection belongs to exactly one owner, methods of different
//   connections never block each other
package transport

import (
	"context"
	"fmt"
	"time"
)

const DefaultDialTimeout = 30 * time.Second

type Channel string

const (
	ChannelConfig    Channel = "config"
	ChannelHeartbeat Channel = "heartbeat"
	ChannelStatus    Channel = "status"
	ChannelData      Channel = "data"
)

// Endpoint names one channel of one remote driver instance.
// Host:Port address the TCP bindings; Channel doubles as the topic
// suffix for broker-mediated bindings.
type Endpoint struct {
	Host    string
	Port    uint16
	Channel Channel
}

func (e Endpoint) URL() string    { return fmt.Sprintf("tcp://%s:%d", e.Host, e.Port) }
func (e Endpoint) String() string { return fmt.Sprintf("(%s %s)", e.Channel, e.URL()) }

var ErrConnClosed = fmt.Errorf("transport: connection closed")

type PushConn interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

type SubConn interface {
	// Recv blocks for the next broadcast message.
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

type ReqConn interface {
	// SendRecv performs one request-reply round trip bounded by ctx.
	SendRecv(ctx context.Context, payload []byte) ([]byte, error)
	Close() error
}

// Dialer opens one connection per call. Dial errors are final: the
// caller decides about retries.
type Dialer interface {
	DialPush(ctx context.Context, ep Endpoint) (PushConn, error)
	DialSub(ctx context.Context, ep Endpoint) (SubConn, error)
	DialReq(ctx context.Context, ep Endpoint) (ReqConn, error)
}
