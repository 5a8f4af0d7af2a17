package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"

	"github.com/matrix-io/malos-go/log2"
)

// MQTT binding for driver services reachable through a broker.
// Channels map to topics <prefix>/<channel>; the heartbeat reply
// arrives on <prefix>/heartbeat/pong. One broker connection per
// channel keeps endpoint ownership identical to the ZeroMQ binding.
type MqttOptions struct {
	BrokerURL      string
	TopicPrefix    string
	ClientID       string // channel name is appended
	Username       string
	Password       string
	NetworkTimeout time.Duration
	Log            *log2.Log
}

type mqttDialer struct {
	opt MqttOptions
}

func NewMqttDialer(opt MqttOptions) (Dialer, error) {
	if _, err := url.ParseRequestURI(opt.BrokerURL); err != nil {
		return nil, errors.Annotatef(err, "mqtt broker=%s", opt.BrokerURL)
	}
	if opt.TopicPrefix == "" {
		return nil, errors.NotValidf("mqtt TopicPrefix empty")
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultDialTimeout
	}
	if opt.ClientID == "" {
		opt.ClientID = "malos"
	}
	return &mqttDialer{opt: opt}, nil
}

func (d *mqttDialer) topic(ch Channel) string {
	return fmt.Sprintf("%s/%s", d.opt.TopicPrefix, ch)
}

func (d *mqttDialer) connect(ep Endpoint) (mqtt.Client, error) {
	mopt := mqtt.NewClientOptions().
		AddBroker(d.opt.BrokerURL).
		SetClientID(fmt.Sprintf("%s-%s", d.opt.ClientID, ep.Channel)).
		SetUsername(d.opt.Username).
		SetPassword(d.opt.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(d.opt.NetworkTimeout).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(d.opt.NetworkTimeout)
	m := mqtt.NewClient(mopt)
	if err := waitToken(m.Connect(), d.opt.NetworkTimeout); err != nil {
		return nil, errors.Annotatef(err, "mqtt connect broker=%s channel=%s", d.opt.BrokerURL, ep.Channel)
	}
	d.opt.Log.Debugf("mqtt connect broker=%s channel=%s", d.opt.BrokerURL, ep.Channel)
	return m, nil
}

func (d *mqttDialer) DialPush(ctx context.Context, ep Endpoint) (PushConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := d.connect(ep)
	if err != nil {
		return nil, err
	}
	return &mqttPush{m: m, topic: d.topic(ep.Channel), timeout: d.opt.NetworkTimeout}, nil
}

func (d *mqttDialer) DialSub(ctx context.Context, ep Endpoint) (SubConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := d.connect(ep)
	if err != nil {
		return nil, err
	}
	c := &mqttSub{
		m:    m,
		msgs: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case c.msgs <- msg.Payload():
		case <-c.done:
		}
	}
	if err := waitToken(m.Subscribe(d.topic(ep.Channel), 1, handler), d.opt.NetworkTimeout); err != nil {
		m.Disconnect(0)
		return nil, errors.Annotatef(err, "mqtt subscribe %s", ep.Channel)
	}
	return c, nil
}

func (d *mqttDialer) DialReq(ctx context.Context, ep Endpoint) (ReqConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := d.connect(ep)
	if err != nil {
		return nil, err
	}
	c := &mqttReq{
		m:       m,
		topic:   d.topic(ep.Channel),
		replies: make(chan []byte, 1),
		done:    make(chan struct{}),
		timeout: d.opt.NetworkTimeout,
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case c.replies <- msg.Payload():
		case <-c.done:
		default: // unsolicited pong, drop
		}
	}
	if err := waitToken(m.Subscribe(c.topic+"/pong", 1, handler), d.opt.NetworkTimeout); err != nil {
		m.Disconnect(0)
		return nil, errors.Annotatef(err, "mqtt subscribe %s/pong", ep.Channel)
	}
	return c, nil
}

type mqttPush struct {
	m       mqtt.Client
	topic   string
	timeout time.Duration
}

func (c *mqttPush) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := waitToken(c.m.Publish(c.topic, 1, false, payload), c.timeout); err != nil {
		return errors.Annotatef(err, "mqtt publish %s", c.topic)
	}
	return nil
}

func (c *mqttPush) Close() error {
	c.m.Disconnect(250)
	return nil
}

type mqttSub struct {
	m         mqtt.Client
	msgs      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *mqttSub) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.msgs:
		return b, nil

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-c.done:
		return nil, ErrConnClosed
	}
}

func (c *mqttSub) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.m.Disconnect(250)
	return nil
}

type mqttReq struct {
	mu        sync.Mutex
	m         mqtt.Client
	topic     string
	replies   chan []byte
	done      chan struct{}
	timeout   time.Duration
	closeOnce sync.Once
}

func (c *mqttReq) SendRecv(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return nil, ErrConnClosed
	default:
	}

	// a pong from an earlier abandoned cycle is stale
drain:
	for {
		select {
		case <-c.replies:
		default:
			break drain
		}
	}

	if err := waitToken(c.m.Publish(c.topic, 1, false, payload), c.timeout); err != nil {
		return nil, errors.Annotatef(err, "mqtt publish %s", c.topic)
	}
	select {
	case b := <-c.replies:
		return b, nil

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-c.done:
		return nil, ErrConnClosed
	}
}

func (c *mqttReq) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.m.Disconnect(250)
	return nil
}

func waitToken(t mqtt.Token, timeout time.Duration) error {
	if !t.WaitTimeout(timeout) {
		return errors.Timeoutf("mqtt ack")
	}
	return t.Error()
}
