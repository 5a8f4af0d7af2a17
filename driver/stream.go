package driver

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/matrix-io/malos-go/log2"
	"github.com/matrix-io/malos-go/transport"
)

// Stream is the pull side of one broadcast channel. Messages come out
// in arrival order; the only buffering is a one-message handoff, the
// rest stays with the transport. One consumer at a time: a concurrent
// Recv returns ErrStreamBusy.
//
// The stream terminates when the client closes, the remote side closes
// the channel, or the channel fails. After termination Recv returns
// io.EOF forever; a stream is not restartable.
type Stream struct {
	channel transport.Channel
	log     *log2.Log
	conn    transport.SubConn
	out     chan []byte
	busy    uint32
	report  func(error)
}

func newStream(channel transport.Channel, conn transport.SubConn, log *log2.Log, report func(error)) *Stream {
	return &Stream{
		channel: channel,
		log:     log,
		conn:    conn,
		out:     make(chan []byte, 1),
		report:  report,
	}
}

// pump owns the subscribe connection. Runs in the client alive scope;
// ctx is the client run context.
func (s *Stream) pump(ctx context.Context) {
	defer close(s.out)
	for {
		b, err := s.conn.Recv(ctx)
		switch {
		case err == nil:

		case err == io.EOF:
			s.log.Debugf("%s stream closed by remote", s.channel)
			return

		case ctx.Err() != nil:
			return

		default:
			// channel-local failure: terminate this stream only
			s.report(errors.Annotatef(err, "%s stream", s.channel))
			return
		}

		select {
		case s.out <- b:
		case <-ctx.Done():
			return
		}
	}
}

// Recv blocks for the next message. Returns io.EOF on stream
// termination (including client shutdown), ctx.Err() if the caller's
// context ends first.
func (s *Stream) Recv(ctx context.Context) ([]byte, error) {
	if !s.claim() {
		return nil, ErrStreamBusy
	}
	defer s.release()

	select {
	case b, ok := <-s.out:
		if !ok {
			return nil, io.EOF
		}
		return b, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Stream) claim() bool { return atomic.CompareAndSwapUint32(&s.busy, 0, 1) }
func (s *Stream) release()   { atomic.StoreUint32(&s.busy, 0) }
