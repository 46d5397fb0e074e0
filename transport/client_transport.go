// Package transport implements the client side of the endpoint socket.
//
// ClientTransport multiplexes calls over one unix socket connection: each
// request gets a sequence number, and a background recvLoop routes every
// response to the caller waiting on that number.
//
//	caller-1 ──Send(seq=1)──┐
//	caller-2 ──Send(seq=2)──┼──→ one socket ──→ endpoint
//
//	recvLoop: ←── response(seq=2) → pending[2] → caller-2
//
// The endpoint runs calls one at a time, so responses arrive in request
// order in practice; the transport does not rely on it.
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"conn-proxy/codec"
	"conn-proxy/message"
	"conn-proxy/protocol"
	"conn-proxy/proxyerr"
)

// DefaultHeartbeat is the heartbeat interval used by Dial.
const DefaultHeartbeat = 30 * time.Second

// ErrClosed is returned by calls on a closed transport.
const ErrClosed = errors.ConstError("transport closed")

// ClientTransport manages one multiplexed connection.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.Codec
	seq     uint32     // guarded by sending
	sending sync.Mutex // whole frames only; concurrent writes would interleave
	pending sync.Map   // map[uint32]chan *message.Response

	closed atomic.Bool
	done   chan struct{}
	once   sync.Once
}

// NewClientTransport starts the receive loop and, when heartbeat is
// positive, a heartbeat loop on conn.
func NewClientTransport(conn net.Conn, codecType codec.CodecType, heartbeat time.Duration) *ClientTransport {
	t := &ClientTransport{
		conn:  conn,
		codec: codec.GetCodec(codecType),
		done:  make(chan struct{}),
	}
	go t.recvLoop()
	if heartbeat > 0 {
		go t.heartbeatLoop(heartbeat)
	}
	return t
}

// Dial connects to the endpoint socket at path.
func Dial(ctx context.Context, path string, codecType codec.CodecType) (*ClientTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, errors.Annotatef(err, "dialing %s", path)
	}
	return NewClientTransport(conn, codecType, DefaultHeartbeat), nil
}

// Send writes req and returns its sequence number and the channel its
// response will arrive on. The channel always receives exactly one value;
// if the connection breaks first it is a connection failure response.
func (t *ClientTransport) Send(req *message.Request) (uint32, <-chan *message.Response, error) {
	if t.closed.Load() {
		return 0, nil, ErrClosed
	}

	body, err := t.codec.Encode(req)
	if err != nil {
		return 0, nil, errors.Annotatef(err, "encoding %s request", req.Method)
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq
	header := protocol.Header{
		CodecType: byte(t.codec.Type()),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}

	// Registered before the write so recvLoop cannot miss the response.
	respChan := make(chan *message.Response, 1)
	t.pending.Store(seq, respChan)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		return 0, nil, errors.Annotate(err, "writing request")
	}
	// recvLoop may have drained pending between the check above and the
	// Store.
	if t.closed.Load() {
		if _, ok := t.pending.LoadAndDelete(seq); ok {
			respChan <- message.ErrorResponse(req.Method, proxyerr.CodeConnectionFailure, "connection to endpoint lost")
		}
	}
	return seq, respChan, nil
}

// Call sends req and waits for its response or for ctx.
func (t *ClientTransport) Call(ctx context.Context, req *message.Request) (*message.Response, error) {
	seq, ch, err := t.Send(req)
	if err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.pending.Delete(seq)
		return nil, errors.Annotatef(ctx.Err(), "waiting for %s", req.Method)
	}
}

// recvLoop is the only reader of the connection; frame boundaries are
// only recoverable by reading sequentially.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.Close()
			t.closeAllPending(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		resp := &message.Response{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, resp); err != nil {
			resp = message.ErrorResponse("", proxyerr.CodeInternal,
				errors.Annotate(err, "decoding response").Error())
		}

		if channel, ok := t.pending.LoadAndDelete(header.Seq); ok {
			channel.(chan *message.Response) <- resp
		}
	}
}

// closeAllPending fails every waiting caller so none blocks forever.
func (t *ClientTransport) closeAllPending(err error) {
	text := errors.Annotate(err, "connection to endpoint lost").Error()
	t.pending.Range(func(key, value any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			value.(chan *message.Response) <- message.ErrorResponse("", proxyerr.CodeConnectionFailure, text)
		}
		return true
	})
}

// heartbeatLoop keeps idle connections visibly alive. Heartbeat frames
// carry no body.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			return
		}
	}
}

// Conn returns the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// Close closes the connection and stops the background loops.
func (t *ClientTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.closed.Store(true)
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// Done is closed once the transport is closed.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}
