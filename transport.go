package memcached

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// pendingCall is one outstanding, dispatched-but-not-yet-answered
// request. done is closed exactly once, after resp/err are set, by the
// reader goroutine — this is the channel equivalent of the original
// implementation's per-request future.
type pendingCall struct {
	noReply bool
	resp    Response
	err     error
	done    chan struct{}
}

// Transport multiplexes an arbitrary number of concurrent callers over a
// single duplex connection, preserving the memcache pipelining
// invariant: responses arrive in the same order requests were written,
// one response per non-noreply request, none at all for noreply ones.
//
// writeMu serializes writes so two Dispatch calls racing from different
// goroutines cannot interleave their bytes mid frame. A dedicated reader
// goroutine completes the oldest pending call in FIFO order as each
// response frame arrives.
type Transport struct {
	conn net.Conn
	fr   *frameReader
	log  *slog.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  []*pendingCall
	closed   bool
	closeErr error
}

// NewTransport wraps conn in a Transport and starts its reader
// goroutine. The caller must not use conn directly once this returns.
// readTimeout is set as the read deadline each time the reader goroutine
// starts reading a response while at least one Dispatch is outstanding.
// A read that started while no Dispatch was outstanding (the connection
// was idle) is not bounded by it, including when a Dispatch is issued
// during that read. writeTimeout bounds each write. Either may be zero
// to disable that deadline.
func NewTransport(conn net.Conn, logger *slog.Logger, readTimeout, writeTimeout time.Duration) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		conn:         conn,
		fr:           newFrameReader(conn),
		log:          logger,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
	go t.readLoop()
	return t
}

// Dispatch writes req and waits for its matching response, respecting
// ctx cancellation. If req has its NoReply flag set, Dispatch returns
// immediately after the write succeeds, since no response frame will
// ever arrive for it — see DispatchRaw's doc comment for the hazard of
// mixing noreply requests with direct writes.
func (t *Transport) Dispatch(ctx context.Context, req Request) (Response, error) {
	noReply := RequestNoReply(req)

	call := &pendingCall{noReply: noReply, done: make(chan struct{})}
	if err := t.enqueueAndWrite(req, call); err != nil {
		return nil, err
	}
	if noReply {
		return nil, nil
	}

	select {
	case <-call.done:
		return call.resp, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DispatchRaw writes req directly without registering a pending call,
// regardless of whether req's NoReply field is set. This is the escape
// hatch for bulk-loading noreply commands without paying for a
// done-channel per request.
//
// Hazard: if req does NOT carry NoReply=true, the peer will still send
// a response frame for it, but no pending call is waiting to claim it —
// readLoop will hand it to whatever Dispatch call happens to be oldest
// in the queue at the time, silently corrupting that caller's result.
// Only use DispatchRaw for requests that are genuinely noreply, and
// treat the connection as unusable for further pipelined Dispatch until
// you are certain the peer has processed every raw write (ErrNoReplyEscapeHatch
// documents this rather than the package attempting to detect it).
func (t *Transport) DispatchRaw(req Request) error {
	t.mu.Lock()
	if t.closed {
		err := t.closeErr
		t.mu.Unlock()
		if err == nil {
			err = ErrTransportClosed
		}
		return err
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	buf, err := Serialize(req, nil)
	if err != nil {
		return err
	}
	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if _, err := t.conn.Write(buf); err != nil {
		t.failAll(err)
		return err
	}
	return nil
}

// enqueueAndWrite registers call in the pending FIFO queue before
// writing, so the reader goroutine can never observe a response before
// the dispatcher that issued it is waiting. writeMu is held across both
// the enqueue and the write, so the pending queue's order is exactly the
// order in which frames reach the wire.
func (t *Transport) enqueueAndWrite(req Request, call *pendingCall) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	if t.closed {
		err := t.closeErr
		t.mu.Unlock()
		if err == nil {
			err = ErrTransportClosed
		}
		return err
	}
	if !call.noReply {
		t.pending = append(t.pending, call)
	}
	t.mu.Unlock()

	buf, err := Serialize(req, nil)
	if err != nil {
		t.dropPending(call)
		return err
	}
	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if _, err := t.conn.Write(buf); err != nil {
		t.failAll(err)
		return err
	}
	return nil
}

// dropPending removes call from the pending queue without marking the
// transport closed — used when a request never actually goes out
// (serialization failed before any bytes were written).
func (t *Transport) dropPending(call *pendingCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.pending {
		if c == call {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}

// readLoop completes pending calls in FIFO order as responses arrive,
// until the connection fails or is closed.
func (t *Transport) readLoop() {
	for {
		t.applyReadDeadline()
		resp, err := t.fr.NextResponse()
		if err != nil {
			t.failAll(err)
			return
		}
		t.completeOldest(resp, nil)
	}
}

// applyReadDeadline bounds the next read by readTimeout only while a
// caller is actively waiting on a response; an idle connection with no
// pending dispatch is allowed to block indefinitely.
func (t *Transport) applyReadDeadline() {
	if t.readTimeout <= 0 {
		return
	}
	t.mu.Lock()
	hasPending := len(t.pending) > 0
	t.mu.Unlock()

	if hasPending {
		t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	} else {
		t.conn.SetReadDeadline(time.Time{})
	}
}

func (t *Transport) completeOldest(resp Response, err error) {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		t.log.Warn("memcached: response with no pending dispatch, dropping", "err", err)
		return
	}
	call := t.pending[0]
	t.pending = t.pending[1:]
	t.mu.Unlock()

	call.resp, call.err = resp, err
	close(call.done)
}

// failAll marks the transport closed and fails every pending and future
// dispatch with err (replaced by ErrTransportClosed if err is nil or
// io.EOF, i.e. the peer ended the stream).
func (t *Transport) failAll(err error) {
	if err == nil || errors.Is(err, io.EOF) {
		err = ErrTransportClosed
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.closeErr = err
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, call := range pending {
		call.err = err
		close(call.done)
	}
}

// Close closes the underlying connection and fails every pending
// dispatch with ErrTransportClosed.
func (t *Transport) Close() error {
	t.failAll(ErrTransportClosed)
	return t.conn.Close()
}

// RequestNoReply reports whether req carries the "noreply" suppression
// flag. Commands that don't support noreply (get/gets/gat/gats/version/
// stats) always report false.
func RequestNoReply(req Request) bool {
	switch r := req.(type) {
	case *SetRequest:
		return r.NoReply
	case *AddRequest:
		return r.NoReply
	case *ReplaceRequest:
		return r.NoReply
	case *AppendRequest:
		return r.NoReply
	case *PrependRequest:
		return r.NoReply
	case *CasRequest:
		return r.NoReply
	case *DeleteRequest:
		return r.NoReply
	case *IncrRequest:
		return r.NoReply
	case *DecrRequest:
		return r.NoReply
	case *TouchRequest:
		return r.NoReply
	case *FlushAllRequest:
		return r.NoReply
	default:
		return false
	}
}
