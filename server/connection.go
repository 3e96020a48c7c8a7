package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/pipelined/memcached"
)

// pendingReply is the outcome a backend-call goroutine delivers on its
// single-slot channel; the write loop drains a FIFO queue of those
// channels so responses are written in the exact order requests were
// read, even when backend calls complete out of order.
type pendingReply struct {
	resp memcached.Response
	err  error
}

type connHandler struct {
	conn net.Conn
	ex   memcached.Exchanger
	log  *slog.Logger

	writeErr error
}

// serve runs the read/dispatch/write loop for one accepted connection
// until the peer disconnects or a fatal framing error occurs. It
// returns a non-nil error only for failures worth surfacing to Serve's
// caller — an ordinary disconnect (EOF, closed connection, context
// cancellation) is not one of those.
func (h *connHandler) serve(ctx context.Context) error {
	defer h.conn.Close()

	rr := memcached.NewRequestReader(h.conn)
	completions := make(chan chan pendingReply, 64)
	writerDone := make(chan struct{})
	go h.writeLoop(completions, writerDone)
	defer func() {
		close(completions)
		<-writerDone
	}()

	for {
		req, err := rr.Next()
		if err != nil {
			var sync *memcached.FrameSyncError
			if errors.As(err, &sync) {
				if !h.replyClientError(ctx, completions, sync.Err) {
					return nil
				}
				continue
			}
			if notable := notableError(ctx, err); notable != nil {
				h.log.Debug("memcached: connection read ended", "remote", h.conn.RemoteAddr(), "err", notable)
				return notable
			}
			return h.writeErr
		}

		if memcached.RequestNoReply(req) {
			go h.exchangeDiscard(ctx, req)
			continue
		}

		ch := make(chan pendingReply, 1)
		select {
		case completions <- ch:
		case <-ctx.Done():
			return nil
		}
		go h.exchange(ctx, req, ch)
	}
}

// notableError filters out the expected ways a connection ends
// (EOF, a closed connection, context cancellation) so Serve's error
// aggregation only reports genuine failures.
func notableError(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

// replyClientError queues a CLIENT_ERROR response for a single malformed
// command line, preserving FIFO order against any requests already
// queued ahead of it, and reports whether serve should keep reading (it
// returns false only when ctx is cancelled while enqueuing).
func (h *connHandler) replyClientError(ctx context.Context, completions chan<- chan pendingReply, cause error) bool {
	h.log.Debug("memcached: malformed command line, replying CLIENT_ERROR", "remote", h.conn.RemoteAddr(), "err", cause)
	ch := make(chan pendingReply, 1)
	select {
	case completions <- ch:
	case <-ctx.Done():
		return false
	}
	msg := strings.TrimSuffix(cause.Error(), ": "+memcached.ErrClientError.Error())
	ch <- pendingReply{resp: &memcached.ClientErrorResponse{Message: msg}}
	return true
}

func (h *connHandler) exchange(ctx context.Context, req memcached.Request, ch chan<- pendingReply) {
	resp, err := h.ex.Exchange(ctx, req)
	ch <- pendingReply{resp: resp, err: err}
}

func (h *connHandler) exchangeDiscard(ctx context.Context, req memcached.Request) {
	if _, err := h.ex.Exchange(ctx, req); err != nil {
		h.log.Debug("memcached: noreply backend call failed", "err", err)
	}
}

// writeLoop drains completions strictly in arrival order, blocking on
// each channel until that request's backend call finishes before moving
// to the next — this is what keeps response order pinned to request
// order regardless of how the backend goroutines interleave.
func (h *connHandler) writeLoop(completions <-chan chan pendingReply, done chan<- struct{}) {
	defer close(done)
	var buf []byte
	for ch := range completions {
		reply := <-ch
		if reply.err != nil {
			h.log.Debug("memcached: backend exchange failed", "err", reply.err)
			h.writeErr = reply.err
			return
		}
		buf = memcached.SerializeResponse(reply.resp, buf[:0])
		if _, err := h.conn.Write(buf); err != nil {
			if notable := notableError(context.Background(), err); notable != nil {
				h.writeErr = notable
			}
			h.log.Debug("memcached: response write failed", "err", err)
			return
		}
	}
}
