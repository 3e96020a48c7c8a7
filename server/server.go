package server

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/pipelined/memcached"
)

// Option configures Serve.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	middleware func(memcached.Exchanger) memcached.Exchanger
}

func newOptions() *options {
	return &options{logger: slog.Default()}
}

// WithLogger sets the structured logger used for connection-lifecycle
// and dispatch-failure events. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			return
		}
		o.logger = logger
	}
}

// WithLoggingMiddleware wraps every connection's Exchanger with
// memcached.LoggingMiddleware using the given logger (or Serve's own
// logger if nil).
func WithLoggingMiddleware(logger *slog.Logger) Option {
	return func(o *options) {
		o.middleware = func(ex memcached.Exchanger) memcached.Exchanger {
			l := logger
			if l == nil {
				l = o.logger
			}
			return memcached.LoggingMiddleware(ex, l)
		}
	}
}

// Serve listens on address and accepts connections until ctx is
// cancelled, constructing a fresh Backend per connection via newBackend
// and running the read/dispatch/write loop described on Backend and
// connHandler.
func Serve(ctx context.Context, address string, newBackend func() Backend, opts ...Option) error {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		merr *multierror.Error
	)
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return merr.ErrorOrNil()
			}
			return err
		}

		var ex memcached.Exchanger = &backendExchanger{b: newBackend()}
		if o.middleware != nil {
			ex = o.middleware(ex)
		}

		h := &connHandler{conn: conn, ex: ex, log: o.logger}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.serve(ctx); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
		}()
	}
}
