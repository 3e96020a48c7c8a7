package memcached

import (
	"log/slog"
	"time"
)

// ClientOption configures a Client at Connect time.
type ClientOption func(*clientOptions)

type clientOptions struct {
	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

func newClientOptions() *clientOptions {
	return &clientOptions{
		dialTimeout:  3 * time.Second,
		readTimeout:  5 * time.Second,
		writeTimeout: 5 * time.Second,
		logger:       slog.Default(),
	}
}

// WithDialTimeout sets the timeout for establishing the TCP connection.
// Default is 3 seconds.
func WithDialTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		o.dialTimeout = timeout
	}
}

// WithReadTimeout sets the read deadline the Transport's reader applies
// to each response read it starts while a Dispatch is outstanding; a read
// that started while the connection was idle is not bounded by it (see
// NewTransport). Default is 5 seconds.
func WithReadTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		o.readTimeout = timeout
	}
}

// WithWriteTimeout sets the per-operation write deadline. Default is 5
// seconds.
func WithWriteTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		o.writeTimeout = timeout
	}
}

// WithLogger sets the structured logger used for connection-lifecycle
// and dropped-response events. Default is slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		if logger == nil {
			return
		}
		o.logger = logger
	}
}
