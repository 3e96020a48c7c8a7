// Package server implements the dispatcher side of the memcached text
// protocol: it accepts connections, decodes pipelined Request frames,
// drives a caller-supplied Backend, and writes back Response frames in
// the same order requests arrived.
package server

import (
	"context"

	"github.com/pipelined/memcached"
)

// Backend is the storage engine a Serve caller plugs in: 17 synchronous
// methods mirroring memcached.Client, one per command kind. Backend
// methods report protocol outcomes (not-stored, exists, not-found) by
// returning the matching memcached sentinel error (memcached.ErrExists,
// etc); any other non-nil error becomes a SERVER_ERROR reply.
//
// The newBackend factory passed to Serve is called once per accepted
// connection. Calls for requests read from the same connection run
// concurrently, each in its own goroutine, so per-connection state (an
// in-flight transaction, a session cache) still needs its own locking.
type Backend interface {
	Set(ctx context.Context, key string, value []byte, flags uint16, expiry uint32) error
	Add(ctx context.Context, key string, value []byte, flags uint16, expiry uint32) error
	Replace(ctx context.Context, key string, value []byte, flags uint16, expiry uint32) error
	Append(ctx context.Context, key string, value []byte) error
	Prepend(ctx context.Context, key string, value []byte) error
	Cas(ctx context.Context, key string, value []byte, flags uint16, expiry uint32, cas uint64) error

	Get(ctx context.Context, keys ...string) ([]memcached.Value, error)
	Gets(ctx context.Context, keys ...string) ([]memcached.Value, error)
	GetAndTouch(ctx context.Context, expiry uint32, keys ...string) ([]memcached.Value, error)
	GetAndTouches(ctx context.Context, expiry uint32, keys ...string) ([]memcached.Value, error)

	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string, delta uint64) (uint64, error)
	Decr(ctx context.Context, key string, delta uint64) (uint64, error)
	Touch(ctx context.Context, key string, expiry uint32) error
	FlushAll(ctx context.Context, delay uint32, hasDelay bool) error
	Version(ctx context.Context) (string, error)
	Stats(ctx context.Context) (map[string]string, error)
}
