package memcached

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Client is the typed, high-level surface over a pipelined Transport:
// the 14 classic memcache operations plus gat/gats/stats, each
// converting its arguments into a Request and its Response back into a
// typed result or a sentinel error.
type Client interface {
	Closer

	Set(ctx context.Context, key string, value []byte, flags uint16, expiry time.Duration) error
	Add(ctx context.Context, key string, value []byte, flags uint16, expiry time.Duration) error
	Replace(ctx context.Context, key string, value []byte, flags uint16, expiry time.Duration) error
	Append(ctx context.Context, key string, value []byte, flags uint16, expiry time.Duration) error
	Prepend(ctx context.Context, key string, value []byte, flags uint16, expiry time.Duration) error
	Cas(ctx context.Context, key string, value []byte, flags uint16, expiry time.Duration, cas uint64) error

	Get(ctx context.Context, keys ...string) ([]Value, error)
	Gets(ctx context.Context, keys ...string) ([]Value, error)
	GetOne(ctx context.Context, key string) (Value, error)
	GetsOne(ctx context.Context, key string) (Value, error)
	GetAndTouch(ctx context.Context, expiry time.Duration, keys ...string) ([]Value, error)
	GetAndTouchMulti(ctx context.Context, expiry time.Duration, keys ...string) ([]Value, error)

	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string, delta uint64) (uint64, error)
	Decr(ctx context.Context, key string, delta uint64) (uint64, error)
	Touch(ctx context.Context, key string, expiry time.Duration) error
	FlushAll(ctx context.Context, delay time.Duration) error
	Version(ctx context.Context) (string, error)
	Stats(ctx context.Context) (map[string]string, error)
}

// Closer mirrors io.Closer; named locally so doc.go's package summary
// does not need to import io just to describe the Client surface.
type Closer interface {
	Close() error
}

type client struct {
	ex  Exchanger
	t   *Transport
	log *slog.Logger
}

// Connect dials address over TCP and returns a Client wrapping a
// pipelined Transport.
func Connect(ctx context.Context, address string, opts ...ClientOption) (Client, error) {
	o := newClientOptions()
	for _, opt := range opts {
		opt(o)
	}

	dialer := &net.Dialer{Timeout: o.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "memcached: dial")
	}

	t := NewTransport(conn, o.logger, o.readTimeout, o.writeTimeout)
	var ex Exchanger = t
	ex = LoggingMiddleware(ex, o.logger)

	return &client{ex: ex, t: t, log: o.logger}, nil
}

func (c *client) Close() error { return c.t.Close() }

func expirySeconds(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d / time.Second)
}

func (c *client) store(ctx context.Context, keyword string, key string, value []byte, flags uint16, expiry time.Duration) error {
	var req Request
	sr := StoreRequest{Key: key, Payload: value, Flags: flags, Expiry: expirySeconds(expiry)}
	switch keyword {
	case "set":
		v := SetRequest(sr)
		req = &v
	case "add":
		v := AddRequest(sr)
		req = &v
	case "replace":
		v := ReplaceRequest(sr)
		req = &v
	}
	return c.expectStored(ctx, req)
}

func (c *client) Set(ctx context.Context, key string, value []byte, flags uint16, expiry time.Duration) error {
	return c.store(ctx, "set", key, value, flags, expiry)
}

func (c *client) Add(ctx context.Context, key string, value []byte, flags uint16, expiry time.Duration) error {
	return c.store(ctx, "add", key, value, flags, expiry)
}

func (c *client) Replace(ctx context.Context, key string, value []byte, flags uint16, expiry time.Duration) error {
	return c.store(ctx, "replace", key, value, flags, expiry)
}

func (c *client) Append(ctx context.Context, key string, value []byte, _ uint16, _ time.Duration) error {
	req := AppendRequest{Key: key, Payload: value}
	return c.expectStored(ctx, &req)
}

func (c *client) Prepend(ctx context.Context, key string, value []byte, _ uint16, _ time.Duration) error {
	req := PrependRequest{Key: key, Payload: value}
	return c.expectStored(ctx, &req)
}

func (c *client) Cas(ctx context.Context, key string, value []byte, flags uint16, expiry time.Duration, cas uint64) error {
	req := &CasRequest{Key: key, Payload: value, Flags: flags, Expiry: expirySeconds(expiry), CAS: cas}
	return c.expectStored(ctx, req)
}

// expectStored dispatches req and translates the storage-command
// response alternatives (Stored/NotStored/Exists/NotFound) into nil or
// a sentinel error.
func (c *client) expectStored(ctx context.Context, req Request) error {
	resp, err := c.ex.Exchange(ctx, req)
	if err != nil {
		return err
	}
	switch resp.(type) {
	case *StoredResponse:
		return nil
	case *NotStoredResponse:
		return ErrNotStored
	case *ExistsResponse:
		return ErrExists
	case *NotFoundResponse:
		return ErrNotFound
	case *ClientErrorResponse:
		return errors.Wrap(ErrClientError, resp.(*ClientErrorResponse).Message)
	case *ServerErrorResponse:
		return errors.Wrap(ErrServerError, resp.(*ServerErrorResponse).Message)
	case *ErrorResponse:
		return ErrNonexistentCommand
	default:
		return ErrUnexpectedResponse
	}
}

func (c *client) Get(ctx context.Context, keys ...string) ([]Value, error) {
	return c.retrieve(ctx, &GetRequest{Keys: keys})
}

func (c *client) Gets(ctx context.Context, keys ...string) ([]Value, error) {
	return c.retrieve(ctx, &GetsRequest{Keys: keys})
}

func (c *client) GetAndTouch(ctx context.Context, expiry time.Duration, keys ...string) ([]Value, error) {
	return c.retrieve(ctx, &GetAndTouchRequest{Expiry: expirySeconds(expiry), Keys: keys})
}

func (c *client) GetAndTouchMulti(ctx context.Context, expiry time.Duration, keys ...string) ([]Value, error) {
	return c.retrieve(ctx, &GetAndTouchesRequest{Expiry: expirySeconds(expiry), Keys: keys})
}

func (c *client) retrieve(ctx context.Context, req Request) ([]Value, error) {
	resp, err := c.ex.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	switch r := resp.(type) {
	case *ValuesResponse:
		return r.Items, nil
	case *ClientErrorResponse:
		return nil, errors.Wrap(ErrClientError, r.Message)
	case *ServerErrorResponse:
		return nil, errors.Wrap(ErrServerError, r.Message)
	case *ErrorResponse:
		return nil, ErrNonexistentCommand
	default:
		return nil, ErrUnexpectedResponse
	}
}

// GetOne is a convenience wrapper over Get for the common single-key
// case: it reports ErrNotFound when the key is absent rather than
// returning an empty slice.
func (c *client) GetOne(ctx context.Context, key string) (Value, error) {
	return getOne(ctx, c.Get, key)
}

// GetsOne is GetOne for the CAS-carrying Gets.
func (c *client) GetsOne(ctx context.Context, key string) (Value, error) {
	return getOne(ctx, c.Gets, key)
}

func getOne(ctx context.Context, fn func(context.Context, ...string) ([]Value, error), key string) (Value, error) {
	values, err := fn(ctx, key)
	if err != nil {
		return Value{}, err
	}
	if len(values) == 0 {
		return Value{}, ErrNotFound
	}
	return values[0], nil
}

func (c *client) Delete(ctx context.Context, key string) error {
	resp, err := c.ex.Exchange(ctx, &DeleteRequest{Key: key})
	if err != nil {
		return err
	}
	switch r := resp.(type) {
	case *DeletedResponse:
		return nil
	case *NotFoundResponse:
		return ErrNotFound
	case *ClientErrorResponse:
		return errors.Wrap(ErrClientError, r.Message)
	case *ErrorResponse:
		return ErrNonexistentCommand
	default:
		return ErrUnexpectedResponse
	}
}

func (c *client) Incr(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.arithmetic(ctx, &IncrRequest{Key: key, Delta: delta})
}

// Decr dispatches a distinct DecrRequest end to end — never routed
// through Incr.
func (c *client) Decr(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.arithmetic(ctx, &DecrRequest{Key: key, Delta: delta})
}

func (c *client) arithmetic(ctx context.Context, req Request) (uint64, error) {
	resp, err := c.ex.Exchange(ctx, req)
	if err != nil {
		return 0, err
	}
	switch r := resp.(type) {
	case *NumericResponse:
		return r.Value, nil
	case *NotFoundResponse:
		return 0, ErrNotFound
	case *ClientErrorResponse:
		return 0, errors.Wrap(ErrClientError, r.Message)
	case *ErrorResponse:
		return 0, ErrNonexistentCommand
	default:
		return 0, ErrUnexpectedResponse
	}
}

func (c *client) Touch(ctx context.Context, key string, expiry time.Duration) error {
	resp, err := c.ex.Exchange(ctx, &TouchRequest{Key: key, Expiry: expirySeconds(expiry)})
	if err != nil {
		return err
	}
	switch r := resp.(type) {
	case *TouchedResponse:
		return nil
	case *NotFoundResponse:
		return ErrNotFound
	case *ClientErrorResponse:
		return errors.Wrap(ErrClientError, r.Message)
	case *ErrorResponse:
		return ErrNonexistentCommand
	default:
		return ErrUnexpectedResponse
	}
}

func (c *client) FlushAll(ctx context.Context, delay time.Duration) error {
	req := &FlushAllRequest{}
	if delay > 0 {
		req.Delay = expirySeconds(delay)
		req.HasDelay = true
	}
	resp, err := c.ex.Exchange(ctx, req)
	if err != nil {
		return err
	}
	switch r := resp.(type) {
	case *OkResponse:
		return nil
	case *ClientErrorResponse:
		return errors.Wrap(ErrClientError, r.Message)
	case *ErrorResponse:
		return ErrNonexistentCommand
	default:
		return ErrUnexpectedResponse
	}
}

func (c *client) Version(ctx context.Context) (string, error) {
	resp, err := c.ex.Exchange(ctx, &VersionRequest{})
	if err != nil {
		return "", err
	}
	v, ok := resp.(*VersionResponse)
	if !ok {
		return "", ErrUnexpectedResponse
	}
	return v.Version, nil
}

func (c *client) Stats(ctx context.Context) (map[string]string, error) {
	resp, err := c.ex.Exchange(ctx, &StatsRequest{})
	if err != nil {
		return nil, err
	}
	s, ok := resp.(*StatsResponse)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	return s.Stats, nil
}
