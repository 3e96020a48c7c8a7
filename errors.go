package memcached

import (
	"github.com/pkg/errors"
)

var (
	// ErrNonexistentCommand is returned when the peer replies with the bare
	// "ERROR\r\n" line, meaning it did not recognise the command line.
	ErrNonexistentCommand = errors.New("nonexistent command")
	// ErrClientError wraps a "CLIENT_ERROR <message>" reply from the peer.
	// The message is attached via errors.Wrap.
	ErrClientError = errors.New("client error")
	// ErrServerError wraps a "SERVER_ERROR <message>" reply from the peer.
	ErrServerError = errors.New("server error")
	// ErrNotFound corresponds to a "NOT_FOUND\r\n" reply.
	ErrNotFound = errors.New("not found")
	// ErrExists corresponds to an "EXISTS\r\n" reply (failed cas).
	ErrExists = errors.New("exists")
	// ErrNotStored corresponds to a "NOT_STORED\r\n" reply.
	ErrNotStored = errors.New("not stored")

	// ErrUnexpectedResponse is returned when the peer replies with a
	// syntactically valid Response that is not one of the alternatives
	// the issued command permits — distinct from a protocol-error reply.
	ErrUnexpectedResponse = errors.New("unexpected response for issued command")

	// ErrMalformedFrame is returned by the wire codec when bytes do not
	// match any Request/Response/Value alternative.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrInvalidKey is returned when a key fails the printable-ASCII,
	// 1..250-byte charset check before serialization.
	ErrInvalidKey = errors.New("invalid key: empty, too long, or contains a disallowed byte")
	// ErrInvalidValue is returned when a payload is too large to encode
	// in the length-prefixed grammar (must fit in a uint32).
	ErrInvalidValue = errors.New("invalid value: payload too long")

	// ErrTransportClosed is returned to all pending and future dispatches
	// once a Transport has been closed with Close or its peer has ended
	// the stream (EOF). Any other read or write failure that closes the
	// Transport is reported to them as that failure's own error.
	ErrTransportClosed = errors.New("transport closed")
	// ErrNoReplyEscapeHatch is the hazard documented on DispatchRaw: once a
	// noreply request is dispatched raw, the connection's reply stream no
	// longer has a one-to-one correspondence with dispatched requests.
	ErrNoReplyEscapeHatch = errors.New("noreply request issued: connection unusable for further pipelined Dispatch until drained")
)

// errIncomplete is a package-private sentinel used internally by the
// incremental parsers (parseValue, ParseRequest, ParseResponse) to signal
// "not enough bytes yet" without allocating a new error on every partial
// parse attempt. It never escapes the package's exported API: frame.go
// translates it into the Frame codec's Incomplete outcome.
var errIncomplete = errors.New("incomplete frame")
