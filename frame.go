package memcached

import (
	"io"

	"github.com/pkg/errors"
)

// defaultReadChunk is how many bytes frameReader asks the underlying
// reader for at a time when a parse attempt reports errIncomplete.
const defaultReadChunk = 4096

// frameReader turns a stream of bytes from an io.Reader into successive
// frames using a caller-supplied incremental parse function (ParseRequest
// or ParseResponse). It owns a growable buffer and never discards bytes
// parse did not consume, so a frame split across TCP segments is
// transparently reassembled.
type frameReader struct {
	r   io.Reader
	buf []byte
	// tail is the scan offset of data read but not yet consumed by a
	// successfully parsed frame.
	tail int
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: r}
}

// parseFunc matches the signature shared by ParseRequest and
// ParseResponse: try to parse a frame off the front of buf, returning
// the number of bytes consumed, or errIncomplete if buf holds no full
// frame yet.
type parseFunc func(buf []byte) (frame interface{}, consumed int, err error)

// FrameSyncError reports a malformed frame that ParseRequest/ParseResponse
// nonetheless reported a byte count for — the frame reader has already
// skipped past it (the offending header line, or the whole oversized
// frame it belongs to), so the stream stays in sync and the caller can
// report Err to its peer and keep reading on the same connection. This
// is distinct from a plain error return, which means the stream's
// position could not be recovered and the connection must be torn down.
type FrameSyncError struct{ Err error }

func (e *FrameSyncError) Error() string { return e.Err.Error() }
func (e *FrameSyncError) Unwrap() error { return e.Err }

// next blocks until a complete frame is available, parses it with
// parse, and advances the internal buffer past the consumed bytes. A
// parse error that still reports consumed bytes (known to CLIENT_ERROR-
// class failures in request.go) is surfaced as *FrameSyncError once
// those bytes are skipped, rather than left for the next call to choke
// on the same malformed bytes forever.
func (fr *frameReader) next(parse parseFunc) (interface{}, error) {
	for {
		if fr.tail > 0 {
			frame, n, err := parse(fr.buf[:fr.tail])
			switch {
			case err == nil:
				fr.consume(n)
				return frame, nil
			case errors.Is(err, errIncomplete):
				// fall through to fill for more bytes
			case n > 0:
				fr.consume(n)
				return nil, &FrameSyncError{Err: err}
			default:
				return nil, err
			}
		}

		if err := fr.fill(); err != nil {
			return nil, err
		}
	}
}

// fill reads at least one more chunk of bytes from the underlying
// reader, growing buf as needed.
func (fr *frameReader) fill() error {
	if len(fr.buf)-fr.tail < defaultReadChunk {
		grown := make([]byte, fr.tail+defaultReadChunk)
		copy(grown, fr.buf[:fr.tail])
		fr.buf = grown
	}
	n, err := fr.r.Read(fr.buf[fr.tail:cap(fr.buf)])
	fr.tail += n
	if n > 0 {
		return nil
	}
	if err != nil {
		return err
	}
	return io.ErrNoProgress
}

// consume drops the first n bytes of the scanned region, shifting any
// remainder (the start of the next, not-yet-parsed frame) to the front
// of the buffer.
func (fr *frameReader) consume(n int) {
	remaining := fr.tail - n
	copy(fr.buf, fr.buf[n:fr.tail])
	fr.tail = remaining
}

// NextRequest reads and parses the next Request frame from r, blocking
// until one is available.
func (fr *frameReader) NextRequest() (Request, error) {
	frame, err := fr.next(func(buf []byte) (interface{}, int, error) {
		return ParseRequest(buf)
	})
	if err != nil {
		return nil, err
	}
	return frame.(Request), nil
}

// NextResponse reads and parses the next Response frame from r, blocking
// until one is available.
func (fr *frameReader) NextResponse() (Response, error) {
	frame, err := fr.next(func(buf []byte) (interface{}, int, error) {
		return ParseResponse(buf)
	})
	if err != nil {
		return nil, err
	}
	return frame.(Response), nil
}

// RequestReader incrementally decodes Request frames off an io.Reader.
// The server package uses it to read commands off an accepted
// connection; it is the Request-side counterpart of the unexported
// frameReader that Transport uses internally for responses.
type RequestReader struct{ fr *frameReader }

// NewRequestReader wraps r for incremental Request decoding.
func NewRequestReader(r io.Reader) *RequestReader {
	return &RequestReader{fr: newFrameReader(r)}
}

// Next blocks until a complete Request frame is available and returns
// it, or an error if the connection failed or the peer sent a malformed
// frame.
func (rr *RequestReader) Next() (Request, error) {
	return rr.fr.NextRequest()
}
