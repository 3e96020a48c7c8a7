package memcached

import (
	"strconv"

	"github.com/pkg/errors"
)

// Value is the on-wire atomic record memcached calls an "item": the
// payload of a single key plus the metadata the text protocol carries
// alongside it.
//
//	VALUE <key> <flags> <bytes> [<cas>]\r\n
//	<payload of bytes length>\r\n
type Value struct {
	Key     string
	Payload []byte
	Flags   uint16

	// CAS is only meaningful when HasCAS is true: it is populated from a
	// `gets` reply and echoed back on a `cas` store to perform a
	// compare-and-swap.
	CAS    uint64
	HasCAS bool
}

var _valueTag = []byte("VALUE ")

// parseValue parses a single Value record from the head of buf. It
// returns the number of bytes consumed on success. A return of
// errIncomplete means buf does not yet contain a full record and the
// caller must supply more bytes; buf itself is never mutated.
func parseValue(buf []byte) (Value, int, error) {
	if len(buf) < len(_valueTag) {
		return Value{}, 0, errIncomplete
	}
	if !hasPrefix(buf, _valueTag) {
		return Value{}, 0, errors.Wrap(ErrMalformedFrame, "expected VALUE record")
	}

	headerEnd := indexCRLF(buf)
	if headerEnd < 0 {
		return Value{}, 0, errIncomplete
	}

	fields := splitSpaces(buf[len(_valueTag):headerEnd])
	if len(fields) < 3 || len(fields) > 4 {
		return Value{}, 0, errors.Wrap(ErrMalformedFrame, "malformed VALUE header")
	}

	key, err := validateKey(fields[0])
	if err != nil {
		return Value{}, 0, err
	}

	flags, err := parseUint(fields[1], 16)
	if err != nil {
		return Value{}, 0, errors.Wrap(ErrMalformedFrame, "bad flags: "+err.Error())
	}

	length, err := parseUint(fields[2], 32)
	if err != nil {
		return Value{}, 0, errors.Wrap(ErrMalformedFrame, "bad length: "+err.Error())
	}

	v := Value{
		Key:   key,
		Flags: uint16(flags),
	}

	if len(fields) == 4 {
		cas, err := parseUint(fields[3], 64)
		if err != nil {
			return Value{}, 0, errors.Wrap(ErrMalformedFrame, "bad cas: "+err.Error())
		}
		v.CAS = cas
		v.HasCAS = true
	}

	payloadStart := headerEnd + 2
	payloadEnd := payloadStart + int(length)
	frameEnd := payloadEnd + 2
	if len(buf) < frameEnd {
		return Value{}, 0, errIncomplete
	}
	if buf[payloadEnd] != '\r' || buf[payloadEnd+1] != '\n' {
		return Value{}, 0, errors.Wrap(ErrMalformedFrame, "VALUE payload not terminated by CRLF")
	}

	v.Payload = append([]byte(nil), buf[payloadStart:payloadEnd]...)
	return v, frameEnd, nil
}

// serialize appends the wire form of v to buf and returns the result.
func (v Value) serialize(buf []byte) []byte {
	buf = append(buf, _valueTag...)
	buf = append(buf, v.Key...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(v.Flags), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(len(v.Payload)), 10)
	if v.HasCAS {
		buf = append(buf, ' ')
		buf = strconv.AppendUint(buf, v.CAS, 10)
	}
	buf = append(buf, '\r', '\n')
	buf = append(buf, v.Payload...)
	buf = append(buf, '\r', '\n')
	return buf
}

const (
	minKeyLen = 1
	maxKeyLen = 250
)

// validateKey enforces memcached's key grammar: 1..=250 printable ASCII
// bytes in 0x21..=0x7E, i.e. no whitespace or control bytes.
func validateKey(b []byte) (string, error) {
	if len(b) < minKeyLen || len(b) > maxKeyLen {
		return "", errors.Wrap(ErrInvalidKey, "length out of range")
	}
	for _, c := range b {
		if c < 0x21 || c > 0x7E {
			return "", errors.Wrap(ErrInvalidKey, "disallowed byte in key")
		}
	}
	return string(b), nil
}
