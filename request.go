package memcached

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Request is the sealed union of the 17 command kinds this package
// understands: the 14 from the classic memcache text protocol (storage:
// set/add/replace/append/prepend/cas; retrieval: get/gets; arithmetic:
// incr/decr; admin: delete/touch/flush_all/version) plus gat/gats
// (get-and-touch) and stats, both real memcached text commands the
// distilled protocol surface omitted.
//
// Concrete types are *SetRequest, *AddRequest, *ReplaceRequest,
// *AppendRequest, *PrependRequest, *CasRequest, *GetRequest,
// *GetsRequest, *GetAndTouchRequest, *GetAndTouchesRequest,
// *DeleteRequest, *IncrRequest, *DecrRequest, *TouchRequest,
// *FlushAllRequest, *VersionRequest, *StatsRequest.
type Request interface {
	isRequest()
}

// StoreRequest is the common shape of set/add/replace: a single key,
// payload, flags and expiry, with an optional noreply suppression.
type StoreRequest struct {
	Key     string
	Payload []byte
	Flags   uint16
	Expiry  uint32
	NoReply bool
}

type (
	// SetRequest unconditionally stores the key.
	SetRequest StoreRequest
	// AddRequest stores the key only if it does not already exist.
	AddRequest StoreRequest
	// ReplaceRequest stores the key only if it already exists.
	ReplaceRequest StoreRequest
)

func (*SetRequest) isRequest()     {}
func (*AddRequest) isRequest()     {}
func (*ReplaceRequest) isRequest() {}

// ConcatRequest is the common shape of append/prepend: no flags or
// expiry, since the stored item's existing metadata is kept.
type ConcatRequest struct {
	Key     string
	Payload []byte
	NoReply bool
}

type (
	// AppendRequest appends Payload to the existing value.
	AppendRequest ConcatRequest
	// PrependRequest prepends Payload to the existing value.
	PrependRequest ConcatRequest
)

func (*AppendRequest) isRequest()  {}
func (*PrependRequest) isRequest() {}

// CasRequest performs a compare-and-swap store: it only succeeds if the
// key's current CAS token still matches CAS.
type CasRequest struct {
	Key     string
	Payload []byte
	Flags   uint16
	Expiry  uint32
	CAS     uint64
	NoReply bool
}

func (*CasRequest) isRequest() {}

// GetRequest retrieves zero or more keys without CAS tokens.
type GetRequest struct{ Keys []string }

// GetsRequest retrieves zero or more keys with CAS tokens attached.
type GetsRequest struct{ Keys []string }

func (*GetRequest) isRequest()  {}
func (*GetsRequest) isRequest() {}

// GetAndTouchRequest ("gat") retrieves keys and resets their expiry in
// one round trip, without CAS tokens.
type GetAndTouchRequest struct {
	Expiry uint32
	Keys   []string
}

// GetAndTouchesRequest ("gats") is GetAndTouchRequest with CAS tokens
// attached to the returned values.
type GetAndTouchesRequest struct {
	Expiry uint32
	Keys   []string
}

func (*GetAndTouchRequest) isRequest()   {}
func (*GetAndTouchesRequest) isRequest() {}

// DeleteRequest removes a key.
type DeleteRequest struct {
	Key     string
	NoReply bool
}

func (*DeleteRequest) isRequest() {}

// IncrRequest atomically adds Delta to the integer stored at Key.
type IncrRequest struct {
	Key     string
	Delta   uint64
	NoReply bool
}

// DecrRequest atomically subtracts Delta from the integer stored at Key,
// floored at zero by upstream memcached semantics.
type DecrRequest struct {
	Key     string
	Delta   uint64
	NoReply bool
}

func (*IncrRequest) isRequest() {}
func (*DecrRequest) isRequest() {}

// TouchRequest resets a key's expiry without fetching its value.
type TouchRequest struct {
	Key     string
	Expiry  uint32
	NoReply bool
}

func (*TouchRequest) isRequest() {}

// FlushAllRequest invalidates all items, optionally after Delay seconds.
type FlushAllRequest struct {
	Delay    uint32
	HasDelay bool
	NoReply  bool
}

func (*FlushAllRequest) isRequest() {}

// VersionRequest asks the server to report its version string.
type VersionRequest struct{}

func (*VersionRequest) isRequest() {}

// StatsRequest asks the server to report its runtime statistics.
type StatsRequest struct{}

func (*StatsRequest) isRequest() {}

// ParseRequest parses a single Request frame from the head of buf. See
// parseValue for the Done/Incomplete/Error contract: errIncomplete means
// "not enough bytes yet", buf is left untouched.
//
// A malformed command line (unknown keyword, bad arity, a field that
// fails to parse, an invalid key, or a declared payload over
// maxValueSize) is reported as an error wrapping ErrClientError or
// ErrInvalidKey, but — unlike errIncomplete — still reports the number
// of bytes the bad frame occupies: the header line, or for an oversized
// payload the whole frame including it. This lets frameReader skip past
// exactly the offending frame and resynchronize on the next one instead
// of choking on the same bytes forever.
//
// Alternatives are matched on the exact first whitespace-delimited token
// of the header line, not a byte prefix — this sidesteps the classic
// "get is a prefix of gets" hazard without needing a specific try-order:
// "get" never matches a line that tokenizes to "gets".
func ParseRequest(buf []byte) (Request, int, error) {
	headerEnd := indexCRLF(buf)
	if headerEnd < 0 {
		return nil, 0, errIncomplete
	}

	fields := splitSpaces(buf[:headerEnd])
	if len(fields) == 0 {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad command line")
	}

	keyword := string(fields[0])
	rest := fields[1:]

	switch keyword {
	case "set", "add", "replace":
		return parseStoreRequest(keyword, rest, buf, headerEnd)
	case "append", "prepend":
		return parseConcatRequest(keyword, rest, buf, headerEnd)
	case "cas":
		return parseCasRequest(rest, buf, headerEnd)
	case "get":
		return &GetRequest{Keys: stringsCopy(rest)}, headerEnd + 2, nil
	case "gets":
		return &GetsRequest{Keys: stringsCopy(rest)}, headerEnd + 2, nil
	case "gat":
		return parseGetAndTouch(rest, headerEnd)
	case "gats":
		return parseGetAndTouchWithCAS(rest, headerEnd)
	case "delete":
		return parseDeleteRequest(rest, headerEnd)
	case "incr":
		return parseArithmeticRequest(true, rest, headerEnd)
	case "decr":
		return parseArithmeticRequest(false, rest, headerEnd)
	case "touch":
		return parseTouchRequest(rest, headerEnd)
	case "flush_all":
		return parseFlushAllRequest(rest, headerEnd)
	case "version":
		return &VersionRequest{}, headerEnd + 2, nil
	case "stats":
		return &StatsRequest{}, headerEnd + 2, nil
	default:
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad command line")
	}
}

func stringsCopy(fields [][]byte) []string {
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

// stripNoReply reports whether the last field is the literal "noreply"
// token and, if so, returns the fields with it removed.
func stripNoReply(fields [][]byte) ([][]byte, bool) {
	if len(fields) == 0 {
		return fields, false
	}
	last := fields[len(fields)-1]
	if string(last) == "noreply" {
		return fields[:len(fields)-1], true
	}
	return fields, false
}

func parseStoreRequest(keyword string, fields [][]byte, buf []byte, headerEnd int) (Request, int, error) {
	fields, noReply := stripNoReply(fields)
	if len(fields) != 4 {
		return nil, headerEnd + 2, errors.Wrapf(ErrClientError, "bad %s header", keyword)
	}

	key, err := validateKey(fields[0])
	if err != nil {
		return nil, headerEnd + 2, err
	}
	flags, err := parseUint(fields[1], 16)
	if err != nil {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad flags: "+err.Error())
	}
	expiry, err := parseUint(fields[2], 32)
	if err != nil {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad expiry: "+err.Error())
	}
	length, err := parseUint(fields[3], 32)
	if err != nil {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad length: "+err.Error())
	}

	payload, n, ok := readPayload(buf, headerEnd, length)
	if !ok {
		return nil, 0, errIncomplete
	}
	if err := checkValueSizeCap(length); err != nil {
		return nil, n, err
	}

	sr := StoreRequest{Key: key, Payload: payload, Flags: uint16(flags), Expiry: uint32(expiry), NoReply: noReply}
	switch keyword {
	case "set":
		v := SetRequest(sr)
		return &v, n, nil
	case "add":
		v := AddRequest(sr)
		return &v, n, nil
	default: // replace
		v := ReplaceRequest(sr)
		return &v, n, nil
	}
}

func parseConcatRequest(keyword string, fields [][]byte, buf []byte, headerEnd int) (Request, int, error) {
	fields, noReply := stripNoReply(fields)
	if len(fields) != 2 {
		return nil, headerEnd + 2, errors.Wrapf(ErrClientError, "bad %s header", keyword)
	}

	key, err := validateKey(fields[0])
	if err != nil {
		return nil, headerEnd + 2, err
	}
	length, err := parseUint(fields[1], 32)
	if err != nil {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad length: "+err.Error())
	}

	payload, n, ok := readPayload(buf, headerEnd, length)
	if !ok {
		return nil, 0, errIncomplete
	}
	if err := checkValueSizeCap(length); err != nil {
		return nil, n, err
	}

	cr := ConcatRequest{Key: key, Payload: payload, NoReply: noReply}
	if keyword == "append" {
		v := AppendRequest(cr)
		return &v, n, nil
	}
	v := PrependRequest(cr)
	return &v, n, nil
}

func parseCasRequest(fields [][]byte, buf []byte, headerEnd int) (Request, int, error) {
	fields, noReply := stripNoReply(fields)
	if len(fields) != 5 {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad cas header")
	}

	key, err := validateKey(fields[0])
	if err != nil {
		return nil, headerEnd + 2, err
	}
	flags, err := parseUint(fields[1], 16)
	if err != nil {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad flags: "+err.Error())
	}
	expiry, err := parseUint(fields[2], 32)
	if err != nil {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad expiry: "+err.Error())
	}
	length, err := parseUint(fields[3], 32)
	if err != nil {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad length: "+err.Error())
	}
	cas, err := parseUint(fields[4], 64)
	if err != nil {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad cas unique: "+err.Error())
	}

	payload, n, ok := readPayload(buf, headerEnd, length)
	if !ok {
		return nil, 0, errIncomplete
	}
	if err := checkValueSizeCap(length); err != nil {
		return nil, n, err
	}

	return &CasRequest{
		Key: key, Payload: payload, Flags: uint16(flags), Expiry: uint32(expiry),
		CAS: cas, NoReply: noReply,
	}, n, nil
}

// maxValueSize is the default item_size_max a reimplementation should
// enforce on the server's receiving side: a payload declared larger than
// this is rejected with CLIENT_ERROR rather than accepted and stored.
const maxValueSize = 1 << 20 // 1 MiB, matching stock memcached's -I default

// checkValueSizeCap rejects a declared payload length over maxValueSize.
// The caller must still read (and discard) the full frame before
// reporting this error, so the connection's byte stream stays in sync
// with the peer, which will have already written that many bytes.
func checkValueSizeCap(length uint64) error {
	if length > maxValueSize {
		return errors.Wrap(ErrClientError, "object too large for cache")
	}
	return nil
}

// readPayload slices out a storage command's data block, validating the
// trailing CRLF. ok is false when buf does not yet hold the full block
// (the caller must report errIncomplete without consuming anything).
func readPayload(buf []byte, headerEnd int, length uint64) (payload []byte, consumed int, ok bool) {
	payloadStart := headerEnd + 2
	payloadEnd := payloadStart + int(length)
	frameEnd := payloadEnd + 2
	if len(buf) < frameEnd {
		return nil, 0, false
	}
	if buf[payloadEnd] != '\r' || buf[payloadEnd+1] != '\n' {
		return nil, 0, false
	}
	return append([]byte(nil), buf[payloadStart:payloadEnd]...), frameEnd, true
}

func parseGetAndTouch(fields [][]byte, headerEnd int) (Request, int, error) {
	expiry, keys, err := parseGatFields(fields)
	if err != nil {
		return nil, headerEnd + 2, err
	}
	return &GetAndTouchRequest{Expiry: expiry, Keys: keys}, headerEnd + 2, nil
}

func parseGetAndTouchWithCAS(fields [][]byte, headerEnd int) (Request, int, error) {
	expiry, keys, err := parseGatFields(fields)
	if err != nil {
		return nil, headerEnd + 2, err
	}
	return &GetAndTouchesRequest{Expiry: expiry, Keys: keys}, headerEnd + 2, nil
}

func parseGatFields(fields [][]byte) (uint32, []string, error) {
	if len(fields) < 2 {
		return 0, nil, errors.Wrap(ErrClientError, "bad gat/gats header")
	}
	expiry, err := parseUint(fields[0], 32)
	if err != nil {
		return 0, nil, errors.Wrap(ErrClientError, "bad expiry: "+err.Error())
	}
	return uint32(expiry), stringsCopy(fields[1:]), nil
}

func parseDeleteRequest(fields [][]byte, headerEnd int) (Request, int, error) {
	fields, noReply := stripNoReply(fields)
	if len(fields) != 1 {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad delete header")
	}
	key, err := validateKey(fields[0])
	if err != nil {
		return nil, headerEnd + 2, err
	}
	return &DeleteRequest{Key: key, NoReply: noReply}, headerEnd + 2, nil
}

func parseArithmeticRequest(incr bool, fields [][]byte, headerEnd int) (Request, int, error) {
	fields, noReply := stripNoReply(fields)
	if len(fields) != 2 {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad incr/decr header")
	}
	key, err := validateKey(fields[0])
	if err != nil {
		return nil, headerEnd + 2, err
	}
	delta, err := parseUint(fields[1], 64)
	if err != nil {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad delta: "+err.Error())
	}
	if incr {
		return &IncrRequest{Key: key, Delta: delta, NoReply: noReply}, headerEnd + 2, nil
	}
	return &DecrRequest{Key: key, Delta: delta, NoReply: noReply}, headerEnd + 2, nil
}

func parseTouchRequest(fields [][]byte, headerEnd int) (Request, int, error) {
	fields, noReply := stripNoReply(fields)
	if len(fields) != 2 {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad touch header")
	}
	key, err := validateKey(fields[0])
	if err != nil {
		return nil, headerEnd + 2, err
	}
	expiry, err := parseUint(fields[1], 32)
	if err != nil {
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad expiry: "+err.Error())
	}
	return &TouchRequest{Key: key, Expiry: uint32(expiry), NoReply: noReply}, headerEnd + 2, nil
}

func parseFlushAllRequest(fields [][]byte, headerEnd int) (Request, int, error) {
	fields, noReply := stripNoReply(fields)
	req := &FlushAllRequest{NoReply: noReply}
	switch len(fields) {
	case 0:
	case 1:
		delay, err := parseUint(fields[0], 32)
		if err != nil {
			return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad delay: "+err.Error())
		}
		req.Delay = uint32(delay)
		req.HasDelay = true
	default:
		return nil, headerEnd + 2, errors.Wrap(ErrClientError, "bad flush_all header")
	}
	return req, headerEnd + 2, nil
}

// Serialize appends the wire form of req to buf and returns the result,
// or an error if req carries an invalid key.
func Serialize(req Request, buf []byte) ([]byte, error) {
	switch r := req.(type) {
	case *SetRequest:
		return serializeStore("set", StoreRequest(*r), buf)
	case *AddRequest:
		return serializeStore("add", StoreRequest(*r), buf)
	case *ReplaceRequest:
		return serializeStore("replace", StoreRequest(*r), buf)
	case *AppendRequest:
		return serializeConcat("append", ConcatRequest(*r), buf)
	case *PrependRequest:
		return serializeConcat("prepend", ConcatRequest(*r), buf)
	case *CasRequest:
		return serializeCas(r, buf)
	case *GetRequest:
		return serializeKeyList("get", r.Keys, buf)
	case *GetsRequest:
		return serializeKeyList("gets", r.Keys, buf)
	case *GetAndTouchRequest:
		return serializeGetAndTouch("gat", r.Expiry, r.Keys, buf)
	case *GetAndTouchesRequest:
		return serializeGetAndTouch("gats", r.Expiry, r.Keys, buf)
	case *DeleteRequest:
		return serializeDelete(r, buf)
	case *IncrRequest:
		return serializeArithmetic("incr", r.Key, r.Delta, r.NoReply, buf)
	case *DecrRequest:
		return serializeArithmetic("decr", r.Key, r.Delta, r.NoReply, buf)
	case *TouchRequest:
		return serializeTouch(r, buf)
	case *FlushAllRequest:
		return serializeFlushAll(r, buf)
	case *VersionRequest:
		return append(buf, "version\r\n"...), nil
	case *StatsRequest:
		return append(buf, "stats\r\n"...), nil
	default:
		return nil, errors.Errorf("memcached: unknown request type %T", req)
	}
}

// validatePayloadLength rejects a payload too long to fit the
// length-prefixed grammar's uint32 bytes field.
func validatePayloadLength(n int) error {
	if uint64(n) > math.MaxUint32 {
		return errors.Wrap(ErrInvalidValue, "payload exceeds uint32 length field")
	}
	return nil
}

func serializeStore(cmd string, r StoreRequest, buf []byte) ([]byte, error) {
	if _, err := validateKey([]byte(r.Key)); err != nil {
		return nil, err
	}
	if err := validatePayloadLength(len(r.Payload)); err != nil {
		return nil, err
	}
	buf = append(buf, cmd...)
	buf = append(buf, ' ')
	buf = append(buf, r.Key...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(r.Flags), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(r.Expiry), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(len(r.Payload)), 10)
	if r.NoReply {
		buf = append(buf, _noReplyTag...)
	}
	buf = append(buf, '\r', '\n')
	buf = append(buf, r.Payload...)
	buf = append(buf, '\r', '\n')
	return buf, nil
}

func serializeConcat(cmd string, r ConcatRequest, buf []byte) ([]byte, error) {
	if _, err := validateKey([]byte(r.Key)); err != nil {
		return nil, err
	}
	if err := validatePayloadLength(len(r.Payload)); err != nil {
		return nil, err
	}
	buf = append(buf, cmd...)
	buf = append(buf, ' ')
	buf = append(buf, r.Key...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(len(r.Payload)), 10)
	if r.NoReply {
		buf = append(buf, _noReplyTag...)
	}
	buf = append(buf, '\r', '\n')
	buf = append(buf, r.Payload...)
	buf = append(buf, '\r', '\n')
	return buf, nil
}

func serializeCas(r *CasRequest, buf []byte) ([]byte, error) {
	if _, err := validateKey([]byte(r.Key)); err != nil {
		return nil, err
	}
	if err := validatePayloadLength(len(r.Payload)); err != nil {
		return nil, err
	}
	buf = append(buf, "cas "...)
	buf = append(buf, r.Key...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(r.Flags), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(r.Expiry), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(len(r.Payload)), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, r.CAS, 10)
	if r.NoReply {
		buf = append(buf, _noReplyTag...)
	}
	buf = append(buf, '\r', '\n')
	buf = append(buf, r.Payload...)
	buf = append(buf, '\r', '\n')
	return buf, nil
}

func serializeKeyList(cmd string, keys []string, buf []byte) ([]byte, error) {
	buf = append(buf, cmd...)
	for _, k := range keys {
		if _, err := validateKey([]byte(k)); err != nil {
			return nil, err
		}
		buf = append(buf, ' ')
		buf = append(buf, k...)
	}
	buf = append(buf, '\r', '\n')
	return buf, nil
}

func serializeGetAndTouch(cmd string, expiry uint32, keys []string, buf []byte) ([]byte, error) {
	buf = append(buf, cmd...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(expiry), 10)
	for _, k := range keys {
		if _, err := validateKey([]byte(k)); err != nil {
			return nil, err
		}
		buf = append(buf, ' ')
		buf = append(buf, k...)
	}
	buf = append(buf, '\r', '\n')
	return buf, nil
}

func serializeDelete(r *DeleteRequest, buf []byte) ([]byte, error) {
	if _, err := validateKey([]byte(r.Key)); err != nil {
		return nil, err
	}
	buf = append(buf, "delete "...)
	buf = append(buf, r.Key...)
	if r.NoReply {
		buf = append(buf, _noReplyTag...)
	}
	buf = append(buf, '\r', '\n')
	return buf, nil
}

func serializeArithmetic(cmd, key string, delta uint64, noReply bool, buf []byte) ([]byte, error) {
	if _, err := validateKey([]byte(key)); err != nil {
		return nil, err
	}
	buf = append(buf, cmd...)
	buf = append(buf, ' ')
	buf = append(buf, key...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, delta, 10)
	if noReply {
		buf = append(buf, _noReplyTag...)
	}
	buf = append(buf, '\r', '\n')
	return buf, nil
}

func serializeTouch(r *TouchRequest, buf []byte) ([]byte, error) {
	if _, err := validateKey([]byte(r.Key)); err != nil {
		return nil, err
	}
	buf = append(buf, "touch "...)
	buf = append(buf, r.Key...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(r.Expiry), 10)
	if r.NoReply {
		buf = append(buf, _noReplyTag...)
	}
	buf = append(buf, '\r', '\n')
	return buf, nil
}

func serializeFlushAll(r *FlushAllRequest, buf []byte) ([]byte, error) {
	buf = append(buf, "flush_all"...)
	if r.HasDelay {
		buf = append(buf, ' ')
		buf = strconv.AppendUint(buf, uint64(r.Delay), 10)
	}
	if r.NoReply {
		buf = append(buf, _noReplyTag...)
	}
	buf = append(buf, '\r', '\n')
	return buf, nil
}
