package memcached

import (
	"strconv"

	"github.com/pkg/errors"
)

// Response is the sealed union of the thirteen reply shapes the text
// protocol uses, plus Stats: Error, ClientError, ServerError, Stored,
// NotStored, Exists, NotFound, Values, Deleted, Numeric, Touched, Ok,
// Version, Stats.
type Response interface {
	isResponse()
}

// ErrorResponse is the bare "ERROR\r\n" line: the peer did not
// recognise the command.
type ErrorResponse struct{}

func (*ErrorResponse) isResponse() {}

// ClientErrorResponse is "CLIENT_ERROR <message>\r\n": the command line
// was recognised but malformed or violated a protocol rule.
type ClientErrorResponse struct{ Message string }

func (*ClientErrorResponse) isResponse() {}

// ServerErrorResponse is "SERVER_ERROR <message>\r\n": the backend
// failed to execute an otherwise-valid command.
type ServerErrorResponse struct{ Message string }

func (*ServerErrorResponse) isResponse() {}

// StoredResponse is "STORED\r\n".
type StoredResponse struct{}

func (*StoredResponse) isResponse() {}

// NotStoredResponse is "NOT_STORED\r\n": an add/replace/append/prepend
// precondition was not met.
type NotStoredResponse struct{}

func (*NotStoredResponse) isResponse() {}

// ExistsResponse is "EXISTS\r\n": a cas store lost the race, the item's
// CAS token has since changed.
type ExistsResponse struct{}

func (*ExistsResponse) isResponse() {}

// NotFoundResponse is "NOT_FOUND\r\n": issued for a cas/delete/incr/
// decr/touch against a key that does not exist.
type NotFoundResponse struct{}

func (*NotFoundResponse) isResponse() {}

// ValuesResponse is zero or more VALUE records terminated by "END\r\n",
// the reply shape for get/gets/gat/gats.
type ValuesResponse struct{ Items []Value }

func (*ValuesResponse) isResponse() {}

// DeletedResponse is "DELETED\r\n".
type DeletedResponse struct{}

func (*DeletedResponse) isResponse() {}

// NumericResponse is the bare decimal line an incr/decr returns on
// success: the item's new value.
type NumericResponse struct{ Value uint64 }

func (*NumericResponse) isResponse() {}

// TouchedResponse is "TOUCHED\r\n".
type TouchedResponse struct{}

func (*TouchedResponse) isResponse() {}

// OkResponse is "OK\r\n", returned by flush_all.
type OkResponse struct{}

func (*OkResponse) isResponse() {}

// VersionResponse is "VERSION <string>\r\n".
type VersionResponse struct{ Version string }

func (*VersionResponse) isResponse() {}

// StatsResponse is zero or more "STAT <name> <value>\r\n" lines
// terminated by "END\r\n".
type StatsResponse struct{ Stats map[string]string }

func (*StatsResponse) isResponse() {}

var (
	_endLine = []byte("END\r\n")
	_statTag = []byte("STAT ")
)

// messageAfterKeyword returns whatever follows "<keyword> " in line, or
// the empty string if line is exactly the bare keyword.
func messageAfterKeyword(line []byte, keyword string) string {
	if len(line) <= len(keyword)+1 {
		return ""
	}
	return string(line[len(keyword)+1:])
}

// ParseResponse parses a single Response frame from the head of buf,
// following the same Done/Incomplete/Error contract as parseValue and
// ParseRequest.
func ParseResponse(buf []byte) (Response, int, error) {
	if hasPrefix(buf, _valueTag) {
		return parseValuesResponse(buf)
	}
	if hasPrefix(buf, _endLine) {
		return &ValuesResponse{}, len(_endLine), nil
	}
	if hasPrefix(buf, _statTag) {
		return parseStatsResponse(buf)
	}

	headerEnd := indexCRLF(buf)
	if headerEnd < 0 {
		return nil, 0, errIncomplete
	}
	line := buf[:headerEnd]
	fields := splitSpaces(line)
	if len(fields) == 0 {
		return nil, 0, errors.Wrap(ErrMalformedFrame, "empty response line")
	}
	keyword := string(fields[0])

	switch keyword {
	case "ERROR":
		return &ErrorResponse{}, headerEnd + 2, nil
	case "CLIENT_ERROR":
		return &ClientErrorResponse{Message: messageAfterKeyword(line, keyword)}, headerEnd + 2, nil
	case "SERVER_ERROR":
		return &ServerErrorResponse{Message: messageAfterKeyword(line, keyword)}, headerEnd + 2, nil
	case "STORED":
		return &StoredResponse{}, headerEnd + 2, nil
	case "NOT_STORED":
		return &NotStoredResponse{}, headerEnd + 2, nil
	case "EXISTS":
		return &ExistsResponse{}, headerEnd + 2, nil
	case "NOT_FOUND":
		return &NotFoundResponse{}, headerEnd + 2, nil
	case "DELETED":
		return &DeletedResponse{}, headerEnd + 2, nil
	case "TOUCHED":
		return &TouchedResponse{}, headerEnd + 2, nil
	case "OK":
		return &OkResponse{}, headerEnd + 2, nil
	case "VERSION":
		return &VersionResponse{Version: messageAfterKeyword(line, keyword)}, headerEnd + 2, nil
	default:
		if n, err := parseUint(fields[0], 64); err == nil && len(fields) == 1 {
			return &NumericResponse{Value: n}, headerEnd + 2, nil
		}
		return nil, 0, errors.Wrap(ErrMalformedFrame, "unrecognised response line")
	}
}

// parseValuesResponse consumes a run of VALUE records up to and
// including the terminating END line. It is non-destructive on
// Incomplete: any VALUE record fully parsed before the cutoff is
// re-parsed from buf[0:] on the next call, since the caller only
// advances its buffer once the whole frame returns Done.
func parseValuesResponse(buf []byte) (Response, int, error) {
	var items []Value
	offset := 0
	for {
		remaining := buf[offset:]
		if hasPrefix(remaining, _endLine) {
			offset += len(_endLine)
			return &ValuesResponse{Items: items}, offset, nil
		}
		v, n, err := parseValue(remaining)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
		offset += n
	}
}

// parseStatsResponse consumes a run of STAT lines up to and including
// the terminating END line.
func parseStatsResponse(buf []byte) (Response, int, error) {
	stats := make(map[string]string)
	offset := 0
	for {
		remaining := buf[offset:]
		if hasPrefix(remaining, _endLine) {
			offset += len(_endLine)
			return &StatsResponse{Stats: stats}, offset, nil
		}
		if !hasPrefix(remaining, _statTag) {
			return nil, 0, errors.Wrap(ErrMalformedFrame, "expected STAT or END line")
		}
		lineEnd := indexCRLF(remaining)
		if lineEnd < 0 {
			return nil, 0, errIncomplete
		}
		fields := splitSpaces(remaining[len(_statTag):lineEnd])
		if len(fields) != 2 {
			return nil, 0, errors.Wrap(ErrMalformedFrame, "malformed STAT line")
		}
		stats[string(fields[0])] = string(fields[1])
		offset += lineEnd + 2
	}
}

// SerializeResponse appends the wire form of resp to buf and returns
// the result.
func SerializeResponse(resp Response, buf []byte) []byte {
	switch r := resp.(type) {
	case *ErrorResponse:
		return append(buf, "ERROR\r\n"...)
	case *ClientErrorResponse:
		buf = append(buf, "CLIENT_ERROR "...)
		buf = append(buf, r.Message...)
		return append(buf, '\r', '\n')
	case *ServerErrorResponse:
		buf = append(buf, "SERVER_ERROR "...)
		buf = append(buf, r.Message...)
		return append(buf, '\r', '\n')
	case *StoredResponse:
		return append(buf, "STORED\r\n"...)
	case *NotStoredResponse:
		return append(buf, "NOT_STORED\r\n"...)
	case *ExistsResponse:
		return append(buf, "EXISTS\r\n"...)
	case *NotFoundResponse:
		return append(buf, "NOT_FOUND\r\n"...)
	case *DeletedResponse:
		return append(buf, "DELETED\r\n"...)
	case *TouchedResponse:
		return append(buf, "TOUCHED\r\n"...)
	case *OkResponse:
		return append(buf, "OK\r\n"...)
	case *NumericResponse:
		buf = strconv.AppendUint(buf, r.Value, 10)
		return append(buf, '\r', '\n')
	case *VersionResponse:
		buf = append(buf, "VERSION "...)
		buf = append(buf, r.Version...)
		return append(buf, '\r', '\n')
	case *ValuesResponse:
		for _, v := range r.Items {
			buf = v.serialize(buf)
		}
		return append(buf, _endLine...)
	case *StatsResponse:
		for k, v := range r.Stats {
			buf = append(buf, _statTag...)
			buf = append(buf, k...)
			buf = append(buf, ' ')
			buf = append(buf, v...)
			buf = append(buf, '\r', '\n')
		}
		return append(buf, _endLine...)
	default:
		return append(buf, "ERROR\r\n"...)
	}
}
