package memcached

import (
	"math/bits"

	"github.com/pkg/errors"
)

var (
	_crlf       = []byte("\r\n")
	_noReplyTag = []byte(" noreply")
)

// hasPrefix reports whether buf starts with prefix. Equivalent to
// bytes.HasPrefix; kept local to avoid importing bytes in every file that
// only needs this one check.
func hasPrefix(buf, prefix []byte) bool {
	if len(buf) < len(prefix) {
		return false
	}
	for i := range prefix {
		if buf[i] != prefix[i] {
			return false
		}
	}
	return true
}

// indexCRLF returns the index of the first "\r\n" in buf, or -1 if buf
// does not yet contain one.
func indexCRLF(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// splitSpaces splits buf on single ASCII spaces. Unlike bytes.Split it
// never returns empty fields from a run of spaces, matching how
// memcached header lines are formatted (single separating spaces).
func splitSpaces(buf []byte) [][]byte {
	var fields [][]byte
	start := -1
	for i, c := range buf {
		if c == ' ' {
			if start >= 0 {
				fields = append(fields, buf[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, buf[start:])
	}
	return fields
}

// parseUint parses an unsigned decimal integer from b, rejecting an
// empty input and rejecting (returning an error) on overflow of the
// given bit size rather than silently wrapping.
func parseUint(b []byte, bitSize int) (uint64, error) {
	if len(b) == 0 {
		return 0, errors.New("empty numeric field")
	}

	max := uint64(1)<<uint(bitSize) - 1
	if bitSize == 64 {
		max = ^uint64(0)
	}

	var v uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, errors.New("non-digit byte in numeric field")
		}
		d := uint64(c - '0')

		hi, lo := bits.Mul64(v, 10)
		if hi != 0 {
			return 0, errors.New("numeric field overflow")
		}
		sum := lo + d
		if sum < lo {
			return 0, errors.New("numeric field overflow")
		}
		v = sum
		if v > max {
			return 0, errors.New("numeric field overflow")
		}
	}

	return v, nil
}

// trimCRLF returns b without a trailing "\r\n", if present.
func trimCRLF(b []byte) []byte {
	if len(b) >= 2 && b[len(b)-2] == '\r' && b[len(b)-1] == '\n' {
		return b[:len(b)-2]
	}
	return b
}
