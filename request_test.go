package memcached

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestStorage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Request
	}{
		{
			name:  "set",
			input: "set foo 0 0 3\r\nbar\r\n",
			want:  &SetRequest{Key: "foo", Payload: []byte("bar")},
		},
		{
			name:  "add with noreply",
			input: "add foo 1 60 3 noreply\r\nbar\r\n",
			want:  &AddRequest{Key: "foo", Payload: []byte("bar"), Flags: 1, Expiry: 60, NoReply: true},
		},
		{
			name:  "replace",
			input: "replace foo 0 0 3\r\nbar\r\n",
			want:  &ReplaceRequest{Key: "foo", Payload: []byte("bar")},
		},
		{
			name:  "append",
			input: "append foo 3\r\nbar\r\n",
			want:  &AppendRequest{Key: "foo", Payload: []byte("bar")},
		},
		{
			name:  "prepend noreply",
			input: "prepend foo 3 noreply\r\nbar\r\n",
			want:  &PrependRequest{Key: "foo", Payload: []byte("bar"), NoReply: true},
		},
		{
			name:  "cas",
			input: "cas foo 0 0 3 42\r\nbar\r\n",
			want:  &CasRequest{Key: "foo", Payload: []byte("bar"), CAS: 42},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := []byte(tt.input)
			got, n, err := ParseRequest(buf)
			require.NoError(t, err)
			assert.Equal(t, len(tt.input), n)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRequestGetsBeforeGet(t *testing.T) {
	// "gets" must never be misread as "get" with a stray "s" left over,
	// since splitSpaces tokenizes the full keyword rather than testing a
	// byte prefix.
	got, n, err := ParseRequest([]byte("gets a b c\r\n"))
	require.NoError(t, err)
	assert.Equal(t, &GetsRequest{Keys: []string{"a", "b", "c"}}, got)
	assert.Equal(t, len("gets a b c\r\n"), n)

	got, n, err = ParseRequest([]byte("get a b c\r\n"))
	require.NoError(t, err)
	assert.Equal(t, &GetRequest{Keys: []string{"a", "b", "c"}}, got)
	assert.Equal(t, len("get a b c\r\n"), n)
}

func TestParseRequestRetrievalAndAdmin(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Request
	}{
		{name: "get no keys", input: "get\r\n", want: &GetRequest{}},
		{name: "gat", input: "gat 60 a b\r\n", want: &GetAndTouchRequest{Expiry: 60, Keys: []string{"a", "b"}}},
		{name: "gats", input: "gats 60 a\r\n", want: &GetAndTouchesRequest{Expiry: 60, Keys: []string{"a"}}},
		{name: "delete", input: "delete foo\r\n", want: &DeleteRequest{Key: "foo"}},
		{name: "delete noreply", input: "delete foo noreply\r\n", want: &DeleteRequest{Key: "foo", NoReply: true}},
		{name: "incr", input: "incr foo 5\r\n", want: &IncrRequest{Key: "foo", Delta: 5}},
		{name: "decr", input: "decr foo 5\r\n", want: &DecrRequest{Key: "foo", Delta: 5}},
		{name: "touch", input: "touch foo 60\r\n", want: &TouchRequest{Key: "foo", Expiry: 60}},
		{name: "flush_all bare", input: "flush_all\r\n", want: &FlushAllRequest{}},
		{name: "flush_all with delay", input: "flush_all 30\r\n", want: &FlushAllRequest{Delay: 30, HasDelay: true}},
		{name: "flush_all noreply", input: "flush_all noreply\r\n", want: &FlushAllRequest{NoReply: true}},
		{name: "version", input: "version\r\n", want: &VersionRequest{}},
		{name: "stats", input: "stats\r\n", want: &StatsRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := ParseRequest([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, len(tt.input), n)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRequestIncomplete(t *testing.T) {
	tests := []string{
		"set foo 0 0 3\r\nba",
		"set foo 0 0",
		"ge",
	}
	for _, in := range tests {
		_, _, err := ParseRequest([]byte(in))
		require.ErrorIs(t, err, errIncomplete)
	}
}

func TestParseRequestUnknownCommand(t *testing.T) {
	input := "frobnicate foo\r\n"
	_, n, err := ParseRequest([]byte(input))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClientError)
	// the malformed line itself must be reported as consumed so a caller
	// can skip past it and keep reading the next frame on the same stream.
	assert.Equal(t, len(input), n)
}

func TestParseRequestMalformedHeaderReportsConsumedBytes(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "bad store arity", input: "set foo 0 0\r\n"},
		{name: "bad flags", input: "set foo xx 0 3\r\nbar\r\n"},
		{name: "bad cas arity", input: "cas foo 0 0 3\r\nbar\r\n"},
		{name: "bad delta", input: "incr foo xx\r\n"},
		{name: "bad invalid key", input: "set \t 0 0 3\r\nbar\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, n, err := ParseRequest([]byte(tt.input))
			require.Error(t, err)
			assert.NotZero(t, n, "a recoverable parse failure must report the bytes it consumed")
		})
	}
}

func TestParseRequestOversizedPayloadRejectedButFrameConsumed(t *testing.T) {
	const tooBig = maxValueSize + 1
	payload := make([]byte, tooBig)
	input := append([]byte("set big 0 0 "+strconv.Itoa(tooBig)+"\r\n"), payload...)
	input = append(input, '\r', '\n')

	_, n, err := ParseRequest(input)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClientError)
	assert.Equal(t, len(input), n, "the whole oversized frame must be consumed, not just its header line")
}

func TestSerializeRequestRoundTrip(t *testing.T) {
	reqs := []Request{
		&SetRequest{Key: "k", Payload: []byte("v"), Flags: 1, Expiry: 2},
		&AddRequest{Key: "k", Payload: []byte("v"), NoReply: true},
		&AppendRequest{Key: "k", Payload: []byte("v")},
		&CasRequest{Key: "k", Payload: []byte("v"), CAS: 99},
		&GetRequest{Keys: []string{"a", "b"}},
		&GetsRequest{Keys: []string{"a"}},
		&GetAndTouchRequest{Expiry: 5, Keys: []string{"a", "b"}},
		&DeleteRequest{Key: "k"},
		&IncrRequest{Key: "k", Delta: 3},
		&DecrRequest{Key: "k", Delta: 3, NoReply: true},
		&TouchRequest{Key: "k", Expiry: 10},
		&FlushAllRequest{Delay: 5, HasDelay: true},
		&FlushAllRequest{},
		&VersionRequest{},
		&StatsRequest{},
	}

	for _, req := range reqs {
		buf, err := Serialize(req, nil)
		require.NoError(t, err)
		got, n, err := ParseRequest(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, req, got)
	}
}

func TestSerializeRequestRejectsInvalidKey(t *testing.T) {
	_, err := Serialize(&SetRequest{Key: "bad key", Payload: []byte("v")}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseRequestDecrNeverBuildsIncr(t *testing.T) {
	got, _, err := ParseRequest([]byte("decr foo 1\r\n"))
	require.NoError(t, err)
	_, isDecr := got.(*DecrRequest)
	assert.True(t, isDecr, "decr must parse to a distinct DecrRequest, not IncrRequest")
}
