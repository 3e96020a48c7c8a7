package memcached

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseSimple(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Response
	}{
		{name: "error", input: "ERROR\r\n", want: &ErrorResponse{}},
		{name: "client error", input: "CLIENT_ERROR bad command line format\r\n", want: &ClientErrorResponse{Message: "bad command line format"}},
		{name: "server error", input: "SERVER_ERROR out of memory\r\n", want: &ServerErrorResponse{Message: "out of memory"}},
		{name: "stored", input: "STORED\r\n", want: &StoredResponse{}},
		{name: "not stored", input: "NOT_STORED\r\n", want: &NotStoredResponse{}},
		{name: "exists", input: "EXISTS\r\n", want: &ExistsResponse{}},
		{name: "not found", input: "NOT_FOUND\r\n", want: &NotFoundResponse{}},
		{name: "deleted", input: "DELETED\r\n", want: &DeletedResponse{}},
		{name: "touched", input: "TOUCHED\r\n", want: &TouchedResponse{}},
		{name: "ok", input: "OK\r\n", want: &OkResponse{}},
		{name: "version", input: "VERSION 1.6.21\r\n", want: &VersionResponse{Version: "1.6.21"}},
		{name: "numeric", input: "42\r\n", want: &NumericResponse{Value: 42}},
		{name: "empty values", input: "END\r\n", want: &ValuesResponse{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := ParseResponse([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, len(tt.input), n)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResponseValues(t *testing.T) {
	input := "VALUE foo 0 3\r\nbar\r\nVALUE baz 1 3 9\r\nqux\r\nEND\r\n"
	got, n, err := ParseResponse([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, len(input), n)
	want := &ValuesResponse{Items: []Value{
		{Key: "foo", Payload: []byte("bar")},
		{Key: "baz", Payload: []byte("qux"), Flags: 1, CAS: 9, HasCAS: true},
	}}
	assert.Equal(t, want, got)
}

func TestParseResponseStats(t *testing.T) {
	input := "STAT pid 123\r\nSTAT version 1.6.21\r\nEND\r\n"
	got, n, err := ParseResponse([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, len(input), n)
	want := &StatsResponse{Stats: map[string]string{"pid": "123", "version": "1.6.21"}}
	assert.Equal(t, want, got)
}

func TestParseResponseIncomplete(t *testing.T) {
	tests := []string{
		"VALUE foo 0 10\r\nshort",
		"VALUE foo 0 3\r\nbar\r\nEN",
		"STAT pid 12",
		"STOR",
	}
	for _, in := range tests {
		_, _, err := ParseResponse([]byte(in))
		require.ErrorIs(t, err, errIncomplete)
	}
}

func TestSerializeResponseRoundTrip(t *testing.T) {
	resps := []Response{
		&ErrorResponse{},
		&ClientErrorResponse{Message: "bad"},
		&ServerErrorResponse{Message: "boom"},
		&StoredResponse{},
		&NotStoredResponse{},
		&ExistsResponse{},
		&NotFoundResponse{},
		&DeletedResponse{},
		&TouchedResponse{},
		&OkResponse{},
		&VersionResponse{Version: "1.0"},
		&NumericResponse{Value: 7},
		&ValuesResponse{Items: []Value{{Key: "a", Payload: []byte("1")}}},
		&ValuesResponse{},
		&StatsResponse{Stats: map[string]string{"x": "1"}},
	}

	for _, resp := range resps {
		buf := SerializeResponse(resp, nil)
		got, n, err := ParseResponse(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, resp, got)
	}
}
