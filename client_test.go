package memcached

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGetOneNotFound(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		r := bufio.NewReader(serverConn)
		_, _ = r.ReadString('\n')
		_, _ = serverConn.Write([]byte("END\r\n"))
	}()

	tr := NewTransport(clientConn, nil, 0, 0)
	c := &client{ex: tr, t: tr}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.GetOne(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientGetsOneReturnsCAS(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		r := bufio.NewReader(serverConn)
		_, _ = r.ReadString('\n')
		_, _ = serverConn.Write([]byte("VALUE k 0 3 9\r\nfoo\r\nEND\r\n"))
	}()

	tr := NewTransport(clientConn, nil, 0, 0)
	c := &client{ex: tr, t: tr}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := c.GetsOne(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "k", v.Key)
	assert.Equal(t, []byte("foo"), v.Payload)
	assert.Equal(t, uint64(9), v.CAS)
	assert.True(t, v.HasCAS)
}

func TestClientDecrNeverSendsIncrWire(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	lineCh := make(chan string, 1)
	go func() {
		r := bufio.NewReader(serverConn)
		line, _ := r.ReadString('\n')
		lineCh <- line
		_, _ = serverConn.Write([]byte("5\r\n"))
	}()

	tr := NewTransport(clientConn, nil, 0, 0)
	c := &client{ex: tr, t: tr}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := c.Decr(ctx, "counter", 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got)

	line := <-lineCh
	assert.Equal(t, "decr counter 3\r\n", line)
}

func TestClientCasOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{name: "stored", reply: "STORED\r\n", wantErr: nil},
		{name: "exists", reply: "EXISTS\r\n", wantErr: ErrExists},
		{name: "not found", reply: "NOT_FOUND\r\n", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			go func() {
				r := bufio.NewReader(serverConn)
				_, _ = r.ReadString('\n')
				_, _ = r.ReadString('\n')
				_, _ = serverConn.Write([]byte(tt.reply))
			}()

			tr := NewTransport(clientConn, nil, 0, 0)
			c := &client{ex: tr, t: tr}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			err := c.Cas(ctx, "k", []byte("v"), 0, 0, 7)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
