package server_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pipelined/memcached"
	"github.com/pipelined/memcached/server"
)

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx, addr, server.NewMemoryBackend())
	}()

	// give the listener a moment to bind before dialing.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return addr, func() {
		cancel()
		<-errCh
	}
}

func TestServeRoundTripSetGet(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	c, err := memcached.Connect(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "greeting", []byte("hello"), 0, 0))

	v, err := c.GetOne(ctx, "greeting")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v.Payload)
}

func TestServeIncrDecrEndToEnd(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	c, err := memcached.Connect(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "counter", []byte("10"), 0, 0))

	got, err := c.Incr(ctx, "counter", 5)
	require.NoError(t, err)
	require.Equal(t, uint64(15), got)

	got, err = c.Decr(ctx, "counter", 20)
	require.NoError(t, err)
	require.Equal(t, uint64(0), got, "decr must floor at zero, never underflow")
}

func TestServeCasConflict(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	c, err := memcached.Connect(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "cas-key", []byte("v1"), 0, 0))

	item, err := c.GetsOne(ctx, "cas-key")
	require.NoError(t, err)

	require.NoError(t, c.Cas(ctx, "cas-key", []byte("v2"), 0, 0, item.CAS))

	err = c.Cas(ctx, "cas-key", []byte("v3"), 0, 0, item.CAS)
	require.ErrorIs(t, err, memcached.ErrExists)
}

func TestServeMalformedCommandGetsClientErrorAndSurvives(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("frobnicate foo\r\n"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "CLIENT_ERROR")

	// the connection must still be alive for a well-formed command.
	_, err = conn.Write([]byte("set ok 0 0 2\r\nhi\r\n"))
	require.NoError(t, err)
	n, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", string(buf[:n]))
}

func TestServeOversizedValueRejectedConnectionSurvives(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	const tooBig = (1 << 20) + 1
	header := []byte("set big 0 0 " + strconv.Itoa(tooBig) + "\r\n")
	payload := make([]byte, tooBig+2)
	copy(payload[tooBig:], "\r\n")

	_, err = conn.Write(header)
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "CLIENT_ERROR")

	_, err = conn.Write([]byte("set ok 0 0 2\r\nhi\r\n"))
	require.NoError(t, err)
	n, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", string(buf[:n]))
}

func TestServePipelinedRequestsPreserveOrder(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	c, err := memcached.Connect(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := c.Incr(ctx, "shared", 0)
			if err != nil && err != memcached.ErrNotFound {
				errs <- err
				return
			}
			errs <- nil
		}(i)
	}
	require.NoError(t, c.Set(ctx, "shared", []byte("0"), 0, 0))
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
}
