package transport

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) (*UDP, net.PacketConn) {
	t.Helper()

	server, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	serverAddr := server.LocalAddr().(*net.UDPAddr)
	u, err := ListenUDP(UDPConfig{
		LocalAddr:  "127.0.0.1:0",
		Broadcast:  serverAddr,
		ServerPort: serverAddr.Port,
	})
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })

	return u, server
}

func TestUDPExchange(t *testing.T) {
	u, server := listenLoopback(t)

	require.NoError(t, u.SendBroadcast([]byte("discover")))

	buf := make([]byte, 64)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, from, err := server.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "discover", string(buf[:n]))

	_, err = server.WriteTo([]byte("offer"), from)
	require.NoError(t, err)

	b, ok, err := u.Receive(context.Background(), time.Now().Add(5*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "offer", string(b))

	require.NoError(t, u.SendUnicast(net.IPv4(127, 0, 0, 1), []byte("request")))
	n, _, err = server.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "request", string(buf[:n]))
}

func TestUDPReceiveLargeDatagram(t *testing.T) {
	u, server := listenLoopback(t)

	payload := bytes.Repeat([]byte{0x63}, 4000)
	_, err := server.WriteTo(payload, u.conn.LocalAddr())
	require.NoError(t, err)

	b, ok, err := u.Receive(context.Background(), time.Now().Add(5*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, b)
}

func TestUDPReceiveTimeout(t *testing.T) {
	u, _ := listenLoopback(t)

	start := time.Now()
	b, ok, err := u.Receive(context.Background(), start.Add(50*time.Millisecond))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, b)
	assert.GreaterOrEqual(t, int64(time.Since(start)), int64(40*time.Millisecond))
}

func TestUDPReceiveCancelled(t *testing.T) {
	u, _ := listenLoopback(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, ok, err := u.Receive(ctx, start.Add(time.Minute))
	assert.False(t, ok)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Less(t, int64(time.Since(start)), int64(10*time.Second))
}

func TestUDPReceiveAfterClose(t *testing.T) {
	u, _ := listenLoopback(t)
	require.NoError(t, u.Close())

	_, _, err := u.Receive(context.Background(), time.Now().Add(time.Second))
	var transportErr *Error
	assert.True(t, errors.As(err, &transportErr), "got %v", err)
}
