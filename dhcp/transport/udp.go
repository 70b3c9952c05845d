package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4/client4"
	"github.com/pkg/errors"
)

// UDPConfig describes the kernel socket of a UDP transport. Zero values
// select the DHCP defaults.
type UDPConfig struct {
	// Interface binds the socket to a device where the platform supports it.
	Interface  *net.Interface
	LocalAddr  string
	Broadcast  *net.UDPAddr
	ServerPort int
}

// UDP is a Transport on a kernel UDP socket.
type UDP struct {
	conn       net.PacketConn
	broadcast  *net.UDPAddr
	serverPort int
}

var _ Transport = (*UDP)(nil)

func ListenUDP(cfg UDPConfig) (*UDP, error) {
	if cfg.LocalAddr == "" {
		cfg.LocalAddr = net.JoinHostPort(net.IPv4zero.String(), strconv.Itoa(ClientPort))
	}
	if cfg.Broadcast == nil {
		cfg.Broadcast = &net.UDPAddr{IP: net.IPv4bcast, Port: ServerPort}
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = ServerPort
	}

	lc := net.ListenConfig{Control: socketControl(cfg.Interface)}
	conn, err := lc.ListenPacket(context.Background(), "udp4", cfg.LocalAddr)
	if err != nil {
		return nil, &Error{Op: "listen", Err: errors.Wrapf(err, "bind %s", cfg.LocalAddr)}
	}

	return &UDP{conn: conn, broadcast: cfg.Broadcast, serverPort: cfg.ServerPort}, nil
}

// LocalAddr returns the address the socket is bound to.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) SendBroadcast(b []byte) error {
	if _, err := u.conn.WriteTo(b, u.broadcast); err != nil {
		return &Error{Op: "send broadcast", Err: err}
	}
	return nil
}

func (u *UDP) SendUnicast(ip net.IP, b []byte) error {
	if _, err := u.conn.WriteTo(b, &net.UDPAddr{IP: ip, Port: u.serverPort}); err != nil {
		return &Error{Op: "send unicast", Err: err}
	}
	return nil
}

func (u *UDP) Receive(ctx context.Context, deadline time.Time) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := u.conn.SetReadDeadline(deadline); err != nil {
		return nil, false, &Error{Op: "set deadline", Err: err}
	}
	stop := interruptOnDone(ctx, u.conn)
	defer stop()

	buf := make([]byte, client4.MaxUDPReceivedPacketSize)
	n, _, err := u.conn.ReadFrom(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, false, nil
		}
		return nil, false, &Error{Op: "receive", Err: err}
	}

	return buf[:n], true, nil
}

func (u *UDP) Close() error {
	return u.conn.Close()
}
