package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv4/client4"
	"github.com/mdlayher/raw"
	"github.com/pkg/errors"
)

// This is the aprox. minimal size of a DHCP frame
const minFrameSize = 14 + // ethernet header
	20 + // minimal IPv4 header
	8 + // UDP header
	236 // BOOTP header

var broadcastMAC = net.HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Raw is a Transport on an AF_PACKET socket. It works before the interface
// has an address, and it remembers the link-layer address of every server
// it heard from so unicast renewals can be addressed without ARP.
type Raw struct {
	conn  *raw.Conn
	iface *net.Interface

	mu        sync.Mutex
	neighbors map[string]net.HardwareAddr
}

var _ Transport = (*Raw)(nil)

func ListenRaw(iface *net.Interface) (*Raw, error) {
	conn, err := raw.ListenPacket(iface, uint16(layers.EthernetTypeIPv4), &raw.Config{})
	if err != nil {
		return nil, &Error{Op: "listen", Err: errors.Wrapf(err, "raw socket on '%s'", iface.Name)}
	}

	return &Raw{conn: conn, iface: iface, neighbors: make(map[string]net.HardwareAddr)}, nil
}

func (r *Raw) SendBroadcast(b []byte) error {
	return r.writeTo(broadcastMAC, net.IPv4bcast, b, "send broadcast")
}

func (r *Raw) SendUnicast(ip net.IP, b []byte) error {
	r.mu.Lock()
	dstMAC, ok := r.neighbors[ip.String()]
	r.mu.Unlock()
	if !ok {
		dstMAC = broadcastMAC
	}

	return r.writeTo(dstMAC, ip, b, "send unicast")
}

func (r *Raw) writeTo(dstMAC net.HardwareAddr, dstIP net.IP, payload []byte, op string) error {
	frame, err := buildFrame(r.iface.HardwareAddr, dstMAC, clientAddr(payload), dstIP, payload)
	if err != nil {
		return &Error{Op: op, Err: err}
	}

	if _, err := r.conn.WriteTo(frame, &raw.Addr{HardwareAddr: dstMAC}); err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

func (r *Raw) Receive(ctx context.Context, deadline time.Time) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return nil, false, &Error{Op: "set deadline", Err: err}
	}
	stop := interruptOnDone(ctx, r.conn)
	defer stop()

	p := make([]byte, client4.MaxUDPReceivedPacketSize)
	for {
		l, _, err := r.conn.ReadFrom(p)
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

		payload, srcIP, srcMAC, ok := parseFrame(p[:l])
		if !ok {
			continue
		}

		r.mu.Lock()
		r.neighbors[srcIP.String()] = srcMAC
		r.mu.Unlock()

		return payload, true, nil
	}
}

func (r *Raw) Close() error {
	return r.conn.Close()
}

// clientAddr returns the ciaddr of an encoded client message, which is the
// source address the client is allowed to use.
func clientAddr(payload []byte) net.IP {
	if len(payload) < 16 {
		return net.IPv4zero
	}
	return net.IP(payload[12:16])
}

func buildFrame(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, payload []byte) ([]byte, error) {
	eth := layers.Ethernet{ // IEEE 802.3
		DstMAC:       dstMAC,
		SrcMAC:       srcMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}

	ip4 := layers.IPv4{ // RFC 791
		Version:  4,
		TTL:      0x40,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
		// HeaderLength, TotalLength and Checksum are fixed by the serializer.
	}

	udp := layers.UDP{ // RFC 768
		SrcPort: ClientPort,
		DstPort: ServerPort,
	}
	if err := udp.SetNetworkLayerForChecksum(&ip4); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip4, &udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// parseFrame extracts the UDP payload of a frame addressed to the DHCP
// client port.
func parseFrame(frame []byte) (payload []byte, srcIP net.IP, srcMAC net.HardwareAddr, ok bool) {
	if len(frame) < minFrameSize {
		return nil, nil, nil, false
	}

	// PERF: explore Lazy or NoCopy decode options to make parsing faster
	pack := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)

	ethLayer, ok := pack.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok || ethLayer.EthernetType != layers.EthernetTypeIPv4 {
		return nil, nil, nil, false
	}

	ip4Layer, ok := pack.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok || ip4Layer.Protocol != layers.IPProtocolUDP {
		return nil, nil, nil, false
	}

	udpLayer, ok := pack.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || udpLayer.DstPort != ClientPort {
		return nil, nil, nil, false
	}

	payload = append([]byte(nil), udpLayer.Payload...)
	return payload, append(net.IP(nil), ip4Layer.SrcIP...), append(net.HardwareAddr(nil), ethLayer.SrcMAC...), true
}
