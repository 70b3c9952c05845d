package transport

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	clientMAC = net.HardwareAddr{0x02, 0x00, 0x5e, 0x10, 0x00, 0x01}
	serverMAC = net.HardwareAddr{0x02, 0x00, 0x5e, 0x10, 0x00, 0xfe}
)

func bootpPayload(ciaddr net.IP) []byte {
	p := make([]byte, 300)
	p[0] = 1
	copy(p[12:16], ciaddr.To4())
	return p
}

// replyFrame builds a server to client frame the way a DHCP server would.
func replyFrame(t *testing.T, dstPort layers.UDPPort, payload []byte) []byte {
	t.Helper()

	eth := layers.Ethernet{SrcMAC: serverMAC, DstMAC: broadcastMAC, EthernetType: layers.EthernetTypeIPv4}
	ip4 := layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IPv4(10, 0, 0, 1).To4(), DstIP: net.IPv4bcast.To4()}
	udp := layers.UDP{SrcPort: ServerPort, DstPort: dstPort}
	require.NoError(t, udp.SetNetworkLayerForChecksum(&ip4))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &ip4, &udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestBuildFrame(t *testing.T) {
	payload := bootpPayload(net.IPv4(10, 0, 0, 5))

	frame, err := buildFrame(clientMAC, serverMAC, clientAddr(payload), net.IPv4(10, 0, 0, 1), payload)
	require.NoError(t, err)

	pack := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	eth := pack.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	ip4 := pack.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	udp := pack.Layer(layers.LayerTypeUDP).(*layers.UDP)

	assert.Equal(t, clientMAC, eth.SrcMAC)
	assert.Equal(t, serverMAC, eth.DstMAC)
	assert.Equal(t, "10.0.0.5", ip4.SrcIP.String())
	assert.Equal(t, "10.0.0.1", ip4.DstIP.String())
	assert.Equal(t, layers.UDPPort(ClientPort), udp.SrcPort)
	assert.Equal(t, layers.UDPPort(ServerPort), udp.DstPort)
	assert.Equal(t, payload, udp.Payload)
}

func TestParseFrame(t *testing.T) {
	payload := bootpPayload(net.IPv4zero)

	got, srcIP, srcMAC, ok := parseFrame(replyFrame(t, ClientPort, payload))
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.Equal(t, "10.0.0.1", srcIP.String())
	assert.Equal(t, serverMAC, srcMAC)
}

func TestParseFrameSkipsOtherTraffic(t *testing.T) {
	_, _, _, ok := parseFrame(replyFrame(t, 53, bootpPayload(net.IPv4zero)))
	assert.False(t, ok)

	_, _, _, ok = parseFrame([]byte{0x01, 0x02})
	assert.False(t, ok)
}

func TestClientAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.5", clientAddr(bootpPayload(net.IPv4(10, 0, 0, 5))).String())
	assert.True(t, clientAddr(nil).Equal(net.IPv4zero))
}
