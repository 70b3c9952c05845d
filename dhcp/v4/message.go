package v4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/pkg/errors"
)

// OpCode is the BOOTP operation of a message.
type OpCode uint8

const (
	OpBootRequest OpCode = 1
	OpBootReply   OpCode = 2
)

func (o OpCode) String() string {
	switch o {
	case OpBootRequest:
		return "BootRequest"
	case OpBootReply:
		return "BootReply"
	default:
		return fmt.Sprintf("OpCode(%d)", uint8(o))
	}
}

// MessageType is the value of the DHCP Message Type option (53).
type MessageType = dhcpv4.MessageType

const (
	MessageTypeDiscover = dhcpv4.MessageTypeDiscover
	MessageTypeOffer    = dhcpv4.MessageTypeOffer
	MessageTypeRequest  = dhcpv4.MessageTypeRequest
	MessageTypeDecline  = dhcpv4.MessageTypeDecline
	MessageTypeAck      = dhcpv4.MessageTypeAck
	MessageTypeNak      = dhcpv4.MessageTypeNak
	MessageTypeRelease  = dhcpv4.MessageTypeRelease
	MessageTypeInform   = dhcpv4.MessageTypeInform
)

const (
	// HeaderLength is the size of the fixed BOOTP header, without the magic cookie.
	HeaderLength = 236
	// MinPacketLength is the BOOTP minimum message size encoded messages are padded to.
	MinPacketLength = 300
	// MaxHardwareAddrLength is the size of the chaddr field.
	MaxHardwareAddrLength = 16

	HTypeEthernet = 1
	// FlagBroadcast asks servers to broadcast their replies.
	FlagBroadcast uint16 = 0x8000

	snameLength = 64
	fileLength  = 128
)

var magicCookie = [4]byte{99, 130, 83, 99}

var (
	ErrTruncated       = errors.New("packet truncated")
	ErrMagicMismatch   = errors.New("magic cookie missing")
	ErrMalformedOption = errors.New("malformed option")
	ErrInvalidMessage  = errors.New("invalid message")
)

// DecodeError describes why a buffer could not be decoded. Err is one of
// ErrTruncated, ErrMagicMismatch or ErrMalformedOption.
type DecodeError struct {
	Err    error
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("dhcp: %s at offset %d", e.Err, e.Offset)
	}
	return fmt.Sprintf("dhcp: %s at offset %d: %s", e.Err, e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Message is a DHCPv4 message. All addresses are held in their 4-byte form.
type Message struct {
	Op           OpCode
	HType        uint8
	HLen         uint8
	Hops         uint8
	XID          uint32
	Secs         uint16
	Flags        uint16
	ClientIP     net.IP
	YourIP       net.IP
	ServerIP     net.IP
	GatewayIP    net.IP
	ClientHWAddr net.HardwareAddr
	ServerName   string
	BootFile     string
	Options      Options
}

// IsBroadcast reports whether the broadcast flag is set.
func (m *Message) IsBroadcast() bool {
	return m.Flags&FlagBroadcast != 0
}

func (m *Message) String() string {
	return fmt.Sprintf("%s xid=%#08x yiaddr=%s ciaddr=%s chaddr=%s", m.MessageType(), m.XID, m.YourIP, m.ClientIP, m.ClientHWAddr)
}

// Encode serializes m. It fails only when m violates the invariants of a
// message value, so Decode(Encode(m)) equals m whenever Encode succeeds.
func Encode(m *Message) ([]byte, error) {
	if len(m.ClientHWAddr) > MaxHardwareAddrLength {
		return nil, errors.Wrapf(ErrInvalidMessage, "hardware address of %d bytes", len(m.ClientHWAddr))
	}
	if int(m.HLen) != len(m.ClientHWAddr) {
		return nil, errors.Wrapf(ErrInvalidMessage, "hlen %d does not match hardware address %s", m.HLen, m.ClientHWAddr)
	}
	if len(m.ServerName) >= snameLength {
		return nil, errors.Wrapf(ErrInvalidMessage, "server name of %d bytes", len(m.ServerName))
	}
	if len(m.BootFile) >= fileLength {
		return nil, errors.Wrapf(ErrInvalidMessage, "boot file name of %d bytes", len(m.BootFile))
	}
	if err := m.Options.validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderLength+len(magicCookie), MinPacketLength)
	buf[0] = byte(m.Op)
	buf[1] = m.HType
	buf[2] = m.HLen
	buf[3] = m.Hops
	binary.BigEndian.PutUint32(buf[4:8], m.XID)
	binary.BigEndian.PutUint16(buf[8:10], m.Secs)
	binary.BigEndian.PutUint16(buf[10:12], m.Flags)
	for i, ip := range []net.IP{m.ClientIP, m.YourIP, m.ServerIP, m.GatewayIP} {
		if err := putIP(buf[12+4*i:16+4*i], ip); err != nil {
			return nil, err
		}
	}
	copy(buf[28:44], m.ClientHWAddr)
	copy(buf[44:44+snameLength], m.ServerName)
	copy(buf[108:108+fileLength], m.BootFile)
	copy(buf[HeaderLength:], magicCookie[:])

	buf = m.Options.marshal(buf)
	buf = append(buf, byte(OptionEnd))
	for len(buf) < MinPacketLength {
		buf = append(buf, 0)
	}
	return buf, nil
}

// putIP writes a header address. Only the 4-byte form is accepted, the one
// Decode returns.
func putIP(dst []byte, ip net.IP) error {
	if len(ip) != net.IPv4len {
		return errors.Wrapf(ErrInvalidMessage, "address %s is not in 4-byte form", ip)
	}
	copy(dst, ip)
	return nil
}

// Decode parses b into a Message. Errors are of type *DecodeError.
func Decode(b []byte) (*Message, error) {
	if len(b) < HeaderLength {
		return nil, &DecodeError{Err: ErrTruncated, Offset: len(b), Reason: fmt.Sprintf("need %d bytes of header", HeaderLength)}
	}
	if len(b) < HeaderLength+len(magicCookie) || !bytes.Equal(b[HeaderLength:HeaderLength+len(magicCookie)], magicCookie[:]) {
		return nil, &DecodeError{Err: ErrMagicMismatch, Offset: HeaderLength}
	}

	m := Message{
		Op:         OpCode(b[0]),
		HType:      b[1],
		HLen:       b[2],
		Hops:       b[3],
		XID:        binary.BigEndian.Uint32(b[4:8]),
		Secs:       binary.BigEndian.Uint16(b[8:10]),
		Flags:      binary.BigEndian.Uint16(b[10:12]),
		ClientIP:   ipAt(b, 12),
		YourIP:     ipAt(b, 16),
		ServerIP:   ipAt(b, 20),
		GatewayIP:  ipAt(b, 24),
		ServerName: cString(b[44 : 44+snameLength]),
		BootFile:   cString(b[108 : 108+fileLength]),
	}

	hlen := int(m.HLen)
	if hlen > MaxHardwareAddrLength {
		hlen = MaxHardwareAddrLength
	}
	if hlen > 0 {
		m.ClientHWAddr = append(net.HardwareAddr(nil), b[28:28+hlen]...)
	}

	opts, err := parseOptions(b, HeaderLength+len(magicCookie))
	if err != nil {
		return nil, err
	}
	m.Options = opts

	return &m, nil
}

func ipAt(b []byte, off int) net.IP {
	return append(net.IP(nil), b[off:off+net.IPv4len]...)
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
