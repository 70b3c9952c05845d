package v4

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
)

// OptionCode identifies a DHCP option.
type OptionCode uint8

// https://tools.ietf.org/html/rfc2132
const (
	OptionPad                    OptionCode = 0
	OptionSubnetMask             OptionCode = 1
	OptionRouter                 OptionCode = 3
	OptionDomainNameServer       OptionCode = 6
	OptionHostName               OptionCode = 12
	OptionDomainName             OptionCode = 15
	OptionBroadcastAddress       OptionCode = 28
	OptionNTPServers             OptionCode = 42
	OptionRequestedIPAddress     OptionCode = 50
	OptionIPAddressLeaseTime     OptionCode = 51
	OptionDHCPMessageType        OptionCode = 53
	OptionServerIdentifier       OptionCode = 54
	OptionParameterRequestList   OptionCode = 55
	OptionMessage                OptionCode = 56
	OptionMaximumDHCPMessageSize OptionCode = 57
	OptionRenewTimeValue         OptionCode = 58
	OptionRebindingTimeValue     OptionCode = 59
	OptionClientIdentifier       OptionCode = 61
	OptionEnd                    OptionCode = 255
)

var optionNames = map[OptionCode]string{
	OptionPad:                    "Pad",
	OptionSubnetMask:             "Subnet Mask",
	OptionRouter:                 "Router",
	OptionDomainNameServer:       "Domain Name Server",
	OptionHostName:               "Host Name",
	OptionDomainName:             "Domain Name",
	OptionBroadcastAddress:       "Broadcast Address",
	OptionNTPServers:             "NTP Servers",
	OptionRequestedIPAddress:     "Requested IP Address",
	OptionIPAddressLeaseTime:     "IP Addresses Lease Time",
	OptionDHCPMessageType:        "DHCP Message Type",
	OptionServerIdentifier:       "Server Identifier",
	OptionParameterRequestList:   "Parameter Request List",
	OptionMessage:                "Message",
	OptionMaximumDHCPMessageSize: "Maximum DHCP Message Size",
	OptionRenewTimeValue:         "Renew Time Value",
	OptionRebindingTimeValue:     "Rebinding Time Value",
	OptionClientIdentifier:       "Client identifier",
	OptionEnd:                    "End",
}

func (c OptionCode) String() string {
	if name, ok := optionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown (%d)", uint8(c))
}

// Option is a single option as it appears on the wire.
type Option struct {
	Code OptionCode
	Data []byte
}

func (o Option) String() string {
	return fmt.Sprintf("%s: %x", o.Code, o.Data)
}

// Options keeps the options of a message in wire order.
type Options []Option

// Get returns the data of the option with the given code, or nil.
func (o Options) Get(code OptionCode) []byte {
	for _, opt := range o {
		if opt.Code == code {
			return opt.Data
		}
	}
	return nil
}

// Has reports whether an option with the given code is present.
func (o Options) Has(code OptionCode) bool {
	for _, opt := range o {
		if opt.Code == code {
			return true
		}
	}
	return false
}

func (o Options) validate() error {
	seen := make(map[OptionCode]bool, len(o))
	for _, opt := range o {
		if opt.Code == OptionPad || opt.Code == OptionEnd {
			return errors.Wrapf(ErrInvalidMessage, "%s can't carry data", opt.Code)
		}
		if seen[opt.Code] {
			return errors.Wrapf(ErrInvalidMessage, "duplicate option %s", opt.Code)
		}
		seen[opt.Code] = true
	}
	return nil
}

// marshal appends the options to b. Data longer than 255 bytes is split
// into consecutive instances of the same code (RFC 3396).
func (o Options) marshal(b []byte) []byte {
	for _, opt := range o {
		data := opt.Data
		for {
			n := len(data)
			if n > 255 {
				n = 255
			}
			b = append(b, byte(opt.Code), byte(n))
			b = append(b, data[:n]...)
			data = data[n:]
			if len(data) == 0 {
				break
			}
		}
	}
	return b
}

// parseOptions reads options from b starting at off. Repeated instances of
// one code are concatenated (RFC 3396). A missing End option is tolerated.
func parseOptions(b []byte, off int) (Options, error) {
	var opts Options
	index := make(map[OptionCode]int)

	for off < len(b) {
		code := OptionCode(b[off])
		switch code {
		case OptionPad:
			off++
			continue
		case OptionEnd:
			return opts, nil
		}

		if off+1 >= len(b) {
			return nil, &DecodeError{Err: ErrMalformedOption, Offset: off, Reason: fmt.Sprintf("%s has no length", code)}
		}
		length := int(b[off+1])
		start := off + 2
		if start+length > len(b) {
			return nil, &DecodeError{
				Err:    ErrMalformedOption,
				Offset: off,
				Reason: fmt.Sprintf("%s declares %d bytes, %d remain", code, length, len(b)-start),
			}
		}
		data := b[start : start+length]
		off = start + length

		if i, ok := index[code]; ok {
			opts[i].Data = append(opts[i].Data, data...)
			continue
		}
		index[code] = len(opts)
		opts = append(opts, Option{Code: code, Data: append([]byte{}, data...)})
	}

	return opts, nil
}

// MessageType returns the message type, or 0 when the option is absent.
func (m *Message) MessageType() MessageType {
	data := m.Options.Get(OptionDHCPMessageType)
	if len(data) != 1 {
		return 0
	}
	return MessageType(data[0])
}

// LeaseTime returns the IP Address Lease Time option.
func (m *Message) LeaseTime() (time.Duration, bool) {
	return m.seconds(OptionIPAddressLeaseTime)
}

// RenewalTime returns the Renewal (T1) Time Value option.
func (m *Message) RenewalTime() (time.Duration, bool) {
	return m.seconds(OptionRenewTimeValue)
}

// RebindingTime returns the Rebinding (T2) Time Value option.
func (m *Message) RebindingTime() (time.Duration, bool) {
	return m.seconds(OptionRebindingTimeValue)
}

func (m *Message) seconds(code OptionCode) (time.Duration, bool) {
	data := m.Options.Get(code)
	if len(data) != 4 {
		return 0, false
	}
	return time.Duration(binary.BigEndian.Uint32(data)) * time.Second, true
}

func (m *Message) ServerIdentifier() net.IP {
	return m.ip(OptionServerIdentifier)
}

func (m *Message) RequestedIP() net.IP {
	return m.ip(OptionRequestedIPAddress)
}

func (m *Message) SubnetMask() net.IPMask {
	data := m.Options.Get(OptionSubnetMask)
	if len(data) != net.IPv4len {
		return nil
	}
	return append(net.IPMask(nil), data...)
}

func (m *Message) Routers() []net.IP {
	return m.ips(OptionRouter)
}

func (m *Message) DNS() []net.IP {
	return m.ips(OptionDomainNameServer)
}

func (m *Message) NTPServers() []net.IP {
	return m.ips(OptionNTPServers)
}

func (m *Message) HostName() string {
	return string(m.Options.Get(OptionHostName))
}

func (m *Message) DomainName() string {
	return string(m.Options.Get(OptionDomainName))
}

// ErrorMessage returns the Message option a server may attach to a NAK.
func (m *Message) ErrorMessage() string {
	return string(m.Options.Get(OptionMessage))
}

func (m *Message) ip(code OptionCode) net.IP {
	data := m.Options.Get(code)
	if len(data) != net.IPv4len {
		return nil
	}
	return append(net.IP(nil), data...)
}

func (m *Message) ips(code OptionCode) []net.IP {
	data := m.Options.Get(code)
	if len(data) == 0 || len(data)%net.IPv4len != 0 {
		return nil
	}
	ips := make([]net.IP, 0, len(data)/net.IPv4len)
	for i := 0; i < len(data); i += net.IPv4len {
		ips = append(ips, append(net.IP(nil), data[i:i+net.IPv4len]...))
	}
	return ips
}

func OptMessageType(t MessageType) Option {
	return Option{Code: OptionDHCPMessageType, Data: []byte{byte(t)}}
}

func OptServerIdentifier(ip net.IP) Option {
	return Option{Code: OptionServerIdentifier, Data: ip4Bytes(ip)}
}

func OptRequestedIP(ip net.IP) Option {
	return Option{Code: OptionRequestedIPAddress, Data: ip4Bytes(ip)}
}

func OptSubnetMask(mask net.IPMask) Option {
	return Option{Code: OptionSubnetMask, Data: append([]byte{}, mask...)}
}

func OptRouter(ips ...net.IP) Option {
	return Option{Code: OptionRouter, Data: ip4List(ips)}
}

func OptDNS(ips ...net.IP) Option {
	return Option{Code: OptionDomainNameServer, Data: ip4List(ips)}
}

func OptHostName(name string) Option {
	return Option{Code: OptionHostName, Data: []byte(name)}
}

func OptClientIdentifier(id []byte) Option {
	return Option{Code: OptionClientIdentifier, Data: append([]byte{}, id...)}
}

func OptParameterRequestList(codes ...OptionCode) Option {
	data := make([]byte, len(codes))
	for i, c := range codes {
		data[i] = byte(c)
	}
	return Option{Code: OptionParameterRequestList, Data: data}
}

func OptMaxMessageSize(size uint16) Option {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, size)
	return Option{Code: OptionMaximumDHCPMessageSize, Data: data}
}

func OptLeaseTime(d time.Duration) Option {
	return Option{Code: OptionIPAddressLeaseTime, Data: secondsBytes(d)}
}

func ip4Bytes(ip net.IP) []byte {
	if ip4 := ip.To4(); ip4 != nil {
		return append([]byte{}, ip4...)
	}
	return make([]byte, net.IPv4len)
}

func ip4List(ips []net.IP) []byte {
	data := make([]byte, 0, len(ips)*net.IPv4len)
	for _, ip := range ips {
		data = append(data, ip4Bytes(ip)...)
	}
	return data
}
