package client

import (
	"net"
	"time"

	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
	"github.com/cimnine/netbox-dhclient/util"
)

// MaxMessageSize is announced to servers in option 57.
const MaxMessageSize = 1500

// parameterRequestList is what the client asks servers to include.
var parameterRequestList = []v4.OptionCode{
	v4.OptionSubnetMask,
	v4.OptionRouter,
	v4.OptionDomainNameServer,
	v4.OptionDomainName,
	v4.OptionBroadcastAddress,
	v4.OptionNTPServers,
	v4.OptionIPAddressLeaseTime,
	v4.OptionServerIdentifier,
	v4.OptionRenewTimeValue,
	v4.OptionRebindingTimeValue,
}

func (m *Machine) newMessage(now time.Time, t v4.MessageType, ciaddr net.IP, flags uint16) *v4.Message {
	if ciaddr == nil {
		ciaddr = net.IPv4zero
	}

	msg := &v4.Message{
		Op:           v4.OpBootRequest,
		HType:        v4.HTypeEthernet,
		HLen:         uint8(len(m.cfg.HardwareAddr)),
		XID:          m.st.XID,
		Secs:         util.SafeConvertToUint16(now.Sub(m.st.Started).Seconds()),
		Flags:        flags,
		ClientIP:     ciaddr.To4(),
		YourIP:       net.IPv4zero.To4(),
		ServerIP:     net.IPv4zero.To4(),
		GatewayIP:    net.IPv4zero.To4(),
		ClientHWAddr: m.cfg.HardwareAddr,
		Options:      v4.Options{v4.OptMessageType(t)},
	}
	if len(m.cfg.ClientID) > 0 {
		msg.Options = append(msg.Options, v4.OptClientIdentifier(m.cfg.ClientID))
	}
	return msg
}

func (m *Machine) broadcastFlag() uint16 {
	if m.cfg.Broadcast {
		return v4.FlagBroadcast
	}
	return 0
}

// wishes appends the options every DISCOVER and REQUEST carries.
func (m *Machine) wishes(msg *v4.Message) *v4.Message {
	if m.cfg.LeaseTime > 0 {
		msg.Options = append(msg.Options, v4.OptLeaseTime(m.cfg.LeaseTime))
	}
	if m.cfg.HostName != "" {
		msg.Options = append(msg.Options, v4.OptHostName(m.cfg.HostName))
	}
	msg.Options = append(msg.Options,
		v4.OptParameterRequestList(parameterRequestList...),
		v4.OptMaxMessageSize(MaxMessageSize),
	)
	return msg
}

func (m *Machine) discover(now time.Time) *v4.Message {
	msg := m.newMessage(now, v4.MessageTypeDiscover, nil, m.broadcastFlag())
	if m.cfg.RequestedIP != nil {
		msg.Options = append(msg.Options, v4.OptRequestedIP(m.cfg.RequestedIP))
	}
	return m.wishes(msg)
}

// requestSelecting answers offer (RFC 2131 section 4.3.2, SELECTING).
func (m *Machine) requestSelecting(now time.Time, offer *v4.Message) *v4.Message {
	msg := m.newMessage(now, v4.MessageTypeRequest, nil, m.broadcastFlag())
	msg.Options = append(msg.Options,
		v4.OptRequestedIP(offer.YourIP),
		v4.OptServerIdentifier(offer.ServerIdentifier()),
	)
	return m.wishes(msg)
}

// requestExtend asks to extend l (RENEWING and REBINDING). The client owns
// its address, so it is carried in ciaddr and servers reply by unicast.
func (m *Machine) requestExtend(now time.Time, l v4.Lease) *v4.Message {
	return m.wishes(m.newMessage(now, v4.MessageTypeRequest, l.Address, 0))
}

func (m *Machine) release(l v4.Lease) *v4.Message {
	msg := m.newMessage(m.st.Started, v4.MessageTypeRelease, l.Address, 0)
	if l.ServerID != nil {
		msg.Options = append(msg.Options, v4.OptServerIdentifier(l.ServerID))
	}
	return msg
}
