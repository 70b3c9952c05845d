package dhcptest

import (
	"net"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/sirupsen/logrus"

	"github.com/cimnine/netbox-dhclient/util"
)

// Server answers DISCOVER and REQUEST messages from a fixed pool.
type Server struct {
	ServerID  net.IP
	Pool      []net.IP
	Netmask   net.IPMask
	Routers   []net.IP
	DNS       []net.IP
	LeaseTime time.Duration
	T1        time.Duration
	T2        time.Duration
	// Nak answers every REQUEST with a NAK.
	Nak bool
	// OmitLeaseTime leaves option 51 out of ACKs.
	OmitLeaseTime bool
	Log           *logrus.Entry

	mu       sync.Mutex
	leases   map[string]net.IP
	released []net.IP
	requests []*dhcpv4.DHCPv4
}

func NewServer(serverID net.IP, pool ...net.IP) *Server {
	return &Server{
		ServerID:  serverID,
		Pool:      pool,
		Netmask:   net.CIDRMask(24, 32),
		LeaseTime: time.Hour,
	}
}

func (s *Server) log() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Handle processes one message sent by a client and returns the encoded
// reply, or nil when there is nothing to answer.
func (s *Server) Handle(d Datagram) []byte {
	req, err := dhcpv4.FromBytes(d.Payload)
	if err != nil {
		s.log().WithError(err).Warn("Failed to process a packet")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases == nil {
		s.leases = make(map[string]net.IP)
	}

	mac := req.ClientHWAddr.String()
	log := s.log().WithFields(logrus.Fields{"mac": mac, "xid": req.TransactionID.String()})

	var resp *dhcpv4.DHCPv4
	switch req.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		ip := s.allocate(mac)
		if ip == nil {
			log.Warn("Pool exhausted")
			return nil
		}
		log.Debugf("DHCPDISCOVER, offering '%s'", ip)
		resp, err = s.prepareAnswer(req, ip, dhcpv4.MessageTypeOffer)

	case dhcpv4.MessageTypeRequest:
		s.requests = append(s.requests, req)
		if sid := req.ServerIdentifier(); sid != nil && !sid.Equal(s.ServerID) {
			log.Debugf("DHCPREQUEST is not for us but for '%s'", sid)
			return nil
		}

		requested := req.RequestedIPAddress()
		if requested == nil || requested.IsUnspecified() {
			requested = req.ClientIPAddr
		}
		if s.Nak || !requested.Equal(s.leases[mac]) {
			log.Debugf("DHCPREQUEST for '%s', answering with NAK", requested)
			resp, err = dhcpv4.NewReplyFromRequest(req,
				dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
				dhcpv4.WithOption(dhcpv4.OptServerIdentifier(s.ServerID)),
				dhcpv4.WithOption(dhcpv4.OptMessage("address not available")),
			)
			break
		}
		log.Debugf("DHCPREQUEST for '%s', acknowledging", requested)
		resp, err = s.prepareAnswer(req, requested, dhcpv4.MessageTypeAck)

	case dhcpv4.MessageTypeRelease:
		log.Debugf("DHCPRELEASE of '%s'", req.ClientIPAddr)
		s.released = append(s.released, req.ClientIPAddr)
		delete(s.leases, mac)
		return nil

	default:
		log.Debugf("Unexpected message type: '%s'", req.MessageType())
		return nil
	}

	if err != nil {
		log.WithError(err).Error("Can't create response")
		return nil
	}
	return resp.ToBytes()
}

func (s *Server) allocate(mac string) net.IP {
	if ip, ok := s.leases[mac]; ok {
		return ip
	}

	taken := make(map[string]bool, len(s.leases))
	for _, ip := range s.leases {
		taken[ip.String()] = true
	}
	for _, ip := range s.Pool {
		if !taken[ip.String()] {
			s.leases[mac] = ip
			return ip
		}
	}
	return nil
}

func (s *Server) prepareAnswer(req *dhcpv4.DHCPv4, ip net.IP, messageType dhcpv4.MessageType) (*dhcpv4.DHCPv4, error) {
	mods := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(messageType),
		dhcpv4.WithYourIP(ip),
		dhcpv4.WithServerIP(s.ServerID),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(s.ServerID)),
		dhcpv4.WithNetmask(s.Netmask),
	}
	if messageType == dhcpv4.MessageTypeOffer || !s.OmitLeaseTime {
		mods = append(mods, dhcpv4.WithLeaseTime(util.SafeConvertToUint32(s.LeaseTime.Seconds())))
	}
	if s.T1 > 0 {
		mods = append(mods, dhcpv4.WithOption(dhcpv4.Option{Code: dhcpv4.OptionRenewTimeValue, Value: dhcpv4.Duration(s.T1)}))
	}
	if s.T2 > 0 {
		mods = append(mods, dhcpv4.WithOption(dhcpv4.Option{Code: dhcpv4.OptionRebindingTimeValue, Value: dhcpv4.Duration(s.T2)}))
	}
	if len(s.Routers) > 0 {
		mods = append(mods, dhcpv4.WithRouter(s.Routers...))
	}
	if len(s.DNS) > 0 {
		mods = append(mods, dhcpv4.WithDNS(s.DNS...))
	}

	return dhcpv4.NewReplyFromRequest(req, mods...)
}

// Lease returns the address bound to mac.
func (s *Server) Lease(mac net.HardwareAddr) net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases[mac.String()]
}

// Released lists the addresses given back by clients.
func (s *Server) Released() []net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]net.IP(nil), s.released...)
}

// Requests returns every REQUEST received.
func (s *Server) Requests() []*dhcpv4.DHCPv4 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*dhcpv4.DHCPv4(nil), s.requests...)
}
