package client

import (
	"bytes"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cimnine/netbox-dhclient/dhcp/retry"
	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
)

// Config parameterizes a Machine.
type Config struct {
	HardwareAddr net.HardwareAddr
	ClientID     []byte
	HostName     string
	// RequestedIP is suggested to servers in every DISCOVER.
	RequestedIP net.IP
	// LeaseTime is the lease duration asked for; zero leaves it to the server.
	LeaseTime time.Duration
	// Broadcast asks servers to broadcast replies to an unconfigured client.
	Broadcast bool
	Policy    retry.Policy
	// LoopbackDNS replaces DNS servers in 127.0.0.0/8 when set.
	LoopbackDNS net.IP

	// XID draws transaction ids. Rand draws jitter samples in [0, 1).
	XID  func() uint32
	Rand func() float64
	// Observer is told about every state change.
	Observer func(from, to State)
	Log      *logrus.Entry
}

// Machine is the RFC 2131 client state machine. It never touches the
// network or the clock; the driver feeds it the time, the received
// messages and executes the actions it hands out.
//
// A Machine is not safe for concurrent use.
type Machine struct {
	cfg    Config
	log    *logrus.Entry
	st     ClientState
	outbox []Action
}

func NewMachine(cfg Config) *Machine {
	if cfg.XID == nil {
		cfg.XID = randomXID
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Policy == (retry.Policy{}) {
		cfg.Policy = retry.DefaultPolicy()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Machine{cfg: cfg, log: cfg.Log, st: ClientState{State: Init}}
}

func randomXID() uint32 {
	var b [4]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return rand.Uint32()
	}
	return binary.BigEndian.Uint32(b[:])
}

// State returns a snapshot of the machine's state.
func (m *Machine) State() ClientState {
	return m.st
}

// Next returns what the driver has to do at now. Queued actions come first.
// Otherwise INIT starts a new DISCOVER, an expired deadline is handled as a
// timeout of the current state, and anything else means waiting.
func (m *Machine) Next(now time.Time) Action {
	if len(m.outbox) == 0 && m.st.State != Init && !now.Before(m.st.Deadline) {
		m.expire(now)
	}
	if len(m.outbox) == 0 && m.st.State == Init {
		m.startSelecting(now)
	}

	if len(m.outbox) > 0 {
		a := m.outbox[0]
		m.outbox = m.outbox[1:]
		return a
	}
	return Action{Kind: ActionWait, Deadline: m.st.Deadline}
}

// Receive processes a message received at now and reports whether it was
// accepted. Messages that don't belong to the current exchange are dropped.
func (m *Machine) Receive(now time.Time, msg *v4.Message) bool {
	if reason := m.reject(msg); reason != "" {
		m.log.WithFields(logrus.Fields{
			"xid":   xidField(msg.XID),
			"state": m.st.State,
		}).Debugf("Discarding DHCP%s: %s", msg.MessageType(), reason)
		return false
	}

	switch msg.MessageType() {
	case v4.MessageTypeOffer:
		return m.handleOffer(now, msg)
	case v4.MessageTypeAck:
		return m.handleAck(now, msg)
	case v4.MessageTypeNak:
		m.handleNak(msg)
		return true
	}
	return false
}

// Release gives up the lease, if any, and resets the machine to INIT. The
// returned actions are a single RELEASE to the granting server and the
// revocation of the lease; they are not retried.
func (m *Machine) Release(now time.Time) []Action {
	m.outbox = nil

	var actions []Action
	if l := m.st.Lease; l != nil {
		m.st.XID = m.cfg.XID()
		m.st.Started = now
		actions = append(actions,
			Action{Kind: ActionSend, Message: m.release(*l), To: l.ServerID},
			Action{Kind: ActionRevoke, Lease: *l},
		)
		m.log.WithField("address", l.Address).Info("Releasing lease")
	}

	m.reset()
	return actions
}

func (m *Machine) reject(msg *v4.Message) string {
	switch {
	case msg.Op != v4.OpBootReply:
		return "not a reply"
	case !m.st.State.awaitsReply():
		return fmt.Sprintf("no exchange in progress in %s", m.st.State)
	case msg.XID != m.st.XID:
		return "foreign transaction"
	case len(m.cfg.HardwareAddr) > 0 && !bytes.Equal(msg.ClientHWAddr, m.cfg.HardwareAddr):
		return fmt.Sprintf("addressed to %s", msg.ClientHWAddr)
	}

	switch t := msg.MessageType(); m.st.State {
	case Selecting:
		if t != v4.MessageTypeOffer {
			return "expecting an offer"
		}
	default:
		if t != v4.MessageTypeAck && t != v4.MessageTypeNak {
			return "expecting an ack or nak"
		}
	}
	return ""
}

func (m *Machine) handleOffer(now time.Time, offer *v4.Message) bool {
	if !usable(offer.YourIP) {
		m.log.Debugf("Discarding DHCPOFFER without a usable address (%s)", offer.YourIP)
		return false
	}
	if offer.ServerIdentifier() == nil {
		m.log.Debugf("Discarding DHCPOFFER of '%s' without server identifier", offer.YourIP)
		return false
	}

	m.log.WithFields(logrus.Fields{
		"address": offer.YourIP,
		"server":  offer.ServerIdentifier(),
	}).Info("Received DHCPOFFER")

	m.st.Offer = offer
	m.st.Attempt = 0
	m.setState(Requesting)
	m.transmit(m.requestSelecting(now, offer), nil, now.Add(m.backoff()))
	return true
}

func (m *Machine) handleAck(now time.Time, ack *v4.Message) bool {
	lease, err := v4.NewLease(ack, now)
	if err != nil {
		m.log.WithError(err).Debug("Discarding DHCPACK")
		return false
	}

	if m.st.State == Requesting {
		selected := m.st.Offer.ServerIdentifier()
		if lease.ServerID == nil {
			lease.ServerID = selected
		} else if !lease.ServerID.Equal(selected) {
			m.log.Debugf("Discarding DHCPACK from '%s', we requested from '%s'", lease.ServerID, selected)
			return false
		}
	} else if lease.ServerID == nil {
		lease.ServerID = m.st.Lease.ServerID
	}
	lease.ReplaceLoopbackDNS(m.cfg.LoopbackDNS)

	m.bind(lease)
	return true
}

func (m *Machine) handleNak(nak *v4.Message) {
	m.log.WithFields(logrus.Fields{
		"server":  nak.ServerIdentifier(),
		"message": nak.ErrorMessage(),
	}).Warnf("Received DHCPNAK in %s", m.st.State)

	if l := m.st.Lease; l != nil {
		m.queue(Action{Kind: ActionRevoke, Lease: *l})
	}
	m.reset()
}

func (m *Machine) bind(lease v4.Lease) {
	if old := m.st.Lease; old != nil && !old.Address.Equal(lease.Address) {
		m.queue(Action{Kind: ActionRevoke, Lease: *old})
	}

	m.log.WithFields(logrus.Fields{
		"address": lease.Address,
		"server":  lease.ServerID,
		"lease":   lease.Timeouts.Lease,
	}).Infof("Bound, renewing in %s", lease.Timeouts.T1RenewalTime)

	xid := m.st.XID
	m.setState(Bound)
	m.st = ClientState{
		State:    Bound,
		XID:      xid,
		Deadline: lease.RenewAt(),
		Lease:    &lease,
	}
	m.queue(Action{Kind: ActionApply, Lease: lease})
}

func (m *Machine) expire(now time.Time) {
	switch m.st.State {
	case Selecting:
		m.st.Attempt++
		if m.cfg.Policy.MaxAttempts > 0 && m.st.Attempt%m.cfg.Policy.MaxAttempts == 0 {
			m.log.Warnf("No DHCPOFFER after %d attempts, starting a new transaction", m.st.Attempt)
			m.st.XID = m.cfg.XID()
			m.st.Started = now
		}
		m.transmit(m.discover(now), nil, now.Add(m.backoff()))

	case Requesting:
		m.st.Attempt++
		if m.cfg.Policy.Exhausted(m.st.Attempt) {
			m.log.Warnf("No answer to DHCPREQUEST after %d attempts", m.st.Attempt)
			m.reset()
			return
		}
		m.transmit(m.requestSelecting(now, m.st.Offer), nil, now.Add(m.backoff()))

	case Bound:
		m.startRenewing(now)

	case Renewing:
		l := m.st.Lease
		if !now.Before(l.RebindAt()) {
			m.startRebinding(now)
			return
		}
		m.st.Attempt++
		m.transmit(m.requestExtend(now, *l), l.ServerID, retry.Until(now, m.backoff(), l.RebindAt()))

	case Rebinding:
		l := m.st.Lease
		if l.Expired(now) {
			m.expireLease()
			return
		}
		m.st.Attempt++
		m.transmit(m.requestExtend(now, *l), nil, retry.Until(now, m.backoff(), l.ExpireAt()))
	}
}

func (m *Machine) startSelecting(now time.Time) {
	m.setState(Selecting)
	m.st = ClientState{State: Selecting, XID: m.cfg.XID(), Started: now}
	m.transmit(m.discover(now), nil, now.Add(m.backoff()))
}

func (m *Machine) startRenewing(now time.Time) {
	l := m.st.Lease
	if !now.Before(l.RebindAt()) {
		m.startRebinding(now)
		return
	}

	m.setState(Renewing)
	m.st = ClientState{State: Renewing, XID: m.cfg.XID(), Started: now, Lease: l}
	m.transmit(m.requestExtend(now, *l), l.ServerID, retry.Until(now, m.backoff(), l.RebindAt()))
}

func (m *Machine) startRebinding(now time.Time) {
	l := m.st.Lease
	if l.Expired(now) {
		m.expireLease()
		return
	}

	m.setState(Rebinding)
	m.st = ClientState{State: Rebinding, XID: m.cfg.XID(), Started: now, Lease: l}
	m.transmit(m.requestExtend(now, *l), nil, retry.Until(now, m.backoff(), l.ExpireAt()))
}

func (m *Machine) expireLease() {
	l := m.st.Lease
	m.log.WithField("address", l.Address).Warn("Lease expired")
	m.queue(Action{Kind: ActionRevoke, Lease: *l})
	m.reset()
}

func (m *Machine) reset() {
	m.setState(Init)
	m.st = ClientState{State: Init}
}

func (m *Machine) transmit(msg *v4.Message, to net.IP, deadline time.Time) {
	m.st.InFlight = msg
	m.st.Dest = to
	m.st.Deadline = deadline
	m.queue(Action{Kind: ActionSend, Message: msg, To: to})
}

func (m *Machine) queue(a Action) {
	m.outbox = append(m.outbox, a)
}

func (m *Machine) backoff() time.Duration {
	return m.cfg.Policy.Backoff(m.st.Attempt, m.cfg.Rand())
}

func (m *Machine) setState(to State) {
	from := m.st.State
	if from == to {
		return
	}
	m.log.WithField("xid", xidField(m.st.XID)).Debugf("DHCP state %s -> %s", from, to)
	m.st.State = to
	if m.cfg.Observer != nil {
		m.cfg.Observer(from, to)
	}
}

func usable(ip net.IP) bool {
	return ip != nil && !ip.IsUnspecified() && !ip.Equal(net.IPv4bcast)
}

func xidField(xid uint32) string {
	return fmt.Sprintf("%#08x", xid)
}
