package client

import (
	"fmt"
	"net"
	"time"

	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
)

// State is a state of the RFC 2131 client state machine.
type State int

const (
	Init State = iota
	Selecting
	Requesting
	Bound
	Renewing
	Rebinding
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Selecting:
		return "SELECTING"
	case Requesting:
		return "REQUESTING"
	case Bound:
		return "BOUND"
	case Renewing:
		return "RENEWING"
	case Rebinding:
		return "REBINDING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// awaitsReply reports whether a message exchange is in progress in s.
func (s State) awaitsReply() bool {
	switch s {
	case Selecting, Requesting, Renewing, Rebinding:
		return true
	}
	return false
}

// ClientState is everything the Machine knows about the current exchange.
type ClientState struct {
	State State
	// XID identifies the exchange; replies carrying another xid are ignored.
	XID uint32
	// InFlight is the last message sent and Dest where it went, nil meaning
	// broadcast.
	InFlight *v4.Message
	Dest     net.IP
	// Deadline is when the current wait ends.
	Deadline time.Time
	// Attempt counts retransmissions of the current exchange.
	Attempt int
	// Started is when the exchange began.
	Started time.Time
	// Offer is the OFFER being requested while REQUESTING.
	Offer *v4.Message
	// Lease is the lease held in BOUND, RENEWING and REBINDING.
	Lease *v4.Lease
}

// ActionKind tells the driver what to do next.
type ActionKind int

const (
	// ActionWait means receive until Deadline.
	ActionWait ActionKind = iota
	// ActionSend means transmit Message to To, or broadcast it when To is nil.
	ActionSend
	// ActionApply means configure the interface with Lease.
	ActionApply
	// ActionRevoke means remove Lease from the interface.
	ActionRevoke
)

func (k ActionKind) String() string {
	switch k {
	case ActionWait:
		return "wait"
	case ActionSend:
		return "send"
	case ActionApply:
		return "apply"
	case ActionRevoke:
		return "revoke"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

type Action struct {
	Kind     ActionKind
	Message  *v4.Message
	To       net.IP
	Deadline time.Time
	Lease    v4.Lease
}
