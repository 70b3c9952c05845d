package v4

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

// DUIDType is the RFC 3315 DUID type code.
// https://tools.ietf.org/html/rfc3315#section-9.1
type DUIDType uint16

const (
	// https://tools.ietf.org/html/rfc3315#section-9.4
	DUIDTypeLinkLayerAddress DUIDType = 3
	// https://tools.ietf.org/html/rfc6355#section-4
	DUIDTypeUUID DUIDType = 4
)

// clientIDTypeDUID marks an RFC 4361 client identifier.
const clientIDTypeDUID = 255

// UUIDDUID returns the DUID-UUID for the textual UUID u.
// https://tools.ietf.org/html/rfc6355#section-4
func UUIDDUID(u string) ([]byte, error) {
	parsed, err := uuid.FromString(u)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid UUID '%s'", u)
	}

	buf := make([]byte, 2+uuid.Size)
	binary.BigEndian.PutUint16(buf[:2], uint16(DUIDTypeUUID))
	copy(buf[2:], parsed.Bytes())
	return buf, nil
}

// NodeClientID returns an RFC 4361 client identifier made of the IAID and
// the DUID.
// https://tools.ietf.org/html/rfc4361#section-6.1
func NodeClientID(iaid uint32, duid []byte) []byte {
	buf := make([]byte, 5, 5+len(duid))
	buf[0] = clientIDTypeDUID
	binary.BigEndian.PutUint32(buf[1:5], iaid)
	return append(buf, duid...)
}

// HardwareClientID returns the classic hardware type plus address client
// identifier.
func HardwareClientID(mac net.HardwareAddr) []byte {
	return append([]byte{HTypeEthernet}, mac...)
}

// ClientID picks the client identifier for an interface: DUID-UUID based when
// clientUUID is set, hardware based otherwise.
func ClientID(clientUUID string, iface *net.Interface) ([]byte, error) {
	if clientUUID == "" {
		return HardwareClientID(iface.HardwareAddr), nil
	}

	duid, err := UUIDDUID(clientUUID)
	if err != nil {
		return nil, err
	}
	return NodeClientID(uint32(iface.Index), duid), nil
}
