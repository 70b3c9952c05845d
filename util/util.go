package util

import (
	"math"
	"net"
)

func SafeConvertToUint32(float64Value float64) uint32 {
	if float64Value > math.MaxUint32 {
		return math.MaxUint32
	} else if float64Value < 0 {
		return 0
	} else {
		return uint32(float64Value)
	}
}

// SafeConvertToUint16 clamps like SafeConvertToUint32.
func SafeConvertToUint16(float64Value float64) uint16 {
	if float64Value > math.MaxUint16 {
		return math.MaxUint16
	} else if float64Value < 0 {
		return 0
	} else {
		return uint16(float64Value)
	}
}

// ParseIP4s parses the IPv4 addresses in ipStrs and skips everything else.
func ParseIP4s(ipStrs []string) []net.IP {
	ips := make([]net.IP, 0, len(ipStrs))

	for _, ipStr := range ipStrs {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}

		ip4 := ip.To4()
		if ip4 == nil {
			continue
		}

		ips = append(ips, ip4)
	}
	return ips
}

// PrefixLength returns the number of leading ones of an IPv4 mask, or 0 if
// the mask is not canonical.
func PrefixLength(mask net.IPMask) int {
	ones, bits := mask.Size()
	if bits == 0 {
		return 0
	}
	return ones
}
