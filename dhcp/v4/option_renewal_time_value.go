package v4

import (
	"encoding/binary"
	"time"

	"github.com/cimnine/netbox-dhclient/util"
)

// This option implements the Renewal (T1) Time Value option
// https://tools.ietf.org/html/rfc2132#section-9.11

// OptRenewalTime builds the Renewal (T1) Time Value option. Durations are
// truncated to whole seconds and saturate at the largest value the option
// can carry.
func OptRenewalTime(d time.Duration) Option {
	return Option{Code: OptionRenewTimeValue, Data: secondsBytes(d)}
}

// secondsBytes encodes d as the 32-bit seconds value of options 51, 58 and 59.
func secondsBytes(d time.Duration) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, util.SafeConvertToUint32(d.Seconds()))
	return data
}
