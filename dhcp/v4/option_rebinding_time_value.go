package v4

import "time"

// This option implements the Rebinding (T2) Time Value option
// https://tools.ietf.org/html/rfc2132#section-9.12

// OptRebindingTime builds the Rebinding (T2) Time Value option.
func OptRebindingTime(d time.Duration) Option {
	return Option{Code: OptionRebindingTimeValue, Data: secondsBytes(d)}
}
