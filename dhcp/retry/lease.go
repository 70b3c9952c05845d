package retry

import "time"

// LeaseTimes are the absolute wake times of a bound lease.
type LeaseTimes struct {
	Renew  time.Time
	Rebind time.Time
	Expire time.Time
}

// ScheduleLease computes the wake times of a lease acquired at acquired.
// With t1 <= t2 <= duration the times are ordered Renew <= Rebind <= Expire.
func ScheduleLease(acquired time.Time, duration, t1, t2 time.Duration) LeaseTimes {
	return LeaseTimes{
		Renew:  acquired.Add(t1),
		Rebind: acquired.Add(t2),
		Expire: acquired.Add(duration),
	}
}

// Until returns the earlier of now+d and limit. It is used to keep
// retransmissions in RENEWING and REBINDING inside the lease timers.
func Until(now time.Time, d time.Duration, limit time.Time) time.Time {
	if t := now.Add(d); t.Before(limit) {
		return t
	}
	return limit
}
