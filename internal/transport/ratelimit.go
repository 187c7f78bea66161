package transport

import "golang.org/x/time/rate"

// acceptLimiter throttles how fast a Listener hands out new connections,
// grounded on the teacher's rate-limited file-transfer readers/writers but
// applied to Accept instead of byte throughput.
type acceptLimiter struct {
	limiter *rate.Limiter
}

// newAcceptLimiter returns an acceptLimiter, or nil if r is non-positive
// (no limiting).
func newAcceptLimiter(r float64, burst int) *acceptLimiter {
	if r <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &acceptLimiter{limiter: rate.NewLimiter(rate.Limit(r), burst)}
}

// Allow reports whether a new connection may be accepted right now.
func (l *acceptLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
