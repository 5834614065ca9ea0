// Package reconnect decides when a dropped session attempts a new connection.
package reconnect

import (
	"math"
	"time"
)

// Policy defines the parameters for exponential backoff with signed jitter.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Factor is the exponential factor applied per retry.
	Factor float64
	// Max caps the delay before jitter is applied.
	Max time.Duration
	// JitterRatio is the fraction of the delay added or removed at random (0.0 to 1.0).
	// Zero selects the default ratio; NoJitter disables jitter.
	JitterRatio float64
}

// NoJitter disables jitter when used as Policy.JitterRatio.
const NoJitter = -1.0

// DefaultPolicy returns the session backoff policy.
// Base: 1s, Factor: 2, Max: 30s, Jitter: ±30%
func DefaultPolicy() Policy {
	return Policy{
		Base:        time.Second,
		Factor:      2,
		Max:         30 * time.Second,
		JitterRatio: 0.3,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.JitterRatio == 0 {
		p.JitterRatio = d.JitterRatio
	}
	if p.JitterRatio < 0 {
		p.JitterRatio = 0
	}
	if p.JitterRatio > 1 {
		p.JitterRatio = 1
	}
	return p
}

// BaseDelay returns min(Base × Factor^retryCount, Max), before jitter.
func (p Policy) BaseDelay(retryCount int) time.Duration {
	p = p.withDefaults()
	if retryCount < 0 {
		retryCount = 0
	}

	delay := float64(p.Base) * math.Pow(p.Factor, float64(retryCount))
	return time.Duration(math.Min(delay, float64(p.Max)))
}

// Delay returns the jittered delay for retryCount using randomValue in [0.0, 1.0).
// The jitter is uniform in [-delay×JitterRatio, +delay×JitterRatio].
func (p Policy) Delay(retryCount int, randomValue float64) time.Duration {
	p = p.withDefaults()
	base := float64(p.BaseDelay(retryCount))

	jitter := base * p.JitterRatio * (2*randomValue - 1)
	delay := base + jitter
	if delay < 0 {
		delay = 0
	}

	return time.Duration(math.Round(delay))
}
