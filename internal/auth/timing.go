package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig controls how long a failed login is held before returning
type TimingConfig struct {
	BaseDelay   time.Duration // floor for every delayed attempt
	RandomDelay time.Duration // up to this much jitter is added on top
}

// TimingDelay pads login attempts to a common duration so an unknown
// username and a wrong password cannot be told apart by response time.
type TimingDelay struct {
	config TimingConfig
	sleep  func(time.Duration)
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
		sleep:  time.Sleep,
	}
}

// cryptoRandDuration returns a uniformly distributed duration in [0, limit)
func cryptoRandDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(limit))
}

// target returns the padded duration for one attempt, or zero when the
// attempt should not be delayed. Successful attempts are never delayed.
func (td *TimingDelay) target(success bool) time.Duration {
	if success {
		return 0
	}
	return td.config.BaseDelay + cryptoRandDuration(td.config.RandomDelay)
}

// WaitFrom sleeps until startTime plus the target duration, so work already
// done by the caller counts toward the delay.
func (td *TimingDelay) WaitFrom(startTime time.Time, success bool) {
	d := td.target(success)
	if d <= 0 {
		return
	}
	if remaining := d - time.Since(startTime); remaining > 0 {
		td.sleep(remaining)
	}
}
