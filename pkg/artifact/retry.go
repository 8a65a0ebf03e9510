package artifact

import "time"

// RetryConfig bounds how many times a fetch is retried on transient
// failure and how the delay between attempts grows. The default
// (3 attempts, 200ms base, doubling) was an open question the original
// spec left unresolved; this is the decision recorded for it.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig is used when a caller does not supply one.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}
