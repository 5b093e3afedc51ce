package contact

import "time"

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

type defaultTimeProviderT struct{}

func (defaultTimeProviderT) Now() time.Time { return time.Now() }

var defaultTimeProvider TimeProvider = defaultTimeProviderT{}
