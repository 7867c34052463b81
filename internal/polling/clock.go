package polling

import "time"

// Clock abstracts time so schedules can be driven manually in tests.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts time.Ticker.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// SystemClock uses the time package.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Ticker returns a ticker backed by time.NewTicker.
func (SystemClock) Ticker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) Chan() <-chan time.Time { return s.t.C }

func (s *systemTicker) Stop() { s.t.Stop() }
