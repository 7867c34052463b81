package polling

import "time"

// Observer receives fetch lifecycle notifications. Implementations must be safe
// for concurrent use.
type Observer interface {
	FetchCompleted(source string, duration time.Duration, err error)
	FetchCoalesced(key string)
	InFlight(count int)
}

type nopObserver struct{}

func (nopObserver) FetchCompleted(string, time.Duration, error) {}
func (nopObserver) FetchCoalesced(string)                       {}
func (nopObserver) InFlight(int)                                {}
