package processor

import "github.com/maauso/tunewatch/internal/detector"

// Subscriber receives tunes found in committed segments. TuneAvailable is
// called with a single-element slice holding the first match of a segment,
// never with an empty slice. Calls are sequential.
type Subscriber interface {
	TuneAvailable(matches []detector.Match)
}

// SubscriberFunc adapts an ordinary function to the Subscriber interface.
type SubscriberFunc func(matches []detector.Match)

// TuneAvailable implements Subscriber.
func (f SubscriberFunc) TuneAvailable(matches []detector.Match) {
	f(matches)
}

var _ Subscriber = SubscriberFunc(nil)
