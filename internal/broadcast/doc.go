// Package broadcast implements the bounded fan-out ring used for public
// messages.
//
// A Bus has one producer and any number of Subscribers. Each subscriber
// keeps its own cursor into a fixed-size ring, so Publish never blocks and
// never allocates per subscriber. A subscriber that falls more than the
// ring capacity behind loses the overwritten values: its next receive
// returns a *LaggedError with the number missed and the cursor jumps to the
// oldest value still retained.
//
// Waiting is done on a notification channel that Publish closes and
// replaces, so any number of subscribers can block in a select without
// polling:
//
//	for {
//		select {
//		case <-sub.Ready():
//			for {
//				v, err := sub.TryRecv()
//				...
//			}
//		case <-other:
//		}
//	}
package broadcast
