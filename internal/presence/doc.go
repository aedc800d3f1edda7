// Package presence announces clients joining and leaving the relay.
//
// The spawner calls a Notifier when a session becomes active and when it
// is removed. RedisNotifier publishes each change as a JSON event and keeps
// a set of online client ids; Nop discards everything and is used when no
// Redis address is configured. Notifications are informational only and
// are never used for routing.
package presence
