// Package mailbox keeps the registry of per-client inbound queues used for
// point-to-point delivery.
//
// Each connected client owns exactly one mailbox. Any goroutine may Send to
// it through the registry's Producer; only the client's own reader, holding
// the Consumer obtained from Claim, may receive from it.
//
// Lifecycle:
//
//	Add(id)     create the queue, once per connection
//	Claim(id)   take the single consumer handle
//	Send(id, m) from the router, any number of goroutines
//	Remove(id)  close and forget the queue; later sends fail with DoesNotExist
//
// The registry is sharded by client id so that unrelated clients never
// contend on the same lock.
package mailbox
