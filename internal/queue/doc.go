// Package queue provides the unbounded FIFO used for per-client mailboxes
// and for the outbound pipe between a connection's reader and writer.
//
// A Queue never blocks producers: it doubles its ring when 70% full.
// Consumers either poll with TryReceive, block with Receive, or select on
// Ready/Done alongside other event sources.
package queue
