// Package router implements the relay's single routing loop.
//
// Every connection reader feeds one bounded inbound channel. The router
// takes each message off that channel and decides where it goes by looking
// at the body:
//
//	Query                    -> broadcast bus, every other client
//	Post, Response, Get      -> mailbox of body.Target
//	Error from the system    -> mailbox of body.Criminal
//	anything else            -> Error reply to the sender
//
// Delivery is fire-and-forget. A target that has already disconnected is
// logged and counted; the sender is not told. A panic while routing one
// message is recovered so the loop keeps running.
package router
