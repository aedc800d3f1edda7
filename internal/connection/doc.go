// Package connection services accepted websocket clients.
//
// The Spawner takes an upgraded connection, gives it a fresh client id,
// registers its mailbox and subscribes it to the broadcast bus. It then
// writes Connected(id) and starts two halves:
//
//   - the reader, which selects over inbound frames, the client's mailbox
//     and the broadcast subscription. Frames are decoded and forwarded to
//     the router stamped with the client's own id; mailbox and broadcast
//     messages go to the writer's outbound queue.
//   - the writer, which drains the outbound queue in order and keeps the
//     connection alive with pings.
//
// When either half ends the other is stopped, both are joined, and the
// session is torn down: subscription closed, mailbox removed, transport
// closed. Session state moves Connecting -> Active -> Disconnecting ->
// Removed.
package connection
