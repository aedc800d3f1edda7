// Package message defines the wire and domain vocabulary of the relay.
//
// A Message is an envelope (sender, time) around exactly one Body variant:
//   - QueryBody: public request, fanned out to every other client
//   - ConnectedBody: lifecycle notice carrying the client's own id
//   - ErrorBody: protocol fault addressed back to the offending client
//   - ResponseBody, PostBody, GetBody: targeted delivery
//
// Conventions:
//   - IDs: uuid.UUID, uuid.Nil is the system sender
//   - Timestamps: time.Time in UTC, RFC 3339 on the wire
//   - Wire format: JSON, body tagged as {"method": ..., "content": ...}
package message
