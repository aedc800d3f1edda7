package message

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ClientID identifies one connection for its whole lifetime.
type ClientID = uuid.UUID

// System is the sender of server-originated messages.
var System = uuid.Nil

// NewClientID returns a fresh random client id.
func NewClientID() ClientID {
	return uuid.New()
}

// Errors
var (
	ErrMissingBody    = errors.New("message body is required")
	ErrUnknownKind    = errors.New("unknown message kind")
	ErrMissingTarget  = errors.New("targeted message requires a target")
	ErrMissingClient  = errors.New("message requires a client id")
	ErrInvalidPayload = errors.New("query payload must be valid UTF-8")
)

// Kind is the wire tag of a body variant.
type Kind string

const (
	KindQuery     Kind = "Query"
	KindConnected Kind = "Connected"
	KindError     Kind = "Error"
	KindResponse  Kind = "Response"
	KindPost      Kind = "Post"
	KindGet       Kind = "Get"
)

// Body is the closed set of message bodies.
type Body interface {
	Kind() Kind
	validate() error
}

// QueryBody is a public request broadcast to every other client.
type QueryBody struct {
	Payload []byte
}

// ConnectedBody tells a client its own id.
type ConnectedBody struct {
	ID ClientID
}

// ErrorBody reports malformed input or a protocol violation to Criminal.
type ErrorBody struct {
	Criminal ClientID
	Reason   string
}

// ResponseBody carries post headers to Target.
type ResponseBody struct {
	Target ClientID
	Posts  []PostHeader
}

// PostBody delivers a post to Target.
type PostBody struct {
	Target ClientID
	Post   Post
}

// GetBody asks Target for the post with the given id.
type GetBody struct {
	Target ClientID
	ID     ClientID
}

// PostHeader describes a post without its content.
type PostHeader struct {
	ID     uuid.UUID `json:"id"`
	Posted time.Time `json:"posted"`
	Title  string    `json:"title"`
}

// Post is opaque payload for the broker: forwarded, never inspected.
type Post struct {
	Header  PostHeader `json:"header"`
	Content string     `json:"content"`
}

func (QueryBody) Kind() Kind     { return KindQuery }
func (ConnectedBody) Kind() Kind { return KindConnected }
func (ErrorBody) Kind() Kind     { return KindError }
func (ResponseBody) Kind() Kind  { return KindResponse }
func (PostBody) Kind() Kind      { return KindPost }
func (GetBody) Kind() Kind       { return KindGet }
