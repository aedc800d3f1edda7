package message

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Message is the envelope routed between clients. Treat it as immutable:
// payload slices are shared between every recipient.
type Message struct {
	Sender ClientID
	Time   time.Time
	Body   Body
}

// New stamps body with the current time.
func New(sender ClientID, body Body) Message {
	return NewAt(sender, time.Now(), body)
}

// NewAt builds a message with an explicit timestamp. Times in the message
// and in any post headers are stored in UTC.
func NewAt(sender ClientID, at time.Time, body Body) Message {
	return Message{
		Sender: sender,
		Time:   at.UTC().Round(0),
		Body:   normalizeBody(body),
	}
}

func normalizeBody(body Body) Body {
	switch b := body.(type) {
	case PostBody:
		b.Post.Header.Posted = b.Post.Header.Posted.UTC().Round(0)
		return b
	case ResponseBody:
		if len(b.Posts) == 0 {
			return b
		}
		posts := make([]PostHeader, len(b.Posts))
		for i, h := range b.Posts {
			h.Posted = h.Posted.UTC().Round(0)
			posts[i] = h
		}
		b.Posts = posts
		return b
	}
	return body
}

// Errorf builds a system-originated fault notice addressed to criminal.
func Errorf(criminal ClientID, format string, args ...any) Message {
	return New(System, ErrorBody{
		Criminal: criminal,
		Reason:   fmt.Sprintf(format, args...),
	})
}

// Kind returns the body tag, or "" for a message without a body.
func (m Message) Kind() Kind {
	if m.Body == nil {
		return ""
	}
	return m.Body.Kind()
}

// WithSender returns a copy of m attributed to sender.
func (m Message) WithSender(sender ClientID) Message {
	m.Sender = sender
	return m
}

// Target returns the recipient of a targeted message.
func (m Message) Target() (ClientID, bool) {
	switch b := m.Body.(type) {
	case ResponseBody:
		return b.Target, true
	case PostBody:
		return b.Target, true
	case GetBody:
		return b.Target, true
	}
	return ClientID{}, false
}

// Validate checks that the message is complete and well-formed.
func (m Message) Validate() error {
	if m.Body == nil {
		return ErrMissingBody
	}
	return m.Body.validate()
}

func (b QueryBody) validate() error {
	if !utf8.Valid(b.Payload) {
		return ErrInvalidPayload
	}
	return nil
}

func (b ConnectedBody) validate() error {
	if b.ID == System {
		return ErrMissingClient
	}
	return nil
}

func (b ErrorBody) validate() error {
	if b.Criminal == System {
		return ErrMissingClient
	}
	return nil
}

func (b ResponseBody) validate() error {
	if b.Target == System {
		return ErrMissingTarget
	}
	return nil
}

func (b PostBody) validate() error {
	if b.Target == System {
		return ErrMissingTarget
	}
	return nil
}

func (b GetBody) validate() error {
	if b.Target == System {
		return ErrMissingTarget
	}
	return nil
}
