package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire types for JSON encoding

type messageWire struct {
	Sender ClientID        `json:"sender"`
	Time   *time.Time      `json:"time,omitempty"`
	Body   json.RawMessage `json:"body"`
}

type bodyWire struct {
	Method  Kind            `json:"method"`
	Content json.RawMessage `json:"content"`
}

type errorWire struct {
	Criminal ClientID `json:"criminal"`
	Error    string   `json:"error"`
}

type responseWire struct {
	Target ClientID     `json:"target"`
	Posts  []PostHeader `json:"posts"`
}

type postWire struct {
	Target ClientID `json:"target"`
	Post   Post     `json:"post"`
}

type getWire struct {
	Target ClientID `json:"target"`
	ID     ClientID `json:"id"`
}

// Encode serializes a message to its JSON wire form.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and validates a JSON frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.Body == nil {
		return nil, ErrMissingBody
	}

	var content any
	switch b := m.Body.(type) {
	case QueryBody:
		content = string(b.Payload)
	case ConnectedBody:
		content = b.ID
	case ErrorBody:
		content = errorWire{Criminal: b.Criminal, Error: b.Reason}
	case ResponseBody:
		content = responseWire{Target: b.Target, Posts: b.Posts}
	case PostBody:
		content = postWire{Target: b.Target, Post: b.Post}
	case GetBody:
		content = getWire{Target: b.Target, ID: b.ID}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, m.Body)
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal %s content: %w", m.Body.Kind(), err)
	}
	body, err := json.Marshal(bodyWire{Method: m.Body.Kind(), Content: raw})
	if err != nil {
		return nil, err
	}

	// Time is always written so a zero time survives a round trip.
	at := m.Time
	return json.Marshal(messageWire{Sender: m.Sender, Time: &at, Body: body})
}

// UnmarshalJSON implements json.Unmarshaler. A missing time defaults to now.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Body) == 0 || string(wire.Body) == "null" {
		return ErrMissingBody
	}

	var bw bodyWire
	if err := json.Unmarshal(wire.Body, &bw); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}

	body, err := decodeBody(bw)
	if err != nil {
		return err
	}

	at := time.Now()
	if wire.Time != nil {
		at = *wire.Time
	}

	*m = NewAt(wire.Sender, at, body)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Posted is normalized to UTC.
func (h *PostHeader) UnmarshalJSON(data []byte) error {
	type plain PostHeader
	var w plain
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*h = PostHeader(w)
	h.Posted = h.Posted.UTC().Round(0)
	return nil
}

func decodeBody(bw bodyWire) (Body, error) {
	if len(bw.Content) == 0 {
		return nil, fmt.Errorf("decode %s: missing content", bw.Method)
	}

	switch bw.Method {
	case KindQuery:
		var payload string
		if err := json.Unmarshal(bw.Content, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", bw.Method, err)
		}
		return QueryBody{Payload: []byte(payload)}, nil

	case KindConnected:
		var id ClientID
		if err := json.Unmarshal(bw.Content, &id); err != nil {
			return nil, fmt.Errorf("decode %s: %w", bw.Method, err)
		}
		return ConnectedBody{ID: id}, nil

	case KindError:
		var w errorWire
		if err := json.Unmarshal(bw.Content, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", bw.Method, err)
		}
		return ErrorBody{Criminal: w.Criminal, Reason: w.Error}, nil

	case KindResponse:
		var w responseWire
		if err := json.Unmarshal(bw.Content, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", bw.Method, err)
		}
		return ResponseBody{Target: w.Target, Posts: w.Posts}, nil

	case KindPost:
		var w postWire
		if err := json.Unmarshal(bw.Content, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", bw.Method, err)
		}
		return PostBody{Target: w.Target, Post: w.Post}, nil

	case KindGet:
		var w getWire
		if err := json.Unmarshal(bw.Content, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", bw.Method, err)
		}
		return GetBody{Target: w.Target, ID: w.ID}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, bw.Method)
}
