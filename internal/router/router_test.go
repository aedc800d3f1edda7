package router

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rickgao/etron/internal/broadcast"
	"github.com/rickgao/etron/internal/mailbox"
	"github.com/rickgao/etron/internal/message"
)

// panicProducer panics on every send.
type panicProducer struct{}

func (panicProducer) Send(message.ClientID, message.Message) error {
	panic("boom")
}

func newTestRouter(t *testing.T) (Router, *mailbox.Registry) {
	t.Helper()

	reg := mailbox.NewRegistry(mailbox.Config{Shards: 4, Capacity: 8}, nil)
	r := New(DefaultConfig(), reg.Producer(), nil, slog.Default())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	})
	return r, reg
}

// join registers a mailbox for a new client and claims it.
func join(t *testing.T, reg *mailbox.Registry) (message.ClientID, mailbox.Consumer) {
	t.Helper()

	id := message.NewClientID()
	if err := reg.Add(id); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	c, err := reg.Claim(id)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	return id, c
}

func recvMailbox(t *testing.T, c mailbox.Consumer) message.Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok, err := c.Recv(ctx)
	if err != nil || !ok {
		t.Fatalf("mailbox Recv() = %v, %v", ok, err)
	}
	return msg
}

func expectEmpty(t *testing.T, c mailbox.Consumer) {
	t.Helper()

	time.Sleep(30 * time.Millisecond)
	if msg, ok := c.TryRecv(); ok {
		t.Errorf("unexpected mailbox message: %+v", msg)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.InboundCapacity != 1024 {
		t.Errorf("InboundCapacity = %d, want 1024", cfg.InboundCapacity)
	}
	if cfg.BroadcastCapacity != 256 {
		t.Errorf("BroadcastCapacity = %d, want 256", cfg.BroadcastCapacity)
	}
}

func TestRouter_StartStop(t *testing.T) {
	reg := mailbox.NewRegistry(mailbox.DefaultConfig(), nil)
	r := New(DefaultConfig(), reg, nil, nil)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch := r.Channels().Clone()
	defer ch.Close()

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	select {
	case <-ch.Done():
	default:
		t.Error("Done() not closed after Stop")
	}
	if err := ch.Send(message.New(message.NewClientID(), message.QueryBody{})); !errors.Is(err, ErrRouterStopped) {
		t.Errorf("Send() after Stop error = %v, want ErrRouterStopped", err)
	}
	if _, err := ch.Broadcast.TryRecv(); !errors.Is(err, broadcast.ErrClosed) {
		t.Errorf("TryRecv() after Stop error = %v, want ErrClosed", err)
	}
}

func TestRouter_QueryBroadcast(t *testing.T) {
	r, reg := newTestRouter(t)
	a, _ := join(t, reg)

	chA := r.Channels().Clone()
	chB := r.Channels().Clone()
	defer chA.Close()
	defer chB.Close()

	query := message.New(a, message.QueryBody{Payload: []byte("who has rust posts")})
	if err := chA.Send(query); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for name, sub := range map[string]*broadcast.Subscriber[message.Message]{"A": chA.Broadcast, "B": chB.Broadcast} {
		got, err := sub.Recv(ctx)
		if err != nil {
			t.Fatalf("%s: Recv() error = %v", name, err)
		}
		if got.Sender != a {
			t.Errorf("%s: Sender = %v, want %v", name, got.Sender, a)
		}
	}

	if got := r.Stats().Broadcast; got != 1 {
		t.Errorf("Stats().Broadcast = %d, want 1", got)
	}
}

func TestRouter_TargetedDelivery(t *testing.T) {
	r, reg := newTestRouter(t)
	a, mbA := join(t, reg)
	b, mbB := join(t, reg)
	ch := r.Channels()

	post := message.Post{
		Header:  message.PostHeader{ID: message.NewClientID(), Posted: time.Now().UTC(), Title: "t"},
		Content: "c",
	}
	bodies := []message.Body{
		message.GetBody{Target: b, ID: post.Header.ID},
		message.ResponseBody{Target: b, Posts: []message.PostHeader{post.Header}},
		message.PostBody{Target: b, Post: post},
	}

	for _, body := range bodies {
		if err := ch.Send(message.New(a, body)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		got := recvMailbox(t, mbB)
		if got.Kind() != body.Kind() {
			t.Errorf("Kind() = %s, want %s", got.Kind(), body.Kind())
		}
		if got.Sender != a {
			t.Errorf("Sender = %v, want %v", got.Sender, a)
		}
	}

	expectEmpty(t, mbA)

	if got := r.Stats().Targeted; got != 3 {
		t.Errorf("Stats().Targeted = %d, want 3", got)
	}
}

func TestRouter_TargetGone(t *testing.T) {
	r, reg := newTestRouter(t)
	a, mbA := join(t, reg)
	ch := r.Channels()

	gone := message.NewClientID()
	ch.Send(message.New(a, message.GetBody{Target: gone, ID: message.NewClientID()}))

	// The sender is not notified.
	expectEmpty(t, mbA)

	if got := r.Stats().Failures; got != 1 {
		t.Errorf("Stats().Failures = %d, want 1", got)
	}
}

func TestRouter_SystemErrorDelivered(t *testing.T) {
	r, reg := newTestRouter(t)
	a, mbA := join(t, reg)

	r.Channels().Send(message.Errorf(a, "invalid frame"))

	got := recvMailbox(t, mbA)
	body, ok := got.Body.(message.ErrorBody)
	if !ok {
		t.Fatalf("Body = %T, want ErrorBody", got.Body)
	}
	if body.Criminal != a || body.Reason != "invalid frame" {
		t.Errorf("Body = %+v", body)
	}
	if got.Sender != message.System {
		t.Errorf("Sender = %v, want System", got.Sender)
	}
}

func TestRouter_UnsupportedClientMessages(t *testing.T) {
	r, reg := newTestRouter(t)
	a, mbA := join(t, reg)
	b, mbB := join(t, reg)
	ch := r.Channels()

	tests := []struct {
		name string
		msg  message.Message
	}{
		{"client error", message.New(a, message.ErrorBody{Criminal: b, Reason: "spoofed"})},
		{"connected", message.New(a, message.ConnectedBody{ID: a})},
		{"nil body", message.Message{Sender: a, Time: time.Now()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch.Send(tt.msg)

			got := recvMailbox(t, mbA)
			body, ok := got.Body.(message.ErrorBody)
			if !ok {
				t.Fatalf("Body = %T, want ErrorBody", got.Body)
			}
			if body.Criminal != a {
				t.Errorf("Criminal = %v, want %v", body.Criminal, a)
			}
			if body.Reason != UnsupportedReason {
				t.Errorf("Reason = %q, want %q", body.Reason, UnsupportedReason)
			}
		})
	}

	expectEmpty(t, mbB)

	if got := r.Stats().Unsupported; got != int64(len(tests)) {
		t.Errorf("Stats().Unsupported = %d, want %d", got, len(tests))
	}
}

func TestRouter_RecoversFromPanic(t *testing.T) {
	r := New(DefaultConfig(), panicProducer{}, nil, nil)
	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop(ctx)

	ch := r.Channels().Clone()
	defer ch.Close()

	a := message.NewClientID()
	ch.Send(message.New(a, message.GetBody{Target: message.NewClientID(), ID: a}))
	ch.Send(message.New(a, message.QueryBody{Payload: []byte("still alive")}))

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	got, err := ch.Broadcast.Recv(recvCtx)
	if err != nil {
		t.Fatalf("Recv() error = %v, router stopped after panic", err)
	}
	if string(got.Body.(message.QueryBody).Payload) != "still alive" {
		t.Errorf("unexpected broadcast: %+v", got)
	}
	if got := r.Stats().Panics; got != 1 {
		t.Errorf("Stats().Panics = %d, want 1", got)
	}
}

func TestChannels_CloneSubscribes(t *testing.T) {
	r, _ := newTestRouter(t)

	base := r.Channels()
	if base.Broadcast != nil {
		t.Error("template Channels should have no subscription")
	}

	c1 := base.Clone()
	c2 := c1.Clone()
	if c1.Broadcast == c2.Broadcast {
		t.Error("Clone() reused the subscription")
	}
	if got := r.Stats().Bus.Subscribers; got != 2 {
		t.Errorf("Subscribers = %d, want 2", got)
	}

	c1.Close()
	c2.Close()
	base.Close()
	if got := r.Stats().Bus.Subscribers; got != 0 {
		t.Errorf("Subscribers = %d, want 0", got)
	}
}
