package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/etron/internal/auth"
	"github.com/rickgao/etron/internal/connection"
	"github.com/rickgao/etron/internal/mailbox"
	"github.com/rickgao/etron/internal/message"
	"github.com/rickgao/etron/internal/metrics"
	"github.com/rickgao/etron/internal/presence"
	"github.com/rickgao/etron/internal/router"
)

const testSecret = "server-test-secret-value"

// users is an in-memory auth.Store.
type users struct {
	mu  sync.Mutex
	ids map[string]uuid.UUID
}

func (u *users) Register(_ context.Context, name, _ string) (uuid.UUID, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.ids[name]; ok {
		return uuid.Nil, auth.ErrUserExists
	}
	id := uuid.New()
	u.ids[name] = id
	return id, nil
}

func (u *users) Authenticate(_ context.Context, name, _ string) (uuid.UUID, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id, ok := u.ids[name]
	if !ok {
		return uuid.Nil, auth.ErrInvalidCredentials
	}
	return id, nil
}

func (u *users) Exists(_ context.Context, id uuid.UUID) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, v := range u.ids {
		if v == id {
			return nil
		}
	}
	return auth.ErrUserNotFound
}

func (u *users) Delete(context.Context, uuid.UUID) error { return nil }

type testEnv struct {
	server  *Server
	http    *httptest.Server
	metrics *metrics.Metrics
	tokens  *auth.Tokens
	users   *users
}

func newTestEnv(t *testing.T, cfg Config, withAuth bool) *testEnv {
	t.Helper()

	m := metrics.New()
	reg := mailbox.NewRegistry(mailbox.DefaultConfig(), nil)
	r := router.New(router.DefaultConfig(), reg.Producer(), m, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("router Start failed: %v", err)
	}
	sp := connection.NewSpawner(connection.DefaultConfig(), reg, r.Channels(), nil, m, nil)

	env := &testEnv{metrics: m}
	deps := Deps{Spawner: sp, Router: r, Metrics: m}
	if withAuth {
		env.users = &users{ids: make(map[string]uuid.UUID)}
		env.tokens = auth.NewTokens(testSecret, time.Hour)
		deps.Auth = auth.NewHandler(env.users, env.tokens, nil)
	}

	env.server = New(cfg, deps, nil)
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(func() {
		env.http.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sp.Stop(ctx)
		r.Stop(ctx)
	})
	return env
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + ProtoPath
}

func readConnected(t *testing.T, conn *websocket.Conn) message.ClientID {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	msg, err := message.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	body, ok := msg.Body.(message.ConnectedBody)
	if !ok {
		t.Fatalf("first message = %T, want ConnectedBody", msg.Body)
	}
	return body.ID
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), false)

	resp, err := http.Get(env.http.URL + HealthPath)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if status.Version == "" {
		t.Error("Version should be set")
	}
	if _, err := time.Parse(time.RFC3339, status.Started); err != nil {
		t.Errorf("Started = %q, not RFC3339: %v", status.Started, err)
	}
	if _, err := time.ParseDuration(status.Uptime); err != nil {
		t.Errorf("Uptime = %q, not a duration: %v", status.Uptime, err)
	}
}

type fakeLister struct {
	ids []uuid.UUID
	err error
}

func (f fakeLister) Online(context.Context) ([]uuid.UUID, error) {
	return f.ids, f.err
}

func TestServer_HealthOnline(t *testing.T) {
	tests := []struct {
		name   string
		lister presence.Lister
		want   *int
	}{
		{"no presence", nil, nil},
		{"two online", fakeLister{ids: []uuid.UUID{uuid.New(), uuid.New()}}, intPtr(2)},
		{"none online", fakeLister{}, intPtr(0)},
		{"presence down", fakeLister{err: errors.New("connection refused")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(DefaultConfig(), Deps{Presence: tt.lister}, nil)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}

			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			switch {
			case tt.want == nil && status.Online != nil:
				t.Errorf("Online = %d, want omitted", *status.Online)
			case tt.want != nil && status.Online == nil:
				t.Errorf("Online omitted, want %d", *tt.want)
			case tt.want != nil && *status.Online != *tt.want:
				t.Errorf("Online = %d, want %d", *status.Online, *tt.want)
			}
		})
	}
}

func intPtr(v int) *int { return &v }

func TestServer_ProtoConnects(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), false)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if id := readConnected(t, conn); id == uuid.Nil {
		t.Error("Connected id should not be nil")
	}
}

func TestServer_ProtoRequiresToken(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), true)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
	if err == nil {
		t.Fatal("Dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}

	id, _ := env.users.Register(context.Background(), "alice", "pw")
	token, err := env.tokens.Issue(id)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), http.Header{auth.TokenHeader: {token}})
	if err != nil {
		t.Fatalf("Dial with token failed: %v", err)
	}
	defer conn.Close()
	readConnected(t, conn)

	conn2, _, err := websocket.DefaultDialer.Dial(env.wsURL()+"?token="+token, nil)
	if err != nil {
		t.Fatalf("Dial with token query failed: %v", err)
	}
	defer conn2.Close()
	readConnected(t, conn2)
}

func TestServer_AuthRoutes(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), true)

	resp, err := http.Post(env.http.URL+AuthPrefix+"/register", "application/json",
		strings.NewReader(`{"username":"bob","password":"pw"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d, want 200", resp.StatusCode)
	}
	token, _ := io.ReadAll(resp.Body)
	if _, err := env.tokens.Verify(string(token)); err != nil {
		t.Errorf("register token invalid: %v", err)
	}
}

func TestServer_AuthRoutesAbsentWhenDisabled(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), false)

	resp, err := http.Post(env.http.URL+AuthPrefix+"/register", "application/json",
		strings.NewReader(`{"username":"bob","password":"pw"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), false)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	readConnected(t, conn)

	// The gauge moves just after the Connected frame is written.
	var body []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(env.http.URL + MetricsPath)
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		body, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		if strings.Contains(string(body), "etron_connections_active 1") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("metrics missing active connection gauge:\n%s", body)
}

func TestServer_MetricsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsPath = ""
	env := newTestEnv(t, cfg, false)

	resp, err := http.Get(env.http.URL + MetricsPath)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_CheckOrigin(t *testing.T) {
	s := New(Config{AllowedOrigins: []string{"app.example.com", "https://other.example.com"}}, Deps{}, nil)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://other.example.com", true},
		{"http://other.example.com", false},
		{"https://evil.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, ProtoPath, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}

	open := New(Config{}, Deps{}, nil)
	req := httptest.NewRequest(http.MethodGet, ProtoPath, nil)
	req.Header.Set("Origin", "https://anything.test")
	if !open.checkOrigin(req) {
		t.Error("empty AllowedOrigins should allow any origin")
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	m := metrics.New()
	reg := mailbox.NewRegistry(mailbox.DefaultConfig(), nil)
	r := router.New(router.DefaultConfig(), reg.Producer(), m, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("router Start failed: %v", err)
	}
	sp := connection.NewSpawner(connection.DefaultConfig(), reg, r.Channels(), nil, m, nil)
	s := New(DefaultConfig(), Deps{Spawner: sp, Router: r, Metrics: m}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	url := "ws://" + ln.Addr().String() + ProtoPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	readConnected(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown error = %v", err)
	}

	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	if got := sp.Stats().Active; got != 0 {
		t.Errorf("Active after Shutdown = %d, want 0", got)
	}

	// The session was told the server is going away.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("close error = %v, want going away", err)
			}
			break
		}
	}
}
