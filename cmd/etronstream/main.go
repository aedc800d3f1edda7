// etronstream connects to a relay and streams received messages to the console.
// Usage: go run ./cmd/etronstream --url ws://localhost:8080/proto/v1
//
// With -user and -password the client logs in first and sends the token in
// the x-auth-token header. -query sends one Query after connecting.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/rickgao/etron/internal/auth"
	"github.com/rickgao/etron/internal/message"
)

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/proto/v1", "relay websocket URL")
	user := flag.String("user", "", "username to log in with")
	password := flag.String("password", "", "password to log in with")
	query := flag.String("query", "", "JSON payload to broadcast as a Query after connecting")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	header := http.Header{}
	if *user != "" {
		token, err := login(ctx, *wsURL, *user, *password)
		if err != nil {
			logger.Error("login failed", "error", err)
			os.Exit(1)
		}
		header.Set(auth.TokenHeader, token)
		logger.Info("logged in", "user", *user)
	}

	conn, err := dial(ctx, *wsURL, header, logger)
	if err != nil {
		logger.Error("failed to connect", "url", *wsURL, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	if *query != "" {
		msg := message.New(message.System, message.QueryBody{Payload: []byte(*query)})
		data, err := message.Encode(msg)
		if err != nil {
			logger.Error("invalid query", "error", err)
			os.Exit(1)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Error("failed to send query", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("streaming started - press Ctrl+C to stop")

	var received int
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("connection closed", "error", err)
			}
			break
		}
		received++
		printMessage(data, *verbose, logger)
	}

	logger.Info("shutdown complete", "received", received)
}

// dial connects with exponential backoff until ctx is cancelled or the
// server answers with an HTTP error.
func dial(ctx context.Context, wsURL string, header http.Header, logger *slog.Logger) (*websocket.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var conn *websocket.Conn

	op := func() error {
		c, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("%w (status %d)", err, resp.StatusCode))
			}
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		logger.Warn("dial failed, retrying", "error", err, "backoff", d)
	})
	return conn, err
}

// login exchanges credentials for a token at the relay's /auth/login.
func login(ctx context.Context, wsURL, user, password string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = "/auth/login"
	u.RawQuery = ""

	body, err := json.Marshal(auth.Credentials{Username: user, Password: password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(strings.TrimSpace(string(data)))
	}
	return string(data), nil
}

func printMessage(data []byte, verbose bool, logger *slog.Logger) {
	msg, err := message.Decode(data)
	if err != nil {
		logger.Warn("undecodable message", "error", err, "raw", string(data))
		return
	}

	if verbose {
		out, _ := json.MarshalIndent(msg, "", "  ")
		fmt.Printf("[%s] %s\n", strings.ToUpper(string(msg.Kind())), out)
		return
	}

	switch b := msg.Body.(type) {
	case message.ConnectedBody:
		fmt.Printf("[CONNECTED] id=%s\n", b.ID)
	case message.QueryBody:
		fmt.Printf("[QUERY] from=%s payload=%s\n", msg.Sender, b.Payload)
	case message.ErrorBody:
		fmt.Printf("[ERROR] criminal=%s reason=%s\n", b.Criminal, b.Reason)
	case message.ResponseBody:
		fmt.Printf("[RESPONSE] from=%s posts=%d\n", msg.Sender, len(b.Posts))
	case message.PostBody:
		fmt.Printf("[POST] from=%s\n", msg.Sender)
	case message.GetBody:
		fmt.Printf("[GET] from=%s id=%s\n", msg.Sender, b.ID)
	default:
		fmt.Printf("[%s] from=%s\n", strings.ToUpper(string(msg.Kind())), msg.Sender)
	}
}
