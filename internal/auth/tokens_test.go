package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "0123456789abcdef0123"

func TestTokens_IssueVerify(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)
	id := uuid.New()

	tok, err := tokens.Issue(id)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := tokens.Verify(tok)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.UserID != id {
		t.Errorf("UserID = %v, want %v", claims.UserID, id)
	}
	if claims.Subject != id.String() {
		t.Errorf("Subject = %q, want %q", claims.Subject, id.String())
	}
	if claims.ExpiresAt == nil {
		t.Error("ExpiresAt should be set when ttl > 0")
	}
}

func TestTokens_NoTTL(t *testing.T) {
	tokens := NewTokens(testSecret, 0)

	tok, err := tokens.Issue(uuid.New())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	claims, err := tokens.Verify(tok)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", claims.ExpiresAt)
	}
}

func TestTokens_Expired(t *testing.T) {
	issuer := NewTokens(testSecret, time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }

	tok, err := issuer.Issue(uuid.New())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = NewTokens(testSecret, time.Minute).Verify(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify error = %v, want ErrInvalidToken", err)
	}
}

func TestTokens_LoggedInFuture(t *testing.T) {
	issuer := NewTokens(testSecret, 0)
	issuer.now = func() time.Time { return time.Now().Add(time.Hour) }

	tok, err := issuer.Issue(uuid.New())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = NewTokens(testSecret, 0).Verify(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify error = %v, want ErrInvalidToken", err)
	}
}

func TestTokens_Rejects(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)
	valid, err := tokens.Issue(uuid.New())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	otherSecret, _ := NewTokens("another-secret-value", time.Hour).Issue(uuid.New())

	nilUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Logged: time.Now().Add(-time.Minute),
	}).SignedString([]byte(testSecret))

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID: uuid.New(),
		Logged: time.Now().Add(-time.Minute),
	}).SignedString([]byte(testSecret))

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not.a.token", ErrInvalidToken},
		{"tampered", valid + "x", ErrInvalidToken},
		{"wrong secret", otherSecret, ErrInvalidToken},
		{"nil user", nilUser, ErrInvalidToken},
		{"wrong algorithm", hs512, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokens.Verify(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify error = %v, want %v", err, tt.want)
			}
			if !IsTokenError(err) {
				t.Errorf("IsTokenError(%v) = false, want true", err)
			}
		})
	}
}
