package jwtutil

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("secret", 7, "sara", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "sara" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	token, _ := GenerateToken("secret", 7, "sara", time.Hour)
	if _, err := ParseToken("other", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: %v", err)
	}
	expired, _ := GenerateToken("secret", 7, "sara", -time.Minute)
	if _, err := ParseToken("secret", expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: %v", err)
	}
	if _, err := ParseToken("secret", "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: %v", err)
	}
}
