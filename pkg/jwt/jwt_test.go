package jwt

import (
	"errors"
	"testing"
	"time"

	"staffchat/internal/entity"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewJWTManager("secret", time.Minute)
	token, err := m.GenerateAccessToken(entity.TokenClaims{UserId: 42, Username: "sari"})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserId != 42 || claims.Username != "sari" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidateAccessTokenRejects(t *testing.T) {
	t.Parallel()

	m := NewJWTManager("secret", time.Minute)
	good, err := m.GenerateAccessToken(entity.TokenClaims{UserId: 42})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	expired, err := NewJWTManager("secret", -time.Minute).GenerateAccessToken(entity.TokenClaims{UserId: 42})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	anonymous, err := m.GenerateAccessToken(entity.TokenClaims{})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	tests := []struct {
		name    string
		manager *JWTManager
		token   string
		wantErr error
	}{
		{"wrong secret", NewJWTManager("other", time.Minute), good, ErrInvalidToken},
		{"expired", m, expired, ErrExpiredToken},
		{"garbage", m, "not.a.token", ErrInvalidToken},
		{"no user", m, anonymous, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := tt.manager.ValidateAccessToken(tt.token); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
