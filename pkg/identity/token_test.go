package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() Claims {
	return Claims{
		UserID:   "u1",
		UserName: "Taro Yamada",
		DeviceID: "tablet-7",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestParseValidToken(t *testing.T) {
	tokenString := mintToken(t, testSecret, validClaims())

	claims, err := Parse(tokenString, testSecret)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.UserID != "u1" {
		t.Errorf("expected user u1, got %q", claims.UserID)
	}
	if claims.UserName != "Taro Yamada" {
		t.Errorf("expected user name, got %q", claims.UserName)
	}
	if claims.DeviceID != "tablet-7" {
		t.Errorf("expected device tablet-7, got %q", claims.DeviceID)
	}
}

func TestParseExpiredToken(t *testing.T) {
	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	tokenString := mintToken(t, testSecret, claims)

	if _, err := Parse(tokenString, testSecret); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestParseWrongSecret(t *testing.T) {
	tokenString := mintToken(t, "other-secret", validClaims())

	if _, err := Parse(tokenString, testSecret); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestParseMissingUserID(t *testing.T) {
	claims := validClaims()
	claims.UserID = ""
	tokenString := mintToken(t, testSecret, claims)

	if _, err := Parse(tokenString, testSecret); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for missing user id, got %v", err)
	}
}

func TestParseGarbage(t *testing.T) {
	if _, err := Parse("not-a-token", testSecret); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for garbage input, got %v", err)
	}
}
