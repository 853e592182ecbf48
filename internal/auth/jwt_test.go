package auth

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-jwt-secret-that-is-32-chars!!"

func TestNewTokenService_SecretTooShort(t *testing.T) {
	_, err := NewTokenService("short", time.Hour)
	if !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("NewTokenService() error = %v, want ErrSecretTooShort", err)
	}
}

func TestGenerateAndValidate(t *testing.T) {
	svc, err := NewTokenService(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	token, err := svc.Generate("user-1", "owner@example.com", "user")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("claims.UserID = %q, want %q", claims.UserID, "user-1")
	}
	if claims.Email != "owner@example.com" {
		t.Errorf("claims.Email = %q, want %q", claims.Email, "owner@example.com")
	}
	if claims.Role != "user" {
		t.Errorf("claims.Role = %q, want %q", claims.Role, "user")
	}
	if claims.Issuer != "shopconnect" {
		t.Errorf("claims.Issuer = %q, want %q", claims.Issuer, "shopconnect")
	}
	if claims.Subject != "user-1" {
		t.Errorf("claims.Subject = %q, want %q", claims.Subject, "user-1")
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	issuerSvc, _ := NewTokenService(testSecret, time.Hour)
	otherSvc, _ := NewTokenService("a-completely-different-32-char-key", time.Hour)

	token, err := issuerSvc.Generate("user-1", "owner@example.com", "user")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, err := otherSvc.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate() error = %v, want ErrInvalidToken", err)
	}
}

func TestValidate_Expired(t *testing.T) {
	svc, _ := NewTokenService(testSecret, -time.Minute)

	token, err := svc.Generate("user-1", "owner@example.com", "user")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, err := svc.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate() error = %v, want ErrInvalidToken", err)
	}
}

func TestValidate_Garbage(t *testing.T) {
	svc, _ := NewTokenService(testSecret, time.Hour)

	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := svc.Validate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Validate(%q) error = %v, want ErrInvalidToken", tok, err)
		}
	}
}
