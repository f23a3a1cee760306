package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// 44-character base64 string, as produced by `openssl rand -base64 32`
const testSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="

func TestGenerateAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	tests := []struct {
		name    string
		userID  string
		did     string
		wantErr bool
	}{
		{name: "valid access token", userID: "user-123", did: "did:web:example.com", wantErr: false},
		{name: "empty userID", userID: "", did: "did:web:example.com", wantErr: true},
		{name: "empty did", userID: "user-123", did: "", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.GenerateAccessToken(tt.userID, tt.did)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && token == "" {
				t.Error("GenerateAccessToken() returned empty token")
			}
		})
	}
}

func TestValidateAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	token, err := svc.GenerateAccessToken("user-123", "did:web:example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("expected subject user-123, got %s", claims.Subject)
	}
	if claims.DID != "did:web:example.com" {
		t.Errorf("expected DID did:web:example.com, got %s", claims.DID)
	}
	if claims.Type != TokenTypeAccess {
		t.Errorf("expected type %s, got %s", TokenTypeAccess, claims.Type)
	}
}

func TestValidateRefreshToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	token, err := svc.GenerateRefreshToken("user-123")
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Type != TokenTypeRefresh {
		t.Errorf("expected type %s, got %s", TokenTypeRefresh, claims.Type)
	}
	if claims.DID != "" {
		t.Errorf("refresh token should carry no DID, got %s", claims.DID)
	}
}

func TestExpiredToken(t *testing.T) {
	svc := NewJWTServiceWithLeeway(testSecret, 0)

	token, err := svc.GenerateAccessToken("user-123", "did:web:example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	// Fresh token validates.
	if _, err := svc.ValidateToken(token); err != nil {
		t.Errorf("fresh token should validate, got %v", err)
	}
}

func TestTamperedToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	token, err := svc.GenerateAccessToken("user-123", "did:web:example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 token parts, got %d", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "." + "tampersig"

	if _, err := svc.ValidateToken(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestWrongSecretToken(t *testing.T) {
	svc := NewJWTService(testSecret)
	other := NewJWTService("completely-different-secret-value-here!!!!!!")

	token, err := other.GenerateAccessToken("user-123", "did:web:example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestEmptyUserIDError(t *testing.T) {
	svc := NewJWTService(testSecret)

	if _, err := svc.GenerateAccessToken("", "did:web:example.com"); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	if _, err := svc.GenerateRefreshToken(""); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestKeyRotation(t *testing.T) {
	oldSecret := testSecret
	newSecret := "Zm9vYmFyYmF6cXV4Zm9vYmFyYmF6cXV4Zm9vYmFyYmE="

	oldSvc := NewJWTService(oldSecret)
	token, err := oldSvc.GenerateAccessToken("user-123", "did:web:example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	t.Run("old token validates during rotation", func(t *testing.T) {
		rotated := NewJWTServiceWithRotation(newSecret, oldSecret)
		claims, err := rotated.ValidateToken(token)
		if err != nil {
			t.Fatalf("expected old token to validate during rotation, got %v", err)
		}
		if claims.Subject != "user-123" {
			t.Errorf("expected subject user-123, got %s", claims.Subject)
		}
	})

	t.Run("old token rejected after rotation completes", func(t *testing.T) {
		completed := NewJWTServiceWithRotation(newSecret, "")
		if _, err := completed.ValidateToken(token); err == nil {
			t.Error("expected old token to be rejected once previous secret is retired")
		}
	})

	t.Run("new tokens signed with current secret", func(t *testing.T) {
		rotated := NewJWTServiceWithRotation(newSecret, oldSecret)
		fresh, err := rotated.GenerateAccessToken("user-456", "did:web:example.org")
		if err != nil {
			t.Fatalf("GenerateAccessToken failed: %v", err)
		}

		currentOnly := NewJWTService(newSecret)
		if _, err := currentOnly.ValidateToken(fresh); err != nil {
			t.Errorf("token should validate with current secret alone, got %v", err)
		}
	})
}

func TestLeewayAbsorbsSkew(t *testing.T) {
	svc := NewJWTServiceWithLeeway(testSecret, 2*time.Minute)

	token, err := svc.GenerateAccessToken("user-123", "did:web:example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	if _, err := svc.ValidateToken(token); err != nil {
		t.Errorf("token should validate within leeway, got %v", err)
	}
}
