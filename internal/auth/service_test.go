package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"daily-reward-api/internal/models"
)

func TestIssueAndValidate(t *testing.T) {
	svc, err := NewTokenService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}

	token, err := svc.Issue(models.User{ID: "42", Name: "alice", IsAdmin: true})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	user, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if user.ID != "42" || user.Name != "alice" || !user.IsAdmin {
		t.Errorf("Unexpected user %+v", user)
	}
}

func TestValidate_Rejects(t *testing.T) {
	svc, _ := NewTokenService("test-secret", time.Hour)
	other, _ := NewTokenService("other-secret", time.Hour)
	foreign, _ := other.Issue(models.User{ID: "42"})

	expiredSvc, _ := NewTokenService("test-secret", time.Hour)
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredSvc.Issue(models.User{ID: "42"})

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "42"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	noSubject, _ := svc.Issue(models.User{})

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", expired},
		{"alg none", unsigned},
		{"no subject", noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Validate(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	if _, err := NewTokenService("", time.Hour); err == nil {
		t.Error("Expected missing secret to be rejected")
	}
}
