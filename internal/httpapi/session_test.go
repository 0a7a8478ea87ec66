package httpapi_test

import (
	"testing"
	"time"

	"github.com/lumichat/economy/internal/httpapi"
)

func TestSessionValidatorRoundTrip(t *testing.T) {
	t.Parallel()
	validator, err := httpapi.NewSessionValidator([]byte("secret"), "lumichat", "app_session")
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	token, err := validator.IssueToken("user-42", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	claims, err := validator.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID() != "user-42" {
		t.Fatalf("expected user-42, got %q", claims.UserID())
	}
}

func TestSessionValidatorRejectsForeignTokens(t *testing.T) {
	t.Parallel()
	validator, err := httpapi.NewSessionValidator([]byte("secret"), "lumichat", "app_session")
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	otherKey, err := httpapi.NewSessionValidator([]byte("other-secret"), "lumichat", "app_session")
	if err != nil {
		t.Fatalf("other validator: %v", err)
	}
	forged, err := otherKey.IssueToken("user-42", time.Hour)
	if err != nil {
		t.Fatalf("issue forged token: %v", err)
	}
	if _, err := validator.Validate(forged); err == nil {
		t.Fatalf("expected a signature error for a foreign key")
	}

	otherIssuer, err := httpapi.NewSessionValidator([]byte("secret"), "elsewhere", "app_session")
	if err != nil {
		t.Fatalf("issuer validator: %v", err)
	}
	wrongIssuer, err := otherIssuer.IssueToken("user-42", time.Hour)
	if err != nil {
		t.Fatalf("issue wrong-issuer token: %v", err)
	}
	if _, err := validator.Validate(wrongIssuer); err == nil {
		t.Fatalf("expected an issuer error")
	}
}

func TestSessionValidatorRejectsExpiredToken(t *testing.T) {
	t.Parallel()
	validator, err := httpapi.NewSessionValidator([]byte("secret"), "lumichat", "app_session")
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	expired, err := validator.IssueToken("user-42", -time.Minute)
	if err != nil {
		t.Fatalf("issue expired token: %v", err)
	}
	if _, err := validator.Validate(expired); err == nil {
		t.Fatalf("expected an expiry error")
	}
}

func TestNewSessionValidatorRequiresSettings(t *testing.T) {
	t.Parallel()
	if _, err := httpapi.NewSessionValidator(nil, "lumichat", "app_session"); err == nil {
		t.Fatalf("expected an error without a signing key")
	}
	if _, err := httpapi.NewSessionValidator([]byte("secret"), "", "app_session"); err == nil {
		t.Fatalf("expected an error without an issuer")
	}
	if _, err := httpapi.NewSessionValidator([]byte("secret"), "lumichat", ""); err == nil {
		t.Fatalf("expected an error without a cookie name")
	}
}
