package userstore

import (
	"testing"
	"time"
)

func TestIssueThenValidateRoundTrips(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute)
	token, err := issuer.Issue("admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "admin" {
		t.Fatalf("Subject = %q", claims.Subject)
	}
	if claims.ID == "" {
		t.Fatal("expected a non-empty jti")
	}
}

func TestValidateRejectsTokenFromDifferentSecret(t *testing.T) {
	issuer := NewTokenIssuer("secret-a", time.Minute)
	token, err := issuer.Issue("admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	other := NewTokenIssuer("secret-b", time.Minute)
	if _, err := other.Validate(token); err == nil {
		t.Fatal("expected validation to fail with a different secret")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", -time.Minute)
	token, err := issuer.Issue("admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Validate(token); err == nil {
		t.Fatal("expected validation to fail for an expired token")
	}
}
