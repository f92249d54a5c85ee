package auth

import (
	"testing"
	"time"
)

func TestProfileTokenRoundTrip(t *testing.T) {
	token, err := NewProfileToken("secret", "issuer", time.Minute, ProfileClaims{
		UserID:    "student-1",
		Role:      "student",
		SchoolID:  "school-1",
		Subdomain: "gamersclub",
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseProfileToken("secret", "issuer", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID != "student-1" || claims.Role != "student" || claims.Subdomain != "gamersclub" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestProfileTokenRejectsTampering(t *testing.T) {
	token, err := NewProfileToken("secret", "issuer", time.Minute, ProfileClaims{UserID: "u", Role: "school"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseProfileToken("other-secret", "issuer", token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
	if _, err := ParseProfileToken("secret", "other-issuer", token); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
}

func TestProfileTokenExpiry(t *testing.T) {
	token, err := NewProfileToken("secret", "issuer", -time.Minute, ProfileClaims{UserID: "u", Role: "admin"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseProfileToken("secret", "issuer", token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestProfileTokenRequiresSecret(t *testing.T) {
	if _, err := NewProfileToken("", "issuer", time.Minute, ProfileClaims{}); err == nil {
		t.Fatalf("expected missing secret error")
	}
}
