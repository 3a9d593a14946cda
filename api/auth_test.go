package api

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken(""); !errors.Is(err, errMissingAuthorization) {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenMalformed(t *testing.T) {
	for _, h := range []string{
		"Basic abc.def.ghi",
		"Bearer ",
		"Bearer onlyone",
		"Bearer " + strings.Repeat(".", 1000),
	} {
		if _, err := bearerToken(h); err == nil || err.Error() != "bad auth header" {
			t.Fatalf("bearerToken(%q): expected bad auth header error, got %v", h, err)
		}
	}
}

func TestGateDisabledWithoutPassword(t *testing.T) {
	if NewGate("", nil, time.Hour).Enabled() {
		t.Fatalf("expected gate without password to be disabled")
	}
	if !NewGate("pw", nil, time.Hour).Enabled() {
		t.Fatalf("expected gate with password to be enabled")
	}
}

func TestGateUnlockAndVerify(t *testing.T) {
	gate := NewGate("open sesame", []byte("test-secret"), time.Hour)

	token, expires, err := gate.Unlock("open sesame")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if until := time.Until(expires); until <= 59*time.Minute || until > time.Hour {
		t.Fatalf("unexpected expiry: %v", expires)
	}

	sub, err := gate.SubjectFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if sub != sessionSubject {
		t.Fatalf("unexpected subject: %s", sub)
	}
}

func TestGateWrongPassword(t *testing.T) {
	gate := NewGate("open sesame", nil, time.Hour)
	for _, pw := range []string{"", "open", "open sesame ", "OPEN SESAME"} {
		if _, _, err := gate.Unlock(pw); !errors.Is(err, errInvalidPassword) {
			t.Fatalf("Unlock(%q): expected invalid password, got %v", pw, err)
		}
	}
}

func TestGateRejectsExpiredToken(t *testing.T) {
	gate := NewGate("pw", []byte("test-secret"), time.Minute)
	gate.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := gate.Unlock("pw")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}

	gate.now = time.Now
	if _, err := gate.SubjectFromAuthHeader("Bearer " + token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestGateRejectsForeignSecret(t *testing.T) {
	issuer := NewGate("pw", []byte("secret-a"), time.Hour)
	verifier := NewGate("pw", []byte("secret-b"), time.Hour)
	token, _, err := issuer.Unlock("pw")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := verifier.SubjectFromAuthHeader("Bearer " + token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestGateRejectsWrongIssuerAndAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	gate := NewGate("pw", secret, time.Hour)

	claims := jwt.MapClaims{
		"sub": sessionSubject,
		"iss": "someone-else",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := gate.SubjectFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatalf("expected wrong issuer to be rejected")
	}

	claims["iss"] = sessionIssuer
	signed, err = jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := gate.SubjectFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatalf("expected HS512 token to be rejected")
	}
}

func TestGateRandomSecretPerInstance(t *testing.T) {
	a := NewGate("pw", nil, time.Hour)
	b := NewGate("pw", nil, time.Hour)
	token, _, err := a.Unlock("pw")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := a.SubjectFromAuthHeader("Bearer " + token); err != nil {
		t.Fatalf("expected own token to verify: %v", err)
	}
	if _, err := b.SubjectFromAuthHeader("Bearer " + token); err == nil {
		t.Fatalf("expected token from another gate to be rejected")
	}
}
