package token

import (
	"testing"
	"time"
)

func TestJWTEngine_SignVerifyRoundTrip(t *testing.T) {
	engine := NewJWTEngine()
	key := []byte("a-symmetric-test-secret-value!!")

	signed, err := engine.SignToken(Payload{"sub": "user-1"}, key, SignOptions{ExpirySeconds: 3600})
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	payload, err := engine.VerifyToken(signed, key, VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if payload["sub"] != "user-1" {
		t.Fatalf("expected sub=user-1, got %v", payload["sub"])
	}
	if payload.Expired(time.Now()) {
		t.Fatal("freshly signed token should not be expired")
	}
}

func TestPayload_Expired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		exp  int64
		want bool
	}{
		{"long past", 1000, true},
		{"one second ago", now.Add(-time.Second).Unix(), true},
		{"one hour from now", now.Add(time.Hour).Unix(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Payload{"exp": float64(tt.exp)}
			if got := p.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPayload_Expired_NoExpClaim(t *testing.T) {
	p := Payload{"sub": "user-1"}
	if p.Expired(time.Now()) {
		t.Fatal("a payload without exp should never be expired")
	}
}

func TestJWTEngine_VerifyToken_Expired(t *testing.T) {
	engine := NewJWTEngine()
	key := []byte("a-symmetric-test-secret-value!!")

	signed, err := engine.SignToken(Payload{"exp": float64(1000)}, key, SignOptions{})
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	_, err = engine.VerifyToken(signed, key, VerifyOptions{})
	if err == nil {
		t.Fatal("expected verification error for expired token")
	}
	expErr, ok := err.(*ExpiredError)
	if !ok {
		t.Fatalf("expected *ExpiredError, got %T: %v", err, err)
	}
	if expErr.Name() != "TokenExpired" {
		t.Fatalf("expected name TokenExpired, got %q", expErr.Name())
	}
}

func TestJWTEngine_VerifyToken_Malformed(t *testing.T) {
	engine := NewJWTEngine()
	key := []byte("a-symmetric-test-secret-value!!")

	_, err := engine.VerifyToken("not-a-jwt-at-all", key, VerifyOptions{})
	if err == nil {
		t.Fatal("expected verification error for malformed token")
	}
	if _, ok := err.(*MalformedError); !ok {
		t.Fatalf("expected *MalformedError, got %T: %v", err, err)
	}
}

func TestJWTEngine_VerifyToken_WrongKey(t *testing.T) {
	engine := NewJWTEngine()
	signed, err := engine.SignToken(Payload{"sub": "user-1"}, []byte("key-one-is-long-enough-too!!!"), SignOptions{})
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	_, err = engine.VerifyToken(signed, []byte("a-totally-different-secret!!!!"), VerifyOptions{})
	if err == nil {
		t.Fatal("expected verification error for signature mismatch")
	}
	if _, ok := err.(*InvalidError); !ok {
		t.Fatalf("expected *InvalidError, got %T: %v", err, err)
	}
}
