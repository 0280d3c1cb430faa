package token

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTEngine is the default Engine, backed by golang-jwt/jwt/v5. It accepts
// either a symmetric secret ([]byte, signed/verified with HMAC) or an
// asymmetric key pair (*rsa.PrivateKey/*rsa.PublicKey or
// *ecdsa.PrivateKey/*ecdsa.PublicKey), selecting the signing method from
// the key's concrete type unless SignOptions.Algorithm overrides it.
type JWTEngine struct{}

// NewJWTEngine constructs the default token engine.
func NewJWTEngine() *JWTEngine { return &JWTEngine{} }

var _ Engine = (*JWTEngine)(nil)

// SignToken signs payload as a JWT using key, stamping an "exp" claim from
// opts.ExpirySeconds when the payload does not already carry one.
func (e *JWTEngine) SignToken(payload Payload, key any, opts SignOptions) (string, error) {
	claims := jwt.MapClaims{}
	for k, v := range payload {
		claims[k] = v
	}
	if _, ok := claims["exp"]; !ok {
		expiry := opts.ExpirySeconds
		if expiry <= 0 {
			expiry = 86400
		}
		claims["exp"] = time.Now().Add(time.Duration(expiry) * time.Second).Unix()
	}

	method, err := signingMethod(key, opts.Algorithm)
	if err != nil {
		return "", err
	}

	tok := jwt.NewWithClaims(method, claims)
	signed, err := tok.SignedString(signingKey(key))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and verifies signed, classifying failures into
// ExpiredError, MalformedError, or InvalidError.
func (e *JWTEngine) VerifyToken(signed string, key any, opts VerifyOptions) (Payload, error) {
	parserOpts := []jwt.ParserOption{}
	if len(opts.Algorithms) > 0 {
		parserOpts = append(parserOpts, jwt.WithValidMethods(opts.Algorithms))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (any, error) {
		return verificationKey(key), nil
	}, parserOpts...)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, &ExpiredError{Err: err}
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, &MalformedError{Err: err}
		default:
			return nil, &InvalidError{Err: err}
		}
	}
	if !parsed.Valid {
		return nil, &InvalidError{Err: errors.New("token failed validation")}
	}

	payload := Payload{}
	for k, v := range claims {
		payload[k] = v
	}
	return payload, nil
}

// signingKey returns the value golang-jwt expects for SignedString: the raw
// secret for HMAC, or the private key itself for asymmetric algorithms.
func signingKey(key any) any {
	return key
}

// verificationKey returns the value golang-jwt expects from the keyfunc: the
// raw secret for HMAC, or the public key for asymmetric algorithms. A
// caller that mistakenly hands VerifyToken a private key still works, since
// *rsa.PrivateKey and *ecdsa.PrivateKey both expose a usable Public().
func verificationKey(key any) any {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey
	case *ecdsa.PrivateKey:
		return &k.PublicKey
	default:
		return key
	}
}

func signingMethod(key any, algorithm string) (jwt.SigningMethod, error) {
	if algorithm != "" {
		if m := jwt.GetSigningMethod(algorithm); m != nil {
			return m, nil
		}
		return nil, fmt.Errorf("unknown signing algorithm %q", algorithm)
	}

	switch key.(type) {
	case []byte:
		return jwt.SigningMethodHS256, nil
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PrivateKey:
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", key)
	}
}
