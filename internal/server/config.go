package server

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverstone/socketgate/internal/broker"
	"github.com/riverstone/socketgate/internal/token"
	"github.com/riverstone/socketgate/internal/transport"
	"github.com/riverstone/socketgate/internal/wire"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/time/rate"
)

// Config collects every option the server recognizes. Start from
// DefaultConfig() and override fields, since the zero value of a bool
// cannot distinguish "not set" from "explicitly false" for
// AllowClientPublish / MiddlewareEmitWarnings.
type Config struct {
	// Broker is the pub/sub substrate adapter. Defaults to an in-process
	// broker.InProcess.
	Broker broker.Adapter

	// AllowClientPublish gates whether "#publish" is accepted at all.
	AllowClientPublish bool

	// AckTimeout bounds how long a session may stay CONNECTING before a
	// HandshakeTimeout error fires. It also backstops reply timeouts for
	// callers that want one (the core itself never times out a reply).
	AckTimeout time.Duration

	// PingInterval / PingTimeout configure the transport's keepalive loop
	// and are echoed back to the client in the handshake ack.
	PingInterval time.Duration
	PingTimeout  time.Duration

	// Origins lists accepted "host:port" patterns; host or port may be the
	// wildcard "*". A literal "*:*" accepts any origin.
	Origins []string

	// AppName is a stable process identifier; exposed for callers that
	// want to tag logs or metrics with it. Defaults to a fresh UUID.
	AppName string

	// Path is the mount path the caller should register this server's
	// ServeHTTP under. It is informational only: New Config callers wire
	// their own mux.
	Path string

	// AuthKey is the symmetric signing/verification secret. Auto-generated
	// (32 random bytes, hex-encoded) if empty and no asymmetric keys are
	// given.
	AuthKey []byte

	// AuthKeyHKDFSalt, when set, treats AuthKey as HKDF-SHA256 input key
	// material instead of using it directly as the HMAC secret, deriving
	// a fresh 32-byte signing key from it. This lets a caller pass a
	// lower-entropy or shared master secret (e.g. one also used elsewhere)
	// without reusing it verbatim as the JWT key.
	AuthKeyHKDFSalt []byte

	// AuthPrivateKey / AuthPublicKey configure asymmetric signing and
	// verification. Must be supplied together.
	AuthPrivateKey any
	AuthPublicKey  any

	// AuthAlgorithm overrides the signing algorithm; left empty, the
	// engine infers it from the key type.
	AuthAlgorithm string

	// AuthAllowedAlgorithms restricts which "alg" values VerifyToken
	// accepts. Defaults to the algorithm implied by the configured key
	// material, guarding against algorithm-confusion attacks.
	AuthAllowedAlgorithms []string

	// AuthDefaultExpiry is the default token lifetime, in seconds, applied
	// by SignToken when the payload carries no "exp" claim.
	AuthDefaultExpiry int64

	// AuthEngine overrides the default JWT-backed token.Engine.
	AuthEngine token.Engine

	// PerMessageDeflate enables transport-level compression.
	PerMessageDeflate bool

	// HandleProtocols selects which WebSocket subprotocol to accept for a
	// given upgrade request; an empty return (or nil func) negotiates none.
	HandleProtocols func(r *http.Request) string

	// MiddlewareEmitWarnings controls whether a non-silent gate rejection
	// is surfaced as a server "warning" event.
	MiddlewareEmitWarnings bool

	// GateAuthenticate additionally runs "#authenticate" through the emit
	// stage (event = "#authenticate") before processing it. Off by
	// default.
	GateAuthenticate bool

	// ConnectRateLimit / ConnectBurst throttle new transport accepts.
	// ConnectRateLimit == 0 disables the throttle.
	ConnectRateLimit rate.Limit
	ConnectBurst     int

	// Transport overrides the default gorilla/websocket upgrader.
	Transport transport.Upgrader

	// Logger defaults to slog.Default() and is kept with the rest of the
	// configuration. The server writes no log output through it; lifecycle
	// events and warnings reach callers only through Hooks.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with every documented default applied,
// including the two bools that a zero Config cannot express unambiguously.
func DefaultConfig() Config {
	return Config{
		AllowClientPublish:     true,
		MiddlewareEmitWarnings: true,
		AckTimeout:             10 * time.Second,
		PingInterval:           8 * time.Second,
		PingTimeout:            20 * time.Second,
		Origins:                []string{"*:*"},
		Path:                   "/socketcluster/",
		AuthDefaultExpiry:      86400,
	}
}

// setDefaults fills in zero-valued fields that have an unambiguous default
// and validates construction-time invariants. Configuration errors here are
// fatal, per the propagation policy.
func (c *Config) setDefaults() error {
	if c.AuthPrivateKey != nil || c.AuthPublicKey != nil {
		if c.AuthPrivateKey == nil || c.AuthPublicKey == nil {
			return &wire.AuthKeyConfigError{Reason: "authPrivateKey and authPublicKey must both be set"}
		}
	} else if len(c.AuthKey) == 0 {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generate auth key: %w", err)
		}
		c.AuthKey = []byte(hex.EncodeToString(raw))
	}

	if c.Broker == nil {
		c.Broker = broker.NewInProcess()
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 8 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 20 * time.Second
	}
	if len(c.Origins) == 0 {
		c.Origins = []string{"*:*"}
	}
	if c.AppName == "" {
		c.AppName = uuid.New().String()
	}
	if c.Path == "" {
		c.Path = "/socketcluster/"
	}
	if c.AuthDefaultExpiry == 0 {
		c.AuthDefaultExpiry = 86400
	}
	if c.AuthEngine == nil {
		c.AuthEngine = token.NewJWTEngine()
	}
	if len(c.AuthAllowedAlgorithms) == 0 {
		c.AuthAllowedAlgorithms = []string{defaultAlgorithmFor(c.AuthPrivateKey)}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Transport == nil {
		c.Transport = transport.NewWSUpgrader(transport.WSConfig{
			PingInterval:      c.PingInterval,
			PingTimeout:       c.PingTimeout,
			PerMessageDeflate: c.PerMessageDeflate,
			HandleProtocols:   c.HandleProtocols,
		})
	}
	return nil
}

func defaultAlgorithmFor(privateKey any) string {
	switch privateKey.(type) {
	case *rsa.PrivateKey:
		return "RS256"
	case *ecdsa.PrivateKey:
		return "ES256"
	case nil:
		return "HS256"
	default:
		return "RS256"
	}
}

// signingKey and verificationKey resolve which key material a Server uses
// for SignToken and VerifyToken respectively.
func (c *Config) signingKey() any {
	if c.AuthPrivateKey != nil {
		return c.AuthPrivateKey
	}
	return c.effectiveAuthKey()
}

func (c *Config) verificationKey() any {
	if c.AuthPublicKey != nil {
		return c.AuthPublicKey
	}
	return c.effectiveAuthKey()
}

// effectiveAuthKey returns the symmetric key actually handed to the token
// engine, running it through HKDF-SHA256 first when AuthKeyHKDFSalt is set.
func (c *Config) effectiveAuthKey() []byte {
	if len(c.AuthKeyHKDFSalt) == 0 {
		return c.AuthKey
	}
	derived := make([]byte, 32)
	kdf := hkdf.New(sha256.New, c.AuthKey, c.AuthKeyHKDFSalt, []byte("socketgate-auth-key"))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		// Only possible if sha256's output is exhausted, which can't
		// happen for a 32-byte request; fall back to the raw key rather
		// than panic in a path that runs on every token operation.
		return c.AuthKey
	}
	return derived
}
