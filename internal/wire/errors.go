package wire

import "fmt"

// AuthTokenExpiredError is raised by the channel gate when a session's
// authToken is found to be expired at the moment an authorization decision
// is made (re-checked on every gated event).
type AuthTokenExpiredError struct {
	Expiry int64
}

func (e *AuthTokenExpiredError) Error() string {
	return fmt.Sprintf("auth token expired at %d", e.Expiry)
}

func (e *AuthTokenExpiredError) Name() string { return "AuthTokenExpired" }

// AuthTokenInvalidError mirrors AuthTokenExpiredError for the case where a
// session's authToken is otherwise invalid rather than merely expired. The
// core does not construct this today (only expiry is re-checked mid
// session), but it is exported so custom gates can raise it with the same
// stable wire name other servers in this family use.
type AuthTokenInvalidError struct {
	Reason string
}

func (e *AuthTokenInvalidError) Error() string {
	return fmt.Sprintf("auth token invalid: %s", e.Reason)
}

func (e *AuthTokenInvalidError) Name() string { return "AuthTokenInvalid" }

// HandshakeTimeoutError is delivered to a session's error sink when
// "#handshake" has not arrived within the configured ack timeout.
type HandshakeTimeoutError struct{}

func (e *HandshakeTimeoutError) Error() string { return "handshake timed out" }
func (e *HandshakeTimeoutError) Name() string  { return "HandshakeTimeout" }

// InvalidOriginError rejects a transport upgrade whose Origin header does
// not match the server's accepted-origin policy.
type InvalidOriginError struct {
	Origin string
}

func (e *InvalidOriginError) Error() string {
	return fmt.Sprintf("origin not allowed: %s", e.Origin)
}

func (e *InvalidOriginError) Name() string { return "InvalidOrigin" }

// BrokerBindFailedError wraps a broker adapter Bind failure.
type BrokerBindFailedError struct {
	Err error
}

func (e *BrokerBindFailedError) Error() string {
	return fmt.Sprintf("broker bind failed: %v", e.Err)
}
func (e *BrokerBindFailedError) Unwrap() error { return e.Err }
func (e *BrokerBindFailedError) Name() string  { return "BrokerBindFailed" }

// BrokerUnbindFailedError wraps a broker adapter Unbind failure.
type BrokerUnbindFailedError struct {
	Err error
}

func (e *BrokerUnbindFailedError) Error() string {
	return fmt.Sprintf("broker unbind failed: %v", e.Err)
}
func (e *BrokerUnbindFailedError) Unwrap() error { return e.Err }
func (e *BrokerUnbindFailedError) Name() string  { return "BrokerUnbindFailed" }

// SilentMiddlewareBlockedError is what a gate's "silent block" decision
// becomes on the wire: a rejection like any other, but one that never
// produces a server warning log.
type SilentMiddlewareBlockedError struct {
	Stage string
}

func (e *SilentMiddlewareBlockedError) Error() string {
	return fmt.Sprintf("middleware silently blocked stage %q", e.Stage)
}
func (e *SilentMiddlewareBlockedError) Name() string { return "SilentMiddlewareBlocked" }

// MiddlewareDoubleCallbackError is the warning payload raised when a gate
// invokes its continuation more than once.
type MiddlewareDoubleCallbackError struct {
	Stage string
}

func (e *MiddlewareDoubleCallbackError) Error() string {
	return fmt.Sprintf("middleware on stage %q invoked its continuation twice", e.Stage)
}
func (e *MiddlewareDoubleCallbackError) Name() string { return "MiddlewareDoubleCallback" }

// ClientPublishDisabledError rejects a "#publish" when the server was
// configured with AllowClientPublish = false.
type ClientPublishDisabledError struct{}

func (e *ClientPublishDisabledError) Error() string { return "client publish is disabled" }
func (e *ClientPublishDisabledError) Name() string  { return "ClientPublishDisabled" }

// ResponseAlreadySentError is raised when a Responder's End/Error is called
// a second time for the same correlation id.
type ResponseAlreadySentError struct {
	RID int64
}

func (e *ResponseAlreadySentError) Error() string {
	return fmt.Sprintf("response for rid %d was already sent", e.RID)
}
func (e *ResponseAlreadySentError) Name() string { return "ResponseAlreadySent" }

// AuthKeyConfigError is a fatal construction-time error: asymmetric signing
// and verification keys were not both supplied.
type AuthKeyConfigError struct {
	Reason string
}

func (e *AuthKeyConfigError) Error() string {
	return fmt.Sprintf("auth key configuration error: %s", e.Reason)
}
func (e *AuthKeyConfigError) Name() string { return "AuthKeyConfigError" }
