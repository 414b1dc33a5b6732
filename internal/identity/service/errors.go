package service

import "errors"

// Kind classifies an Error for callers that only need to decide how to react.
type Kind int

const (
	// KindValidation is malformed input, rejected before touching the store.
	KindValidation Kind = iota + 1
	// KindAuthentication is a rejected credential, token, code or session.
	KindAuthentication
	// KindConflict is a uniqueness violation (duplicate email).
	KindConflict
	// KindTransient is a store failure that survived retries; safe to retry later.
	KindTransient
	// KindInternal is anything unexpected. Details are logged, never returned.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is the only error type the AuthService returns. Two Errors match under errors.Is
// when their codes are equal, so callers compare against the sentinels below.
type Error struct {
	Kind Kind
	Code string
	msg  string
	err  error
}

// Error returns the public message followed by the cause, if any. Use Message for text that
// may be shown to a client.
func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// Message is the client-safe text.
func (e *Error) Message() string { return e.msg }

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel errors for the auth service; the handler maps them to gRPC codes.
var (
	ErrInvalidInput   = &Error{Kind: KindValidation, Code: "InvalidInput", msg: "invalid input"}
	ErrInvalidEmail   = &Error{Kind: KindValidation, Code: "InvalidEmail", msg: "invalid email address"}
	ErrWeakPassword   = &Error{Kind: KindValidation, Code: "WeakPassword", msg: "password does not meet the password policy"}
	ErrMFANotEnrolled = &Error{Kind: KindValidation, Code: "MFANotEnrolled", msg: "no pending authenticator enrollment"}

	ErrEmailTaken        = &Error{Kind: KindConflict, Code: "EmailTaken", msg: "email already registered"}
	ErrMFAAlreadyEnabled = &Error{Kind: KindConflict, Code: "MFAAlreadyEnabled", msg: "multi-factor authentication is already enabled"}

	ErrInvalidCredentials         = &Error{Kind: KindAuthentication, Code: "InvalidCredentials", msg: "invalid email or password"}
	ErrAccountPendingVerification = &Error{Kind: KindAuthentication, Code: "AccountPendingVerification", msg: "please verify your email address"}
	ErrAccountBlocked             = &Error{Kind: KindAuthentication, Code: "AccountBlocked", msg: "account blocked"}
	ErrAccountLocked              = &Error{Kind: KindAuthentication, Code: "AccountLocked", msg: "too many failed attempts; try again later"}
	ErrInvalidOrExpiredToken      = &Error{Kind: KindAuthentication, Code: "InvalidOrExpiredToken", msg: "invalid or expired token"}
	ErrInvalidCode                = &Error{Kind: KindAuthentication, Code: "InvalidCode", msg: "invalid code"}
	ErrChallengeExpired           = &Error{Kind: KindAuthentication, Code: "ChallengeExpired", msg: "challenge expired; log in again"}
	ErrAttemptsExhausted          = &Error{Kind: KindAuthentication, Code: "AttemptsExhausted", msg: "too many invalid codes; log in again"}
	ErrSessionExpiredOrInvalid    = &Error{Kind: KindAuthentication, Code: "SessionExpiredOrInvalid", msg: "session expired or invalid"}

	ErrTransient = &Error{Kind: KindTransient, Code: "Transient", msg: "service temporarily unavailable; retry later"}
	ErrInternal  = &Error{Kind: KindInternal, Code: "Internal", msg: "internal error"}
)

// withCause returns a copy of base carrying cause for logs.
func withCause(base *Error, cause error) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, msg: base.msg, err: cause}
}

// withMessage returns a copy of base with a more specific client-safe message.
func withMessage(base *Error, msg string) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, msg: msg}
}

// KindOf classifies err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the taxonomy code of err ("Internal" for foreign errors, "" for nil).
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal.Code
}
