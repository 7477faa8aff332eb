package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failed call.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindStorage    Kind = "storage"
	KindRemote     Kind = "remote"
)

// Sentinel errors. A *Error unwraps to at most one of these.
var (
	// ErrNetwork marks transport failures: the project could not be reached.
	ErrNetwork = errors.New("supabase unreachable")

	// ErrNotConfigured is returned by every call when no project URL or key is set.
	// It is network-class so callers degrade to the fallback store.
	ErrNotConfigured = fmt.Errorf("%w: project URL or anon key not configured", ErrNetwork)

	// ErrInvalidCredentials is returned for a wrong email/password pair.
	ErrInvalidCredentials = errors.New("invalid login credentials")

	// ErrEmailNotConfirmed is returned when signing in before confirming the email.
	ErrEmailNotConfirmed = errors.New("email not confirmed")

	// ErrRateLimited is returned when the auth server throttles requests.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotAuthenticated is returned by calls that need a session when there is none.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrBucketNotFound is returned by a single upload attempt against a missing bucket.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrStorageMisconfigured is returned when every configured bucket is missing.
	ErrStorageMisconfigured = errors.New("storage misconfigured")

	// ErrNotFound is returned when a single-row lookup matches nothing.
	ErrNotFound = errors.New("not found")
)

// Error is a failed Supabase call.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Op      string

	sentinel error
	cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.sentinel != nil {
		b.WriteString(e.sentinel.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

// Unwrap exposes the sentinel and the transport cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.sentinel != nil {
		errs = append(errs, e.sentinel)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// KindOf returns the kind of err, or "" if err is not a Supabase error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNetwork) {
		return KindNetwork
	}
	return ""
}

func networkError(op string, cause error) *Error {
	return &Error{Kind: KindNetwork, Op: op, sentinel: ErrNetwork, cause: cause}
}

// apiError is the union of the error bodies returned by GoTrue, PostgREST and
// the storage API.
type apiError struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Err              string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	StatusCode       json.RawMessage `json:"statusCode"`
}

func (a apiError) message() string {
	for _, s := range []string{a.Msg, a.ErrorDescription, a.Message, a.Err} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (a apiError) code() string {
	if a.ErrorCode != "" {
		return a.ErrorCode
	}
	if len(a.Code) > 0 {
		return strings.Trim(string(a.Code), `"`)
	}
	return a.Err
}

func (a apiError) storageStatus() string {
	return strings.Trim(string(a.StatusCode), `"`)
}

// parseError turns a non-2xx response into an *Error. service is one of
// "auth", "rest" or "storage" and decides how ambiguous statuses are read.
func parseError(op, service string, status int, body []byte) *Error {
	var api apiError
	_ = json.Unmarshal(body, &api)

	e := &Error{
		Op:      op,
		Status:  status,
		Code:    api.code(),
		Message: api.message(),
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
		if len(e.Message) > 200 {
			e.Message = e.Message[:200]
		}
	}
	lower := strings.ToLower(e.Message + " " + e.Code)

	switch {
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		e.Kind = KindNetwork
		e.sentinel = ErrNetwork

	case status == http.StatusTooManyRequests || strings.Contains(lower, "rate limit"):
		e.Kind = KindAuth
		e.sentinel = ErrRateLimited

	case service == "storage" && (strings.Contains(lower, "bucket not found") || (status == http.StatusNotFound && api.storageStatus() == "404" && strings.Contains(lower, "bucket"))):
		e.Kind = KindStorage
		e.sentinel = ErrBucketNotFound

	case service == "storage":
		e.Kind = KindStorage

	case strings.Contains(lower, "email not confirmed") || strings.Contains(lower, "email_not_confirmed"):
		e.Kind = KindAuth
		e.sentinel = ErrEmailNotConfirmed

	case strings.Contains(lower, "invalid login credentials") || strings.Contains(lower, "invalid_credentials") || strings.Contains(lower, "invalid_grant"):
		e.Kind = KindAuth
		e.sentinel = ErrInvalidCredentials

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
		e.sentinel = ErrNotAuthenticated

	case service == "auth" && status < 500:
		e.Kind = KindAuth

	case status == http.StatusNotFound:
		e.Kind = KindNotFound
		e.sentinel = ErrNotFound

	case status >= 400 && status < 500:
		e.Kind = KindValidation

	default:
		e.Kind = KindRemote
	}
	return e
}
