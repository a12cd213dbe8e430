// Package apierr defines the error taxonomy shared by the clinic services and
// the HTTP error handler that renders it. Services return *Error values;
// repositories return plain sentinel errors that services translate.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnauthenticated
	KindForbidden
	KindConflict
	KindUnsupportedMedia
	KindPayloadTooLarge
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFound"
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindForbidden:
		return "Forbidden"
	case KindConflict:
		return "Conflict"
	case KindUnsupportedMedia:
		return "UnsupportedMediaType"
	case KindPayloadTooLarge:
		return "PayloadTooLarge"
	case KindTimeout:
		return "Timeout"
	default:
		return "Internal"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindUnsupportedMedia:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified, client-safe error. Code is a stable machine-readable
// name such as "DuplicateEmail"; Message is shown to the user as-is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and code so callers can compare against
// prototypes with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

func newErr(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...any) *Error {
	return newErr(KindValidation, code, format, args...)
}

func NotFound(code, format string, args ...any) *Error {
	return newErr(KindNotFound, code, format, args...)
}

func Unauthenticated(format string, args ...any) *Error {
	return newErr(KindUnauthenticated, "Unauthenticated", format, args...)
}

func Forbidden(code, format string, args ...any) *Error {
	return newErr(KindForbidden, code, format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return newErr(KindConflict, code, format, args...)
}

func UnsupportedMedia(format string, args ...any) *Error {
	return newErr(KindUnsupportedMedia, "UnsupportedMediaType", format, args...)
}

func PayloadTooLarge(format string, args ...any) *Error {
	return newErr(KindPayloadTooLarge, "PayloadTooLarge", format, args...)
}

func Timeout(format string, args ...any) *Error {
	return newErr(KindTimeout, "Timeout", format, args...)
}

// Internal wraps an unexpected store or runtime failure. The wrapped error is
// logged by the HTTP error handler but never sent to the client.
func Internal(err error, format string, args ...any) *Error {
	e := newErr(KindInternal, "Internal", format, args...)
	e.Err = err
	return e
}

// BadBody classifies a request decoding failure. A body cut off by the size
// limit keeps its PayloadTooLarge error even when the decoder wrapped it;
// anything else is MalformedBody.
func BadBody(err error) *Error {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindPayloadTooLarge {
		return e
	}
	return Validation("MalformedBody", "invalid request body")
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, or "" for unclassified errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Body is the JSON error envelope written to clients.
type Body struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// HTTPErrorHandler renders *Error and *echo.HTTPError values as Body. Any
// other error is logged and reported as a generic 500.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := Body{Message: "internal server error", Code: "Internal"}

		var ae *Error
		var he *echo.HTTPError
		switch {
		case errors.As(err, &ae) && ae.Kind != KindInternal:
			status = ae.Kind.Status()
			body = Body{Message: ae.Message, Code: ae.Code}
		case errors.As(err, &he):
			status = he.Code
			body = Body{Message: fmt.Sprintf("%v", he.Message), Code: http.StatusText(he.Code)}
		default:
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
