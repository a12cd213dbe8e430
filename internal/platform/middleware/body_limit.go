package middleware

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apierr"
)

// UploadPath is the only route allowed the larger upload limit.
const UploadPath = "/api/upload"

// multipartSlack covers boundaries and part headers around the image bytes.
const multipartSlack = 64 << 10

// BodyLimit rejects request bodies larger than jsonLimit, or larger than
// uploadLimit plus multipart framing for POST /api/upload. Oversized bodies
// answer 413 PayloadTooLarge.
//
// Content-Length is checked up front; bodies without one are wrapped in a
// reader that fails once the limit is crossed.
func BodyLimit(jsonLimit, uploadLimit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := jsonLimit
			if req.Method == http.MethodPost && req.URL.Path == UploadPath {
				limit = uploadLimit + multipartSlack
			}

			if req.ContentLength > limit {
				return tooLarge(limit)
			}

			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: limit, limit: limit}
			return next(c)
		}
	}
}

// limitedReadCloser fails reads once more than limit bytes were consumed.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	limit     int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (int, error) {
	if r.exceeded {
		return 0, tooLarge(r.limit)
	}

	// Read one byte past the limit to detect overflow.
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		r.exceeded = true
		return 0, tooLarge(r.limit)
	}
	return n, err
}

func tooLarge(limit int64) error {
	return apierr.PayloadTooLarge("request body exceeds %d bytes", limit)
}
