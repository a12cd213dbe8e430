package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apierr"
)

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/patients", strings.NewReader(`{"name":"Jane"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if len(b) == 0 {
			t.Error("expected non-empty body")
		}
		called = true
		return c.NoContent(http.StatusCreated)
	}

	if err := BodyLimit(1<<10, 1<<20)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/patients", bytes.NewReader(bytes.Repeat([]byte("x"), 2048)))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		t.Error("handler should not be called")
		return nil
	}

	err := BodyLimit(1<<10, 1<<20)(handler)(c)
	if apierr.KindOf(err) != apierr.KindPayloadTooLarge {
		t.Fatalf("expected PayloadTooLarge, got %v", err)
	}
	if apierr.KindOf(err).Status() != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", apierr.KindOf(err).Status())
	}
}

func TestBodyLimit_RejectsStreamedBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/medications", bytes.NewReader(bytes.Repeat([]byte("x"), 4096)))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var readErr error
	handler := func(c echo.Context) error {
		_, readErr = io.ReadAll(c.Request().Body)
		return readErr
	}

	err := BodyLimit(1<<10, 1<<20)(handler)(c)
	if apierr.KindOf(readErr) != apierr.KindPayloadTooLarge {
		t.Fatalf("expected PayloadTooLarge from read, got %v", readErr)
	}
	if apierr.KindOf(err) != apierr.KindPayloadTooLarge {
		t.Errorf("expected error propagated, got %v", err)
	}
}

func TestBodyLimit_UploadUsesLargerLimit(t *testing.T) {
	e := echo.New()
	body := bytes.Repeat([]byte("x"), 8<<10)

	handler := func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.NoContent(http.StatusOK)
	}
	mw := BodyLimit(1<<10, 16<<10)

	req := httptest.NewRequest(http.MethodPost, UploadPath, bytes.NewReader(body))
	c := e.NewContext(req, httptest.NewRecorder())
	if err := mw(handler)(c); err != nil {
		t.Errorf("upload within limit rejected: %v", err)
	}

	req = httptest.NewRequest(http.MethodPut, UploadPath, bytes.NewReader(body))
	c = e.NewContext(req, httptest.NewRecorder())
	if err := mw(handler)(c); apierr.KindOf(err) != apierr.KindPayloadTooLarge {
		t.Errorf("expected JSON limit for non-POST upload path, got %v", err)
	}
}

func TestBodyLimit_NoBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	handler := func(c echo.Context) error {
		called = true
		return nil
	}
	if err := BodyLimit(1, 1)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestBodyLimit_StreamedBodyThroughBind(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = apierr.HTTPErrorHandler(zerolog.Nop())
	e.Use(BodyLimit(1<<10, 1<<20))
	e.POST("/api/patients", func(c echo.Context) error {
		var body struct {
			Name string `json:"name"`
		}
		if err := c.Bind(&body); err != nil {
			return apierr.BadBody(err)
		}
		return c.NoContent(http.StatusCreated)
	})

	payload := `{"name":"` + strings.Repeat("x", 4096) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/patients", strings.NewReader(payload))
	req.ContentLength = -1
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "PayloadTooLarge") {
		t.Errorf("expected PayloadTooLarge code, got %s", rec.Body.String())
	}
}
