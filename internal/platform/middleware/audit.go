package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// auditedPrefixes are the API areas that read or change patient data or
// accounts.
var auditedPrefixes = []string{"/api/patients", "/api/medications", "/api/users"}

// AuditEntry describes one audited request.
type AuditEntry struct {
	RequestID string
	UserID    string
	Role      auth.Role
	Action    string
	Resource  string
	TargetID  string
	Method    string
	Route     string
	RemoteIP  string
	Status    int
}

// Audit emits one "audit" log event per request under auditedPrefixes. It
// must wrap Authenticate: the session and final status are read after next
// returns, and a request rejected by Authenticate is logged without a user.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAudited(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c, err)
			evt := logger.Info()
			if entry.Status >= http.StatusBadRequest {
				evt = logger.Warn()
			}
			evt.
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("role", string(entry.Role)).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("target_id", entry.TargetID).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.Status).
				Msg("audit")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context, err error) AuditEntry {
	req := c.Request()
	route := c.Path()
	if route == "" {
		route = req.URL.Path
	}

	status := c.Response().Status
	if err != nil {
		status = statusOf(err)
	}

	entry := AuditEntry{
		Method:   req.Method,
		Route:    route,
		RemoteIP: c.RealIP(),
		Status:   status,
		TargetID: c.Param("id"),
		Resource: resourceOf(route),
		Action:   actionOf(req.Method, route),
	}
	entry.RequestID, _ = c.Get("request_id").(string)
	if s := auth.SessionFromContext(req.Context()); s != nil {
		entry.UserID = s.UserID
		entry.Role = s.Role
	}
	return entry
}

func isAudited(path string) bool {
	for _, p := range auditedPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// resourceOf names the audited collection of a route, e.g.
// /api/medications/records/:id is "medication_records".
func resourceOf(route string) string {
	segs := strings.Split(strings.TrimPrefix(route, "/api/"), "/")
	switch {
	case len(segs) >= 2 && segs[0] == "medications" && segs[1] == "records":
		return "medication_records"
	case len(segs) >= 3 && segs[0] == "patients" && segs[2] == "medications":
		return "patient_medications"
	default:
		return segs[0]
	}
}

// actionOf maps a request to its audit verb. Account routes with a fixed
// final segment use that segment (login, logout, convert-to-admin).
func actionOf(method, route string) string {
	if strings.HasPrefix(route, "/api/users/") {
		last := route[strings.LastIndex(route, "/")+1:]
		if last != "" && !strings.HasPrefix(last, ":") && last != "doctors" && last != "me" {
			return last
		}
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
