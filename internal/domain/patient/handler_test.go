package patient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apierr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// newTestServer mounts the patient routes behind a middleware that injects
// the session returned by current.
func newTestServer(current func() *auth.Session) (*echo.Echo, *testEnv) {
	env := newTestEnv()
	e := echo.New()
	e.HTTPErrorHandler = apierr.HTTPErrorHandler(zerolog.Nop())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s := current(); s != nil {
				req := c.Request()
				c.SetRequest(req.WithContext(auth.WithSession(req.Context(), s)))
			}
			return next(c)
		}
	})
	NewHandler(env.svc).RegisterRoutes(e.Group("/api"))
	return e, env
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndListMine(t *testing.T) {
	session := sessionOf(doctorA)
	e, _ := newTestServer(func() *auth.Session { return session })

	rec := do(e, http.MethodPost, "/api/patients", `{"patientId":200,"name":"P","age":30,"diagnosis":"D"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Message string `json:"message"`
		Patient View   `json:"patient"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.Message != "Patient created" || created.Patient.Doctor == nil || created.Patient.Doctor.ID != doctorA.ID {
		t.Errorf("unexpected create response: %+v", created)
	}

	rec = do(e, http.MethodGet, "/api/patients/mine", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var mine []View
	json.Unmarshal(rec.Body.Bytes(), &mine)
	if len(mine) != 1 || mine[0].ID != created.Patient.ID {
		t.Errorf("expected exactly the created patient, got %+v", mine)
	}
}

func TestHandler_ListAllForbiddenForDoctor(t *testing.T) {
	session := sessionOf(doctorA)
	e, _ := newTestServer(func() *auth.Session { return session })

	rec := do(e, http.MethodGet, "/api/patients", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	session = admin
	rec = do(e, http.MethodGet, "/api/patients", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	session := sessionOf(doctorA)
	e, _ := newTestServer(func() *auth.Session { return session })

	rec := do(e, http.MethodPost, "/api/patients", `{"name":"P","age":30,"diagnosis":"D"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != "MissingField" {
		t.Errorf("expected MissingField, got %v", body)
	}

	rec = do(e, http.MethodPost, "/api/patients", `{"patientId":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestHandler_UpdateGetAndMedications(t *testing.T) {
	session := sessionOf(doctorA)
	e, env := newTestServer(func() *auth.Session { return session })
	v := mustCreate(t, env.svc, session, CreateRequest{
		PatientID: intPtr(200), Name: "P", Age: intPtr(30), Diagnosis: "D",
		Medications: []MedicationEntry{{MedID: 101, Time: "Morning"}},
	})

	rec := do(e, http.MethodPut, "/api/patients/"+v.ID, `{"medications":[{"medId":103,"time":"Night"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Message string `json:"message"`
	}
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Message != "Patient updated" {
		t.Errorf("unexpected message %q", updated.Message)
	}

	rec = do(e, http.MethodGet, "/api/patients/"+v.ID+"/medications", "")
	var meds []MedicationEntry
	json.Unmarshal(rec.Body.Bytes(), &meds)
	if len(meds) != 1 || meds[0].MedID != 103 || meds[0].Name != "Atorvastatin" {
		t.Errorf("expected replaced list, got %+v", meds)
	}

	session = sessionOf(doctorB)
	rec = do(e, http.MethodGet, "/api/patients/"+v.ID, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for another doctor, got %d", rec.Code)
	}
}

func TestHandler_Delete(t *testing.T) {
	session := sessionOf(doctorA)
	e, env := newTestServer(func() *auth.Session { return session })
	v := mustCreate(t, env.svc, session, basicReq(200))

	rec := do(e, http.MethodDelete, "/api/patients/"+v.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["message"] != "Patient removed" {
		t.Errorf("unexpected body %v", body)
	}

	rec = do(e, http.MethodDelete, "/api/patients/"+v.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	e, _ := newTestServer(func() *auth.Session { return nil })

	rec := do(e, http.MethodGet, "/api/patients/anything", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	e, _ := newTestServer(func() *auth.Session { return nil })

	routePaths := make(map[string]bool)
	for _, r := range e.Routes() {
		routePaths[r.Method+":"+r.Path] = true
	}

	expected := []string{
		"POST:/api/patients",
		"GET:/api/patients",
		"GET:/api/patients/mine",
		"GET:/api/patients/assigned",
		"GET:/api/patients/:id",
		"PUT:/api/patients/:id",
		"DELETE:/api/patients/:id",
		"GET:/api/patients/:id/medications",
	}
	for _, path := range expected {
		if !routePaths[path] {
			t.Errorf("missing route: %s", path)
		}
	}
}
