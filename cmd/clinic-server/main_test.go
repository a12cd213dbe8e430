package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/domain/catalog"
	"github.com/clinicdesk/clinic/internal/domain/identity"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/upload"
)

// memUsers is a minimal identity.Repository for wiring tests.
type memUsers struct {
	mu    sync.Mutex
	users map[string]*identity.User
	seq   int
}

func (m *memUsers) Create(_ context.Context, u *identity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return identity.ErrDuplicateEmail
		}
	}
	m.seq++
	u.ID = fmt.Sprintf("user-%03d", m.seq)
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (m *memUsers) GetByCustomID(_ context.Context, role auth.Role, customID int) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Role == role && u.CustomID != nil && *u.CustomID == customID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (m *memUsers) GetMany(ctx context.Context, ids []string) ([]*identity.User, error) {
	var out []*identity.User
	for _, id := range ids {
		if u, err := m.GetByID(ctx, id); err == nil {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUsers) List(_ context.Context, role auth.Role) ([]*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*identity.User
	for _, u := range m.users {
		if role == "" || u.Role == role {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memUsers) PromoteToAdmin(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	u.Role = auth.RoleAdmin
	u.CustomID = nil
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return identity.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Env:                 "test",
		StoreDriver:         config.DriverMongo,
		JWTSecret:           "test-secret-test-secret-test-secret",
		TokenTTL:            time.Hour,
		BcryptCost:          4,
		CORSOrigins:         []string{"http://localhost:3000"},
		UploadDir:           t.TempDir(),
		UploadMaxBytes:      1 << 20,
		BodyLimitBytes:      4 << 10,
		RequestTimeout:      5 * time.Second,
		EmailDomainSuffixes: identity.DefaultEmailSuffixes,
		ProtectAdmins:       true,
		AllowAdminSignup:    true,
	}
}

func newTestApp(t *testing.T) *echo.Echo {
	t.Helper()
	cfg := testConfig(t)
	st := &stores{
		users:    &memUsers{users: make(map[string]*identity.User)},
		patients: newMemPatients(),
		records:  newMemRecords(),
		probe:    db.Probe{Driver: "test", Ping: func(context.Context) error { return nil }},
		close:    func() {},
	}
	revocations := auth.NewMemoryRevocationStore(time.Minute)
	t.Cleanup(revocations.Close)

	images, err := upload.NewLocalImageStore(cfg.UploadDir, cfg.UploadMaxBytes)
	if err != nil {
		t.Fatalf("image store: %v", err)
	}
	logger := zerolog.Nop()
	return newServer(cfg, st, newServices(cfg, st, revocations, logger), revocations, images, logger)
}

func call(e *echo.Echo, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func signupAndLogin(t *testing.T, e *echo.Echo) string {
	t.Helper()
	rec := call(e, http.MethodPost, "/api/users/signup", "",
		`{"name":"Dr Grey","email":"grey@clinic.com","password":"longpassword","role":"doctor","customId":150}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = call(e, http.MethodPost, "/api/users/login", "", `{"email":"grey@clinic.com","password":"longpassword"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Token == "" {
		t.Fatalf("login: missing token in %s", rec.Body.String())
	}
	return body.Token
}

func TestServer_Health(t *testing.T) {
	e := newTestApp(t)

	rec := call(e, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	rec = call(e, http.MethodGet, "/health/db", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from /health/db, got %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
}

func TestServer_RequiresToken(t *testing.T) {
	e := newTestApp(t)

	for _, target := range []string{"/api/medications", "/api/patients/mine", "/api/users/me", "/api/capabilities"} {
		rec := call(e, http.MethodGet, target, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", target, rec.Code)
		}
	}
	rec := call(e, http.MethodGet, "/api/medications", "not-a-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestServer_SessionFlow(t *testing.T) {
	e := newTestApp(t)
	token := signupAndLogin(t, e)

	rec := call(e, http.MethodGet, "/api/capabilities", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("capabilities: expected 200, got %d", rec.Code)
	}
	var caps struct {
		Role         auth.Role                      `json:"role"`
		Capabilities map[auth.Capability]auth.Scope `json:"capabilities"`
	}
	json.Unmarshal(rec.Body.Bytes(), &caps)
	if caps.Role != auth.RoleDoctor {
		t.Errorf("expected doctor role, got %q", caps.Role)
	}
	if _, ok := caps.Capabilities[auth.CapManageUsers]; ok {
		t.Error("doctor must not manage users")
	}

	rec = call(e, http.MethodGet, "/api/medications", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("catalog: expected 200, got %d", rec.Code)
	}
	var items []catalog.Item
	json.Unmarshal(rec.Body.Bytes(), &items)
	if len(items) != len(catalog.List()) {
		t.Errorf("expected full catalog, got %d items", len(items))
	}

	rec = call(e, http.MethodGet, "/api/users", token, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("user listing: expected 403 for doctor, got %d", rec.Code)
	}

	rec = call(e, http.MethodPost, "/api/users/logout", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}
	rec = call(e, http.MethodGet, "/api/users/me", token, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected revoked token rejected, got %d", rec.Code)
	}
}

func TestServer_Routes(t *testing.T) {
	e := newTestApp(t)

	routePaths := make(map[string]bool)
	for _, r := range e.Routes() {
		routePaths[r.Method+":"+r.Path] = true
	}
	expected := []string{
		"GET:/health",
		"GET:/health/db",
		"GET:/api/capabilities",
		"POST:/api/users/signup",
		"POST:/api/users/login",
		"POST:/api/users/logout",
		"GET:/api/users/me",
		"GET:/api/users",
		"GET:/api/users/doctors",
		"PUT:/api/users/:id/convert-to-admin",
		"DELETE:/api/users/:id",
		"POST:/api/patients",
		"GET:/api/patients",
		"GET:/api/patients/mine",
		"GET:/api/patients/assigned",
		"GET:/api/patients/:id",
		"PUT:/api/patients/:id",
		"DELETE:/api/patients/:id",
		"GET:/api/patients/:id/medications",
		"GET:/api/medications",
		"POST:/api/medications",
		"GET:/api/medications/records",
		"GET:/api/medications/records/:id",
		"PUT:/api/medications/records/:id",
		"DELETE:/api/medications/records/:id",
		"POST:/api/upload",
	}
	for _, path := range expected {
		if !routePaths[path] {
			t.Errorf("missing route: %s", path)
		}
	}
}

func TestServer_BodyLimit(t *testing.T) {
	e := newTestApp(t)

	body := `{"name":"` + strings.Repeat("x", 8<<10) + `"}`
	rec := call(e, http.MethodPost, "/api/users/signup", "", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "PayloadTooLarge") {
		t.Errorf("expected PayloadTooLarge code, got %s", rec.Body.String())
	}
}

func TestPrintCatalog(t *testing.T) {
	var buf bytes.Buffer
	printCatalog(&buf, catalog.List())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(catalog.List())+1 {
		t.Fatalf("expected header plus %d rows, got %d lines", len(catalog.List()), len(lines))
	}
	if !strings.HasPrefix(lines[0], "MED ID") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], "101") || !strings.Contains(lines[1], "Metformin") {
		t.Errorf("unexpected first row %q", lines[1])
	}
}

func TestRootCommand(t *testing.T) {
	root := rootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "admin", "catalog"} {
		if !names[want] {
			t.Errorf("missing command %q", want)
		}
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"catalog"})
	if err := root.Execute(); err != nil {
		t.Fatalf("catalog command: %v", err)
	}
	if !strings.Contains(out.String(), "Salbutamol Inhaler") {
		t.Errorf("expected catalog output, got %q", out.String())
	}
}

func TestServer_PatientScenario(t *testing.T) {
	e := newTestApp(t)
	token := signupAndLogin(t, e)

	rec := call(e, http.MethodPost, "/api/patients", token,
		`{"patientId":200,"name":"Jane","age":52,"diagnosis":"Hypertension"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create patient: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = call(e, http.MethodGet, "/api/patients/mine", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list mine: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var mine []struct {
		PatientID int  `json:"patientId"`
		DoctorID  *int `json:"doctorId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &mine); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(mine) != 1 || mine[0].PatientID != 200 {
		t.Fatalf("expected exactly patient 200, got %s", rec.Body.String())
	}
	if mine[0].DoctorID == nil || *mine[0].DoctorID != 150 {
		t.Errorf("expected doctorId 150, got %v", mine[0].DoctorID)
	}

	rec = call(e, http.MethodPost, "/api/users/login", "", `{"email":"grey@clinic.com","password":"wrongpassword"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong password: expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "InvalidCredential") {
		t.Errorf("expected InvalidCredential, got %s", rec.Body.String())
	}
}

func TestServer_PatientRenumberReachesRecords(t *testing.T) {
	e := newTestApp(t)
	token := signupAndLogin(t, e)

	rec := call(e, http.MethodPost, "/api/patients", token, `{"patientId":200,"name":"Jane","age":52,"diagnosis":"Hypertension"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create patient: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Patient struct {
			ID string `json:"id"`
		} `json:"patient"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.Patient.ID == "" {
		t.Fatalf("create patient: missing id in %s", rec.Body.String())
	}

	rec = call(e, http.MethodPost, "/api/medications", token,
		`{"medId":300,"name":"Lisinopril","dosage":"10mg","frequency":"daily","patientId":200}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("prescribe: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = call(e, http.MethodPut, "/api/patients/"+created.Patient.ID, token, `{"patientId":210}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update patient: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = call(e, http.MethodGet, "/api/medications/records", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list records: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var recs []struct {
		MedID     int `json:"medId"`
		PatientID int `json:"patientId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || recs[0].PatientID != 210 {
		t.Errorf("expected record renumbered to patient 210, got %s", rec.Body.String())
	}
}

func TestRunServer_InvalidConfig(t *testing.T) {
	t.Setenv("STORE_DRIVER", "bogus")

	err := runServer()
	if err == nil || !strings.Contains(err.Error(), "STORE_DRIVER") {
		t.Fatalf("expected STORE_DRIVER error, got %v", err)
	}
}
