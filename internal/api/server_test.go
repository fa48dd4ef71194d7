package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sonoff-bridge/internal/accessory"
	"github.com/nerrad567/sonoff-bridge/internal/device"
	"github.com/nerrad567/sonoff-bridge/internal/discovery"
	"github.com/nerrad567/sonoff-bridge/internal/infrastructure/config"
	"github.com/nerrad567/sonoff-bridge/internal/infrastructure/database"
	"github.com/nerrad567/sonoff-bridge/internal/infrastructure/logging"
	_ "github.com/nerrad567/sonoff-bridge/migrations" // registers the accessories schema
)

// fakeController is a scripted DeviceController.
type fakeController struct {
	mu         sync.Mutex
	id         string
	on         bool
	reachable  bool
	setErr     error
	refreshErr error
	sets       []bool
	refreshes  int
}

func (f *fakeController) Start(context.Context) error { return nil }
func (f *fakeController) Stop()                       {}

func (f *fakeController) HandleGet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func (f *fakeController) HandleSet(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, on)
	return f.setErr
}

func (f *fakeController) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeController) State() device.State {
	s := device.DefaultState()
	s.Power = device.FromBool(f.HandleGet())
	s.FirmwareVersion = "3.5.0"
	return s
}

func (f *fakeController) Reachable() bool     { return f.reachable }
func (f *fakeController) AccessoryID() string { return f.id }
func (f *fakeController) Address() string     { return "10.0.0.5:8081" }

// fakeControllers is a ControllerSource over a fixed map.
type fakeControllers map[string]*fakeController

func (f fakeControllers) Controller(id string) (discovery.DeviceController, bool) {
	c, ok := f[id]
	if !ok {
		return nil, false
	}
	return c, true
}

func (f fakeControllers) ControllerCount() int { return len(f) }

type connected bool

func (c connected) IsConnected() bool { return bool(c) }

// testEnv is a server on a real SQLite-backed registry holding two
// accessories: porch (bound) and garage (published but unbound).
type testEnv struct {
	srv      *Server
	handler  http.Handler
	registry *accessory.Registry
	porch    *fakeController
	porchID  string
	garageID string
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	registry := accessory.NewRegistry(accessory.NewSQLiteRepository(db.DB))
	if _, err := registry.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	porch := accessory.New("100aaa", "Porch light")
	garage := accessory.New("100bbb", "Garage")
	for _, a := range []accessory.Accessory{porch, garage} {
		if err := registry.RegisterNew(ctx, a); err != nil {
			t.Fatalf("RegisterNew(%s): %v", a.DisplayName, err)
		}
	}

	ctrl := &fakeController{id: porch.UUID, on: true, reachable: true}
	if err := registry.SetOnOffHandler(porch.UUID, ctrl.HandleGet, ctrl.HandleSet); err != nil {
		t.Fatalf("SetOnOffHandler: %v", err)
	}

	srv, err := New(Deps{
		Config:      config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:      logging.Discard(),
		Registry:    registry,
		Controllers: fakeControllers{porch.UUID: ctrl},
		MQTT:        connected(true),
		DB:          db,
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:      srv,
		handler:  srv.Handler(),
		registry: registry,
		porch:    ctrl,
		porchID:  porch.UUID,
		garageID: garage.UUID,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_Validation(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		deps Deps
	}{
		{"missing logger", Deps{Registry: env.registry, Controllers: fakeControllers{}}},
		{"missing registry", Deps{Logger: logging.Discard(), Controllers: fakeControllers{}}},
		{"missing controllers", Deps{Logger: logging.Discard(), Registry: env.registry}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	env := setupTestServer(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close before Start: %v", err)
	}
}

func TestListAccessories(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/accessories", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody[struct {
		Accessories []AccessoryResponse `json:"accessories"`
		Count       int                 `json:"count"`
	}](t, rec)

	if body.Count != 2 || len(body.Accessories) != 2 {
		t.Fatalf("count = %d, len = %d, want 2", body.Count, len(body.Accessories))
	}

	// Ordered by display name.
	garage, porch := body.Accessories[0], body.Accessories[1]
	if garage.UUID != env.garageID || porch.UUID != env.porchID {
		t.Fatalf("order = %s, %s", garage.DisplayName, porch.DisplayName)
	}
	if garage.Bound || garage.On != nil || garage.State != nil {
		t.Errorf("unbound accessory should carry no controller view: %+v", garage)
	}
	if !porch.Bound || porch.On == nil || !*porch.On {
		t.Errorf("porch on = %v, want true", porch.On)
	}
	if porch.Reachable == nil || !*porch.Reachable {
		t.Errorf("porch reachable = %v, want true", porch.Reachable)
	}
	if porch.Address != "10.0.0.5:8081" {
		t.Errorf("porch address = %q", porch.Address)
	}
	if porch.State == nil || porch.State.FirmwareVersion != "3.5.0" {
		t.Errorf("porch state = %+v", porch.State)
	}
	if porch.Manufacturer != accessory.Manufacturer || porch.SerialNumber != "100aaa" {
		t.Errorf("accessory information = %q / %q", porch.Manufacturer, porch.SerialNumber)
	}
}

func TestGetAccessory(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/accessories/"+env.porchID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody[AccessoryResponse](t, rec)
	if got.DisplayName != "Porch light" || !got.Bound {
		t.Errorf("got %+v", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/accessories/"+accessory.GenerateUUID("nope"), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown uuid status = %d, want 404", rec.Code)
	}
	if e := decodeBody[Error](t, rec); e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestGetOn(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/accessories/"+env.porchID+"/on", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeBody[OnResponse](t, rec); !got.On || got.UUID != env.porchID {
		t.Errorf("got %+v", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/accessories/"+env.garageID+"/on", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unbound status = %d, want 503", rec.Code)
	}
	if e := decodeBody[Error](t, rec); e.Code != ErrCodeNotBound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotBound)
	}
}

func TestSetOn_Success(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPut, "/api/v1/accessories/"+env.porchID+"/on", `{"on":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[OnResponse](t, rec); got.On {
		t.Errorf("response on = true, want false")
	}
	if len(env.porch.sets) != 1 || env.porch.sets[0] {
		t.Errorf("controller sets = %v, want [false]", env.porch.sets)
	}
	// The cached value only changes on the next poll.
	if !env.porch.HandleGet() {
		t.Error("set must not touch the cached state")
	}
}

func TestSetOn_BadRequests(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"on":`, http.StatusBadRequest},
		{"missing on", `{}`, http.StatusBadRequest},
		{"wrong type", `{"on":"yes"}`, http.StatusBadRequest},
		{"too large", `{"on":true,"pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/api/v1/accessories/"+env.porchID+"/on", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if len(env.porch.sets) != 0 {
		t.Errorf("controller called %d times on bad requests", len(env.porch.sets))
	}
}

func TestSetOn_DeviceErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"transport", fmt.Errorf("switching: %w", device.ErrTransport), http.StatusBadGateway, ErrCodeDeviceUnreachable},
		{"device reported", fmt.Errorf("switching: %w: code 400", device.ErrDeviceReported), http.StatusBadGateway, ErrCodeDeviceError},
		{"malformed", fmt.Errorf("switching: %w", device.ErrMalformedResponse), http.StatusBadGateway, ErrCodeProtocol},
		{"timeout", fmt.Errorf("switching: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, ErrCodeTimeout},
		{"stopped", device.ErrStopped, http.StatusServiceUnavailable, ErrCodeNotBound},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)
			env.porch.setErr = tt.err

			rec := env.do(t, http.MethodPut, "/api/v1/accessories/"+env.porchID+"/on", `{"on":true}`)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			e := decodeBody[Error](t, rec)
			if e.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", e.Code, tt.wantErr)
			}
			if e.Message != tt.err.Error() {
				t.Errorf("message = %q, want the device error %q", e.Message, tt.err.Error())
			}
		})
	}
}

func TestSetOn_UnknownAndUnbound(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPut, "/api/v1/accessories/"+accessory.GenerateUUID("nope")+"/on", `{"on":true}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown status = %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/api/v1/accessories/"+env.garageID+"/on", `{"on":true}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unbound status = %d, want 503", rec.Code)
	}
}

func TestRefresh(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/accessories/"+env.porchID+"/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if env.porch.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", env.porch.refreshes)
	}

	env.porch.refreshErr = fmt.Errorf("polling: %w", device.ErrTransport)
	rec = env.do(t, http.MethodPost, "/api/v1/accessories/"+env.porchID+"/refresh", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("failed refresh status = %d, want 502", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/accessories/"+env.garageID+"/refresh", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unbound refresh status = %d, want 503", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	m := decodeBody[SystemMetrics](t, rec)
	if m.Accessories != (AccessoryMetrics{Total: 2, Controllers: 1, Reachable: 1, On: 1}) {
		t.Errorf("accessories = %+v", m.Accessories)
	}
	if !m.MQTT.Enabled || !m.MQTT.Connected {
		t.Errorf("mqtt = %+v", m.MQTT)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime metrics not collected")
	}
	if m.Version != "test" {
		t.Errorf("version = %q", m.Version)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if id := rec.Header().Get("X-Request-ID"); len(id) != requestIDBytes*2 {
		t.Errorf("generated request id = %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if id := rec.Header().Get("X-Request-ID"); id != "abc123" {
		t.Errorf("request id = %q, want abc123", id)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := setupTestServer(t)

	r := chi.NewRouter()
	r.Use(env.srv.recoveryMiddleware)
	r.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestUnknownRoutes(t *testing.T) {
	env := setupTestServer(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/nothing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/v1/accessories/"+env.porchID, ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", rec.Code)
	}
}
