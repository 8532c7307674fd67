package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helm/internal/auth"
	"helm/internal/config"
	"helm/internal/monitor"
	"helm/internal/registry"
	"helm/internal/supervisor"
)

type stubVerifier struct {
	principal auth.Principal
	err       error
}

func (s stubVerifier) Verify(ctx context.Context, rawToken string) (auth.Principal, error) {
	return s.principal, s.err
}

func newTestDeps(t *testing.T, verifier TokenVerifier) Deps {
	t.Helper()
	manifest := registry.Manifest{
		CoreRequired: []registry.Entry{{Name: "alpha", Port: 16001, InstallOrder: 1, ProcessKind: registry.ProcessKindExternalJava}},
	}
	cat, err := registry.Reconcile(manifest, nil)
	require.NoError(t, err)

	store, err := config.Open(filepath.Join(t.TempDir(), "master_config.json"))
	require.NoError(t, err)
	sup := supervisor.New(cat, store, t.TempDir())
	mon, err := monitor.New(cat, sup, 0)
	require.NoError(t, err)

	return Deps{
		Catalog:    cat,
		Supervisor: sup,
		Monitor:    mon,
		Verifier:   verifier,
	}
}

func TestHealth_IsUnauthenticated(t *testing.T) {
	mux := NewServer(newTestDeps(t, stubVerifier{}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListServices_RequiresBearerToken(t *testing.T) {
	mux := NewServer(newTestDeps(t, stubVerifier{}))
	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListServices_WithValidTokenReturnsCatalog(t *testing.T) {
	mux := NewServer(newTestDeps(t, stubVerifier{principal: auth.Principal{Subject: "u1", PermissionLevel: "client"}}))
	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "alpha"))
}

func TestStart_NonAdminUserTokenForbidden(t *testing.T) {
	mux := NewServer(newTestDeps(t, stubVerifier{principal: auth.Principal{Subject: "u1", PermissionLevel: "client"}}))
	req := httptest.NewRequest(http.MethodPost, "/services/alpha/start", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStart_ServiceTokenBypassesAdminGate(t *testing.T) {
	mux := NewServer(newTestDeps(t, stubVerifier{principal: auth.Principal{IsService: true, CallingService: "core"}}))
	req := httptest.NewRequest(http.MethodPost, "/services/missing/start", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code, "service token should pass the admin gate and fail on not-found instead")
}

func TestStatusOne_UnknownServiceIs404(t *testing.T) {
	mux := NewServer(newTestDeps(t, stubVerifier{principal: auth.Principal{PermissionLevel: "admin"}}))
	req := httptest.NewRequest(http.MethodGet, "/services/ghost/status", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogsIngest_MalformedServiceNameIs400(t *testing.T) {
	mux := NewServer(newTestDeps(t, stubVerifier{principal: auth.Principal{PermissionLevel: "admin"}}))
	body := strings.NewReader(`{"service_name":"Invalid Name","logs":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/logs/ingest", body)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "MalformedRequest", payload["kind"])
}
