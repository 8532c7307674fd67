package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/services/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]ServiceSummary{
			"alpha": {ServiceName: "alpha", Status: "running", Health: "healthy", PID: 123, Port: 9000},
		})
	})
	mux.HandleFunc("/services/alpha/start", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "production", body["mode"])
		json.NewEncoder(w).Encode(ServiceSummary{ServiceName: "alpha", Status: "running"})
	})
	mux.HandleFunc("/services/missing/stop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(apiError{Kind: "NotFound", Message: "unknown service: missing"})
	})
	return httptest.NewServer(mux)
}

func TestClient_List_ReturnsDecodedMap(t *testing.T) {
	srv := newStatusServer(t)
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	out, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, "running", out["alpha"].Status)
}

func TestClient_Start_SendsModeInBody(t *testing.T) {
	srv := newStatusServer(t)
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	out, err := c.Start("alpha", "production")
	require.NoError(t, err)
	assert.Equal(t, "alpha", out.ServiceName)
}

func TestClient_Stop_SurfacesAPIErrorMessage(t *testing.T) {
	srv := newStatusServer(t)
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	_, err := c.Stop("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service: missing")
}

func TestNewClient_FallsBackToEnvToken(t *testing.T) {
	t.Setenv("HELM_TOKEN", "from-env")
	c := NewClient("http://localhost:8800", "")
	assert.Equal(t, "from-env", c.Token)
}
