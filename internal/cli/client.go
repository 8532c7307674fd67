package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Client is a thin wrapper around the Control API for helm's subcommands.
// It is deliberately not the Go SDK an external integrator would use -
// just enough to drive start/stop/restart/list/status over HTTP.
type Client struct {
	Endpoint string
	Token    string
	http     *http.Client
}

// NewClient builds a Client targeting endpoint, authenticating requests
// with the bearer token resolved from HELM_TOKEN when token is empty.
func NewClient(endpoint, token string) *Client {
	if token == "" {
		token = os.Getenv("HELM_TOKEN")
	}
	return &Client{
		Endpoint: endpoint,
		Token:    token,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// ServiceSummary mirrors the Control API's joined status payload.
type ServiceSummary struct {
	ServiceName string    `json:"service_name"`
	Status      string    `json:"status"`
	Health      string    `json:"health"`
	PID         int       `json:"pid"`
	Port        int       `json:"port"`
	StartedAt   time.Time `json:"started_at"`
}

// CatalogEntry mirrors the fields of registry.Entry that the CLI renders.
type CatalogEntry struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description"`
	Source       string `json:"source"`
	Port         int    `json:"port"`
	InstallOrder int    `json:"install_order"`
}

// Catalog returns every registered service, independent of run state.
func (c *Client) Catalog() ([]CatalogEntry, error) {
	var out []CatalogEntry
	if err := c.do(http.MethodGet, "/services", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns every catalog entry with its current status, keyed by name.
func (c *Client) List() (map[string]ServiceSummary, error) {
	var out map[string]ServiceSummary
	if err := c.do(http.MethodGet, "/services/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns the status of a single service.
func (c *Client) Status(name string) (ServiceSummary, error) {
	var out ServiceSummary
	if err := c.do(http.MethodGet, "/services/"+name+"/status", nil, &out); err != nil {
		return ServiceSummary{}, err
	}
	return out, nil
}

// Start starts a service under the given mode ("development" or
// "production"; empty means the supervisor default).
func (c *Client) Start(name, mode string) (ServiceSummary, error) {
	var out ServiceSummary
	body := map[string]string{}
	if mode != "" {
		body["mode"] = mode
	}
	if err := c.do(http.MethodPost, "/services/"+name+"/start", body, &out); err != nil {
		return ServiceSummary{}, err
	}
	return out, nil
}

// Stop stops a service.
func (c *Client) Stop(name string) (ServiceSummary, error) {
	var out ServiceSummary
	if err := c.do(http.MethodPost, "/services/"+name+"/stop", nil, &out); err != nil {
		return ServiceSummary{}, err
	}
	return out, nil
}

// Restart stops then starts a service under the given mode.
func (c *Client) Restart(name, mode string) (ServiceSummary, error) {
	var out ServiceSummary
	body := map[string]string{}
	if mode != "" {
		body["mode"] = mode
	}
	if err := c.do(http.MethodPost, "/services/"+name+"/restart", body, &out); err != nil {
		return ServiceSummary{}, err
	}
	return out, nil
}

// apiError is the Control API's standard error body (apierr.Error as JSON).
type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (c *Client) do(method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.Endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling helm daemon at %s: %w", c.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Kind, apiErr.Message)
		}
		return fmt.Errorf("helm daemon returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
