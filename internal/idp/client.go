// Package idp implements the IDP Bootstrap (C4): reconciling the external
// identity provider's realm/client/group/user state with the master
// config, using a retrying HTTP client against the IDP's admin REST API.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"

	"helm/internal/apierr"
)

// Client wraps the IDP's admin REST API with the retry/backoff policy
// required for IDP bootstrap: 3 retries with linear backoff.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	token      string
}

// NewClient constructs a Client targeting the admin API at baseURL.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 1 * time.Second
	rc.Backoff = retryablehttp.LinearJitterBackoff
	rc.Logger = nil

	return &Client{baseURL: baseURL, httpClient: rc}
}

// Authenticate obtains an admin token via the OAuth2 resource-owner
// password-credentials grant and stores it for subsequent calls. The
// retrying client's standard-library adapter is threaded through so the
// same retry/backoff policy used for every other admin API call also
// covers the token exchange.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	oauthCfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{TokenURL: c.baseURL + "/admin/token"},
	}
	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient.StandardClient())

	token, err := oauthCfg.PasswordCredentialsToken(httpCtx, username, password)
	if err != nil {
		return apierr.Wrap(apierr.KindUpstreamError, "obtaining IDP admin token", err)
	}
	c.token = token.AccessToken
	return nil
}

// GetRealm returns the realm document, or (nil, nil) if it does not exist.
func (c *Client) GetRealm(ctx context.Context, realm string) (map[string]interface{}, error) {
	return c.getOptional(ctx, "/admin/realms/"+realm)
}

// CreateRealm creates a realm with the given body.
func (c *Client) CreateRealm(ctx context.Context, body map[string]interface{}) error {
	return c.doJSON(ctx, http.MethodPost, "/admin/realms", body, nil)
}

// UpdateRealm applies a partial update to an existing realm.
func (c *Client) UpdateRealm(ctx context.Context, realm string, body map[string]interface{}) error {
	return c.doJSON(ctx, http.MethodPut, "/admin/realms/"+realm, body, nil)
}

// GetClient returns the client document for clientID within realm, or
// (nil, nil) if absent.
func (c *Client) GetClient(ctx context.Context, realm, clientID string) (map[string]interface{}, error) {
	return c.getOptional(ctx, fmt.Sprintf("/admin/realms/%s/clients/%s", realm, clientID))
}

// CreateClient creates a client within realm.
func (c *Client) CreateClient(ctx context.Context, realm string, body map[string]interface{}) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/admin/realms/%s/clients", realm), body, nil)
}

// UpdateClient applies a partial update to an existing client.
func (c *Client) UpdateClient(ctx context.Context, realm, clientID string, body map[string]interface{}) error {
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/admin/realms/%s/clients/%s", realm, clientID), body, nil)
}

// ClientSecret fetches the client's secret.
func (c *Client) ClientSecret(ctx context.Context, realm, clientID string) (string, error) {
	var resp struct {
		Value string `json:"value"`
	}
	path := fmt.Sprintf("/admin/realms/%s/clients/%s/client-secret", realm, clientID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", apierr.Wrap(apierr.KindUpstreamError, "fetching client secret", err)
	}
	return resp.Value, nil
}

// GetGroup returns the group document for name within realm, or (nil, nil)
// if absent.
func (c *Client) GetGroup(ctx context.Context, realm, name string) (map[string]interface{}, error) {
	return c.getOptional(ctx, fmt.Sprintf("/admin/realms/%s/groups/%s", realm, name))
}

// CreateGroup creates a group within realm.
func (c *Client) CreateGroup(ctx context.Context, realm, name string) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/admin/realms/%s/groups", realm), map[string]interface{}{"name": name}, nil)
}

// GetUser returns the user document for username within realm, or (nil,
// nil) if absent.
func (c *Client) GetUser(ctx context.Context, realm, username string) (map[string]interface{}, error) {
	return c.getOptional(ctx, fmt.Sprintf("/admin/realms/%s/users/%s", realm, username))
}

// CreateUser creates a user within realm with the given body.
func (c *Client) CreateUser(ctx context.Context, realm string, body map[string]interface{}) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/admin/realms/%s/users", realm), body, nil)
}

// AddUserToGroup adds username to group within realm.
func (c *Client) AddUserToGroup(ctx context.Context, realm, username, group string) error {
	path := fmt.Sprintf("/admin/realms/%s/users/%s/groups/%s", realm, username, group)
	return c.doJSON(ctx, http.MethodPut, path, nil, nil)
}

// GetProtocolMappers lists the protocol mappers configured on clientID
// within realm.
func (c *Client) GetProtocolMappers(ctx context.Context, realm, clientID string) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	path := fmt.Sprintf("/admin/realms/%s/clients/%s/protocol-mappers/models", realm, clientID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProtocolMapper creates a protocol mapper on clientID within realm.
func (c *Client) CreateProtocolMapper(ctx context.Context, realm, clientID string, body map[string]interface{}) error {
	path := fmt.Sprintf("/admin/realms/%s/clients/%s/protocol-mappers/models", realm, clientID)
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) getOptional(ctx context.Context, path string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if apierr.KindOf(err) == apierr.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, "marshaling IDP request body", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "building IDP request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindUpstreamError, "calling IDP admin API "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apierr.New(apierr.KindNotFound, "IDP resource not found: "+path)
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return apierr.New(apierr.KindUpstreamError, fmt.Sprintf("IDP admin API %s returned %d: %s", path, resp.StatusCode, string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return apierr.Wrap(apierr.KindUpstreamError, "decoding IDP admin API response", err)
	}
	return nil
}
