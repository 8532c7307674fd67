package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"helm/internal/apierr"
)

// IDPSessionValidator calls the identity service's session-validation
// endpoint for user tokens.
type IDPSessionValidator struct {
	baseURL string
	client  *http.Client
}

// NewIDPSessionValidator targets the IDP reachable at baseURL.
func NewIDPSessionValidator(baseURL string, client *http.Client) *IDPSessionValidator {
	if client == nil {
		client = http.DefaultClient
	}
	return &IDPSessionValidator{baseURL: baseURL, client: client}
}

func (v *IDPSessionValidator) ValidateSession(ctx context.Context, jti string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/sessions/"+jti, nil)
	if err != nil {
		return false, apierr.Wrap(apierr.KindInternal, "building session validation request", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false, apierr.Wrap(apierr.KindUpstreamError, "calling IDP session validation", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, apierr.New(apierr.KindUpstreamError, "IDP session validation returned unexpected status")
	}

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, apierr.Wrap(apierr.KindUpstreamError, "decoding session validation response", err)
	}
	return body.Active, nil
}
