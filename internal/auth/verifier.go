package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"helm/internal/apierr"
)

// sessionValidator calls the identity service's session-validation
// endpoint so a revoked user session is rejected even before exp. It is
// an interface so tests can substitute a fake without a live IDP.
type sessionValidator interface {
	ValidateSession(ctx context.Context, jti string) (bool, error)
}

// Verifier resolves bearer tokens into Principals using the identity
// service's JWKS, cached and periodically refreshed.
type Verifier struct {
	jwksURL   string
	client    *http.Client
	sessions  sessionValidator

	mu        sync.RWMutex
	keySet    jwk.Set
	fetchedAt time.Time
	ttl       time.Duration
}

// NewVerifier constructs a Verifier fetching keys from jwksURL (e.g.
// https://idp/realms/platform/protocol/openid-connect/certs).
func NewVerifier(jwksURL string, sessions sessionValidator) *Verifier {
	return &Verifier{
		jwksURL:  jwksURL,
		client:   &http.Client{Timeout: 5 * time.Second},
		sessions: sessions,
		ttl:      10 * time.Minute,
	}
}

func (v *Verifier) keys(ctx context.Context) (jwk.Set, error) {
	v.mu.RLock()
	fresh := v.keySet != nil && time.Since(v.fetchedAt) < v.ttl
	set := v.keySet
	v.mu.RUnlock()
	if fresh {
		return set, nil
	}

	fetched, err := jwk.Fetch(ctx, v.jwksURL, jwk.WithHTTPClient(v.client))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUpstreamError, "fetching IDP JWKS", err)
	}

	v.mu.Lock()
	v.keySet = fetched
	v.fetchedAt = time.Now()
	v.mu.Unlock()
	return fetched, nil
}

// Verify parses and validates rawToken, returning the resolved Principal.
// Service tokens are accepted purely on signature + exp; user tokens also
// require a successful session-validation call.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (Principal, error) {
	set, err := v.keys(ctx)
	if err != nil {
		return Principal{}, err
	}

	token, err := jwt.Parse([]byte(rawToken), jwt.WithKeySet(set), jwt.WithValidate(true))
	if err != nil {
		return Principal{}, apierr.Wrap(apierr.KindUnauthorized, "invalid bearer token", err)
	}

	var tokenType string
	if raw, ok := token.Get("type"); ok {
		if s, ok := raw.(string); ok {
			tokenType = s
		}
	}

	if tokenType == "service" {
		return v.resolveServiceToken(token)
	}
	return v.resolveUserToken(ctx, token)
}

func (v *Verifier) resolveServiceToken(token jwt.Token) (Principal, error) {
	calling, _ := stringClaim(token, "calling_service")
	target, _ := stringClaim(token, "target_service")
	if calling == "" {
		return Principal{}, apierr.New(apierr.KindUnauthorized, "service token missing calling_service claim")
	}
	return Principal{IsService: true, CallingService: calling, TargetService: target}, nil
}

func (v *Verifier) resolveUserToken(ctx context.Context, token jwt.Token) (Principal, error) {
	jti, _ := stringClaim(token, "jti")

	valid, err := v.sessions.ValidateSession(ctx, jti)
	if err != nil {
		return Principal{}, apierr.Wrap(apierr.KindUpstreamError, "validating session with IDP", err)
	}
	if !valid {
		return Principal{}, apierr.New(apierr.KindUnauthorized, "session revoked")
	}

	level, _ := stringClaim(token, "permission_level")
	groups := stringSliceClaim(token, "groups")

	return Principal{
		IsService:       false,
		Subject:         token.Subject(),
		PermissionLevel: level,
		Groups:          groups,
		JTI:             jti,
	}, nil
}

func stringClaim(token jwt.Token, name string) (string, bool) {
	raw, ok := token.Get(name)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func stringSliceClaim(token jwt.Token, name string) []string {
	raw, ok := token.Get(name)
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return nil
		}
		var out []string
		if err := json.Unmarshal(data, &out); err != nil {
			return nil
		}
		return out
	}
}
