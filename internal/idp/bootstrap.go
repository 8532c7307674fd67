package idp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"helm/internal/apierr"
	"helm/internal/config"
	"helm/pkg/logging"
)

// DefaultRealm and DefaultClientID are the fixed names Helm bootstraps on
// every install.
const (
	DefaultRealm    = "platform"
	DefaultClientID = "helm-platform"
)

// The four permission groups every install ensures exist. Group
// membership (not PermissionLevel alone) is how the token's groups claim
// is populated for clients other than the Control API itself.
const (
	GroupAdmins      = "admins"
	GroupTechnicians = "technicians"
	GroupBilling     = "billing"
	GroupClient      = "client"
)

// BootstrapGroups is every group ensureGroup is run against.
var BootstrapGroups = []string{GroupAdmins, GroupTechnicians, GroupBilling, GroupClient}

// groupMembershipMapperName is the protocol mapper ensured on the client
// so tokens carry the caller's group memberships in a "groups" claim.
const groupMembershipMapperName = "group-membership"

// Bootstrap drives the ensure-steps against an IDP Client, persisting
// results back into the master config store.
type Bootstrap struct {
	client *Client
	store  *config.Store
}

// NewBootstrap constructs a Bootstrap targeting the IDP reachable at
// cfg.IdentityProvider.BackendURL.
func NewBootstrap(store *config.Store, backendURL string) *Bootstrap {
	return &Bootstrap{client: NewClient(backendURL), store: store}
}

// Reconcile performs the full bootstrap sequence: authenticate, ensure
// realm, ensure client (persisting client_secret on first creation, or
// when the master store no longer holds one) with its group-membership
// mapper, ensure the four permission
// groups, ensure the admin user and its group membership. Re-running
// against an already-converged IDP is a no-op except for the hostname
// sub-case below.
func (b *Bootstrap) Reconcile(ctx context.Context, cfg config.MasterConfig) error {
	idp := cfg.IdentityProvider

	if err := b.client.Authenticate(ctx, idp.AdminUsername, idp.AdminPassword); err != nil {
		return err
	}

	if err := b.ensureRealm(ctx, cfg); err != nil {
		return err
	}
	if err := b.ensureClient(ctx, cfg); err != nil {
		return err
	}
	if err := b.ensureGroupMembershipMapper(ctx); err != nil {
		return err
	}
	for _, group := range BootstrapGroups {
		if err := b.ensureGroup(ctx, group); err != nil {
			return err
		}
	}
	if err := b.ensureAdminUser(ctx, idp); err != nil {
		return err
	}

	logging.Info("idp", "IDP bootstrap converged for realm %s", DefaultRealm)
	return nil
}

// ensureRealm creates the realm if absent, or (hostname-change sub-case)
// updates only frontendUrl when the realm already exists with a different
// external hostname. Realm existence otherwise means no-op.
func (b *Bootstrap) ensureRealm(ctx context.Context, cfg config.MasterConfig) error {
	realm, err := b.client.GetRealm(ctx, DefaultRealm)
	if err != nil {
		return err
	}

	frontendURL := externalIDPURL(cfg)
	if realm == nil {
		return b.client.CreateRealm(ctx, map[string]interface{}{
			"realm":       DefaultRealm,
			"enabled":     true,
			"frontendUrl": frontendURL,
		})
	}

	if realm["frontendUrl"] == frontendURL {
		return nil
	}
	return b.client.UpdateRealm(ctx, DefaultRealm, map[string]interface{}{
		"frontendUrl": frontendURL,
	})
}

// ensureClient creates the OIDC client on first run and persists its
// secret into the master store. On every subsequent run it only updates
// the redirect URIs when they differ from the current hostname's, and
// re-reads the existing secret only when the master store has none; it
// never rotates client_secret — rotating it would silently break every
// already-deployed service's cached credential.
func (b *Bootstrap) ensureClient(ctx context.Context, cfg config.MasterConfig) error {
	redirectURIs := clientRedirectURIs(cfg)

	existing, err := b.client.GetClient(ctx, DefaultRealm, DefaultClientID)
	if err != nil {
		return err
	}
	if existing != nil {
		if !sameRedirectURIs(existing["redirectUris"], redirectURIs) {
			if err := b.client.UpdateClient(ctx, DefaultRealm, DefaultClientID, map[string]interface{}{
				"redirectUris": redirectURIs,
			}); err != nil {
				return err
			}
		}
		if b.store.Load().IdentityProvider.ClientSecret != "" {
			return nil
		}
	} else if err := b.client.CreateClient(ctx, DefaultRealm, map[string]interface{}{
		"clientId":               DefaultClientID,
		"enabled":                true,
		"standardFlowEnabled":    true,
		"serviceAccountsEnabled": true,
		"publicClient":           false,
		"redirectUris":           redirectURIs,
	}); err != nil {
		return err
	}

	secret, err := b.client.ClientSecret(ctx, DefaultRealm, DefaultClientID)
	if err != nil {
		return err
	}

	return b.store.Update(func(mc *config.MasterConfig) {
		mc.IdentityProvider.ClientID = DefaultClientID
		mc.IdentityProvider.ClientSecret = secret
	})
}

// sameRedirectURIs reports whether the redirect URIs read back from the IDP
// equal want, in order.
func sameRedirectURIs(current interface{}, want []string) bool {
	list, ok := current.([]interface{})
	if !ok || len(list) != len(want) {
		return false
	}
	for i, v := range list {
		if s, ok := v.(string); !ok || s != want[i] {
			return false
		}
	}
	return true
}

// clientRedirectURIs covers both the localhost form (for local/adjacent
// callers) and the external hostname form, deduplicated when the
// external hostname is itself localhost.
func clientRedirectURIs(cfg config.MasterConfig) []string {
	localhost := "http://localhost/*"
	external := externalIDPURL(cfg) + "/*"
	if external == localhost {
		return []string{localhost}
	}
	return []string{localhost, external}
}

// ensureGroupMembershipMapper ensures the client has a protocol mapper
// that puts the caller's group memberships into the token's "groups"
// claim, so Control API group-based gating has something to read.
func (b *Bootstrap) ensureGroupMembershipMapper(ctx context.Context) error {
	mappers, err := b.client.GetProtocolMappers(ctx, DefaultRealm, DefaultClientID)
	if err != nil {
		return err
	}
	for _, m := range mappers {
		if m["name"] == groupMembershipMapperName {
			return nil
		}
	}
	return b.client.CreateProtocolMapper(ctx, DefaultRealm, DefaultClientID, map[string]interface{}{
		"name":           groupMembershipMapperName,
		"protocol":       "openid-connect",
		"protocolMapper": "oidc-group-membership-mapper",
		"config": map[string]interface{}{
			"claim.name":           "groups",
			"full.path":            "false",
			"id.token.claim":       "true",
			"access.token.claim":   "true",
			"userinfo.token.claim": "true",
		},
	})
}

func (b *Bootstrap) ensureGroup(ctx context.Context, name string) error {
	existing, err := b.client.GetGroup(ctx, DefaultRealm, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return b.client.CreateGroup(ctx, DefaultRealm, name)
}

// ensureAdminUser creates the bootstrap admin user and adds it to the
// admin group, if it does not already exist. An existing admin user is
// never modified (password changes are out of Helm's scope, spec
// Non-goals).
func (b *Bootstrap) ensureAdminUser(ctx context.Context, idp config.IdentityProviderConfig) error {
	existing, err := b.client.GetUser(ctx, DefaultRealm, idp.AdminUsername)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	password, err := randomPassword()
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "generating admin bootstrap password", err)
	}

	if err := b.client.CreateUser(ctx, DefaultRealm, map[string]interface{}{
		"username": idp.AdminUsername,
		"enabled":  true,
		"credentials": []map[string]interface{}{
			// non-temporary: this is the only credential for the
			// bootstrap admin and forcing a reset would lock the
			// operator out before they can log in at all.
			{"type": "password", "value": password, "temporary": false},
		},
	}); err != nil {
		return err
	}

	return b.client.AddUserToGroup(ctx, DefaultRealm, idp.AdminUsername, GroupAdmins)
}

// externalIDPURL is the hostname-dependent frontend URL the realm and
// client redirect URIs are pinned to.
func externalIDPURL(cfg config.MasterConfig) string {
	if cfg.System.Hostname == "" || cfg.System.Hostname == "localhost" {
		return cfg.IdentityProvider.BackendURL
	}
	return cfg.IdentityProvider.URL
}

func randomPassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
