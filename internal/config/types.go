// Package config implements the Master Config Store (C1): a single JSON
// document holding host identity, identity-provider settings, database
// admin credentials, and per-service overrides.
package config

// MasterConfig is the singleton persisted document backing every instance.
type MasterConfig struct {
	System           SystemConfig             `json:"system"`
	IdentityProvider IdentityProviderConfig    `json:"identity_provider"`
	Databases        DatabasesConfig          `json:"databases"`
	Apps             map[string]AppOverride   `json:"apps"`
}

// SystemConfig carries host identity and logging configuration.
type SystemConfig struct {
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
	SecretKey   string `json:"secret_key"`
	LogLevel    string `json:"log_level"`
}

// IdentityProviderConfig describes the external OIDC server Helm bootstraps
// and reconciles (C4). ClientSecret is absent (empty) until first bootstrap
// succeeds; its absence is the signal to force a full re-bootstrap.
type IdentityProviderConfig struct {
	URL           string `json:"url"`
	BackendURL    string `json:"backend_url"`
	Realm         string `json:"realm"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret,omitempty"`
	AdminUsername string `json:"admin_username"`
	AdminPassword string `json:"admin_password"`
}

// DatabasesConfig groups the relational and optional graph database specs.
type DatabasesConfig struct {
	Relational RelationalDB `json:"relational"`
	Graph      *GraphDB     `json:"graph,omitempty"`
}

// RelationalDB is the admin connection spec for the relational database
// server backing every managed service's per-service database.
type RelationalDB struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	AdminUser string `json:"admin_user"`
}

// GraphDB is an optional graph-database connection spec.
type GraphDB struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// AppOverride holds per-service configuration that the synthesizer folds
// into that service's envFile/connFile.
type AppOverride struct {
	Port           int               `json:"port,omitempty"`
	DatabaseKind   string            `json:"database_kind,omitempty"`
	DBName         string            `json:"db_name,omitempty"`
	DBUser         string            `json:"db_user,omitempty"`
	DBPassword     string            `json:"db_password,omitempty"`
	CustomSections map[string]string `json:"custom_sections,omitempty"`
}

// Default constructs the default MasterConfig used when no persisted
// document exists yet).
func Default() MasterConfig {
	return MasterConfig{
		System: SystemConfig{
			Hostname:    "localhost",
			Environment: "development",
			LogLevel:    "INFO",
		},
		IdentityProvider: IdentityProviderConfig{},
		Databases:        DatabasesConfig{},
		Apps:             map[string]AppOverride{},
	}
}
