// Package synth implements the Config Synthesizer (C3): a pure function
// turning (MasterConfig, ServiceEntry, thin registry) into the two files
// each managed service reads on boot, an envFile and a connFile. Templates
// are fixed constants rendered with text/template + sprig; no time/random
// sprig functions are ever invoked, so synthesis stays deterministic.
package synth

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"helm/internal/apierr"
	"helm/internal/config"
	"helm/internal/registry"
)

const envTemplateSrc = `SERVICE_NAME={{ .Name }}
RUN_ENTRYPOINT={{ .RunEntrypoint }}
IDP_URL={{ .IDPURL }}
{{- range $name, $url := .PeerURLs }}
PEER_{{ upperSnake $name }}_URL={{ $url }}
{{- end }}
{{- if .HasDatabase }}
DB_HOST={{ .DBHost }}
DB_PORT={{ .DBPort }}
DB_NAME={{ .DBName }}
{{- end }}
{{- if .IsIdentityService }}
JWT_SIGNING_KEY_PATH={{ .JWTKeyPath }}
JWT_SIGNING_CERT_PATH={{ .JWTCertPath }}
{{- end }}
`

const connTemplateSrc = `[database]
url = {{ .ConnectionURL }}
`

var (
	envTemplate  = template.Must(template.New("env").Funcs(sprigFuncs()).Parse(envTemplateSrc))
	connTemplate = template.Must(template.New("conn").Funcs(sprigFuncs()).Parse(connTemplateSrc))
)

// sprigFuncs restricts the sprig FuncMap to pure, deterministic helpers.
// Date/random functions (now, date, randAlphaNum, uuidv4, ...) are
// deliberately excluded so a malicious or careless template change can
// never break the determinism invariant silently.
func sprigFuncs() template.FuncMap {
	full := sprig.TxtFuncMap()
	funcs := template.FuncMap{
		"upperSnake": func(s string) string {
			return strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
		},
	}
	for _, name := range []string{"upper", "lower", "trim", "trimSuffix", "trimPrefix", "replace", "quote"} {
		if fn, ok := full[name]; ok {
			funcs[name] = fn
		}
	}
	return funcs
}

// EnvFile and ConnFile are the rendered byte contents the caller writes to
// each service's directory.
type EnvFile []byte
type ConnFile []byte

type envData struct {
	Name               string
	RunEntrypoint      string
	IDPURL             string
	PeerURLs           map[string]string
	HasDatabase        bool
	DBHost             string
	DBPort             int
	DBName             string
	IsIdentityService  bool
	JWTKeyPath         string
	JWTCertPath        string
}

// IdentityServiceName is the catalog entry name treated as "the identity
// service itself" for the IDP-URL rewriting rule.
const IdentityServiceName = "idp"

// Synthesize is a pure function: it never touches the
// filesystem itself, only returns bytes, so it stays trivially testable for
// the byte-identical-on-rerun property.
func Synthesize(cfg config.MasterConfig, entry registry.Entry, thin registry.ThinRegistry) (EnvFile, ConnFile, error) {
	idpURL := identityProviderURL(cfg, entry)

	peers := make(map[string]string, len(thin))
	for name, t := range thin {
		if name == entry.Name {
			continue
		}
		peers[name] = t.URL
	}

	override, hasOverride := cfg.Apps[entry.Name]
	hasDB := hasOverride && override.DBName != ""

	data := envData{
		Name:              entry.Name,
		RunEntrypoint:     entry.RunEntrypoint,
		IDPURL:            idpURL,
		PeerURLs:          peers,
		HasDatabase:       hasDB,
		DBHost:            cfg.Databases.Relational.Host,
		DBPort:            cfg.Databases.Relational.Port,
		IsIdentityService: entry.Name == IdentityServiceName,
	}
	if hasDB {
		data.DBName = override.DBName
	}
	if data.IsIdentityService {
		data.JWTKeyPath = filepath.Join(entry.DirectoryPath, "instance", "jwt", "signing.key")
		data.JWTCertPath = filepath.Join(entry.DirectoryPath, "instance", "jwt", "signing.crt")
	}

	var envBuf bytes.Buffer
	if err := envTemplate.Execute(&envBuf, data); err != nil {
		return nil, nil, apierr.Wrap(apierr.KindInternal, "rendering envFile template", err)
	}

	var connBuf bytes.Buffer
	if hasOverride && override.DBUser != "" {
		connURL := buildConnectionURL(cfg.Databases.Relational, override)
		if err := connTemplate.Execute(&connBuf, struct{ ConnectionURL string }{connURL}); err != nil {
			return nil, nil, apierr.Wrap(apierr.KindInternal, "rendering connFile template", err)
		}
	}

	return EnvFile(envBuf.Bytes()), ConnFile(connBuf.Bytes()), nil
}

// identityProviderURL implements the rewriting rule: the
// identity service itself gets the direct backend URL; every other service
// gets the externally-facing proxied URL, unless hostname is localhost (in
// which case everyone uses the direct URL).
func identityProviderURL(cfg config.MasterConfig, entry registry.Entry) string {
	if entry.Name == IdentityServiceName {
		return cfg.IdentityProvider.BackendURL
	}
	if cfg.System.Hostname == "localhost" || cfg.System.Hostname == "" {
		return cfg.IdentityProvider.BackendURL
	}
	return cfg.IdentityProvider.URL
}

// buildConnectionURL builds a URL-encoded relational connection string.
// Passwords routinely contain `%, +, =, /`; they are escaped as URL
// userinfo (url.UserPassword) on the way in and any standard URL parser
// round-trips them on the way out.
func buildConnectionURL(db config.RelationalDB, app config.AppOverride) string {
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(app.DBUser, app.DBPassword),
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + app.DBName,
	}
	return u.String()
}

// WriteFiles writes the synthesized envFile and connFile into the target
// service directory, matching the expected naming (.env,
// instance/<name>.conf). Writes use the same write-temp-then-rename
// discipline as the master config store, even though the synthesizer's
// purity guarantee means a half-written file is merely stale, not corrupt
// across concurrent readers — the atomic write still avoids a reader seeing
// a partially-written line.
func WriteFiles(serviceDir, serviceName string, env EnvFile, conn ConnFile) error {
	if err := writeAtomic(filepath.Join(serviceDir, ".env"), env); err != nil {
		return err
	}
	if len(conn) == 0 {
		return nil
	}
	confDir := filepath.Join(serviceDir, "instance")
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		return apierr.Wrap(apierr.KindStorageError, "creating instance config directory", err)
	}
	return writeAtomic(filepath.Join(confDir, serviceName+".conf"), conn)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apierr.Wrap(apierr.KindStorageError, "creating directory for "+path, err)
	}
	tmp, err := os.CreateTemp(dir, ".synth-*.tmp")
	if err != nil {
		return apierr.Wrap(apierr.KindStorageError, "creating temp file for "+path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apierr.Wrap(apierr.KindStorageError, "writing temp file for "+path, err)
	}
	if err := tmp.Close(); err != nil {
		return apierr.Wrap(apierr.KindStorageError, "closing temp file for "+path, err)
	}
	return os.Rename(tmpPath, path)
}
