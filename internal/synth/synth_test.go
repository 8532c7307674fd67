package synth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helm/internal/config"
	"helm/internal/registry"
)

func sampleConfig() config.MasterConfig {
	cfg := config.Default()
	cfg.System.Hostname = "10.0.0.5"
	cfg.IdentityProvider.URL = "https://10.0.0.5/idp"
	cfg.IdentityProvider.BackendURL = "http://localhost:8443"
	cfg.Databases.Relational = config.RelationalDB{Host: "localhost", Port: 5432, AdminUser: "postgres"}
	cfg.Apps["billing"] = config.AppOverride{
		DBName:     "billing_db",
		DBUser:     "billing_user",
		DBPassword: "p@ss/w+rd=%1",
	}
	return cfg
}

func sampleEntry(name string) registry.Entry {
	return registry.Entry{
		Name:          name,
		RunEntrypoint: "run.py",
		DirectoryPath: "/opt/platform-" + name,
	}
}

func sampleThin() registry.ThinRegistry {
	return registry.ThinRegistry{
		"billing": {URL: "http://10.0.0.5:5010", Port: 5010},
		"core":    {URL: "http://10.0.0.5:5000", Port: 5000},
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	cfg := sampleConfig()
	entry := sampleEntry("billing")
	thin := sampleThin()

	env1, conn1, err := Synthesize(cfg, entry, thin)
	require.NoError(t, err)
	env2, conn2, err := Synthesize(cfg, entry, thin)
	require.NoError(t, err)

	assert.Equal(t, env1, env2, "synthesize must be byte-identical across runs")
	assert.Equal(t, conn1, conn2)
}

func TestSynthesize_IdentityServiceGetsDirectURL(t *testing.T) {
	cfg := sampleConfig()
	entry := sampleEntry(IdentityServiceName)

	env, _, err := Synthesize(cfg, entry, registry.ThinRegistry{})
	require.NoError(t, err)
	assert.Contains(t, string(env), "IDP_URL=http://localhost:8443")
	assert.Contains(t, string(env), "JWT_SIGNING_KEY_PATH=")
}

func TestSynthesize_OtherServiceGetsExternalURL(t *testing.T) {
	cfg := sampleConfig()
	entry := sampleEntry("billing")

	env, _, err := Synthesize(cfg, entry, registry.ThinRegistry{})
	require.NoError(t, err)
	assert.Contains(t, string(env), "IDP_URL=https://10.0.0.5/idp")
}

func TestSynthesize_LocalhostAlwaysDirect(t *testing.T) {
	cfg := sampleConfig()
	cfg.System.Hostname = "localhost"
	entry := sampleEntry("billing")

	env, _, err := Synthesize(cfg, entry, registry.ThinRegistry{})
	require.NoError(t, err)
	assert.Contains(t, string(env), "IDP_URL=http://localhost:8443")
}

func TestSynthesize_PeerURLsExcludeSelf(t *testing.T) {
	cfg := sampleConfig()
	entry := sampleEntry("billing")

	env, _, err := Synthesize(cfg, entry, sampleThin())
	require.NoError(t, err)
	assert.Contains(t, string(env), "PEER_CORE_URL=http://10.0.0.5:5000")
	assert.NotContains(t, string(env), "PEER_BILLING_URL=")
}

func TestSynthesize_PasswordURLRoundTrip(t *testing.T) {
	cfg := sampleConfig()
	entry := sampleEntry("billing")

	_, conn, err := Synthesize(cfg, entry, registry.ThinRegistry{})
	require.NoError(t, err)
	require.Contains(t, string(conn), "url = ")

	var raw string
	for _, line := range splitLines(string(conn)) {
		if len(line) > 6 && line[:6] == "url = " {
			raw = line[6:]
		}
	}
	require.NotEmpty(t, raw)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	password, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss/w+rd=%1", password)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
