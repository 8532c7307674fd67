package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesDefaultWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instance", "configs", "master_config.json")

	s, err := Open(path)
	require.NoError(t, err)

	cfg := s.Load()
	assert.Equal(t, "localhost", cfg.System.Hostname)
	assert.Empty(t, cfg.IdentityProvider.ClientSecret)
	assert.NotNil(t, cfg.Apps)

	_, err = os.Stat(path)
	assert.NoError(t, err, "default config should have been persisted")
}

func TestOpen_RejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master_config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path)
	require.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master_config.json")

	s, err := Open(path)
	require.NoError(t, err)

	cfg := s.Load()
	cfg.System.Hostname = "10.0.0.5"
	cfg.IdentityProvider.ClientSecret = "shh"
	require.NoError(t, s.Save(cfg))

	reopened, err := Open(path)
	require.NoError(t, err)
	got := reopened.Load()
	assert.Equal(t, "10.0.0.5", got.System.Hostname)
	assert.Equal(t, "shh", got.IdentityProvider.ClientSecret)
}

func TestUpdate_Merges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master_config.json")
	s, err := Open(path)
	require.NoError(t, err)

	err = s.Update(func(cfg *MasterConfig) {
		cfg.Apps["core"] = AppOverride{Port: 5000}
	})
	require.NoError(t, err)

	cfg := s.Load()
	assert.Equal(t, 5000, cfg.Apps["core"].Port)
}

func TestClearIdentityProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master_config.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Update(func(cfg *MasterConfig) {
		cfg.IdentityProvider.ClientSecret = "secret"
		cfg.IdentityProvider.Realm = "helm"
	}))

	require.NoError(t, s.ClearIdentityProvider())

	cfg := s.Load()
	assert.Empty(t, cfg.IdentityProvider.ClientSecret)
	assert.Equal(t, "helm", cfg.IdentityProvider.Realm, "clearing the secret must not touch other IDP fields")
}

func TestSave_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master_config.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Save(s.Load()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
