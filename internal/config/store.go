package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"helm/internal/apierr"
)

// DefaultPath is the on-disk location of the master config document.
const DefaultPath = "instance/configs/master_config.json"

// Store owns the single MasterConfig document: reads happen under a shared
// lock, writes (atomic replace) under an exclusive one, mirroring the
// teacher's single-writer-mutex config.Storage pattern.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  MasterConfig
}

// Open loads the MasterConfig from path, or constructs and persists the
// default document if no file exists yet. A malformed existing file is a
// fatal error — the caller (orchestrator.Bootstrap) should treat a non-nil
// error here as reason to abort startup.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.cfg = Default()
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageError, "reading master config", err)
	}

	var cfg MasterConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, apierr.Wrap(apierr.KindConfigInvalid, "master config is not valid JSON", err)
	}
	if cfg.Apps == nil {
		cfg.Apps = map[string]AppOverride{}
	}
	s.cfg = cfg
	return s, nil
}

// Load returns a copy of the current MasterConfig.
func (s *Store) Load() MasterConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Save atomically replaces the persisted document with cfg.
func (s *Store) Save(cfg MasterConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return s.saveLocked()
}

// Update deep-merges patch into the current document via fn, which receives
// a pointer to the live config and mutates it in place. It is forbidden (and
// a programmer error, not a runtime one) for fn to zero out the System or
// IdentityProvider sections entirely; callers needing to clear the IDP
// secret should use ClearIdentityProvider instead.
func (s *Store) Update(fn func(cfg *MasterConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
	return s.saveLocked()
}

// ClearIdentityProvider removes only the client_secret field, forcing the
// next IDP reconcile pass to treat this installation as needing a full
// bootstrap.
func (s *Store) ClearIdentityProvider() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.IdentityProvider.ClientSecret = ""
	return s.saveLocked()
}

// saveLocked writes the current document via write-temp-then-rename so a
// crash mid-write never leaves a truncated master config on disk. Caller
// must hold s.mu.
func (s *Store) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apierr.Wrap(apierr.KindStorageError, "creating config directory", err)
	}

	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "marshaling master config", err)
	}

	tmp, err := os.CreateTemp(dir, ".master_config-*.json.tmp")
	if err != nil {
		return apierr.Wrap(apierr.KindStorageError, "creating temp config file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apierr.Wrap(apierr.KindStorageError, "writing temp config file", err)
	}
	if err := tmp.Close(); err != nil {
		return apierr.Wrap(apierr.KindStorageError, "closing temp config file", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return apierr.Wrap(apierr.KindStorageError, fmt.Sprintf("renaming temp config file into %s", s.path), err)
	}
	return nil
}
