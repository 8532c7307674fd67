package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"helm/pkg/logging"
)

// Scanner walks the parent directory for `<prefix>-*` entries containing an
// executable entrypoint file. Watch observes the parent directory and runs
// a full Scan again whenever an entry is created, removed or renamed.
type Scanner struct {
	ParentDir string
	Prefix    string
	// EntrypointNames lists candidate entrypoint file names checked inside
	// each `<prefix>-*` directory, in order; the first one found wins.
	EntrypointNames []string
}

// NewScanner returns a Scanner configured for the given parent directory
// and service-directory prefix.
func NewScanner(parentDir, prefix string) *Scanner {
	return &Scanner{
		ParentDir:       parentDir,
		Prefix:          prefix,
		EntrypointNames: []string{"run.py", "app.py", "start.sh"},
	}
}

// Scan performs one synchronous directory listing and returns a synthesized
// Entry (Source unset — the caller/Reconcile fills it in) per discovered
// service directory.
func (s *Scanner) Scan() ([]Entry, error) {
	items, err := os.ReadDir(s.ParentDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Entry
	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		dirName := item.Name()
		if !strings.HasPrefix(dirName, s.Prefix+"-") {
			continue
		}
		name := strings.TrimPrefix(dirName, s.Prefix+"-")
		if !ValidName(name) {
			logging.Warn("registry", "discovered directory %q does not yield a valid service slug, skipping", dirName)
			continue
		}

		fullDir := filepath.Join(s.ParentDir, dirName)
		entrypoint, found := s.findEntrypoint(fullDir)
		if !found {
			continue
		}

		out = append(out, Entry{
			Name:          name,
			DisplayName:   name,
			DirectoryPath: fullDir,
			RunEntrypoint: entrypoint,
			ProcessKind:   ProcessKindManagedPython,
		})
	}
	return out, nil
}

func (s *Scanner) findEntrypoint(dir string) (string, bool) {
	for _, candidate := range s.EntrypointNames {
		path := filepath.Join(dir, candidate)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// Watch blocks, calling onChange with a fresh Scan() result every time a
// directory is created or removed directly under ParentDir, until ctx is
// cancelled. It is the discovery-side analogue of the teacher's config
// hot-reload fsnotify watcher, repurposed from config files to service
// directories.
func (s *Scanner) Watch(ctx context.Context, onChange func([]Entry)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.ParentDir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			entries, err := s.Scan()
			if err != nil {
				logging.Error("registry", err, "rescanning service directory after fsnotify event")
				continue
			}
			onChange(entries)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("registry", err, "fsnotify watcher error on %s", s.ParentDir)
		}
	}
}
