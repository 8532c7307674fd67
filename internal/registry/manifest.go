package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"helm/internal/apierr"
)

// LoadManifest reads the static service manifest from path. YAML is
// accepted alongside JSON (.yaml/.yml extension) since operators tend to
// hand-author manifests and YAML is friendlier for that.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, apierr.Wrap(apierr.KindStorageError, "reading service manifest", err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Manifest{}, apierr.Wrap(apierr.KindConfigInvalid, "service manifest is not valid YAML", err)
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return Manifest{}, apierr.Wrap(apierr.KindConfigInvalid, "service manifest is not valid JSON", err)
		}
	}
	return m, nil
}
