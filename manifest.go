package pollsync

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Manifest is the list of files a run is responsible for. On disk it is
// {"files": [...]} in JSON, or the same shape in YAML.
type Manifest struct {
	Files []string `json:"files" yaml:"files"`
}

// LoadManifest reads and validates a manifest. The format is chosen from the
// file extension; anything other than .yaml/.yml is parsed as JSON.
func LoadManifest(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var raw struct {
		Files *[]string `json:"files" yaml:"files"`
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}
	if raw.Files == nil {
		return nil, fmt.Errorf("%w: %s: missing \"files\" list", ErrInvalidManifest, path)
	}

	for i, name := range *raw.Files {
		if err := validateName(name); err != nil {
			return nil, fmt.Errorf("%w: %s: entry %d: %v", ErrInvalidManifest, path, i, err)
		}
	}

	return &Manifest{Files: *raw.Files}, nil
}
