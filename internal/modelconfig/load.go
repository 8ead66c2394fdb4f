package modelconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a model configuration file. YAML (.yaml, .yml), TOML (.toml)
// and JSON (.json) are supported; JSON numbers keep their literal form so
// integers and floats stay distinguishable.
func LoadFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modelconfig: failed to read %s: %w", path, err)
	}

	raw := map[string]interface{}{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("modelconfig: failed to parse YAML %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("modelconfig: failed to parse TOML %s: %w", path, err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("modelconfig: failed to parse JSON %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("modelconfig: unsupported config file format: %s", ext)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	return raw, nil
}

// ValidateFile loads and validates a model configuration file.
func ValidateFile(path string) (*Config, error) {
	raw, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return Validate(raw, path)
}
