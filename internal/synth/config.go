package synth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type stackFile struct {
	Config map[string]interface{} `yaml:"config"`
}

// LoadStackConfig reads Pulumi.<stack>.yaml in dir and returns its config as
// fully qualified string values. Structured values are JSON encoded the way
// the engine passes them to programs. Secure values cannot be decrypted
// offline and are skipped.
func LoadStackConfig(dir, stack string) (map[string]string, error) {
	path := filepath.Join(dir, fmt.Sprintf("Pulumi.%s.yaml", stack))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stack config: %w", err)
	}

	var f stackFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg := make(map[string]string, len(f.Config))
	for k, v := range f.Config {
		switch val := v.(type) {
		case string:
			cfg[k] = val
		case map[string]interface{}:
			if _, secure := val["secure"]; secure {
				continue
			}
			b, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encoding %s: %w", k, err)
			}
			cfg[k] = string(b)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encoding %s: %w", k, err)
			}
			cfg[k] = string(b)
		}
	}
	return cfg, nil
}
