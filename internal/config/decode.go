package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON hands .json files through untouched and converts .yaml/.yml to
// JSON, so Parse runs one strict decoder over both formats.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	return out, nil
}

// stringifyKeys rewrites any-keyed YAML maps into string-keyed ones,
// which json.Marshal requires.
func stringifyKeys(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, c := range node {
			node[k] = stringifyKeys(c)
		}
		return node
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, c := range node {
			out[fmt.Sprint(k)] = stringifyKeys(c)
		}
		return out
	case []any:
		for i, c := range node {
			node[i] = stringifyKeys(c)
		}
		return node
	}
	return v
}

// ParseDuration parses a config duration string such as "30s" or "2m".
// Empty means zero; negative values are rejected. path names the field
// in the error message.
func ParseDuration(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: bad duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationDefault is ParseDuration with def substituted for an
// empty or zero value.
func ParseDurationDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDuration(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
