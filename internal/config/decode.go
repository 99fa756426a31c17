package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// decodeConfig parses raw config bytes into a Config. JSON is decoded
// strictly: unknown fields and trailing data are errors, so a typoed key
// fails loudly instead of silently falling back to a default. YAML files
// are bridged through JSON so both formats share the strict decoder.
func decodeConfig(path string, data []byte) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		b, err := json.Marshal(stringifyKeys(doc))
		if err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		data = b
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// stringifyKeys rewrites every map key in a decoded YAML document to a
// string so the document can be fed to encoding/json.
func stringifyKeys(v any) any {
	switch doc := v.(type) {
	case map[string]any:
		for k, e := range doc {
			doc[k] = stringifyKeys(e)
		}
		return doc
	case map[any]any:
		out := make(map[string]any, len(doc))
		for k, e := range doc {
			out[fmt.Sprint(k)] = stringifyKeys(e)
		}
		return out
	case []any:
		for i, e := range doc {
			doc[i] = stringifyKeys(e)
		}
		return doc
	}
	return v
}

// DurationField parses a duration-valued config field. Empty and zero
// values fall back to def; negative durations are rejected. Errors carry
// the field path so the operator can find the offending line.
func DurationField(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: bad duration %q: %w", field, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
