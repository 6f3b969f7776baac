package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ApplyOverrides merges command-line overrides onto a loaded configuration
// and validates the result.
//
// Keys are dotted config paths ("adapters.http.port"); values may be strings
// as typed on the command line and are converted weakly ("8080" to int,
// "30s" to time.Duration, "true" to bool). Fields not named keep their value.
// Unknown keys are an error.
func ApplyOverrides(cfg *Config, overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}

	nested, err := expandKeys(overrides)
	if err != nil {
		return err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create override decoder: %w", err)
	}

	if err := decoder.Decode(nested); err != nil {
		return fmt.Errorf("invalid override: %w", err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed after overrides: %w", err)
	}
	return nil
}

// expandKeys turns {"a.b.c": v} into {"a": {"b": {"c": v}}}.
func expandKeys(flat map[string]any) (map[string]any, error) {
	out := make(map[string]any)

	for key, value := range flat {
		parts := strings.Split(key, ".")
		node := out

		for i, part := range parts {
			if part == "" {
				return nil, fmt.Errorf("invalid override key %q", key)
			}
			if i == len(parts)-1 {
				node[part] = value
				break
			}

			child, ok := node[part]
			if !ok {
				next := make(map[string]any)
				node[part] = next
				node = next
				continue
			}
			next, ok := child.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("override key %q conflicts with %q", key, part)
			}
			node = next
		}
	}

	return out, nil
}
