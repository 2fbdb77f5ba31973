// Package config loads flag values from YAML files for kong.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// YAML is a kong.ConfigurationLoader reading flag values from a YAML document.
//
// Keys are flag names. Nested maps are joined with "-", so
//
//	postgres:
//	  conn-string: postgres://...
//
// sets --postgres-conn-string. Underscores in keys are treated as dashes.
// Flags given on the command line take precedence.
func YAML(r io.Reader) (kong.Resolver, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	values := make(map[string]string)
	if err := flatten("", doc, values); err != nil {
		return nil, err
	}

	return kong.ResolverFunc(func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		v, ok := values[flag.Name]
		if !ok {
			return nil, nil
		}
		return v, nil
	}), nil
}

func flatten(prefix string, in map[string]any, out map[string]string) error {
	for key, raw := range in {
		name := strings.ReplaceAll(key, "_", "-")
		if prefix != "" {
			name = prefix + "-" + name
		}

		switch v := raw.(type) {
		case map[string]any:
			if err := flatten(name, v, out); err != nil {
				return err
			}
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				if _, nested := item.(map[string]any); nested {
					return fmt.Errorf("config key %q: lists of maps are not supported", name)
				}
				items = append(items, fmt.Sprint(item))
			}
			out[name] = strings.Join(items, ",")
		case nil:
			// explicit null leaves the default
		default:
			out[name] = fmt.Sprint(v)
		}
	}
	return nil
}
