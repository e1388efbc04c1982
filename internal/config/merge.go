package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Top-level YAML config key names used for shallow merge.
const (
	keyRemote  = "remote"
	keyBatch   = "batch"
	keyLogging = "logging"
	keyCache   = "cache"
	keyHistory = "history"
	keyMetrics = "metrics"
)

// knownTopLevelKeys lists the YAML keys that correspond to Config sections.
// Keys not in this list are ignored during merge.
//
//nolint:gochecknoglobals // Compile-time constant lookup table.
var knownTopLevelKeys = map[string]bool{
	keyRemote:  true,
	keyBatch:   true,
	keyLogging: true,
	keyCache:   true,
	keyHistory: true,
	keyMetrics: true,
}

// ShallowMergeYAML loads a YAML file and merges its top-level keys onto
// target. A section present in the overlay replaces the whole section in
// target, with fields the overlay omits taking their built-in defaults.
// Absent sections are left unchanged.
func ShallowMergeYAML(target *Config, overlayPath string) error {
	if target == nil {
		return errors.New("nil target *Config in ShallowMergeYAML")
	}

	data, err := os.ReadFile(overlayPath)
	if err != nil {
		return fmt.Errorf("reading overlay file %s: %w", overlayPath, err)
	}

	var overlay map[string]yaml.Node
	if err = yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing overlay YAML from %s: %w", overlayPath, err)
	}

	defaults := Defaults(target.dir())
	for key, node := range overlay {
		if !knownTopLevelKeys[key] {
			continue
		}
		if err = unmarshalSection(target, defaults, key, &node); err != nil {
			return fmt.Errorf("applying overlay section %q: %w", key, err)
		}
	}

	return nil
}

// decodeFresh decodes node over base and stores the result in dst, so the
// section is replaced rather than merged with dst's current values.
func decodeFresh[T any](node *yaml.Node, dst *T, base T) error {
	v := base
	if err := node.Decode(&v); err != nil {
		return err
	}
	*dst = v
	return nil
}

func unmarshalSection(target, defaults *Config, key string, node *yaml.Node) error {
	switch key {
	case keyRemote:
		return decodeFresh(node, &target.Remote, defaults.Remote)
	case keyBatch:
		return decodeFresh(node, &target.Batch, defaults.Batch)
	case keyLogging:
		return decodeFresh(node, &target.Logging, defaults.Logging)
	case keyCache:
		return decodeFresh(node, &target.Cache, defaults.Cache)
	case keyHistory:
		return decodeFresh(node, &target.History, defaults.History)
	case keyMetrics:
		return decodeFresh(node, &target.Metrics, defaults.Metrics)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
}
