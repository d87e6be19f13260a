package geth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pelletier/go-toml/v2/unstable"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNestedOptions is returned when an option file contains tables or mappings.
	// Daemon options are flat: every key maps to one flag.
	ErrNestedOptions = errors.New("nested options are not supported")

	// ErrUnsupportedFormat is returned for option files that are neither TOML nor YAML.
	ErrUnsupportedFormat = errors.New("unsupported options file format")
)

// LoadOptions reads daemon options from a TOML or YAML file.
// Keys keep the order they appear in the file.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading options file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return ParseTOML(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// ParseTOML parses flat TOML key/values into options.
func ParseTOML(data []byte) (*Options, error) {
	var values map[string]any
	if err := toml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse TOML options: %w", err)
	}

	// The decoder loses key order, so walk the document again for it.
	opts := NewOptions()
	p := unstable.Parser{}
	p.Reset(data)
	for p.NextExpression() {
		expr := p.Expression()
		switch expr.Kind {
		case unstable.Table, unstable.ArrayTable:
			return nil, ErrNestedOptions
		case unstable.KeyValue:
			var parts []string
			it := expr.Key()
			for it.Next() {
				parts = append(parts, string(it.Node().Data))
			}
			if len(parts) != 1 {
				return nil, fmt.Errorf("%w: %s", ErrNestedOptions, strings.Join(parts, "."))
			}
			key := parts[0]
			value, ok := values[key]
			if !ok {
				continue
			}
			if _, nested := value.(map[string]any); nested {
				return nil, fmt.Errorf("%w: %s", ErrNestedOptions, key)
			}
			opts.Set(key, value)
		}
	}
	if err := p.Error(); err != nil {
		return nil, fmt.Errorf("failed to parse TOML options: %w", err)
	}

	return opts, nil
}

// ParseYAML parses a flat YAML mapping into options.
func ParseYAML(data []byte) (*Options, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML options: %w", err)
	}

	opts := NewOptions()
	if len(doc.Content) == 0 {
		return opts, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("YAML options must be a mapping, got line %d", root.Line)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valueNode := root.Content[i], root.Content[i+1]
		if valueNode.Kind == yaml.MappingNode {
			return nil, fmt.Errorf("%w: %s", ErrNestedOptions, keyNode.Value)
		}
		var value any
		if err := valueNode.Decode(&value); err != nil {
			return nil, fmt.Errorf("decoding option %q: %w", keyNode.Value, err)
		}
		opts.Set(keyNode.Value, value)
	}

	return opts, nil
}
