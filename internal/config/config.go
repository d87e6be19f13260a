// Package config loads gethkeeper settings and watches files for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/gethkeeper/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every `env` tag.
const EnvPrefix = "GETHKEEPER_"

var durationType = reflect.TypeOf(time.Duration(0))

// LoadConfig fills opts with precedence: CLI flags > environment > config file.
//
// opts must point to a struct. Fields tagged `toml:"section.key"` are read
// from the TOML file named by the struct's Config field, fields tagged
// `env:"KEY"` from GETHKEEPER_KEY. Fields whose flag was set on cmd are left
// alone. A missing config file is not an error. Values of the wrong type are
// skipped and reported together in the returned error; every other field is
// still applied.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: expected pointer to struct, got %T", opts)
	}
	v = v.Elem()

	file, err := readConfigFile(configPath(v))
	if err != nil {
		return err
	}
	changed := changedFlags(cmd)

	var errs []error
	for i := range v.NumField() {
		sf := v.Type().Field(i)
		if changed[fieldNameToFlag(sf.Name)] {
			continue
		}
		field := v.Field(i)

		if key := sf.Tag.Get("toml"); key != "" && file != nil {
			if raw := getNestedValue(file, key); raw != nil {
				if err := assign(field, raw); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", key, err))
				}
			}
		}
		if key := sf.Tag.Get("env"); key != "" {
			if raw := os.Getenv(EnvPrefix + key); raw != "" {
				if err := assignString(field, raw); err != nil {
					errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// changedFlags returns the names of flags set explicitly on the command line.
func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		changed[f.Name] = true
	})
	return changed
}

// configPath returns the value of the struct's Config field.
func configPath(v reflect.Value) string {
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return ""
}

func readConfigFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		// Missing files fall through to env and defaults.
		return nil, nil
	}
	var values map[string]any
	if err := toml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return values, nil
}

// fieldNameToFlag converts a struct field name to a CLI flag name the way
// humacli does. Acronyms stay together.
// Example: "NodeReadyTimeout" -> "node-ready-timeout", "LoggingAPI" -> "logging-api".
func fieldNameToFlag(fieldName string) string {
	runes := []rune(fieldName)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			afterLower := !unicode.IsUpper(runes[i-1])
			beforeLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if afterLower || beforeLower {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// getNestedValue looks up a dotted path such as "node.ready_timeout".
func getNestedValue(data map[string]any, path string) any {
	section, rest, nested := strings.Cut(path, ".")
	if !nested {
		return data[section]
	}
	child, ok := data[section].(map[string]any)
	if !ok {
		return nil
	}
	return getNestedValue(child, rest)
}

// assign stores a decoded TOML value in field. Strings go through
// assignString, so "2m" works for a duration and "8090" for an int.
// A duration also accepts a number of seconds.
func assign(field reflect.Value, raw any) error {
	if !field.CanSet() {
		return nil
	}
	if s, ok := raw.(string); ok {
		return assignString(field, s)
	}

	if field.Type() == durationType {
		switch n := raw.(type) {
		case int64:
			field.SetInt(int64(time.Duration(n) * time.Second))
			return nil
		case float64:
			field.SetInt(int64(n * float64(time.Second)))
			return nil
		}
		return fmt.Errorf("want duration, got %T", raw)
	}

	switch field.Kind() {
	case reflect.Bool:
		if b, ok := raw.(bool); ok {
			field.SetBool(b)
			return nil
		}
	case reflect.Int, reflect.Int64:
		if n, ok := raw.(int64); ok {
			field.SetInt(n)
			return nil
		}
	case reflect.Slice:
		items, ok := raw.([]any)
		if !ok || field.Type().Elem().Kind() != reflect.String {
			break
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, isStr := item.(string); isStr {
				out = append(out, s)
			}
		}
		field.Set(reflect.ValueOf(out))
		return nil
	}
	return fmt.Errorf("want %s, got %T", field.Type(), raw)
}

// assignString parses s into field. Slices are comma-separated; durations
// take a Go duration or a number of seconds.
func assignString(field reflect.Value, s string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		if d, err := time.ParseDuration(s); err == nil {
			field.SetInt(int64(d))
			return nil
		}
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		field.SetInt(int64(time.Duration(secs) * time.Second))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid bool %q", s)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported type %s", field.Type())
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported type %s", field.Type())
	}
	return nil
}

// LoadLoggingConfig loads logging configuration from a TOML config file.
// Returns default config if file doesn't exist or can't be parsed.
//
//	[logging]
//	level = "info"
//	format = "text"
//	process = "debug"   # any other key is a module level
func LoadLoggingConfig(configPath string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	if configPath == "" {
		return cfg
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var rawConfig struct {
		Logging map[string]any `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &rawConfig); err != nil {
		return cfg
	}

	for key, raw := range rawConfig.Logging {
		value, ok := raw.(string)
		if !ok {
			continue
		}
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}

	return cfg
}
