package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format represents the file format of a config file.
type Format int

const (
	FormatUnknown Format = iota
	FormatYAML
	FormatTOML
	FormatJSON
)

// detectFormat determines the file format based on extension or content.
func detectFormat(path string, content []byte) Format {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	}

	// Content sniffing for extensionless files
	return sniffFormat(content)
}

// sniffFormat attempts to detect format from content.
func sniffFormat(content []byte) Format {
	trimmed := strings.TrimSpace(string(content))

	if strings.HasPrefix(trimmed, "{") {
		return FormatJSON
	}

	// TOML uses key = value and [tables]; YAML uses key: value.
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, " = ") || strings.HasPrefix(line, "[") {
			return FormatTOML
		}
		if strings.Contains(line, ":") {
			return FormatYAML
		}
	}

	return FormatUnknown
}

// rawConfig is an intermediate representation for parsing.
// It handles the flexible cargo format (string or struct).
type rawConfig struct {
	CacheDir         string          `yaml:"cache_dir" toml:"cache_dir" json:"cache_dir"`
	State            StateConfig     `yaml:"state" toml:"state" json:"state"`
	Transport        TransportConfig `yaml:"transport" toml:"transport" json:"transport"`
	Quota            any             `yaml:"quota" toml:"quota" json:"quota"`
	DisallowReserved bool            `yaml:"disallow_reserved" toml:"disallow_reserved" json:"disallow_reserved"`
	Log              LogConfig       `yaml:"log" toml:"log" json:"log"`
	MetricsTextfile  string          `yaml:"metrics_textfile" toml:"metrics_textfile" json:"metrics_textfile"`
	Cargos           []any           `yaml:"cargos" toml:"cargos" json:"cargos"`
}

// parseCargos converts the flexible cargo format to Cargo structs.
// Cargos can be specified as:
//   - Simple string: "id=manifest-url"
//   - Struct with id, name and manifest_url fields
func parseCargos(raw []any) ([]Cargo, error) {
	cargos := make([]Cargo, 0, len(raw))

	for i, item := range raw {
		switch v := item.(type) {
		case string:
			id, url, ok := strings.Cut(v, "=")
			if !ok {
				return nil, fmt.Errorf("cargos[%d]: expected \"id=manifest-url\", got %q", i, v)
			}
			cargos = append(cargos, Cargo{ID: strings.TrimSpace(id), ManifestURL: strings.TrimSpace(url)})

		case map[string]any:
			cargo := Cargo{}

			if id, ok := v["id"].(string); ok {
				cargo.ID = id
			} else {
				return nil, fmt.Errorf("cargos[%d]: missing or invalid 'id' field", i)
			}
			if name, ok := v["name"].(string); ok {
				cargo.Name = name
			}
			if url, ok := v["manifest_url"].(string); ok {
				cargo.ManifestURL = url
			}

			cargos = append(cargos, cargo)

		default:
			return nil, fmt.Errorf("cargos[%d]: invalid format (expected string or object)", i)
		}
	}

	return cargos, nil
}

// quotaString accepts a byte count as a number or a size string like "2GiB".
func quotaString(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case int:
		return fmt.Sprint(v), nil
	case int64:
		return fmt.Sprint(v), nil
	case uint64:
		return fmt.Sprint(v), nil
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	return "", fmt.Errorf("quota: expected a size, got %T", raw)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns in content.
func expandEnvVars(content []byte) []byte {
	result := envVarPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		parts := envVarPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := string(parts[1])
		value := os.Getenv(varName)

		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			// Use default value
			value = string(parts[2])
		}

		return []byte(value)
	})

	return result
}

// parse parses the content according to the specified format.
func parse(content []byte, format Format) (*Config, error) {
	// Expand environment variables first
	content = expandEnvVars(content)

	var raw rawConfig

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("YAML parse error: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("TOML parse error: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("JSON parse error: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown file format")
	}

	cargos, err := parseCargos(raw.Cargos)
	if err != nil {
		return nil, err
	}
	quota, err := quotaString(raw.Quota)
	if err != nil {
		return nil, err
	}

	return &Config{
		CacheDir:         raw.CacheDir,
		State:            raw.State,
		Transport:        raw.Transport,
		Quota:            quota,
		DisallowReserved: raw.DisallowReserved,
		Log:              raw.Log,
		MetricsTextfile:  raw.MetricsTextfile,
		Cargos:           cargos,
	}, nil
}
