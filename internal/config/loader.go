// Package config loads the edgecache configuration from defaults, files and the
// environment, and watches the file for rule changes.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the prefix of environment overrides.
const DefaultEnvPrefix = "EDGECACHE"

// Keys whose environment values are comma separated lists.
var listKeys = map[string]bool{
	"server.excludedPaths":  true,
	"server.trustedProxies": true,
	"rateLimit.exemptIPs":   true,
	"cache.paths":           true,
}

// Loader hydrates the runtime configuration with env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a loader. Files are merged in order; empty paths are skipped.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Files returns the configured file paths.
func (l *Loader) Files() []string {
	out := make([]string, 0, len(l.files))
	for _, f := range l.files {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Load assembles and validates the effective configuration.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	// Env keys arrive lower-cased; map them back onto the camelCase keys the
	// defaults define so both sources merge into the same entries.
	canonical := make(map[string]string)
	for _, key := range k.Keys() {
		canonical[strings.ToLower(key)] = key
	}

	for _, path := range l.Files() {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(key, value string) (string, any) {
			// Double underscores signal a nested path (STORE__ADDRESS -> store.address).
			key = strings.TrimPrefix(key, l.envPrefix+"_")
			key = strings.ToLower(strings.ReplaceAll(key, "__", "."))
			if mapped, ok := canonical[key]; ok {
				key = mapped
			}
			if listKeys[key] {
				return key, splitList(value)
			}
			return key, value
		}
		if err := k.Load(env.ProviderWithValue(l.envPrefix+"_", ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"upstream":          cfg.Server.Upstream,
			"apiPrefix":         cfg.Server.APIPrefix,
			"trustForwardedFor": cfg.Server.TrustForwardedFor,
			"identityHeader":    cfg.Server.IdentityHeader,
			"trustedProxies":    cfg.Server.TrustedProxies,
			"excludedPaths":     cfg.Server.ExcludedPaths,
			"shutdownTimeout":   cfg.Server.ShutdownTimeout.String(),
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"pretty": cfg.Logging.Pretty,
		},
		"store": map[string]any{
			"driver":           cfg.Store.Driver,
			"address":          cfg.Store.Address,
			"username":         cfg.Store.Username,
			"password":         cfg.Store.Password,
			"db":               cfg.Store.DB,
			"connectTimeout":   cfg.Store.ConnectTimeout.String(),
			"operationTimeout": cfg.Store.OperationTimeout.String(),
			"healthInterval":   cfg.Store.HealthInterval.String(),
			"tls": map[string]any{
				"enabled": cfg.Store.TLS.Enabled,
				"caFile":  cfg.Store.TLS.CAFile,
			},
		},
		"rateLimit": map[string]any{
			"enabled":       cfg.RateLimit.Enabled,
			"defaultLimit":  cfg.RateLimit.DefaultLimit,
			"windowSeconds": cfg.RateLimit.WindowSeconds,
			"exemptIPs":     cfg.RateLimit.ExemptIPs,
		},
		"cache": map[string]any{
			"enabled":          cfg.Cache.Enabled,
			"namespace":        cfg.Cache.Namespace,
			"listTTLSeconds":   cfg.Cache.ListTTLSeconds,
			"detailTTLSeconds": cfg.Cache.DetailTTLSeconds,
			"paths":            cfg.Cache.Paths,
			"maxBodyBytes":     cfg.Cache.MaxBodyBytes,
		},
		"admin": map[string]any{
			"enabled": cfg.Admin.Enabled,
		},
	}
}
