package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TUTORPILOT_"

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, TUTORPILOT_CONFIG env, ./config.yaml, /etc/tutorpilot/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. TUTORPILOT_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/tutorpilot/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvPrefix + "CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/tutorpilot/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps TUTORPILOT_* environment variables to config
// fields. Malformed numeric or JSON values are reported, not ignored.
func applyEnvOverrides(cfg *Config) error {
	e := envReader{}

	e.int("PORT", &cfg.Server.Port)

	e.str("GENERATOR_URL", &cfg.Generator.BaseURL)
	e.str("GENERATOR_MODEL", &cfg.Generator.Model)
	e.str("GENERATOR_API_KEY", &cfg.Generator.APIKey)
	if cfg.Generator.APIKey == "" {
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			cfg.Generator.APIKey = v
		}
	}

	e.str("SEARXNG_URL", &cfg.Knowledge.SearXNGURL)

	e.str("SANDBOX_RUNTIME", &cfg.Sandbox.Runtime)
	e.int("MAX_ATTEMPTS", &cfg.Sandbox.MaxAttempts)
	e.str("AGENT_TOKEN", &cfg.Sandbox.AgentToken)
	e.str("PREVIEW_TEMPLATE", &cfg.Sandbox.PreviewTemplate)
	e.str("SANDBOX_TEMPLATE", &cfg.Sandbox.Kubernetes.Template)
	e.str("SANDBOX_NAMESPACE", &cfg.Sandbox.Kubernetes.Namespace)
	e.str("SANDBOX_IMAGE", &cfg.Sandbox.Docker.Image)
	e.str("AGENT_URL", &cfg.Sandbox.Static.AgentURL)

	e.str("STORAGE", &cfg.Storage.Type)
	e.int("STORAGE_SIZE", &cfg.Storage.MaxSize)
	e.str("DATABASE_URL", &cfg.Storage.Postgres.DSN)
	e.str("SEED_FILE", &cfg.Storage.SeedFile)

	e.bool("ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	e.str("ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	e.str("ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	e.str("ARCHIVE_ACCESS_KEY", &cfg.Archive.AccessKey)
	e.str("ARCHIVE_SECRET_KEY", &cfg.Archive.SecretKey)

	e.str("AUTH_TYPE", &cfg.Auth.Type)
	e.bool("AUTH_ALLOW_ANONYMOUS", &cfg.Auth.AllowAnonymous)
	e.str("JWT_SECRET", &cfg.Auth.JWT.Secret)
	e.bool("RATE_LIMIT_ENABLED", &cfg.Auth.RateLimit.Enabled)
	e.str("RATE_LIMIT_BACKEND", &cfg.Auth.RateLimit.Backend)
	e.str("REDIS_ADDR", &cfg.Auth.RateLimit.Redis.Addr)

	e.bool("MCP_ENABLED", &cfg.MCP.Enabled)

	e.str("LOG_LEVEL", &cfg.Observability.LogLevel)
	e.str("LOG_FORMAT", &cfg.Observability.LogFormat)

	// TUTORPILOT_API_KEYS: JSON array of API key configs.
	if v := os.Getenv(EnvPrefix + "API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			e.errs = append(e.errs, err)
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	return e.err()
}

type envReader struct {
	errs []error
}

func (e *envReader) str(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func (e *envReader) int(name string, dst *int) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (e *envReader) bool(name string, dst *bool) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = b
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing %sAPI_KEYS JSON: %w", EnvPrefix, err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"generator.api_key_file", cfg.Generator.APIKeyFile, &cfg.Generator.APIKey},
		{"sandbox.agent_token_file", cfg.Sandbox.AgentTokenFile, &cfg.Sandbox.AgentToken},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"archive.secret_key_file", cfg.Archive.SecretKeyFile, &cfg.Archive.SecretKey},
		{"auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
		{"auth.rate_limit.redis.password_file", cfg.Auth.RateLimit.Redis.PasswordFile, &cfg.Auth.RateLimit.Redis.Password},
	}
	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
