package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Every problem is reported with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	if c.Generator.Model == "" {
		errs = append(errs, fmt.Errorf("generator.model is required"))
	}
	if err := validURL(c.Generator.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("generator.base_url: %w", err))
	}
	if c.Generator.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("generator.max_retries must be >= 0, got %d", c.Generator.MaxRetries))
	}

	if c.Knowledge.SearXNGURL != "" {
		if err := validURL(c.Knowledge.SearXNGURL); err != nil {
			errs = append(errs, fmt.Errorf("knowledge.searxng_url: %w", err))
		}
	}

	errs = append(errs, c.Sandbox.validate()...)

	switch c.Storage.Type {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.Type == "postgres" && c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
		errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
	}

	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			errs = append(errs, fmt.Errorf("archive.endpoint is required when archive is enabled"))
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, fmt.Errorf("archive.bucket is required when archive is enabled"))
		}
	}

	errs = append(errs, c.Auth.validate()...)

	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path must start with \"/\", got %q", c.MCP.Path))
	}

	switch c.Observability.LogFormat {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("observability.log_format must be \"text\" or \"json\", got %q", c.Observability.LogFormat))
	}

	return errors.Join(errs...)
}

func (s SandboxConfig) validate() []error {
	var errs []error
	switch s.Runtime {
	case "kubernetes":
		if s.Kubernetes.Template == "" {
			errs = append(errs, fmt.Errorf("sandbox.kubernetes.template is required when sandbox.runtime is \"kubernetes\""))
		}
	case "docker":
		if s.Docker.Image == "" {
			errs = append(errs, fmt.Errorf("sandbox.docker.image is required when sandbox.runtime is \"docker\""))
		}
	case "static":
		if err := validURL(s.Static.AgentURL); err != nil {
			errs = append(errs, fmt.Errorf("sandbox.static.agent_url: %w", err))
		}
		seen := make(map[int]bool, len(s.Static.Ports))
		for _, p := range s.Static.Ports {
			if p <= 0 || p > 65535 {
				errs = append(errs, fmt.Errorf("sandbox.static.ports: %d is not between 1 and 65535", p))
			} else if seen[p] {
				errs = append(errs, fmt.Errorf("sandbox.static.ports: %d is listed twice", p))
			}
			seen[p] = true
		}
	default:
		errs = append(errs, fmt.Errorf("sandbox.runtime must be \"kubernetes\", \"docker\", or \"static\", got %q", s.Runtime))
	}
	if s.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("sandbox.max_attempts must be >= 1, got %d", s.MaxAttempts))
	}
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("sandbox.port must be between 1 and 65535, got %d", s.Port))
	}
	if s.PollChecks < 1 {
		errs = append(errs, fmt.Errorf("sandbox.poll_checks must be >= 1, got %d", s.PollChecks))
	}
	if s.PreviewTemplate != "" && !strings.Contains(s.PreviewTemplate, "{") {
		errs = append(errs, fmt.Errorf("sandbox.preview_template must reference {name}, {id} or {port}"))
	}
	return errs
}

func (a AuthConfig) validate() []error {
	var errs []error
	switch a.Type {
	case "none":
	case "apikey":
		if len(a.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range a.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if a.JWT.Secret == "" && a.JWT.SecretFile == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.secret or auth.jwt.secret_file is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", a.Type))
	}

	if a.RateLimit.Enabled {
		switch a.RateLimit.Backend {
		case "memory":
		case "redis":
			if a.RateLimit.Redis.Addr == "" {
				errs = append(errs, fmt.Errorf("auth.rate_limit.redis.addr is required when the backend is \"redis\""))
			}
		default:
			errs = append(errs, fmt.Errorf("auth.rate_limit.backend must be \"memory\" or \"redis\", got %q", a.RateLimit.Backend))
		}
		if a.RateLimit.Default < 0 {
			errs = append(errs, fmt.Errorf("auth.rate_limit.default must be >= 0, got %d", a.RateLimit.Default))
		}
	}
	return errs
}

func validURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required in %q", raw)
	}
	return nil
}
