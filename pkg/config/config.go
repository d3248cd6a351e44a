// Package config provides unified configuration for the tutorpilot server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (TUTORPILOT_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the tutorpilot server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Generator     GeneratorConfig     `yaml:"generator"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Storage       StorageConfig       `yaml:"storage"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Auth          AuthConfig          `yaml:"auth"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 15m
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 1 MiB

	// OperationTimeout bounds a single create, redeploy or chat call.
	OperationTimeout time.Duration `yaml:"operation_timeout"` // default: 10m
}

// GeneratorConfig points at an OpenAI-compatible chat completions API.
type GeneratorConfig struct {
	BaseURL        string        `yaml:"base_url"`        // default: https://api.openai.com/v1
	APIKey         string        `yaml:"api_key"`
	APIKeyFile     string        `yaml:"api_key_file"`    // _file variant for api_key
	Model          string        `yaml:"model"`           // required
	Timeout        time.Duration `yaml:"timeout"`         // default: 120s
	MaxRetries     int           `yaml:"max_retries"`     // default: 3
	InitialBackoff time.Duration `yaml:"initial_backoff"` // default: 1s
}

// KnowledgeConfig holds topic research settings.
type KnowledgeConfig struct {
	// SearXNGURL enables research when set.
	SearXNGURL string        `yaml:"searxng_url"`
	Timeout    time.Duration `yaml:"timeout"` // default: 15s
}

// SandboxConfig selects the sandbox runtime and the deployment timings.
type SandboxConfig struct {
	Runtime string `yaml:"runtime"` // "kubernetes", "docker" or "static", default: "static"

	// MaxAttempts is the default auto-fix attempt budget (default 3).
	MaxAttempts int `yaml:"max_attempts"`

	Port             int           `yaml:"port"`              // default: 3000
	ProvisionTimeout time.Duration `yaml:"provision_timeout"` // default: 90s
	SettleDelay      time.Duration `yaml:"settle_delay"`      // default: 10s
	PollChecks       int           `yaml:"poll_checks"`       // default: 3
	PollInterval     time.Duration `yaml:"poll_interval"`     // default: 5s
	AutoStop         time.Duration `yaml:"auto_stop"`         // default: 120m
	AutoArchive      time.Duration `yaml:"auto_archive"`      // default: 24h
	AutoDelete       time.Duration `yaml:"auto_delete"`       // default: 180m

	// AgentToken authenticates calls to the preview agent.
	AgentToken     string `yaml:"agent_token"`
	AgentTokenFile string `yaml:"agent_token_file"` // _file variant for agent_token

	// PreviewTemplate builds preview URLs from {name}, {id} and {port}.
	PreviewTemplate string `yaml:"preview_template"`

	Kubernetes KubernetesSandboxConfig `yaml:"kubernetes"`
	Docker     DockerSandboxConfig     `yaml:"docker"`
	Static     StaticSandboxConfig     `yaml:"static"`
}

// KubernetesSandboxConfig holds agent-sandbox claim settings.
type KubernetesSandboxConfig struct {
	Template  string `yaml:"template"`   // SandboxTemplate name, required for runtime=kubernetes
	Namespace string `yaml:"namespace"`  // default: "default"
	AgentPort int    `yaml:"agent_port"` // default: 8080
}

// DockerSandboxConfig holds Docker Engine settings.
type DockerSandboxConfig struct {
	Host       string   `yaml:"host"` // default: from DOCKER_HOST
	Image      string   `yaml:"image"`
	BindIP     string   `yaml:"bind_ip"`
	PublicHost string   `yaml:"public_host"`
	Network    string   `yaml:"network"`
	Env        []string `yaml:"env"`
	MemoryMB   int64    `yaml:"memory_mb"`
	CPUs       float64  `yaml:"cpus"`
}

// StaticSandboxConfig points at a single long-running preview agent.
type StaticSandboxConfig struct {
	AgentURL string `yaml:"agent_url"` // required for runtime=static
	Host     string `yaml:"host"`

	// Ports are handed out one per live sandbox; their count caps
	// concurrent previews (default 3000-3003).
	Ports []int `yaml:"ports"`
}

// StorageConfig holds state management settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`

	// SeedFile lists students and lessons loaded at startup.
	SeedFile string `yaml:"seed_file"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false

	StatementTimeout time.Duration `yaml:"statement_timeout"` // default: 30s
}

// ArchiveConfig enables attempt snapshots in an S3-compatible bucket.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	SecretKeyFile string        `yaml:"secret_key_file"` // _file variant for secret_key
	Region        string        `yaml:"region"`
	UseSSL        bool          `yaml:"use_ssl"`
	Bucket        string        `yaml:"bucket"`
	Prefix        string        `yaml:"prefix"`
	UploadTimeout time.Duration `yaml:"upload_timeout"` // default: 10s
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type           string          `yaml:"type"` // "none", "apikey" or "jwt", default: "none"
	AllowAnonymous bool            `yaml:"allow_anonymous"`
	APIKeys        []APIKeyConfig  `yaml:"api_keys"`
	JWT            JWTConfig       `yaml:"jwt"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	TenantID    string `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
	Role        string `yaml:"role" json:"role"`
}

// JWTConfig holds HS256 bearer token settings.
type JWTConfig struct {
	Secret      string `yaml:"secret"`
	SecretFile  string `yaml:"secret_file"` // _file variant for secret
	Issuer      string `yaml:"issuer"`
	Audience    string `yaml:"audience"`     // default: "authenticated"
	TenantClaim string `yaml:"tenant_claim"` // default: "tenant_id"
	TierClaim   string `yaml:"tier_claim"`   // default: "tier"
}

// RateLimitConfig holds per-identity request limits.
type RateLimitConfig struct {
	Enabled bool           `yaml:"enabled"`
	Backend string         `yaml:"backend"` // "memory" or "redis", default: "memory"
	Default int            `yaml:"default"` // requests per minute, default: 60
	Tiers   map[string]int `yaml:"tiers"`
	Redis   RedisConfig    `yaml:"redis"`
}

// RedisConfig locates the shared rate limit counters.
type RedisConfig struct {
	Addr         string `yaml:"addr"` // default: localhost:6379
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
	Prefix       string `yaml:"prefix"` // default: "tutorpilot:ratelimit"
}

// MCPConfig exposes the deployment tools over MCP.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: "/mcp"
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	Debug     string        `yaml:"debug"`      // comma-separated debug categories
	LogLevel  string        `yaml:"log_level"`  // default: "info"
	LogFormat string        `yaml:"log_format"` // "text" or "json", default: "text"
	Metrics   MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // default: true
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     15 * time.Minute,
			ShutdownTimeout:  30 * time.Second,
			MaxBodySize:      1 << 20,
			OperationTimeout: 10 * time.Minute,
		},
		Generator: GeneratorConfig{
			BaseURL:        "https://api.openai.com/v1",
			Timeout:        120 * time.Second,
			MaxRetries:     3,
			InitialBackoff: time.Second,
		},
		Knowledge: KnowledgeConfig{
			Timeout: 15 * time.Second,
		},
		Sandbox: SandboxConfig{
			Runtime:          "static",
			MaxAttempts:      3,
			Port:             3000,
			ProvisionTimeout: 90 * time.Second,
			SettleDelay:      10 * time.Second,
			PollChecks:       3,
			PollInterval:     5 * time.Second,
			AutoStop:         120 * time.Minute,
			AutoArchive:      24 * time.Hour,
			AutoDelete:       180 * time.Minute,
			Kubernetes: KubernetesSandboxConfig{
				Namespace: "default",
				AgentPort: 8080,
			},
			Docker: DockerSandboxConfig{
				Image:  "tutorpilot/preview-agent:latest",
				BindIP: "127.0.0.1",
			},
			Static: StaticSandboxConfig{
				AgentURL: "http://localhost:8081",
				Host:     "localhost",
				Ports:    []int{3000, 3001, 3002, 3003},
			},
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Archive: ArchiveConfig{
			Prefix:        "attempts",
			UploadTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Type: "none",
			JWT: JWTConfig{
				Audience:    "authenticated",
				TenantClaim: "tenant_id",
				TierClaim:   "tier",
			},
			RateLimit: RateLimitConfig{
				Backend: "memory",
				Default: 60,
				Redis: RedisConfig{
					Addr:   "localhost:6379",
					Prefix: "tutorpilot:ratelimit",
				},
			},
		},
		MCP: MCPConfig{
			Path: "/mcp",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "text",
			Metrics:   MetricsConfig{Enabled: true},
		},
	}
}
