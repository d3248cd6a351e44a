// Command server runs the tutorpilot activity service: activity
// generation, the auto-fix deployment loop, redeploy and chat over HTTP,
// plus an optional MCP endpoint.
//
// Configuration is read from a YAML file and TUTORPILOT_* environment
// variables (see pkg/config). Pass -config to name the file explicitly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/activity"
	"github.com/itsbakr/weave-tutor/pkg/archive"
	"github.com/itsbakr/weave-tutor/pkg/auth"
	"github.com/itsbakr/weave-tutor/pkg/auth/apikey"
	"github.com/itsbakr/weave-tutor/pkg/auth/jwt"
	"github.com/itsbakr/weave-tutor/pkg/classify"
	"github.com/itsbakr/weave-tutor/pkg/config"
	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/deploy"
	"github.com/itsbakr/weave-tutor/pkg/evaluate"
	"github.com/itsbakr/weave-tutor/pkg/knowledge"
	"github.com/itsbakr/weave-tutor/pkg/llm"
	"github.com/itsbakr/weave-tutor/pkg/mcpserver"
	"github.com/itsbakr/weave-tutor/pkg/repair"
	"github.com/itsbakr/weave-tutor/pkg/sandbox/setup"
	"github.com/itsbakr/weave-tutor/pkg/storage"
	"github.com/itsbakr/weave-tutor/pkg/storage/memory"
	"github.com/itsbakr/weave-tutor/pkg/storage/postgres"
	transporthttp "github.com/itsbakr/weave-tutor/pkg/transport/http"
)

var version = "dev"

const startupTimeout = 60 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	debug.Init(debug.Options{
		Categories: cfg.Observability.Debug,
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
	})

	// Bounds dependency checks at startup only.
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Storage.SeedFile != "" {
		if err := seedStore(ctx, store, cfg.Storage.SeedFile); err != nil {
			return err
		}
	}

	generator, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:        cfg.Generator.BaseURL,
		APIKey:         cfg.Generator.APIKey,
		Model:          cfg.Generator.Model,
		Timeout:        cfg.Generator.Timeout,
		MaxRetries:     cfg.Generator.MaxRetries,
		InitialBackoff: cfg.Generator.InitialBackoff,
	})
	if err != nil {
		return fmt.Errorf("creating generator client: %w", err)
	}

	runtime, err := setup.NewRuntime(ctx, cfg.Sandbox)
	if err != nil {
		return err
	}

	classifier := classify.New()
	driver := setup.NewDriver(runtime, classifier, cfg.Sandbox)

	observers := []deploy.Observer{activity.NewFixRecorder(store)}
	if cfg.Archive.Enabled {
		archiver, err := newArchiver(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		observers = append(observers, archiver)
	}

	orchestrator, err := deploy.New(driver, repair.NewGenerator(generator), deploy.Config{
		Classifier: classifier,
		Observers:  observers,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	var research knowledge.Provider
	if cfg.Knowledge.SearXNGURL != "" {
		searcher := knowledge.NewSearXNG(cfg.Knowledge.SearXNGURL, &http.Client{Timeout: cfg.Knowledge.Timeout})
		research = knowledge.NewResearcher(searcher, generator)
		slog.Info("topic research enabled", "searxng", cfg.Knowledge.SearXNGURL)
	}

	workflow, err := activity.New(activity.Config{
		Store:       store,
		Generator:   generator,
		Runner:      orchestrator,
		Releaser:    driver,
		Evaluator:   evaluate.New(generator),
		Knowledge:   research,
		MaxAttempts: cfg.Sandbox.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("creating workflow: %w", err)
	}

	authMiddleware, closeLimiter, err := newAuthMiddleware(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	defer closeLimiter()

	adapterCfg := transporthttp.DefaultConfig()
	adapterCfg.MaxBodySize = cfg.Server.MaxBodySize
	adapterCfg.OperationTimeout = cfg.Server.OperationTimeout
	adapterCfg.DisableMetrics = !cfg.Observability.Metrics.Enabled
	adapterCfg.Ready = store.HealthCheck

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(":" + strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithAdapterConfig(adapterCfg),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	}
	if authMiddleware != nil {
		opts = append(opts, transporthttp.WithMiddleware(authMiddleware))
	}
	srv := transporthttp.NewServer(workflow, opts...)

	if cfg.MCP.Enabled {
		mcpSrv := mcpserver.New(mcpserver.Config{
			Version:    version,
			Classifier: classifier,
			Runner:     orchestrator,
		})
		srv.Adapter().Mount(cfg.MCP.Path, mcpserver.Handler(mcpSrv))
		slog.Info("mcp endpoint enabled", "path", cfg.MCP.Path)
	}

	slog.Info("tutorpilot starting",
		"version", version,
		"port", cfg.Server.Port,
		"model", generator.Model(),
		"sandbox_runtime", cfg.Sandbox.Runtime,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
	)
	return srv.ListenAndServe()
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:              cfg.Postgres.DSN,
			MaxConns:         cfg.Postgres.MaxConns,
			StatementTimeout: cfg.Postgres.StatementTimeout,
			MigrateOnStart:   cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres", "max_conns", cfg.Postgres.MaxConns)
		return store, nil
	default:
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	}
}

func seedStore(ctx context.Context, store storage.Store, path string) error {
	seed, err := storage.LoadSeed(path)
	if err != nil {
		return err
	}
	if err := seed.Apply(ctx, store); err != nil {
		return fmt.Errorf("seeding storage: %w", err)
	}
	slog.Info("storage seeded", "file", path, "students", len(seed.Students), "lessons", len(seed.Lessons))
	return nil
}

func newArchiver(ctx context.Context, cfg config.ArchiveConfig) (*archive.Archiver, error) {
	acfg := archive.Config{
		Endpoint:      cfg.Endpoint,
		AccessKey:     cfg.AccessKey,
		SecretKey:     cfg.SecretKey,
		Region:        cfg.Region,
		UseSSL:        cfg.UseSSL,
		Bucket:        cfg.Bucket,
		Prefix:        cfg.Prefix,
		UploadTimeout: cfg.UploadTimeout,
	}
	mc, err := archive.NewMinIOClient(acfg)
	if err != nil {
		return nil, fmt.Errorf("creating archive client: %w", err)
	}
	a, err := archive.New(ctx, mc, acfg)
	if err != nil {
		return nil, fmt.Errorf("creating archiver: %w", err)
	}
	slog.Info("attempt archive enabled", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return a, nil
}

// newAuthMiddleware builds the authentication chain and rate limiter. It
// returns a nil middleware when auth is off and rate limiting disabled.
func newAuthMiddleware(ctx context.Context, cfg config.AuthConfig) (func(http.Handler) http.Handler, func(), error) {
	noop := func() {}
	chain := &auth.Chain{AllowAnonymous: cfg.AllowAnonymous || cfg.Type == "none"}

	switch cfg.Type {
	case "apikey":
		keys := make([]apikey.Key, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			keys = append(keys, apikey.Key{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:  k.Subject,
					TenantID: k.TenantID,
					Tier:     k.ServiceTier,
					Role:     k.Role,
				},
			})
		}
		chain.Authenticators = append(chain.Authenticators, apikey.New(keys))
	case "jwt":
		a, err := jwt.New(jwt.Config{
			Secret:      cfg.JWT.Secret,
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			TenantClaim: cfg.JWT.TenantClaim,
			TierClaim:   cfg.JWT.TierClaim,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("creating jwt authenticator: %w", err)
		}
		chain.Authenticators = append(chain.Authenticators, a)
	}

	var limiter auth.RateLimiter
	closer := noop
	if cfg.RateLimit.Enabled {
		limits := auth.Limits{Default: cfg.RateLimit.Default, Tiers: cfg.RateLimit.Tiers}
		switch cfg.RateLimit.Backend {
		case "redis":
			rl, err := auth.NewRedisLimiter(ctx, auth.RedisConfig{
				Addr:     cfg.RateLimit.Redis.Addr,
				Password: cfg.RateLimit.Redis.Password,
				DB:       cfg.RateLimit.Redis.DB,
				Prefix:   cfg.RateLimit.Redis.Prefix,
			}, limits)
			if err != nil {
				return nil, noop, err
			}
			limiter = rl
			closer = func() {
				if err := rl.Close(); err != nil {
					slog.Warn("closing rate limiter", "error", err)
				}
			}
		default:
			limiter = auth.NewInProcessLimiter(limits)
		}
		slog.Info("rate limiting enabled", "backend", cfg.RateLimit.Backend, "default_rpm", cfg.RateLimit.Default)
	}

	if cfg.Type == "none" && limiter == nil {
		return nil, closer, nil
	}
	slog.Info("authentication enabled", "type", cfg.Type, "allow_anonymous", chain.AllowAnonymous)
	return auth.Middleware(chain, limiter, auth.DefaultBypassPaths), closer, nil
}
