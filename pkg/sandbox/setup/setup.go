// Package setup builds the sandbox runtime and driver selected by the
// service configuration.
package setup

import (
	"context"
	"fmt"
	"log/slog"

	"sigs.k8s.io/controller-runtime/pkg/client"
	k8sconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/itsbakr/weave-tutor/pkg/classify"
	"github.com/itsbakr/weave-tutor/pkg/config"
	"github.com/itsbakr/weave-tutor/pkg/sandbox"
	"github.com/itsbakr/weave-tutor/pkg/sandbox/agent"
	"github.com/itsbakr/weave-tutor/pkg/sandbox/docker"
	"github.com/itsbakr/weave-tutor/pkg/sandbox/kubernetes"
)

// NewProvisioner returns the agent provisioner for cfg.Runtime.
func NewProvisioner(ctx context.Context, cfg config.SandboxConfig) (agent.Provisioner, error) {
	switch cfg.Runtime {
	case "kubernetes":
		scheme, err := kubernetes.NewScheme()
		if err != nil {
			return nil, err
		}
		restCfg, err := k8sconfig.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
		c, err := client.New(restCfg, client.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		return kubernetes.NewClaimProvisioner(c, kubernetes.Config{
			Template:  cfg.Kubernetes.Template,
			Namespace: cfg.Kubernetes.Namespace,
			AgentPort: cfg.Kubernetes.AgentPort,
			Timeout:   cfg.ProvisionTimeout,
		}), nil
	case "docker":
		cli, err := docker.NewClient(ctx, cfg.Docker.Host)
		if err != nil {
			return nil, err
		}
		return docker.NewContainerProvisioner(cli, docker.Config{
			Image:       cfg.Docker.Image,
			PreviewPort: cfg.Port,
			BindIP:      cfg.Docker.BindIP,
			PublicHost:  cfg.Docker.PublicHost,
			Network:     cfg.Docker.Network,
			Env:         cfg.Docker.Env,
			Memory:      cfg.Docker.MemoryMB << 20,
			NanoCPUs:    int64(cfg.Docker.CPUs * 1e9),
			Timeout:     cfg.ProvisionTimeout,
		}), nil
	case "static":
		return &agent.Static{AgentURL: cfg.Static.AgentURL, Host: cfg.Static.Host, Ports: cfg.Static.Ports}, nil
	default:
		return nil, fmt.Errorf("unknown sandbox runtime %q", cfg.Runtime)
	}
}

// NewRuntime wraps the configured provisioner in an agent runtime.
func NewRuntime(ctx context.Context, cfg config.SandboxConfig) (*agent.Runtime, error) {
	prov, err := NewProvisioner(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("sandbox runtime ready", "runtime", cfg.Runtime)
	return agent.NewRuntime(prov, agent.Config{
		Token:           cfg.AgentToken,
		HealthTimeout:   cfg.ProvisionTimeout,
		PreviewTemplate: cfg.PreviewTemplate,
	}), nil
}

// NewDriver returns a driver over rt with the configured timings.
func NewDriver(rt sandbox.Runtime, c classify.Classifier, cfg config.SandboxConfig) *sandbox.Driver {
	return sandbox.NewDriver(rt, c, sandbox.Config{
		Port:                cfg.Port,
		Public:              true,
		AutoStopInterval:    cfg.AutoStop,
		AutoArchiveInterval: cfg.AutoArchive,
		AutoDeleteInterval:  cfg.AutoDelete,
		ProvisionTimeout:    cfg.ProvisionTimeout,
		SettleDelay:         cfg.SettleDelay,
		PollChecks:          cfg.PollChecks,
		PollInterval:        cfg.PollInterval,
	})
}
