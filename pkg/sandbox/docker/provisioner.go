// Package docker provisions sandboxes as containers on a Docker Engine.
// Each container runs the preview agent image with the agent and dev
// server ports published on ephemeral host ports.
package docker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/sandbox"
	"github.com/itsbakr/weave-tutor/pkg/sandbox/agent"
)

var _ agent.Provisioner = (*ContainerProvisioner)(nil)

// ContainerAPI is the subset of the Docker client used here.
type ContainerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Config controls the containers created for sandboxes.
type Config struct {
	// Image runs the preview agent (default "tutorpilot/preview-agent:latest").
	Image string

	// AgentPort and PreviewPort are the container ports to publish
	// (defaults 8080 and 3000).
	AgentPort   int
	PreviewPort int

	// BindIP is the host interface for published ports (default 127.0.0.1).
	BindIP string

	// PublicHost is the host name used in agent and preview URLs
	// (default BindIP, or localhost when BindIP is 0.0.0.0).
	PublicHost string

	Network  string
	Env      []string
	Memory   int64
	NanoCPUs int64

	// Timeout bounds the wait for host ports when the request carries none
	// (default 30s).
	Timeout time.Duration
}

// NewClient connects to the Docker daemon from the environment, or to
// host when set, and verifies the connection.
func NewClient(ctx context.Context, host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	ping, err := cli.Ping(ctx)
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		_ = cli.Close()
		return nil, fmt.Errorf("docker ping returned empty API version")
	}
	return cli, nil
}

// ContainerProvisioner runs one container per sandbox.
type ContainerProvisioner struct {
	api ContainerAPI
	cfg Config
}

// NewContainerProvisioner creates a ContainerProvisioner.
func NewContainerProvisioner(api ContainerAPI, cfg Config) *ContainerProvisioner {
	if cfg.Image == "" {
		cfg.Image = "tutorpilot/preview-agent:latest"
	}
	if cfg.AgentPort == 0 {
		cfg.AgentPort = 8080
	}
	if cfg.PreviewPort == 0 {
		cfg.PreviewPort = 3000
	}
	if cfg.BindIP == "" {
		cfg.BindIP = "127.0.0.1"
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = cfg.BindIP
		if cfg.BindIP == "0.0.0.0" {
			cfg.PublicHost = "localhost"
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ContainerProvisioner{api: api, cfg: cfg}
}

// pollInterval is the period between inspections while waiting for host ports.
var pollInterval = 200 * time.Millisecond

// Provision creates and starts a container, then waits until Docker has
// assigned host ports to the agent and preview ports.
func (p *ContainerProvisioner) Provision(ctx context.Context, req sandbox.ProvisionRequest) (*agent.Endpoint, error) {
	name := containerName(req.Name)
	if name == "" {
		return nil, fmt.Errorf("container name cannot be empty")
	}

	agentPort := tcpPort(p.cfg.AgentPort)
	previewPort := tcpPort(p.cfg.PreviewPort)
	ports := nat.PortMap{
		agentPort:   {{HostIP: p.cfg.BindIP, HostPort: ""}},
		previewPort: {{HostIP: p.cfg.BindIP, HostPort: ""}},
	}

	labels := map[string]string{"tutorpilot.managed": "true"}
	for k, v := range req.Labels {
		labels[k] = v
	}

	config := &container.Config{
		Image:        p.cfg.Image,
		Env:          p.cfg.Env,
		Labels:       labels,
		ExposedPorts: nat.PortSet{},
	}
	for port := range ports {
		config.ExposedPorts[port] = struct{}{}
	}

	hostCfg := &container.HostConfig{
		PortBindings: ports,
		Resources: container.Resources{
			Memory:   p.cfg.Memory,
			NanoCPUs: p.cfg.NanoCPUs,
		},
	}
	if p.cfg.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(p.cfg.Network)
	}

	created, err := p.api.ContainerCreate(ctx, config, hostCfg, nil, nil, name)
	if err != nil {
		if cerrdefs.IsResourceExhausted(err) || cerrdefs.IsUnavailable(err) {
			return nil, fmt.Errorf("container create %s: %w: %v", name, sandbox.ErrAtCapacity, err)
		}
		return nil, fmt.Errorf("container create %s: %w", name, err)
	}
	debug.Log("sandbox", "created container", "name", name, "id", created.ID, "image", p.cfg.Image)

	if err := p.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		p.remove(ctx, created.ID)
		return nil, fmt.Errorf("container start %s: %w", name, err)
	}

	timeout := p.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	bindings, err := p.waitForPorts(ctx, created.ID, timeout, agentPort, previewPort)
	if err != nil {
		p.remove(ctx, created.ID)
		return nil, fmt.Errorf("container %s: %w", name, err)
	}

	return &agent.Endpoint{
		ID:       created.ID,
		Name:     name,
		AgentURL: "http://" + p.address(bindings[agentPort]),
		Ports: map[int]string{
			p.cfg.AgentPort:   p.address(bindings[agentPort]),
			p.cfg.PreviewPort: p.address(bindings[previewPort]),
		},
	}, nil
}

// Release force-removes the container and its anonymous volumes. A
// container that is already gone is not an error.
func (p *ContainerProvisioner) Release(ctx context.Context, id string) error {
	err := p.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("container remove %s: %w", id, err)
	}
	debug.Log("sandbox", "removed container", "id", id)
	return nil
}

func (p *ContainerProvisioner) remove(ctx context.Context, id string) {
	if err := p.Release(context.WithoutCancel(ctx), id); err != nil {
		debug.Log("sandbox", "cleanup after failed provision", "id", id, "error", err)
	}
}

func (p *ContainerProvisioner) waitForPorts(ctx context.Context, id string, timeout time.Duration, want ...nat.Port) (map[nat.Port]string, error) {
	deadline := time.Now().Add(timeout)
	for {
		inspect, err := p.api.ContainerInspect(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("container inspect: %w", err)
		}
		if inspect.ContainerJSONBase != nil && inspect.State != nil && !inspect.State.Running && inspect.State.Status == "exited" {
			return nil, fmt.Errorf("exited with code %d before publishing ports", inspect.State.ExitCode)
		}
		var ports nat.PortMap
		if inspect.NetworkSettings != nil {
			ports = inspect.NetworkSettings.Ports
		}
		if found := hostPorts(ports, want); found != nil {
			return found, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no host ports assigned after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// hostPorts returns the first host port bound to each wanted port, or nil
// while any of them is still unassigned.
func hostPorts(ports nat.PortMap, want []nat.Port) map[nat.Port]string {
	found := make(map[nat.Port]string, len(want))
	for _, port := range want {
		for _, binding := range ports[port] {
			if hp := strings.TrimSpace(binding.HostPort); hp != "" {
				found[port] = hp
				break
			}
		}
		if _, ok := found[port]; !ok {
			return nil
		}
	}
	return found
}

func (p *ContainerProvisioner) address(hostPort string) string {
	return p.cfg.PublicHost + ":" + hostPort
}

func tcpPort(port int) nat.Port {
	return nat.Port(strconv.Itoa(port) + "/tcp")
}

// containerName keeps the characters Docker accepts in container names.
func containerName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return strings.TrimLeft(b.String(), "_.-")
}
