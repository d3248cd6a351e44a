// Package kubernetes provisions sandboxes as agent-sandbox SandboxClaims.
// The claimed pod runs the preview agent; its service FQDN becomes the
// agent and preview host.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/sandbox"
	"github.com/itsbakr/weave-tutor/pkg/sandbox/agent"
)

var _ agent.Provisioner = (*ClaimProvisioner)(nil)

// Config selects the template and namespace for claims.
type Config struct {
	Template  string
	Namespace string

	// AgentPort is the preview agent's port inside the pod (default 8080).
	AgentPort int

	// Timeout bounds the wait for the Sandbox to become ready when the
	// request carries none (default 90s).
	Timeout time.Duration
}

// ClaimProvisioner creates one SandboxClaim per sandbox and deletes it on
// release.
type ClaimProvisioner struct {
	client client.Client
	cfg    Config
}

// NewClaimProvisioner creates a ClaimProvisioner.
func NewClaimProvisioner(c client.Client, cfg Config) *ClaimProvisioner {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.AgentPort == 0 {
		cfg.AgentPort = 8080
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &ClaimProvisioner{client: c, cfg: cfg}
}

// NewScheme returns a runtime.Scheme with the agent-sandbox types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	if err := extensionsv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register extensions types: %w", err)
	}
	return scheme, nil
}

// Provision creates a SandboxClaim and waits for its Sandbox to report
// Ready with a service FQDN.
func (p *ClaimProvisioner) Provision(ctx context.Context, req sandbox.ProvisionRequest) (*agent.Endpoint, error) {
	name := claimName(req.Name)

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: p.cfg.Namespace,
			Labels:    labelValues(req.Labels),
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{
				Name: p.cfg.Template,
			},
		},
	}
	if err := p.client.Create(ctx, claim); err != nil {
		if apierrors.IsForbidden(err) || apierrors.IsTooManyRequests(err) {
			return nil, fmt.Errorf("create SandboxClaim %q: %w: %v", name, sandbox.ErrAtCapacity, err)
		}
		return nil, fmt.Errorf("create SandboxClaim %q: %w", name, err)
	}
	debug.Log("sandbox", "created SandboxClaim", "name", name, "namespace", p.cfg.Namespace, "template", p.cfg.Template)

	timeout := p.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	fqdn, err := p.waitForReady(ctx, name, timeout)
	if err != nil {
		p.deleteClaim(context.WithoutCancel(ctx), name)
		return nil, err
	}

	return &agent.Endpoint{
		ID:       name,
		Name:     name,
		AgentURL: fmt.Sprintf("http://%s:%d", fqdn, p.cfg.AgentPort),
		Host:     fqdn,
	}, nil
}

// Release deletes the SandboxClaim. A claim that is already gone is not
// an error.
func (p *ClaimProvisioner) Release(ctx context.Context, id string) error {
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{Name: id, Namespace: p.cfg.Namespace},
	}
	if err := p.client.Delete(ctx, claim); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete SandboxClaim %q: %w", id, err)
	}
	debug.Log("sandbox", "deleted SandboxClaim", "name", id, "namespace", p.cfg.Namespace)
	return nil
}

// pollInterval is the period between Sandbox status reads.
var pollInterval = 500 * time.Millisecond

func (p *ClaimProvisioner) waitForReady(ctx context.Context, name string, timeout time.Duration) (string, error) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for Sandbox %q: %w", name, ctx.Err())
		case <-deadline:
			return "", fmt.Errorf("timeout waiting for Sandbox %q to become ready (waited %s)", name, timeout)
		case <-ticker.C:
			sb := &sandboxv1alpha1.Sandbox{}
			key := types.NamespacedName{Name: name, Namespace: p.cfg.Namespace}
			if err := p.client.Get(ctx, key, sb); err != nil {
				// The controller has not created the Sandbox yet.
				debug.Log("sandbox", "waiting for Sandbox", "name", name, "error", err.Error())
				continue
			}
			if isReady(sb) && sb.Status.ServiceFQDN != "" {
				return sb.Status.ServiceFQDN, nil
			}
		}
	}
}

func isReady(sb *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sb.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) && c.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

func (p *ClaimProvisioner) deleteClaim(ctx context.Context, name string) {
	if err := p.Release(ctx, name); err != nil {
		slog.Warn("failed to delete SandboxClaim", "name", name, "namespace", p.cfg.Namespace, "error", err.Error())
	}
}

// claimName turns a sandbox name into a DNS-1123 label.
func claimName(s string) string {
	name := dns1123(s, 63)
	if name == "" {
		name = fmt.Sprintf("tp-%d", time.Now().UnixNano())
	}
	return name
}

func labelValues(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = dns1123(v, 63)
	}
	return out
}

func dns1123(s string, max int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == ' ':
			b.WriteByte('-')
		}
	}
	out := b.String()
	if len(out) > max {
		out = out[:max]
	}
	return strings.Trim(out, "-")
}
