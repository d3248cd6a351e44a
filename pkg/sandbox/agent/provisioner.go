package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/itsbakr/weave-tutor/pkg/sandbox"
)

// Endpoint locates a provisioned sandbox and the preview agent inside it.
type Endpoint struct {
	// ID is the provisioner's handle, passed back to Release.
	ID   string
	Name string

	// AgentURL is the base URL of the preview agent, e.g. http://10.0.0.4:8080.
	AgentURL string

	// Ports maps container ports to published host:port addresses.
	Ports map[int]string

	// Host serves any port not listed in Ports.
	Host string

	// Dir is the project directory relative to the agent root. Empty
	// selects the root itself.
	Dir string

	// DevPort, when non-zero, replaces the driver's dev server port.
	DevPort int

	// open sessions, guarded by the Runtime's mutex
	sessions map[string]bool
}

// Provisioner creates and releases the compute behind a sandbox. The
// agent Runtime drives everything after the agent answers its health check.
type Provisioner interface {
	Provision(ctx context.Context, req sandbox.ProvisionRequest) (*Endpoint, error)
	Release(ctx context.Context, id string) error
}

// Static is a Provisioner for a single long-running preview agent, used
// in development. Each sandbox gets its own directory under the agent
// root and its own dev server port from Ports. With Ports empty only one
// sandbox may be live at a time, on the driver's default port.
type Static struct {
	AgentURL string
	Host     string
	Ports    []int

	mu     sync.Mutex
	leases map[string]int
}

var _ Provisioner = (*Static)(nil)

// Provision leases a free port to the requested name.
func (s *Static) Provision(_ context.Context, req sandbox.ProvisionRequest) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leases[req.Name]; ok {
		return nil, fmt.Errorf("sandbox %s is already live on %s", req.Name, s.AgentURL)
	}
	port, ok := s.freePort()
	if !ok {
		return nil, fmt.Errorf("static agent %s has no free preview port (%d live sandboxes): %w",
			s.AgentURL, len(s.leases), sandbox.ErrAtCapacity)
	}
	if s.leases == nil {
		s.leases = make(map[string]int)
	}
	s.leases[req.Name] = port
	return &Endpoint{
		ID:       req.Name,
		Name:     req.Name,
		AgentURL: s.AgentURL,
		Host:     s.Host,
		Dir:      workdir(req.Name),
		DevPort:  port,
	}, nil
}

// Release returns the sandbox's port to the pool. Project files stay on
// the agent until the directory is reused or removed by hand.
func (s *Static) Release(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.leases, id)
	s.mu.Unlock()
	return nil
}

// Live reports how many sandboxes hold a port.
func (s *Static) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leases)
}

func (s *Static) freePort() (int, bool) {
	pool := s.Ports
	if len(pool) == 0 {
		pool = []int{0}
	}
	used := make(map[int]bool, len(s.leases))
	for _, p := range s.leases {
		used[p] = true
	}
	for _, p := range pool {
		if !used[p] {
			return p, true
		}
	}
	return 0, false
}

// workdir turns a sandbox name into a single path element.
func workdir(name string) string {
	dir := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, name)
	if dir == "" {
		return "sandbox"
	}
	return dir
}
