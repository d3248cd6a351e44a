package mcpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ClientConfig describes a remote tutorpilot MCP endpoint.
type ClientConfig struct {
	// URL is the streamable HTTP endpoint, e.g. http://localhost:8080/mcp.
	URL string

	// Headers are added to every request (X-API-Key, Authorization).
	Headers map[string]string

	// HTTPClient overrides the base client. Nil selects http.DefaultClient.
	HTTPClient *http.Client
}

// Dial connects to a remote MCP endpoint and completes the handshake.
// The caller closes the returned session.
func Dial(ctx context.Context, cfg ClientConfig) (*mcp.ClientSession, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcp: endpoint URL is required")
	}

	transport := &mcp.StreamableClientTransport{Endpoint: cfg.URL}
	if len(cfg.Headers) > 0 || cfg.HTTPClient != nil {
		base := http.DefaultTransport
		if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
			base = cfg.HTTPClient.Transport
		}
		hc := &http.Client{Transport: &headerTransport{base: base, headers: cfg.Headers}}
		if cfg.HTTPClient != nil {
			hc.Timeout = cfg.HTTPClient.Timeout
		}
		transport.HTTPClient = hc
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "tutorctl", Version: "v1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}
	return session, nil
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
