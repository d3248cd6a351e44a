package mcpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/itsbakr/weave-tutor/pkg/classify"
)

func TestDialSendsHeaders(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	h := Handler(New(Config{}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("X-API-Key"))
		mu.Unlock()
		h.ServeHTTP(w, r)
	}))
	defer srv.Close()

	session, err := Dial(context.Background(), ClientConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-API-Key": "tp-key"},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer session.Close()

	res := call(t, session, "classify_logs", map[string]any{"logs": "Failed to compile."})
	var out ClassifyOutput
	decodeText(t, res, &out)
	if out.Category != classify.CategoryCompilation {
		t.Errorf("category = %q, want %q", out.Category, classify.CategoryCompilation)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(keys) == 0 {
		t.Fatal("no requests reached the server")
	}
	for i, k := range keys {
		if k != "tp-key" {
			t.Errorf("request %d X-API-Key = %q", i, k)
		}
	}
}

func TestDialRequiresURL(t *testing.T) {
	if _, err := Dial(context.Background(), ClientConfig{}); err == nil {
		t.Error("expected error for empty URL")
	}
}
