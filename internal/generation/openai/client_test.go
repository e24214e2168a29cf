package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pagegen/internal/generation"
)

func TestGenerate_Success(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"gpt-4o-mini-2024","choices":[{"message":{"content":"# Roof Repair in Austin\n\nWe fix roofs.\n\n## Why us\n\nFast."}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "gpt-4o-mini"}, nil)
	resp, err := c.Generate(context.Background(), generation.Request{Prompt: "write it"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("model in request = %v", gotBody["model"])
	}
	if resp.Model != "gpt-4o-mini-2024" {
		t.Errorf("Model = %s, want the one reported by the backend", resp.Model)
	}
	if resp.SectionCount != 2 {
		t.Errorf("SectionCount = %d, want 2", resp.SectionCount)
	}
	if resp.WordCount != 12 {
		t.Errorf("WordCount = %d, want 12", resp.WordCount)
	}
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "non-2xx with envelope", status: 429, body: `{"error":{"message":"Rate limit reached"}}`, wantErr: "status 429: Rate limit reached"},
		{name: "non-2xx raw body", status: 502, body: "bad gateway", wantErr: "status 502: bad gateway"},
		{name: "no choices", status: 200, body: `{"choices":[]}`, wantErr: "no choices"},
		{name: "empty content", status: 200, body: `{"choices":[{"message":{"content":"   "}}]}`, wantErr: "empty completion"},
		{name: "malformed json", status: 200, body: `{`, wantErr: "decode completion response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL}, nil)
			_, err := c.Generate(context.Background(), generation.Request{Prompt: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestGenerate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	if _, err := c.Generate(context.Background(), generation.Request{Prompt: "x"}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestGenerate_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 0.001, Burst: 1}, nil)
	if _, err := c.Generate(context.Background(), generation.Request{Prompt: "x"}); err != nil {
		t.Fatalf("first call should use the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Generate(ctx, generation.Request{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Errorf("expected rate limit wait error, got %v", err)
	}
}
