package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, url string, mutate func(*Config)) *HTTPClient {
	t.Helper()
	cfg := Config{
		BaseURL:        url,
		Model:          "gpt-4o-mini",
		Timeout:        2 * time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewHTTPClient(cfg, zaptest.NewLogger(t))
}

func TestHTTPClientSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/query", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "classify this", body.Query)
		assert.Equal(t, "callcenter", body.AgentID)
		assert.Equal(t, "be brief", body.SessionContext["system_prompt"])
		assert.Equal(t, map[string]any{"type": "json_object"}, body.Context["response_format"])

		_ = json.NewEncoder(w).Encode(queryResponse{
			Success:    true,
			Response:   `{"intent":"billing"}`,
			TokensUsed: 42,
			ModelUsed:  "gpt-4o-mini",
			Provider:   "openai",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	resp := c.Complete(context.Background(), Request{
		Prompt:       "classify this",
		SystemPrompt: "be brief",
		Config:       GenerationConfig{Temperature: 0.2, MaxTokens: 200, JSONMode: true},
		Caller:       "test",
	})

	assert.True(t, resp.OK())
	assert.Equal(t, `{"intent":"billing"}`, resp.Content)
	assert.Equal(t, "openai", resp.Provider)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 42, resp.Usage.TotalTokens)
	assert.Equal(t, 1, resp.Attempts)
}

func TestHTTPClientRateLimitedExhaustsAttempts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resp := newTestClient(t, srv.URL, nil).Complete(context.Background(), Request{Prompt: "hi"})

	assert.Equal(t, StatusRateLimited, resp.Status)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.False(t, resp.OK())
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(queryResponse{Success: true, Response: "ok"})
	}))
	defer srv.Close()

	resp := newTestClient(t, srv.URL, nil).Complete(context.Background(), Request{Prompt: "hi"})

	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, 2, resp.Attempts)
}

func TestHTTPClientContentFilteredIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_ = json.NewEncoder(w).Encode(queryResponse{Success: true, FinishReason: "content_filter"})
	}))
	defer srv.Close()

	resp := newTestClient(t, srv.URL, nil).Complete(context.Background(), Request{Prompt: "hi"})

	assert.Equal(t, StatusContentFiltered, resp.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestHTTPClientGatewayFailureIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_ = json.NewEncoder(w).Encode(queryResponse{Success: false, Error: "model unavailable"})
	}))
	defer srv.Close()

	resp := newTestClient(t, srv.URL, nil).Complete(context.Background(), Request{Prompt: "hi"})

	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "model unavailable")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestHTTPClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *Config) {
		cfg.Timeout = 50 * time.Millisecond
		cfg.MaxAttempts = 1
	})
	start := time.Now()
	resp := c.Complete(context.Background(), Request{Prompt: "hi"})

	assert.Equal(t, StatusTimeout, resp.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDisabledClient(t *testing.T) {
	resp := Disabled{}.Complete(context.Background(), Request{Prompt: "hi"})
	assert.Equal(t, StatusError, resp.Status)
	assert.False(t, resp.OK())
}
