package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/circuitbreaker"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/metrics"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/tracing"
)

const maxAttemptsCap = 3

// Config configures the gateway client.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	Endpoint       string        `mapstructure:"endpoint"`
	AgentID        string        `mapstructure:"agent_id"`
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	LimitsPath     string        `mapstructure:"limits_path"`
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://llm-service:8000"
	}
	if c.Endpoint == "" {
		c.Endpoint = "/agent/query"
	}
	if c.AgentID == "" {
		c.AgentID = "callcenter"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 || c.MaxAttempts > maxAttemptsCap {
		c.MaxAttempts = maxAttemptsCap
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
}

// HTTPClient calls the LLM gateway's agent query endpoint.
type HTTPClient struct {
	cfg        Config
	http       *circuitbreaker.HTTPWrapper
	provider   string
	requests   *rate.Limiter
	tokens     *rate.Limiter
	logger     *zap.Logger
	newBackoff func() backoff.BackOff
}

// NewHTTPClient builds a gateway client. A missing limits file falls back to built-in limits.
func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	var limits *Limits
	if cfg.LimitsPath != "" {
		l, err := LoadLimits(cfg.LimitsPath)
		if err != nil {
			logger.Warn("Using built-in LLM rate limits", zap.Error(err))
		} else {
			limits = l
		}
	}
	provider := DetectProvider(cfg.Model)
	limit := limits.ForProvider(provider)

	c := &HTTPClient{
		cfg:      cfg,
		http:     circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout + time.Second}, "llm-gateway", "llm", logger),
		provider: provider,
		requests: limit.RequestLimiter(),
		tokens:   limit.TokenLimiter(),
		logger:   logger,
	}
	c.newBackoff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.InitialBackoff
		b.MaxInterval = cfg.MaxBackoff
		b.MaxElapsedTime = 0
		return b
	}
	logger.Info("LLM client configured",
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
		zap.String("provider", provider),
		zap.Int("rpm", limit.RPM),
		zap.Int("max_attempts", cfg.MaxAttempts),
	)
	return c
}

// Breaker exposes the gateway breaker for health reporting.
func (c *HTTPClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.http.Breaker()
}

type queryRequest struct {
	Query          string         `json:"query"`
	AgentID        string         `json:"agent_id"`
	Context        map[string]any `json:"context"`
	SessionContext map[string]any `json:"session_context,omitempty"`
}

type queryResponse struct {
	Success      bool   `json:"success"`
	Response     string `json:"response"`
	TokensUsed   int    `json:"tokens_used"`
	ModelUsed    string `json:"model_used"`
	Provider     string `json:"provider"`
	FinishReason string `json:"finish_reason"`
	Error        string `json:"error"`
}

// attemptError carries the status of a failed attempt through the retry loop.
type attemptError struct {
	status Status
	msg    string
}

func (e *attemptError) Error() string { return fmt.Sprintf("%s: %s", e.status, e.msg) }

// Complete runs the request with bounded retries. It never returns a Go error.
func (c *HTTPClient) Complete(ctx context.Context, req Request) Response {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "llm.complete")
	defer span.End()

	var (
		out      Response
		attempts int
	)
	op := func() error {
		attempts++
		if err := c.wait(ctx, req); err != nil {
			return backoff.Permanent(&attemptError{status: StatusTimeout, msg: err.Error()})
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.once(attemptCtx, req)
		if err == nil {
			out = resp
			return nil
		}
		var ae *attemptError
		if errors.As(err, &ae) && !retryable(ae.status) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(&attemptError{status: StatusTimeout, msg: ctx.Err().Error()})
		}
		c.logger.Debug("LLM attempt failed",
			zap.String("caller", req.Caller),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackoff(), uint64(c.cfg.MaxAttempts-1)), ctx)
	err := backoff.Retry(op, policy)
	if err != nil {
		out = Response{Status: StatusError, Error: err.Error()}
		var ae *attemptError
		switch {
		case errors.As(err, &ae):
			out.Status = ae.status
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			out.Status = StatusTimeout
		}
		tracing.RecordError(span, err)
		c.logger.Warn("LLM completion failed",
			zap.String("caller", req.Caller),
			zap.String("status", string(out.Status)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	out.Attempts = attempts
	out.Latency = time.Since(start)
	if out.Provider == "" {
		out.Provider = c.provider
	}
	tokens := 0
	if out.Usage != nil {
		tokens = out.Usage.TotalTokens
	}
	metrics.RecordLLMRequest(out.Provider, string(out.Status), out.Latency.Seconds(), tokens)
	return out
}

func (c *HTTPClient) wait(ctx context.Context, req Request) error {
	if c.requests != nil {
		if err := c.requests.Wait(ctx); err != nil {
			return err
		}
	}
	if c.tokens != nil {
		n := estimateTokens(req)
		if n > c.tokens.Burst() {
			n = c.tokens.Burst()
		}
		if err := c.tokens.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (c *HTTPClient) once(ctx context.Context, req Request) (Response, error) {
	genCtx := map[string]any{
		"temperature": req.Config.Temperature,
		"max_tokens":  req.Config.MaxTokens,
	}
	if req.Config.JSONMode {
		genCtx["response_format"] = map[string]string{"type": "json_object"}
	}
	if c.cfg.Model != "" {
		genCtx["model_override"] = c.cfg.Model
	}
	body := queryRequest{
		Query:   req.Prompt,
		AgentID: c.cfg.AgentID,
		Context: genCtx,
	}
	if req.SystemPrompt != "" {
		body.SessionContext = map[string]any{"system_prompt": req.SystemPrompt}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, &attemptError{status: StatusError, msg: err.Error()}
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.Endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, &attemptError{status: StatusError, msg: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return Response{}, &attemptError{status: StatusError, msg: err.Error()}
		}
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return Response{}, &attemptError{status: StatusTimeout, msg: err.Error()}
		}
		return Response{}, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read gateway response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Response{}, &attemptError{status: StatusRateLimited, msg: "gateway returned 429"}
	case resp.StatusCode == http.StatusUnavailableForLegalReasons:
		return Response{}, &attemptError{status: StatusContentFiltered, msg: "gateway returned 451"}
	case resp.StatusCode >= 500:
		return Response{}, fmt.Errorf("gateway returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return Response{}, &attemptError{status: StatusError, msg: fmt.Sprintf("gateway returned %d", resp.StatusCode)}
	}

	var qr queryResponse
	if err := json.Unmarshal(raw, &qr); err != nil {
		return Response{}, &attemptError{status: StatusError, msg: "invalid gateway response: " + err.Error()}
	}
	if qr.FinishReason == "content_filter" {
		return Response{}, &attemptError{status: StatusContentFiltered, msg: "completion filtered"}
	}
	if !qr.Success {
		msg := qr.Error
		if msg == "" {
			msg = "gateway reported failure"
		}
		return Response{}, &attemptError{status: StatusError, msg: msg}
	}

	out := Response{
		Status:   StatusSuccess,
		Content:  qr.Response,
		Model:    qr.ModelUsed,
		Provider: qr.Provider,
	}
	if qr.TokensUsed > 0 {
		out.Usage = &Usage{TotalTokens: qr.TokensUsed}
	}
	return out, nil
}

func retryable(s Status) bool {
	return s == StatusTimeout || s == StatusRateLimited
}
