// Package llm defines the completion contract the agents depend on and an
// HTTP adapter for the LLM gateway service.
package llm

import (
	"context"
	"time"
)

// Status communicates how a completion ended. Ordinary failures are reported
// here, never as Go errors.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusError           Status = "error"
	StatusRateLimited     Status = "rate_limited"
	StatusTimeout         Status = "timeout"
	StatusContentFiltered Status = "content_filtered"
)

// GenerationConfig tunes one completion.
type GenerationConfig struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	JSONMode    bool    `json:"json_mode"`
}

// Request is a single completion request.
type Request struct {
	Prompt       string
	SystemPrompt string
	Config       GenerationConfig
	// Caller labels the request in logs and metrics, e.g. "primary".
	Caller string
}

// Usage reports token accounting when the gateway provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the outcome of a completion.
type Response struct {
	Status   Status
	Content  string
	Usage    *Usage
	Model    string
	Provider string
	Error    string
	Attempts int
	Latency  time.Duration
}

// OK reports whether the completion succeeded with content.
func (r Response) OK() bool {
	return r.Status == StatusSuccess && r.Content != ""
}

// Client completes prompts. Implementations must not panic on transport
// failures and must honor ctx deadlines.
type Client interface {
	Complete(ctx context.Context, req Request) Response
}

// Disabled is a Client that never calls out; agents use their deterministic paths.
type Disabled struct{}

func (Disabled) Complete(context.Context, Request) Response {
	return Response{Status: StatusError, Error: "llm disabled"}
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) Response

func (f ClientFunc) Complete(ctx context.Context, req Request) Response {
	return f(ctx, req)
}
