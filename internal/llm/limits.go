package llm

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// RateLimit is a requests-per-minute and tokens-per-minute budget.
type RateLimit struct {
	RPM int `yaml:"rpm"`
	TPM int `yaml:"tpm"`
}

// Limits holds provider rate limits, usually loaded from models.yaml.
type Limits struct {
	DefaultRPM        int                  `yaml:"default_rpm"`
	DefaultTPM        int                  `yaml:"default_tpm"`
	ProviderOverrides map[string]RateLimit `yaml:"provider_overrides"`
}

var builtInProviderLimits = map[string]RateLimit{
	"openai":    {RPM: 30, TPM: 60000},
	"anthropic": {RPM: 20, TPM: 40000},
	"google":    {RPM: 40, TPM: 80000},
	"mistral":   {RPM: 50, TPM: 100000},
	"cohere":    {RPM: 45, TPM: 90000},
	"ollama":    {RPM: 120, TPM: 240000},
	"unknown":   {RPM: 45, TPM: 90000},
}

// LoadLimits reads the rate_limits section of a models.yaml file.
func LoadLimits(path string) (*Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limits: %w", err)
	}
	var doc struct {
		RateLimits Limits `yaml:"rate_limits"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rate limits %s: %w", path, err)
	}
	return &doc.RateLimits, nil
}

// ForProvider resolves the limit for a provider: file override, then built-in, then file default.
func (l *Limits) ForProvider(provider string) RateLimit {
	key := strings.ToLower(strings.TrimSpace(provider))
	if l != nil {
		if o, ok := l.ProviderOverrides[key]; ok {
			return o
		}
	}
	if b, ok := builtInProviderLimits[key]; ok {
		return b
	}
	if l != nil && (l.DefaultRPM > 0 || l.DefaultTPM > 0) {
		return RateLimit{RPM: l.DefaultRPM, TPM: l.DefaultTPM}
	}
	return builtInProviderLimits["unknown"]
}

// RequestLimiter paces requests. Nil when RPM is unset.
func (r RateLimit) RequestLimiter() *rate.Limiter {
	if r.RPM <= 0 {
		return nil
	}
	burst := r.RPM / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.RPM)), burst)
}

// TokenLimiter paces estimated tokens. Nil when TPM is unset.
func (r RateLimit) TokenLimiter() *rate.Limiter {
	if r.TPM <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(r.TPM)/60.0), r.TPM)
}

// estimateTokens is a rough 4-chars-per-token estimate plus the output budget.
func estimateTokens(req Request) int {
	n := (len(req.Prompt)+len(req.SystemPrompt))/4 + req.Config.MaxTokens
	if n < 1 {
		n = 1
	}
	return n
}
