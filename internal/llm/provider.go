package llm

import "strings"

// DetectProvider infers the provider from a model name. Unknown names map to "unknown".
func DetectProvider(model string) string {
	ml := strings.ToLower(strings.TrimSpace(model))
	if ml == "" {
		return "unknown"
	}
	if strings.Contains(ml, "groq") {
		return "groq"
	}

	switch {
	case strings.Contains(ml, "gpt-") || strings.HasPrefix(ml, "o1") || strings.HasPrefix(ml, "o3") ||
		strings.Contains(ml, "davinci") || strings.Contains(ml, "turbo"):
		return "openai"
	case strings.Contains(ml, "claude") || strings.Contains(ml, "opus") ||
		strings.Contains(ml, "sonnet") || strings.Contains(ml, "haiku"):
		return "anthropic"
	case strings.Contains(ml, "gemini") || strings.Contains(ml, "palm"):
		return "google"
	case strings.Contains(ml, "deepseek"):
		return "deepseek"
	case strings.Contains(ml, "qwen"):
		return "qwen"
	case strings.Contains(ml, "grok"):
		return "xai"
	// mistral before llama since some names overlap
	case strings.Contains(ml, "mistral") || strings.Contains(ml, "mixtral"):
		return "mistral"
	case strings.Contains(ml, "llama") || strings.Contains(ml, "phi") || strings.Contains(ml, "gemma"):
		return "ollama"
	case strings.Contains(ml, "command") || strings.Contains(ml, "cohere"):
		return "cohere"
	}
	return "unknown"
}
