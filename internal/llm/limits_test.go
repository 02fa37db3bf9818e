package llm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLimitsAndResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rate_limits:
  default_rpm: 10
  default_tpm: 1000
  provider_overrides:
    openai:
      rpm: 5
      tpm: 500
`), 0o644))

	limits, err := LoadLimits(path)
	require.NoError(t, err)

	assert.Equal(t, RateLimit{RPM: 5, TPM: 500}, limits.ForProvider("OpenAI"))
	assert.Equal(t, builtInProviderLimits["anthropic"], limits.ForProvider("anthropic"))
	assert.Equal(t, RateLimit{RPM: 10, TPM: 1000}, limits.ForProvider("somebody"))
}

func TestNilLimitsUseBuiltIns(t *testing.T) {
	var limits *Limits
	assert.Equal(t, builtInProviderLimits["google"], limits.ForProvider("google"))
	assert.Equal(t, builtInProviderLimits["unknown"], limits.ForProvider(""))
}

func TestLimiters(t *testing.T) {
	assert.Nil(t, RateLimit{}.RequestLimiter())
	assert.Nil(t, RateLimit{}.TokenLimiter())

	l := RateLimit{RPM: 30, TPM: 60000}
	req := l.RequestLimiter()
	require.NotNil(t, req)
	assert.Equal(t, 3, req.Burst())
	assert.Equal(t, 60000, l.TokenLimiter().Burst())
}

func TestLoadLimitsMissingFile(t *testing.T) {
	_, err := LoadLimits(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
