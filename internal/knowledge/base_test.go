package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBase = `
articles:
  - id: kb-refund
    title: Refund policy
    keywords: [refund, charge, billing, "double charged"]
    content: Refunds are issued to the original payment method within 5-7 business days.
  - id: kb-router
    title: Router reset
    keywords: [router, wifi, internet]
    content: Unplug the router for 30 seconds, then plug it back in.
  - id: kb-hours
    title: Opening hours
    keywords: [hours, open]
    content: Support is available 8am to 8pm.
  - id: kb-delivery
    title: Delivery times
    keywords: [delivery, shipping]
    content: Standard delivery takes 3-5 days.
customer_notes:
  cust-42: Premium plan since 2021.
`

func TestYAMLBase_RanksByKeywordOverlap(t *testing.T) {
	b, err := ParseYAMLBase([]byte(sampleBase))
	require.NoError(t, err)
	assert.Equal(t, 4, b.Len())

	got := b.BuildContextForQuery(context.Background(), "I was double charged, I want a refund for this charge", "")
	assert.Contains(t, got, "[Refund policy]")
	assert.NotContains(t, got, "Router reset")
}

func TestYAMLBase_LimitsToThreeArticles(t *testing.T) {
	b, err := ParseYAMLBase([]byte(sampleBase))
	require.NoError(t, err)

	got := b.BuildContextForQuery(context.Background(), "refund router hours delivery", "")
	assert.Equal(t, 3, countOccurrences(got, "["))
}

func TestYAMLBase_NothingFound(t *testing.T) {
	b, err := ParseYAMLBase([]byte(sampleBase))
	require.NoError(t, err)
	assert.Equal(t, "", b.BuildContextForQuery(context.Background(), "hello there", "unknown-customer"))
}

func TestYAMLBase_CustomerNotes(t *testing.T) {
	b, err := ParseYAMLBase([]byte(sampleBase))
	require.NoError(t, err)
	got := b.BuildContextForQuery(context.Background(), "hello", "cust-42")
	assert.Equal(t, "Customer notes: Premium plan since 2021.", got)
}

func TestLoadYAMLBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleBase), 0o600))

	b, err := LoadYAMLBase(path)
	require.NoError(t, err)
	assert.Equal(t, 4, b.Len())

	_, err = LoadYAMLBase(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func countOccurrences(s, sub string) int {
	n := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
		}
	}
	return n
}
