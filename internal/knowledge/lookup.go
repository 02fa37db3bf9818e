// Package knowledge provides best-effort knowledge snippets for agent prompts.
package knowledge

import "context"

// Lookup returns prompt context for a customer query. It returns "" when
// nothing relevant is found and never fails the caller.
type Lookup interface {
	BuildContextForQuery(ctx context.Context, text, customerID string) string
}

// Nop finds nothing.
type Nop struct{}

func (Nop) BuildContextForQuery(context.Context, string, string) string { return "" }
