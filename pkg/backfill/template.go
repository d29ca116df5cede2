package backfill

import (
	"strings"
	"time"
)

// tokenPlaceholder is the template reference a statement uses to embed the
// chunk's idempotency token.
const tokenPlaceholder = "{{token}}"

// RenderStatement substitutes a chunk's window and token into its SQL
// template. Window bounds render as RFC3339 UTC timestamps.
//
// Supported placeholders: {{from}}, {{to}}, {{token}}, {{table}},
// {{time_column}}.
func RenderStatement(plan *Plan, chunk *Chunk) string {
	replacer := strings.NewReplacer(
		"{{from}}", chunk.From.UTC().Format(time.RFC3339),
		"{{to}}", chunk.To.UTC().Format(time.RFC3339),
		tokenPlaceholder, chunk.IdempotencyToken,
		"{{table}}", plan.Target,
		"{{time_column}}", plan.Options.TimeColumn,
	)
	return replacer.Replace(chunk.SQLTemplate)
}

// TemplateReferencesToken reports whether a SQL template embeds the chunk
// idempotency token.
func TemplateReferencesToken(template string) bool {
	return strings.Contains(template, tokenPlaceholder)
}
