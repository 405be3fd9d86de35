package domain

import "context"

// WebhookService reconciles inbound processor events against local state.
type WebhookService interface {
	// HandleEvent verifies, dedupes and applies one webhook delivery. The
	// returned result is a metrics label (applied, duplicate, unmatched).
	HandleEvent(ctx context.Context, payload []byte, signature string) (string, error)
}
