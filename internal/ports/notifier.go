package ports

import "context"

// Notifier delivers an operator-facing message, typically by email.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}
