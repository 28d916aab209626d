// Package notify delivers release transitions to chat and webhook channels.
package notify

import (
	"context"

	"github.com/nholik/deckhand/internal/transition"
)

// Notifier delivers release transitions to external systems.
type Notifier interface {
	Notify(ctx context.Context, environment string, transitions []transition.ReleaseTransition) error
}

// environmentLabel names the environment in messages and rate limiter keys.
func environmentLabel(environment string) string {
	if environment == "" {
		return "default"
	}
	return environment
}
