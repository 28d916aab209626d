package notify

import (
	"context"

	"github.com/nholik/deckhand/internal/transition"
	"github.com/rs/zerolog"
)

// NoopNotifier accepts transitions and drops them. Callers treat them as delivered.
type NoopNotifier struct {
	logger zerolog.Logger
}

// NewNoop logs reason once at construction.
func NewNoop(logger zerolog.Logger, reason string) *NoopNotifier {
	if reason != "" {
		logger.Info().Msg(reason)
	}
	return &NoopNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *NoopNotifier) Notify(_ context.Context, environment string, transitions []transition.ReleaseTransition) error {
	n.logger.Trace().Str("environment", environment).Int("transitions", len(transitions)).Msg("notification dropped")
	return nil
}
