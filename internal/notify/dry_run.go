package notify

import (
	"context"
	"fmt"

	"github.com/nholik/deckhand/internal/transition"
	"github.com/rs/zerolog"
)

// DryRunNotifier logs the transitions inner would have delivered.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier wraps inner without ever calling it.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger.With().Str("suppressed", fmt.Sprintf("%T", inner)).Logger(), inner: inner}
}

// Notify implements Notifier. It never fails.
func (n *DryRunNotifier) Notify(_ context.Context, environment string, transitions []transition.ReleaseTransition) error {
	env := environmentLabel(environment)
	for _, change := range transitions {
		event := n.logger.Info().
			Str("environment", env).
			Str("release", change.Release).
			Str("previous_status", statusLabel(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus))
		if change.VersionChange != nil {
			event = event.Str("version", change.VersionChange.Current)
		}
		if change.ExecutionID != "" {
			event = event.Str("execution_id", change.ExecutionID)
		}
		if change.Error != "" {
			event = event.Str("error", change.Error)
		}
		event.Msg("dry run, notification not sent")
	}
	return nil
}
