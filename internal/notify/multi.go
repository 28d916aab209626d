package notify

import (
	"context"
	"errors"

	"github.com/nholik/deckhand/internal/transition"
)

// MultiNotifier fans transitions out to several channels.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier skips nil notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify delivers to every channel even when one fails. The joined error names each failure.
func (m *MultiNotifier) Notify(ctx context.Context, environment string, transitions []transition.ReleaseTransition) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, environment, transitions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
