package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nholik/deckhand/internal/state"
	"github.com/nholik/deckhand/internal/transition"
	"github.com/rs/zerolog"
)

type countingNotifier struct {
	calls int
	err   error
}

func (n *countingNotifier) Notify(context.Context, string, []transition.ReleaseTransition) error {
	n.calls++
	return n.err
}

func TestDryRunNotifierSuppressesDelivery(t *testing.T) {
	inner := &countingNotifier{}
	var buf bytes.Buffer
	dryRun := NewDryRunNotifier(zerolog.New(&buf), inner)

	transitions := []transition.ReleaseTransition{
		{Release: "application-api-a1", CurrentStatus: state.StatusFailed, Error: "boom"},
	}

	if err := dryRun.Notify(context.Background(), "alpha", transitions); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if inner.calls != 0 {
		t.Fatalf("expected no notifier calls, got %d", inner.calls)
	}
	if !strings.Contains(buf.String(), `"release":"application-api-a1"`) {
		t.Fatalf("expected release in log output, got %s", buf.String())
	}
}

func TestMultiNotifierFansOutAndJoinsErrors(t *testing.T) {
	slackErr := errors.New("slack down")
	webhookErr := errors.New("webhook down")
	failing := &countingNotifier{err: slackErr}
	ok := &countingNotifier{}
	alsoFailing := &countingNotifier{err: webhookErr}
	multi := NewMultiNotifier(failing, nil, ok, alsoFailing)

	err := multi.Notify(context.Background(), "alpha", []transition.ReleaseTransition{{Release: "r"}})
	if !errors.Is(err, slackErr) || !errors.Is(err, webhookErr) {
		t.Fatalf("expected both errors, got %v", err)
	}
	if failing.calls != 1 || ok.calls != 1 || alsoFailing.calls != 1 {
		t.Fatalf("expected every notifier to be called, got %d, %d and %d", failing.calls, ok.calls, alsoFailing.calls)
	}
}
