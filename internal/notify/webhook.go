package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/nholik/deckhand/internal/state"
	"github.com/nholik/deckhand/internal/transition"
	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"environment":"{{ .Environment }}","failed":{{ .Failed }},"transitions":{{ toJson .Transitions }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Environment string
	Transitions []transition.ReleaseTransition
	// Failed counts transitions into the failed status.
	Failed      int
	GeneratedAt time.Time
}

// WebhookNotifier renders release transitions through a user template and posts the result.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *poster
}

// WebhookOption customizes WebhookNotifier behavior.
type WebhookOption func(*webhookSettings)

type webhookSettings struct {
	timing Timing
}

// WithWebhookTiming overrides delivery pacing and retries.
func WithWebhookTiming(timing Timing) WebhookOption {
	return func(s *webhookSettings) {
		s.timing = timing
	}
}

// NewWebhookNotifier parses tmpl, or the built-in JSON template when empty. An empty URL
// disables the channel and returns nil.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL, tmpl string, opts ...WebhookOption) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}
	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	settings := webhookSettings{timing: DefaultTiming()}
	for _, opt := range opts {
		opt(&settings)
	}
	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newPoster(logger, "webhook", webhookURL, settings.timing),
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, environment string, transitions []transition.ReleaseTransition) error {
	if n == nil || len(transitions) == 0 {
		return nil
	}
	payload := WebhookPayload{
		Environment: environmentLabel(environment),
		Transitions: transitions,
		GeneratedAt: time.Now().UTC(),
	}
	for _, change := range transitions {
		if change.CurrentStatus == state.StatusFailed {
			payload.Failed++
		}
	}

	var buf bytes.Buffer
	if err := n.template.Execute(&buf, payload); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}
	if err := n.poster.deliver(ctx, payload.Environment, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("environment", payload.Environment).
		Int("transitions", len(transitions)).
		Int("failed", payload.Failed).
		Msg("webhook notification sent")
	return nil
}
