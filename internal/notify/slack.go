package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nholik/deckhand/internal/state"
	"github.com/nholik/deckhand/internal/transition"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// header block + context block in each message
	slackReservedBlocks = 2
	slackMaxTransitions = slackMaxBlocks - slackReservedBlocks
)

// SlackNotifier posts release transitions to a Slack incoming webhook as Block Kit messages.
type SlackNotifier struct {
	logger zerolog.Logger
	timing Timing
	poster *poster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides delivery pacing and retries.
func WithSlackTiming(timing Timing) SlackOption {
	return func(s *SlackNotifier) {
		s.timing = timing
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{logger: logger, timing: DefaultTiming()}
	for _, opt := range opts {
		opt(notifier)
	}
	notifier.poster = newPoster(logger, "slack", webhookURL, notifier.timing)
	return notifier
}

// Notify implements Notifier. Large batches are split across several messages.
func (n *SlackNotifier) Notify(ctx context.Context, environment string, transitions []transition.ReleaseTransition) error {
	if len(transitions) == 0 {
		return nil
	}
	envName := environmentLabel(environment)

	messages := buildSlackMessages(envName, transitions)
	payloads := make([][]byte, 0, len(messages))
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		payloads = append(payloads, payload)
	}
	if err := n.poster.deliver(ctx, envName, payloads...); err != nil {
		return err
	}

	n.logger.Debug().
		Str("environment", envName).
		Int("transitions", len(transitions)).
		Int("messages", len(messages)).
		Msg("slack notification sent")
	return nil
}

func buildSlackMessages(environment string, transitions []transition.ReleaseTransition) []slack.WebhookMessage {
	if len(transitions) == 0 {
		return nil
	}

	total := len(transitions)
	chunkTotal := (total + slackMaxTransitions - 1) / slackMaxTransitions
	messages := make([]slack.WebhookMessage, 0, chunkTotal)

	for i := 0; i < total; i += slackMaxTransitions {
		end := min(i+slackMaxTransitions, total)
		partIndex := (i / slackMaxTransitions) + 1
		messages = append(messages, buildSlackMessage(environment, transitions[i:end], total, partIndex, chunkTotal))
	}
	return messages
}

func buildSlackMessage(environment string, transitions []transition.ReleaseTransition, total int, partIndex int, partTotal int) slack.WebhookMessage {
	summary := fmt.Sprintf("Environment %s: %d release transition(s)", environment, total)
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Environment: *%s*", environment), false, false),
	}
	if partTotal > 1 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", partIndex, partTotal), false, false))
	}
	context := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header, context}
	for _, change := range transitions {
		blocks = append(blocks, buildTransitionBlock(change))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildTransitionBlock(change transition.ReleaseTransition) slack.Block {
	title := fmt.Sprintf("*%s*: `%s` → `%s`", change.Release, statusLabel(change.PreviousStatus), statusLabel(change.CurrentStatus))
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 3)
	if change.Error != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Error:*\n"+change.Error, false, false))
	}
	if change.VersionChange != nil {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", formatVersionChange(change.VersionChange), false, false))
	}
	if change.ExecutionID != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Execution:*\n`%s`", change.ExecutionID), false, false))
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func formatVersionChange(change *transition.VersionChange) string {
	previous := change.Previous
	if previous == "" {
		previous = "unknown"
	}
	return fmt.Sprintf("*Version:*\n`%s` → `%s`", previous, change.Current)
}

func statusLabel(status state.ReleaseStatus) string {
	if status == "" {
		return "NEW"
	}
	return string(status)
}
