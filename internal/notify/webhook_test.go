package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nholik/deckhand/internal/state"
	"github.com/nholik/deckhand/internal/transition"
	"github.com/rs/zerolog"
)

func TestWebhookNotifierTemplateRendering(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, `{"environment":"{{ .Environment }}","count":{{ len .Transitions }}}`)
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}

	transitions := []transition.ReleaseTransition{
		{Release: "application-api-a1", CurrentStatus: state.StatusFailed},
	}

	if err := notifier.Notify(context.Background(), "alpha", transitions); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	if !strings.Contains(body, `"environment":"alpha"`) {
		t.Fatalf("expected environment in payload, got %s", body)
	}
	if !strings.Contains(body, `"count":1`) {
		t.Fatalf("expected count in payload, got %s", body)
	}
}

func TestWebhookNotifierRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&calls, 1)
		if count <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, "", WithWebhookTiming(fastTiming()))
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := notifier.Notify(ctx, "alpha", []transition.ReleaseTransition{{Release: "application-api-a1", CurrentStatus: state.StatusFailed}}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookNotifierCountsFailures(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, `{{ .Environment }}:{{ .Failed }}`)
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}
	transitions := []transition.ReleaseTransition{
		{Release: "application-api-a1", CurrentStatus: state.StatusFailed},
		{Release: "application-web-w1", CurrentStatus: state.StatusDeployed},
		{Release: "external-service-job-j1", CurrentStatus: state.StatusFailed},
	}
	if err := notifier.Notify(context.Background(), "", transitions); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if body != "default:2" {
		t.Fatalf("unexpected payload %q", body)
	}
}

func TestWebhookNotifierInvalidTemplate(t *testing.T) {
	_, err := NewWebhookNotifier(zerolog.Nop(), "http://example.com", "{{")
	if err == nil {
		t.Fatalf("expected template error")
	}
}

func TestWebhookNotifierDefaultTemplate(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}
	transitions := []transition.ReleaseTransition{{
		Release:        "external-service-worker-w1",
		PreviousStatus: state.StatusDeployed,
		CurrentStatus:  state.StatusPaused,
	}}
	if err := notifier.Notify(context.Background(), "staging", transitions); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	for _, want := range []string{`"environment":"staging"`, `"failed":0`, `"release":"external-service-worker-w1"`, `"current_status":"paused"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in payload, got %s", want, body)
		}
	}
}

func TestWebhookNotifierDisabledWithoutURL(t *testing.T) {
	notifier, err := NewWebhookNotifier(zerolog.Nop(), "", "")
	if err != nil || notifier != nil {
		t.Fatalf("expected nil notifier without url, got %v, %v", notifier, err)
	}
}
