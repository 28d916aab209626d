package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const errorBodyLimit = 1024

// Timing bounds how fast a channel delivers and how long it keeps retrying.
type Timing struct {
	RequestTimeout time.Duration
	// RateInterval and RateBurst pace deliveries per environment.
	RateInterval   time.Duration
	RateBurst      int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxElapsed     time.Duration
}

// DefaultTiming returns the pacing used when a channel is not tuned.
func DefaultTiming() Timing {
	return Timing{
		RequestTimeout: 10 * time.Second,
		RateInterval:   time.Second,
		RateBurst:      1,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		MaxElapsed:     30 * time.Second,
	}
}

// poster delivers JSON payloads to one URL, paced per environment. Server errors and
// transport failures are retried with exponential backoff; a 429 waits for Retry-After.
type poster struct {
	logger  zerolog.Logger
	channel string
	url     string
	client  *retryablehttp.Client
	timing  Timing

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPoster(logger zerolog.Logger, channel, url string, timing Timing) *poster {
	client := retryablehttp.NewClient()
	// post owns retries.
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) { return false, nil }
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.RequestTimeout}

	return &poster{
		logger:   logger.With().Str("channel", channel).Logger(),
		channel:  channel,
		url:      url,
		client:   client,
		timing:   timing,
		limiters: make(map[string]*rate.Limiter),
	}
}

// deliver waits for the environment's rate slot then posts every payload in order.
func (p *poster) deliver(ctx context.Context, environment string, payloads ...[]byte) error {
	if err := p.limiter(environment).Wait(ctx); err != nil {
		return err
	}
	for _, payload := range payloads {
		if err := p.post(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

func (p *poster) limiter(environment string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.limiters[environment]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(p.timing.RateInterval), p.timing.RateBurst)
	p.limiters[environment] = l
	return l
}

func (p *poster) post(ctx context.Context, payload []byte) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.timing.InitialBackoff
	exp.MaxInterval = p.timing.MaxBackoff
	exp.MaxElapsedTime = p.timing.MaxElapsed
	exp.Reset()
	policy := &retryAfterBackOff{BackOff: exp}

	attempt := func() error {
		err := p.attempt(ctx, payload)
		if err == nil {
			return nil
		}
		var hinted *retryAfterError
		if errors.As(err, &hinted) {
			policy.hint = hinted.wait
			return err
		}
		var transient *retryableError
		if !errors.As(err, &transient) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Debug().Err(err).Dur("wait", wait).Msg("retrying notification")
	}
	return backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), notify)
}

// attempt performs a single POST and classifies the failure.
func (p *poster) attempt(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.RequestTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", p.channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("%s request failed: %w", p.channel, err)}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		limited := fmt.Errorf("%s rate limited: %s", p.channel, resp.Status)
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retryAfterError{wait: wait, err: limited}
		}
		return &retryableError{err: limited}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &retryableError{err: fmt.Errorf("%s server error: %s", p.channel, resp.Status)}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return fmt.Errorf("%s request failed: %s (%s)", p.channel, resp.Status, text)
	}
	return fmt.Errorf("%s request failed: %s", p.channel, resp.Status)
}

// retryAfterBackOff prefers a server supplied wait over the exponential schedule.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if b.hint > 0 {
		wait := b.hint
		b.hint = 0
		return wait
	}
	return b.BackOff.NextBackOff()
}

func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}
	if when, err := http.ParseTime(value); err == nil {
		wait := time.Until(when)
		return wait, wait > 0
	}
	return 0, false
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type retryAfterError struct {
	wait time.Duration
	err  error
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("%v; retry after %s", e.err, e.wait)
}

func (e *retryAfterError) Unwrap() error { return e.err }
