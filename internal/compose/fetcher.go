package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxBytes   int64 = 5 << 20
	defaultMaxRetries       = 3
	defaultRetryDelay       = time.Second
)

// Fetcher retrieves the desired compose file.
type Fetcher interface {
	Fetch(ctx context.Context, previousETag string) (FetchResult, error)
}

// FetchResult contains the fetched compose bytes and response metadata.
type FetchResult struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
}

// FetchError reports an unexpected HTTP status from the compose source.
type FetchError struct {
	StatusCode int
	Status     string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

// IsRetryable reports whether the status is worth another attempt.
func (e *FetchError) IsRetryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// FetcherOption customizes an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithMaxRetries sets how many times a transient failure is retried. Zero disables retries.
func WithMaxRetries(n int) FetcherOption {
	return func(f *HTTPFetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithRetryDelay sets the delay between attempts.
func WithRetryDelay(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.retryDelay = d
		}
	}
}

// HTTPFetcher retrieves a compose file over HTTP.
type HTTPFetcher struct {
	url        string
	client     *http.Client
	maxBytes   int64
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPFetcher constructs an HTTPFetcher with the given URL and timeout.
func NewHTTPFetcher(url string, timeout time.Duration, maxBytes int64, opts ...FetcherOption) (*HTTPFetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("compose url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	f := &HTTPFetcher{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		maxBytes:   maxBytes,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Fetch downloads the compose file, optionally using ETag caching. Transient failures are retried.
func (f *HTTPFetcher) Fetch(ctx context.Context, previousETag string) (FetchResult, error) {
	attempts := 0
	var result FetchResult
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.retryDelay), uint64(f.maxRetries)),
		ctx,
	)

	err := backoff.Retry(func() error {
		attempts++
		res, err := f.fetchOnce(ctx, previousETag)
		if err != nil {
			if ctx.Err() != nil || !isRetryableError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}, policy)
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return FetchResult{}, ctxErr
	}
	if attempts > 1 && isRetryableError(err) {
		return FetchResult{}, fmt.Errorf("fetch compose after %d attempts: %w", attempts, err)
	}
	return FetchResult{}, err
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, previousETag string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		return FetchResult{}, fmt.Errorf("create request: %w", err)
	}
	if previousETag != "" {
		req.Header.Set("If-None-Match", previousETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch compose: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			NotModified:  true,
		}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, &FetchError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := readWithLimit(resp.Body, f.maxBytes)
	if err != nil {
		return FetchResult{}, err
	}
	if len(body) == 0 {
		return FetchResult{}, errors.New("compose body is empty")
	}

	return FetchResult{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "no such host", "eof", "timeout"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read compose: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("compose body exceeds %d bytes", maxBytes)
	}
	return body, nil
}

// FileFetcher reads a compose file from local disk. The fingerprint of the content stands in for an ETag.
type FileFetcher struct {
	path     string
	maxBytes int64
}

// NewFileFetcher constructs a FileFetcher for path.
func NewFileFetcher(path string, maxBytes int64) (*FileFetcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("compose path must not be empty")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &FileFetcher{path: path, maxBytes: maxBytes}, nil
}

// Fetch reads the file and reports NotModified when its fingerprint equals previousETag.
func (f *FileFetcher) Fetch(ctx context.Context, previousETag string) (FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		return FetchResult{}, fmt.Errorf("open compose: %w", err)
	}
	defer file.Close()

	body, err := readWithLimit(file, f.maxBytes)
	if err != nil {
		return FetchResult{}, err
	}
	fingerprint, err := Fingerprint(body)
	if err != nil {
		return FetchResult{}, err
	}
	if fingerprint == previousETag {
		return FetchResult{ETag: fingerprint, NotModified: true}, nil
	}
	return FetchResult{Body: body, ETag: fingerprint}, nil
}

// NewFetcher picks a fetcher for source: http(s) URLs are fetched remotely, anything else is a
// local path, with or without a file:// scheme.
func NewFetcher(source string, timeout time.Duration, opts ...FetcherOption) (Fetcher, error) {
	parsed, err := url.Parse(source)
	if err == nil {
		switch parsed.Scheme {
		case "http", "https":
			return NewHTTPFetcher(source, timeout, 0, opts...)
		case "file":
			return NewFileFetcher(parsed.Path, 0)
		}
	}
	return NewFileFetcher(source, 0)
}
