// Package helm drives the helm binary to install, inspect and remove chart releases.
package helm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nholik/deckhand/internal/command"
	"github.com/rs/zerolog"
	"helm.sh/helm/v3/pkg/release"
	helmtime "helm.sh/helm/v3/pkg/time"
)

// ErrReleaseNotFound is returned by Latest when the release has no history.
var ErrReleaseNotFound = errors.New("release not found")

// releaseNotFound is what helm prints when history or uninstall target a release that does not exist.
const releaseNotFound = "release: not found"

const defaultTimeoutSeconds = 600

// processGrace bounds the helm process beyond its own --timeout.
const processGrace = time.Minute

// Timeout is the chart manager wait budget. The zero value is the default.
type Timeout struct {
	seconds int
}

// DefaultTimeout returns the default 600 second budget.
func DefaultTimeout() Timeout {
	return Timeout{}
}

// Seconds returns an explicit budget. Non-positive values mean the default.
func Seconds(n int) Timeout {
	if n <= 0 {
		return Timeout{}
	}
	return Timeout{seconds: n}
}

// FromDuration rounds d up to whole seconds.
func FromDuration(d time.Duration) Timeout {
	if d <= 0 {
		return Timeout{}
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return Seconds(secs)
}

// IsDefault reports whether no explicit budget was set.
func (t Timeout) IsDefault() bool {
	return t.seconds == 0
}

// Duration returns the budget as a time.Duration.
func (t Timeout) Duration() time.Duration {
	if t.seconds == 0 {
		return defaultTimeoutSeconds * time.Second
	}
	return time.Duration(t.seconds) * time.Second
}

// String formats the budget for helm's --timeout flag.
func (t Timeout) String() string {
	return strconv.Itoa(int(t.Duration()/time.Second)) + "s"
}

// HistoryRecord is one entry of `helm history -o json`.
type HistoryRecord struct {
	Revision    int            `json:"revision"`
	Updated     helmtime.Time  `json:"updated"`
	Status      release.Status `json:"status"`
	Chart       string         `json:"chart"`
	AppVersion  string         `json:"app_version"`
	Description string         `json:"description"`
}

// IsSuccessfullyDeployed reports whether the revision reached the deployed state.
func (r HistoryRecord) IsSuccessfullyDeployed() bool {
	return r.Status == release.StatusDeployed
}

// Location identifies where a release lives and which credentials reach it.
type Location struct {
	KubeconfigPath string
	Namespace      string
	// Envs is appended to the helm process environment.
	Envs []string
}

// UpgradeRequest describes one install-or-upgrade.
type UpgradeRequest struct {
	Location
	ReleaseName string
	ChartDir    string
	Timeout     Timeout
}

// Option configures a Client.
type Option func(*Client)

// WithBinary overrides the helm executable.
func WithBinary(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.binary = path
		}
	}
}

// Client runs helm commands.
type Client struct {
	runner command.Runner
	binary string
	logger zerolog.Logger
}

// New constructs a Client.
func New(runner command.Runner, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{runner: runner, binary: "helm", logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// UpgradeWithHistory installs or upgrades a release and returns its latest history record. A nil
// record with a nil error means helm reported no history after the upgrade.
func (c *Client) UpgradeWithHistory(ctx context.Context, req UpgradeRequest) (*HistoryRecord, error) {
	if req.ReleaseName == "" {
		return nil, errors.New("release name is required")
	}
	args := []string{
		"upgrade", "--install", req.ReleaseName, req.ChartDir,
		"--kubeconfig", req.KubeconfigPath,
		"--namespace", req.Namespace,
		"--create-namespace",
		"--atomic",
		"--wait",
		"--timeout", req.Timeout.String(),
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Timeout.Duration()+processGrace)
	defer cancel()

	c.logger.Info().
		Str("release", req.ReleaseName).
		Str("namespace", req.Namespace).
		Str("timeout", req.Timeout.String()).
		Msg("helm upgrade")

	if _, err := c.runner.Run(runCtx, command.Request{Binary: c.binary, Args: args, Env: req.Envs}); err != nil {
		return nil, fmt.Errorf("helm upgrade %s: %w", req.ReleaseName, err)
	}

	records, err := c.History(ctx, req.Location, req.ReleaseName, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[len(records)-1], nil
}

// History returns up to limit records, oldest first. A missing release yields no records.
func (c *Client) History(ctx context.Context, loc Location, releaseName string, limit int) ([]HistoryRecord, error) {
	args := []string{
		"history", releaseName,
		"--kubeconfig", loc.KubeconfigPath,
		"--namespace", loc.Namespace,
		"-o", "json",
	}
	if limit > 0 {
		args = append(args, "--max", strconv.Itoa(limit))
	}
	res, err := c.runner.Run(ctx, command.Request{Binary: c.binary, Args: args, Env: loc.Envs})
	if err != nil {
		if command.StderrContains(err, releaseNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("helm history %s: %w", releaseName, err)
	}
	return ParseHistory(res.Stdout)
}

// Latest returns the most recent history record or ErrReleaseNotFound.
func (c *Client) Latest(ctx context.Context, loc Location, releaseName string) (HistoryRecord, error) {
	records, err := c.History(ctx, loc, releaseName, 1)
	if err != nil {
		return HistoryRecord{}, err
	}
	if len(records) == 0 {
		return HistoryRecord{}, fmt.Errorf("%s: %w", releaseName, ErrReleaseNotFound)
	}
	return records[len(records)-1], nil
}

// Uninstall removes a release. A release that does not exist is not an error.
func (c *Client) Uninstall(ctx context.Context, loc Location, releaseName string) error {
	args := []string{
		"uninstall", releaseName,
		"--kubeconfig", loc.KubeconfigPath,
		"--namespace", loc.Namespace,
		"--wait",
	}
	if _, err := c.runner.Run(ctx, command.Request{Binary: c.binary, Args: args, Env: loc.Envs}); err != nil {
		if command.StderrContains(err, releaseNotFound) {
			c.logger.Debug().Str("release", releaseName).Msg("release already absent")
			return nil
		}
		return fmt.Errorf("helm uninstall %s: %w", releaseName, err)
	}
	return nil
}

// ParseHistory decodes `helm history -o json` output.
func ParseHistory(data []byte) ([]HistoryRecord, error) {
	var records []HistoryRecord
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode helm history: %w", err)
	}
	return records, nil
}
