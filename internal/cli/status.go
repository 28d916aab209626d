package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/nholik/deckhand/internal/config"
	"github.com/nholik/deckhand/internal/state"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recorded releases of every environment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loaded, err := state.NewFileStore(cfg.StatePath, zerolog.Nop()).Load(cmd.Context())
			if err != nil {
				return err
			}
			return renderStatus(cmd.OutOrStdout(), loaded, opts.Environment)
		},
	}
}

// renderStatus prints one row per release, sorted by environment and release. A non-empty
// environment limits the table to it.
func renderStatus(w io.Writer, st state.State, environment string) error {
	names := make([]string, 0, len(st.Environments))
	for name := range st.Environments {
		if environment == "" || name == environment {
			names = append(names, name)
		}
	}
	if environment != "" && len(names) == 0 {
		return fmt.Errorf("no releases recorded for environment %q", environment)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ENVIRONMENT", "RELEASE", "KIND", "VERSION", "STATUS", "UPDATED", "ERROR"})
	for _, name := range names {
		snapshot := st.Environment(name)
		releases := make([]string, 0, len(snapshot.Releases))
		for release := range snapshot.Releases {
			releases = append(releases, release)
		}
		sort.Strings(releases)
		for _, release := range releases {
			rec := snapshot.Releases[release]
			t.AppendRow(table.Row{
				name,
				rec.Release,
				rec.Kind,
				rec.Version,
				statusColor(rec.Status).Sprint(rec.Status),
				rec.UpdatedAt.Format(time.RFC3339),
				rec.Error,
			})
		}
	}
	t.Render()
	return nil
}

func statusColor(status state.ReleaseStatus) text.Colors {
	switch status {
	case state.StatusDeployed:
		return text.Colors{text.FgGreen}
	case state.StatusFailed:
		return text.Colors{text.FgRed}
	case state.StatusPaused:
		return text.Colors{text.FgYellow}
	default:
		return text.Colors{text.Faint}
	}
}
