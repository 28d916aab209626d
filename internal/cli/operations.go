package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/state"
	"github.com/nholik/deckhand/internal/transaction"
	"github.com/spf13/cobra"
)

func newDeployCommand(opts *Options) *cobra.Command {
	var composePath string
	cmd := &cobra.Command{
		Use:   "deploy [service...]",
		Short: "Create or upgrade services of an environment from its compose source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFromCompose(cmd, opts, service.ActionCreate, composePath, args)
		},
	}
	cmd.Flags().StringVar(&composePath, "compose", "", "Compose file or URL overriding the environment compose_url")
	return cmd
}

func newPauseCommand(opts *Options) *cobra.Command {
	var composePath string
	cmd := &cobra.Command{
		Use:   "pause [service...]",
		Short: "Remove the releases of services of an environment; a later deploy restores them",
		Long: `pause uninstalls the chart release of each named service and records it as paused. The
service stays in the compose source, and watch mode leaves it paused until its definition changes.
Run deploy to bring it back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFromCompose(cmd, opts, service.ActionPause, composePath, args)
		},
	}
	cmd.Flags().StringVar(&composePath, "compose", "", "Compose file or URL overriding the environment compose_url")
	return cmd
}

func newDeleteCommand(opts *Options) *cobra.Command {
	var all, purgeNamespace bool
	cmd := &cobra.Command{
		Use:   "delete [service...]",
		Short: "Delete recorded services of an environment",
		Long: `delete uninstalls the chart release of each named service. Services are looked up by name
or id among the releases recorded for the environment. With --all every release still recorded is
deleted, and --purge-namespace then removes the environment namespace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if purgeNamespace && !all {
				return errors.New("--purge-namespace requires --all")
			}
			if !all && len(args) == 0 {
				return errors.New("name at least one service or pass --all")
			}

			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			env, err := a.environment(opts.Environment)
			if err != nil {
				return err
			}
			loaded, err := a.store.Load(cmd.Context())
			if err != nil {
				return err
			}
			defs, err := recordedDefinitions(loaded.Environment(env.Name), args)
			if err != nil {
				return err
			}

			results, err := a.apply(cmd.Context(), env, service.ActionDelete, defs, true)
			renderResults(cmd.OutOrStdout(), results)
			if err != nil {
				return err
			}

			if purgeNamespace {
				tgt, err := env.Target()
				if err != nil {
					return err
				}
				if err := a.tx.DeleteNamespace(cmd.Context(), a.engine, tgt); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "namespace %s deleted\n", env.Namespace)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every release recorded for the environment")
	cmd.Flags().BoolVar(&purgeNamespace, "purge-namespace", false, "Delete the environment namespace afterwards (requires --all)")
	return cmd
}

func runFromCompose(cmd *cobra.Command, opts *Options, action service.Action, composePath string, names []string) error {
	a, err := loadApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	env, err := a.environment(opts.Environment)
	if err != nil {
		return err
	}
	if a.checker != nil && action == service.ActionCreate {
		if err := a.checker.Ping(cmd.Context()); err != nil {
			a.logger.Warn().Err(err).Msg("docker daemon unreachable, image checks will fail")
		}
	}

	all, err := a.definitions(cmd.Context(), env, composePath)
	if err != nil {
		return err
	}
	defs, err := selectDefinitions(all, names)
	if err != nil {
		return err
	}

	results, err := a.apply(cmd.Context(), env, action, defs, false)
	renderResults(cmd.OutOrStdout(), results)
	return err
}

// selectDefinitions keeps the definitions named by name or id. No names selects every definition.
func selectDefinitions(defs []service.Definition, names []string) ([]service.Definition, error) {
	if len(names) == 0 {
		return defs, nil
	}
	var out []service.Definition
	for _, name := range names {
		found := false
		for _, def := range defs {
			if def.Name == name || def.ID == name {
				out = append(out, def)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("service %q not found in compose source", name)
		}
	}
	return out, nil
}

// recordedDefinitions rebuilds definitions of releases not yet deleted. No names selects them all.
func recordedDefinitions(snapshot state.EnvironmentSnapshot, names []string) ([]service.Definition, error) {
	records := make([]state.ReleaseRecord, 0, len(snapshot.Releases))
	for _, rec := range snapshot.Releases {
		if rec.Status != state.StatusDeleted {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Release < records[j].Release
	})

	var out []service.Definition
	if len(names) == 0 {
		for _, rec := range records {
			out = append(out, rec.Definition())
		}
		return out, nil
	}
	for _, name := range names {
		found := false
		for _, rec := range records {
			if rec.Name == name || rec.ServiceID == name || rec.Release == name {
				out = append(out, rec.Definition())
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no recorded release for service %q", name)
		}
	}
	return out, nil
}

func renderResults(w io.Writer, results []transaction.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "nothing to do")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"RELEASE", "ACTION", "VERSION", "RESULT", "DURATION", "ERROR"})
	for _, res := range results {
		outcome := "ok"
		errText := ""
		if res.Err != nil {
			outcome = "failed"
			errText = res.Err.Error()
		}
		t.AppendRow(table.Row{res.Release, res.Action, res.Version, outcome, res.Duration.Round(time.Second), errText})
	}
	t.Render()
}
