package cli

import (
	"context"
	"fmt"

	"github.com/nholik/deckhand/internal/command"
	"github.com/nholik/deckhand/internal/kube"
	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/target"
	"github.com/spf13/cobra"
)

func newLogsCommand(opts *Options) *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "logs <service>",
		Short: "Print the workload logs of a recorded service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			def := defs[0]
			resource, err := workloadResource(def.Kind)
			if err != nil {
				return err
			}

			tgt, err := env.Target()
			if err != nil {
				return err
			}
			kt, err := clusterTarget(cmd.Context(), tgt)
			if err != nil {
				return err
			}
			kubectl := kube.NewKubectl(command.NewExecRunner(a.logger), a.logger, kube.WithKubectlBinary(a.cfg.KubectlBinary))
			out, err := kubectl.Logs(cmd.Context(), kt, resource, def.Name, tail)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 200, "Lines to show per container, 0 for all")
	return cmd
}

// workloadResource is the kubectl resource type the chart bundle of kind creates.
func workloadResource(kind service.Kind) (string, error) {
	switch kind {
	case service.KindExternalService, "":
		return "job", nil
	case service.KindApplication:
		return "deployment", nil
	default:
		return "", fmt.Errorf("no workload known for service kind %q", kind)
	}
}

func clusterTarget(ctx context.Context, t target.Target) (kube.Target, error) {
	res := target.Resolve(t)
	kubeconfig, err := res.Cluster.ConfigFilePath(ctx)
	if err != nil {
		return kube.Target{}, fmt.Errorf("kubeconfig of cluster %s: %w", res.Cluster.ID(), err)
	}
	return kube.Target{
		KubeconfigPath: kubeconfig,
		Namespace:      res.Environment.Namespace,
		Credentials:    res.Cluster.CredentialsEnvironmentVariables(),
	}, nil
}
