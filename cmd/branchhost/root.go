package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/next-trace/scg-branch-host/branch"
	"github.com/next-trace/scg-branch-host/config"
	"github.com/next-trace/scg-branch-host/internal/demo"
)

type globalOptions struct {
	configPath string
	envFiles   []string
}

func (o *globalOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "path to the host YAML config (default $"+config.EnvConfig+")")
	fs.StringSliceVar(&o.envFiles, "env-file", nil, ".env files loaded before the config (default ./.env)")
}

// load reads .env files and the config file, and builds the process logger.
func (o *globalOptions) load(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	if err := config.LoadEnv(o.envFiles...); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := config.NewLogger(cfg.Log, logOut)
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "branchhost",
		Short:         "Serve isolated branches behind one HTTP front door",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts.bind(root.PersistentFlags())

	root.AddCommand(newServeCmd(opts), newRoutesCmd(opts))

	return root
}

// buildHost mounts the configured branches, or the demo defaults when none are configured.
func buildHost(cfg *config.Config, logger *slog.Logger, extra ...branch.Option) (*branch.Host, error) {
	opts := append([]branch.Option{branch.WithLogger(logger)}, extra...)
	if cfg.Shared.Strict {
		opts = append(opts, branch.WithStrictSharedTypes())
	}

	b := branch.NewBuilder(opts...)

	branches := cfg.Branches
	if len(branches) == 0 {
		branches = demo.DefaultBranches()
	}

	if err := demo.Mount(b, branches); err != nil {
		return nil, err
	}

	return b.Build()
}
