package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/next-trace/scg-branch-host/adapters/echohttp"
	"github.com/next-trace/scg-branch-host/branch"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP front door and the configured transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tr, err := openTransport(cfg.Transport, logger)
			if err != nil {
				return err
			}
			defer tr.close()

			h, err := buildHost(cfg, logger, branch.WithEventPublisher(tr.adapter))
			if err != nil {
				return err
			}

			if tr.listen {
				stopListen, err := tr.adapter.Listen(ctx, h.Bus())
				if err != nil {
					return errors.Join(err, h.Shutdown(ctx))
				}
				defer stopListen()
			}

			logger.Info("branch host listening", "addr", cfg.HTTP.Addr, "transport", tr.kind, "branches", len(h.Branches()))

			runErr := echohttp.Run(ctx, echohttp.New(h, logger), cfg.HTTP.Addr, cfg.HTTP.ShutdownTimeout)

			return errors.Join(runErr, h.Shutdown(ctx))
		},
	}
}
