package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	appLog "slotfinder/internal/log"
	"slotfinder/internal/refresh"
	"slotfinder/internal/web"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with background refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(root)
			if err != nil {
				return err
			}
			if listen != "" {
				a.cfg.Listen = listen
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			ref := refresh.New(a.finder, a.calendar.Sources(), a.cfg.DaysToSearch, a.cfg.MinimumDuration())
			go ref.RunOnce(ctx)
			if err := ref.Start(ctx, a.cfg.RefreshCron); err != nil {
				appLog.Error("invalid refresh schedule", err, "spec", a.cfg.RefreshCron)
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer stopCancel()
				ref.Stop(stopCtx)
			}()

			srv := web.NewServer(a.cfg, a.finder, ref)
			err = srv.ListenAndServe(ctx)
			appLog.Info("slotfinder exiting")
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}
