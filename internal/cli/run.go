package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"whatsched/internal/app"
	"whatsched/pkg/systemd"
	logx "whatsched/pkg/logx"
)

func newRunCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon and the Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, app.Options{ConfigPath: g.configPath, Bot: true, Watch: true})
			if err != nil {
				return err
			}
			if err := a.Start(); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			var sd systemd.Notifier
			if _, err := sd.Ready(); err != nil {
				a.Log().Warn("sd_notify ready failed", logx.Err(err))
			}
			_, _ = sd.Status("running, session " + string(a.Session().State()))
			go func() {
				if err := sd.Watchdog(ctx); err != nil {
					a.Log().Warn("systemd watchdog stopped", logx.Err(err))
				}
			}()

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}
			_, _ = sd.Stopping()

			sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = a.Stop(sctx, reason)
			if err := a.Err(); err != nil && reason == app.StopFatalError {
				return fmt.Errorf("fatal: %w", err)
			}
			return nil
		},
	}
}
