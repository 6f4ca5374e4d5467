package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"whatsched/internal/app"
	"whatsched/internal/domain"
)

func newSendCmd(g *globals) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "send <friend|group> <name>",
		Short: "Connect the session and send one message now",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, app.Options{ConfigPath: g.configPath})
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background(), app.StopCommand) }()
			if err := a.Start(); err != nil {
				return err
			}

			r, err := a.Store().FindRecipient(ctx, kind, args[1])
			if err != nil {
				return err
			}
			job, err := a.SendNow(ctx, []domain.Recipient{r}, category)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RECIPIENT\tADDRESS\tRESULT")
			for _, res := range job.Results {
				result := "ok"
				if res.Error != "" {
					result = res.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", res.Name, res.Address, result)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if job.LastError != "" {
				return fmt.Errorf("job %s: %s", job.ID, job.LastError)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "template category (default: any configured category)")
	return cmd
}
