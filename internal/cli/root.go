// Package cli implements the whatsched command line using cobra.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"whatsched/internal/app"
	"whatsched/internal/config"
	"whatsched/internal/storage"
	logx "whatsched/pkg/logx"
)

const version = "0.3.0"

// globals holds the persistent flags.
type globals struct {
	configPath string
	envFile    string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "whatsched",
		Short:         "Schedule WhatsApp messages from stored templates",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadEnvFile(g.envFile)
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "optional dotenv file with secrets")

	root.AddCommand(
		newRunCmd(g),
		newDBCmd(g),
		newContactsCmd(g),
		newGroupsCmd(g),
		newTemplatesCmd(g),
		newSendCmd(g),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (g *globals) loadConfig() (*config.Config, error) {
	return config.NewConfigManager(g.configPath).Load()
}

// withStore opens the store for one data-entry command.
func (g *globals) withStore(cmd *cobra.Command, fn func(ctx context.Context, st storage.Store, out io.Writer) error) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	st, err := app.OpenStore(cfg, logx.NewConsole("WARN"))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cmd.Context(), st, cmd.OutOrStdout())
}
