package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geekcrawl/crawld/internal/app"
)

// newServeCmd creates and configures the 'serve' subcommand, which runs the
// HTTP API and the task scheduler until interrupted.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the crawl orchestration service",
		Long: `Starts the HTTP API server and the background task scheduler.
Pending tasks left over from a previous run are re-queued on startup.
The process drains gracefully on SIGINT or SIGTERM.`,

		RunE: runServeCommand,
	}
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}
