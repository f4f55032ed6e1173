package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	global := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "mantis",
		Short: "MANTIS settlement core",
		Long: `Runs the MANTIS settlement core: daily reconciliation totals and signed
webhook delivery for the fines and payments platform.

The dispatcher does not own a timer. Schedule "mantis webhooks process" (or
POST /webhooks/process) from cron or the platform scheduler.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&global.configPath, "config", "c", os.Getenv("MANTIS_CONFIG"), "YAML config file (or set MANTIS_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&global.driver, "database-driver", "", "Override database.driver (postgres|sqlite)")
	rootCmd.PersistentFlags().StringVar(&global.dsn, "database-dsn", os.Getenv("MANTIS_DATABASE_DSN"), "Override database.dsn (or set MANTIS_DATABASE_DSN)")
	rootCmd.PersistentFlags().BoolVarP(&global.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCmd(global))
	rootCmd.AddCommand(newMigrateCmd(global))
	rootCmd.AddCommand(newReconcileCmd(global))
	rootCmd.AddCommand(newWebhooksCmd(global))
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
