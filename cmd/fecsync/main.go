// Command fecsync runs identity resolution and donor imports from a shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fecsync/internal/app"
	"fecsync/internal/platform/config"
	"fecsync/internal/platform/logger"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fecsync",
		Short:         "Import campaign-finance donors for tracked candidates",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("log-level", "", "override logging.level")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		candidateCmd(),
		resolveCmd(),
		confirmCmd(),
		importCmd(),
		syncCmd(),
		batchCmd(),
		syncAllCmd(),
	)
	return root
}

// withApp loads configuration, builds the pipeline and hands it to fn with
// a context that is cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.Logging.Level = level
	}
	cfg.Logging.Format = "text"
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close failed", "error", err)
		}
	}()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
