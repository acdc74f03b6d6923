package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xelth-com/pcsyncgo/internal/app"
	"github.com/xelth-com/pcsyncgo/internal/buildinfo"
	"github.com/xelth-com/pcsyncgo/internal/config"
	"github.com/xelth-com/pcsyncgo/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "pcsync",
	Short:         "Operate the ProspectConnect sync engine",
	Version:       buildinfo.Version(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "sync config file (defaults to PCSYNC_CONFIG_PATH)")
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync runs:"},
		&cobra.Group{ID: "jobs", Title: "Job queue:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withApp loads configuration, builds the engine and runs fn with a
// context that is cancelled on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	closer := logging.Setup(cfg.Log)
	defer closer.Close()

	syncCfg, err := config.LoadSyncConfig(configPath)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, syncCfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return fn(ctx, a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
