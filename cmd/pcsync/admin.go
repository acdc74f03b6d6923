package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xelth-com/pcsyncgo/internal/app"
	"github.com/xelth-com/pcsyncgo/internal/config"
	"github.com/xelth-com/pcsyncgo/internal/middleware"
)

var fetchUsersCmd = &cobra.Command{
	Use:     "fetch-users",
	GroupID: "admin",
	Short:   "Refresh the user mapping table from the remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			result, err := a.Engine.Mapping().FetchUsers(ctx, a.Remote)
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

var fetchPipelinesCmd = &cobra.Command{
	Use:     "fetch-pipelines",
	GroupID: "admin",
	Short:   "Refresh the stage mapping table from the remote pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			result, err := a.Engine.Mapping().FetchPipelines(ctx, a.Remote)
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

var testConnectionCmd = &cobra.Command{
	Use:     "test-connection",
	GroupID: "admin",
	Short:   "Check the ProspectConnect credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Remote.TestConnection(ctx); err != nil {
				return fmt.Errorf("connection failed: %w", err)
			}
			fmt.Println("✅ Connection OK")
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:     "token",
	GroupID: "admin",
	Short:   "Print an admin JWT for the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		token, err := middleware.GenerateToken(cfg.JWTSecret, subject, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("subject", "admin", "token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(fetchUsersCmd, fetchPipelinesCmd, testConnectionCmd, tokenCmd)
}
