package main

import (
	"context"
	"fmt"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"

	auth "github.com/goliatone/go-auth-session"
)

var (
	auditUser  string
	auditLimit int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recorded security events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		app, err := newApp(ctx, newLogger(verbose))
		if err != nil {
			return err
		}
		defer app.Close()

		events := app.repo.SecurityEvents()

		var records []*auth.SecurityEvent
		if auditUser != "" {
			records, err = events.ListByUser(ctx, auditUser, auditLimit)
		} else {
			records, err = events.ListRecent(ctx, auditLimit)
		}
		if err != nil {
			return err
		}

		fmt.Println(print.MaybeHighlightJSON(records))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := loadConfig(ctx, newLogger(verbose))
		if err != nil {
			return err
		}

		fmt.Println(print.MaybeHighlightJSON(cfg))
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditUser, "user", "", "Only list events of this user id")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum number of events")
}
