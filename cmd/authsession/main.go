package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "authsession",
	Short: "Auth session lifecycle and role resolution",
	Long: `authsession runs the session manager against a local authentication
service backed by SQLite profiles. It can serve the guarded HTTP routes,
play a scripted sign up and sign in scenario, or list the audit trail.

Configuration is read from config/app.json and the APP_ environment.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable trace logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	Execute()
}
