package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"

	auth "github.com/goliatone/go-auth-session"
)

var (
	demoEmail    string
	demoPassword string
	demoRole     string
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Play a sign up, sign in and sign out scenario",
	Long: `demo signs up a new account, signs in with a wrong and then the right
password, updates the profile and signs out. The session snapshot is
printed after every step.`,
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

		mgr := app.Manager()
		if err := mgr.Init(ctx); err != nil {
			return err
		}

		settleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := mgr.WaitSettled(settleCtx); err != nil {
			return err
		}
		step("initial", snapshotView(mgr.Snapshot()))

		signup, err := mgr.SignUp(ctx, auth.SignUpPayload{
			Email:     demoEmail,
			Password:  demoPassword,
			Role:      demoRole,
			FirstName: "Demo",
		})
		if err != nil && !auth.HasTextCode(err, auth.TextCodeUserAlreadyExists) {
			return err
		}
		if signup != nil {
			step("signup", map[string]any{
				"user":                 signup.User,
				"resolution":           signup.Resolution,
				"pending_confirmation": signup.PendingConfirmation,
			})
		}

		if err := mgr.SignOut(ctx); err != nil {
			return err
		}

		if _, err := mgr.SignIn(ctx, demoEmail, demoPassword+"-wrong"); err != nil {
			step("wrong password", map[string]any{"error": auth.UserMessage(err)})
		}

		signin, err := mgr.SignIn(ctx, demoEmail, demoPassword)
		if err != nil {
			return err
		}
		step("signin", map[string]any{
			"user":       signin.User,
			"resolution": signin.Resolution,
		})

		org := "Demo Org"
		if _, err := mgr.UpdateProfile(ctx, auth.ProfileUpdate{Organization: &org}); err != nil {
			if !auth.IsProfileNotFound(err) {
				return err
			}
			step("profile", map[string]any{"error": "profile not provisioned yet"})
		}
		step("after profile update", snapshotView(mgr.Snapshot()))

		if err := mgr.SignOut(ctx); err != nil {
			return err
		}
		step("signout", snapshotView(mgr.Snapshot()))

		return nil
	},
}

func init() {
	demoCmd.Flags().StringVar(&demoEmail, "email", "demo@example.org", "Account email")
	demoCmd.Flags().StringVar(&demoPassword, "password", "demo-password", "Account password")
	demoCmd.Flags().StringVar(&demoRole, "role", "editor", "Role hint sent with the sign up metadata")
}

func step(name string, v any) {
	fmt.Printf("== %s\n%s\n", name, print.MaybeHighlightJSON(v))
}
