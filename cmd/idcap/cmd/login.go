package cmd

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/idcap/internal/auth"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var errAuthNotConfigured = errors.New("auth.domain, auth.client_id and auth.redirect_uri must be configured")

// loginCmd represents the login command.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Print the sign-in URL of the identity provider",
	Long: `Print the hosted-UI address a user signs in at. After signing in, the
provider redirects to auth.redirect_uri with a code; pass it to
"idcap token --code" to obtain the identity token.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newCognito()
		if err != nil {
			return err
		}
		state, _ := cmd.Flags().GetString("state")
		if state == "" {
			state = uuid.NewString()
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), c.LoginURL(state))
		return nil
	},
}

// tokenCmd represents the token command.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange an authorization code for an identity token",
	Long: `Exchange the code from the sign-in redirect for the user's identity token
and print it. The token can be passed to "idcap session --token".`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, _ := cmd.Flags().GetString("code")
		if code == "" {
			return errors.New("--code is required")
		}
		c, err := newCognito()
		if err != nil {
			return err
		}
		tok, err := c.Exchange(cmd.Context(), code)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func newCognito() (*auth.Cognito, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Auth.Configured() {
		return nil, errAuthNotConfigured
	}
	return auth.NewCognito(cfg.Auth)
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(tokenCmd)
	loginCmd.Flags().String("state", "", "OAuth state to round-trip (random when empty)")
	tokenCmd.Flags().String("code", "", "authorization code from the sign-in redirect")
}
