package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/portalguard/config"
	"github.com/jmcleod/portalguard/session"
)

var errTokenInProduction = errors.New("refusing to mint tokens in production")

var (
	tokenRole   string
	tokenUserID string
	tokenEmail  string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development session token",
	Long: `Mints a signed session token for the given role using the configured auth secret.
The token is accepted as a Bearer credential or as the portalguard_session cookie.
Not available when PORTALGUARD_ENV=production.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv)
		if err != nil {
			return err
		}
		token, err := mintDevToken(cfg, tokenRole, tokenUserID, tokenEmail, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func mintDevToken(cfg config.Config, role, userID, email string, ttl time.Duration) (string, error) {
	if cfg.IsProduction() {
		return "", errTokenInProduction
	}
	r, ok := session.ParseRole(role)
	if !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if userID == "" {
		userID = "dev-" + string(r)
	}
	provider, err := session.NewJWTProvider(cfg.SessionSecret())
	if err != nil {
		return "", err
	}
	return provider.Mint(session.Claim{UserID: userID, Email: email, Role: r}, ttl)
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "Role to embed (candidate, recruiter, client, super-admin)")
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "User ID (default dev-<role>)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "Email to embed")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("role")
}
