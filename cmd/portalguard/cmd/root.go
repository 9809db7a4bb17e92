package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "portalguard",
	Short: "PortalGuard is a request-protection gateway for the assessment portal",
	Long: `PortalGuard guards the portal's HTTP surface with origin checks, rate limits,
CSRF protection and role-gated sessions, and issues single-use assessment access codes.
Settings are read from PORTALGUARD_* environment variables; flags override them.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
