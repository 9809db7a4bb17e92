package cmd

import "github.com/spf13/cobra"

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log inspection tools",
	Long:  `Commands for inspecting the JSON audit entries written by the server.`,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
