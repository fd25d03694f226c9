package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ghconf/pkg/github"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long: `Commands for managing authentication with the GitHub API.

ghconf reads the token from --github-token, the GITHUB_TOKEN environment
variable or github.token in the config file, in that order.`,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the GitHub token and its scopes",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var authHelpCmd = &cobra.Command{
	Use:   "instructions",
	Short: "Show how to create and configure a GitHub token",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), github.GetAuthInstructions())
	},
}

func init() {
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authHelpCmd)
}

func runAuthStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, tokenInfo, err := validateToken(commandContext(cmd), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Authenticated as %s\n", tokenInfo.User)
	if len(tokenInfo.Scopes) == 0 {
		fmt.Fprintln(out, "  Scopes: none reported (fine-grained token)")
	} else {
		fmt.Fprintf(out, "  Scopes: %s\n", strings.Join(tokenInfo.Scopes, ", "))
	}
	if cfg.Organization != "" {
		fmt.Fprintf(out, "  Organization: %s\n", cfg.Organization)
	}
	return nil
}
