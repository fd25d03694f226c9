package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var unconfiguredCmd = &cobra.Command{
	Use:   "unconfigured",
	Short: "List repositories no rule applies to",
	Long: `List the repositories of the organization that no repository rule in any
module matches. Their access is left untouched by apply.

Examples:
  ghconf unconfigured
  ghconf unconfigured --repo-regex '^svc-' --output json`,
	Args: cobra.NoArgs,
	RunE: runUnconfigured,
}

func init() {
	addSelectionFlags(unconfiguredCmd)
	unconfiguredCmd.Flags().StringVar(&applyOutput, "output", outputText, "Output format: text or json")
}

func runUnconfigured(cmd *cobra.Command, _ []string) error {
	if err := validateOutput(applyOutput); err != nil {
		return err
	}

	cfg, mods, err := runSettings(cmd)
	if err != nil {
		return err
	}
	sel, err := selection()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	client, _, err := authenticate(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	repos, err := newOrchestrator(client, cfg, nil).ListUnconfigured(ctx, mods, sel)
	if err != nil {
		return fmt.Errorf("failed to list unconfigured repositories: %w", err)
	}

	out := cmd.OutOrStdout()
	if applyOutput == outputJSON {
		if repos == nil {
			repos = []string{}
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(repos)
	}

	if len(repos) == 0 {
		fmt.Fprintf(out, "✓ Every repository in %s matches a rule\n", cfg.Organization)
		return nil
	}
	fmt.Fprintf(out, "❓ Repositories in %s without a matching rule (%d):\n", cfg.Organization, len(repos))
	for _, repo := range repos {
		fmt.Fprintf(out, "  • %s\n", repo)
	}
	return nil
}
