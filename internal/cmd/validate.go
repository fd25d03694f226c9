package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"ghconf/pkg/github"
	"ghconf/pkg/modules"
	"ghconf/pkg/reconcile"
)

var validateOffline bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate module files",
	Long: `Validate module files for syntax and logical errors.

Offline validation (always performed):
• YAML and TOML syntax, unknown keys
• Policies, permission levels, team privacy and member roles
• Team names declared more than once across modules
• Repository patterns and procedures

Online validation (unless --offline):
• Every referenced user exists on GitHub
• Every referenced team is declared by a module or exists in the organization

Examples:
  ghconf validate
  ghconf validate -m "org/**/*.yaml" --offline`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringArrayVarP(&applyModules, "modules", "m", nil, "Module file glob, repeatable (overrides modules in the config file)")
	validateCmd.Flags().BoolVar(&validateOffline, "offline", false, "Skip the checks that need GitHub API access")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(applyModules) > 0 {
		cfg.Modules = applyModules
	}

	fmt.Fprintf(out, "🔍 Validating module files: %s\n", strings.Join(cfg.Modules, ", "))

	mods, err := modules.Load(cfg.Modules)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Fprintf(out, "✓ Syntax and structure validation passed\n")
	for _, m := range mods {
		printModuleSummary(out, m)
	}

	if validateOffline {
		fmt.Fprintf(out, "\n✅ Module files are valid (offline validation only)\n")
		return nil
	}
	if cfg.Organization == "" {
		fmt.Fprintf(out, "⚠️  No organization configured, use --org or set organization in the config file\n")
		fmt.Fprintf(out, "   Skipping GitHub API validation (user/team existence checks)\n")
		fmt.Fprintf(out, "\n✅ Module files are valid (offline validation only)\n")
		return nil
	}

	ctx := commandContext(cmd)
	client, tokenInfo, err := authenticate(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		fmt.Fprintf(out, "⚠️  GitHub authentication failed: %v\n", err)
		fmt.Fprintf(out, "   Skipping GitHub API validation (user/team existence checks)\n")
		fmt.Fprintf(out, "\n✅ Module files are valid (offline validation only)\n")
		return nil
	}
	fmt.Fprintf(out, "✓ Authenticated as %s\n", tokenInfo.User)

	fmt.Fprintf(out, "🔍 Performing GitHub API validation...\n")
	if err := github.NewValidator(client).ValidateModules(ctx, mods); err != nil {
		return fmt.Errorf("GitHub API validation failed: %w", err)
	}
	fmt.Fprintf(out, "✓ All users and teams exist\n")

	fmt.Fprintf(out, "\n✅ Module files are valid\n")
	return nil
}

func printModuleSummary(w io.Writer, m *reconcile.Module) {
	teams := 0
	for _, root := range m.Teams {
		root.Walk(func(*reconcile.Team) { teams++ })
	}
	admins := 0
	if m.Org != nil {
		admins = len(m.Org.Admins)
	}
	fmt.Fprintf(w, "📦 %s: %d admin(s), %d team(s), %d repository rule(s)\n", m.Name, admins, teams, len(m.Rules))
}
