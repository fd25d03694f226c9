package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"ghconf/pkg/config"
	"ghconf/pkg/modules"
	"ghconf/pkg/reconcile"
)

var (
	applyModules     []string
	applyRepos       []string
	applyRepoRegex   []string
	applyNoOrg       bool
	applyNoRepo      bool
	applyPlanOnly    bool
	applyExecute     bool
	applyPruneTeams  bool
	applyConcurrency int
	applyOutput      string
	applyNoProgress  bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Reconcile the organization with the module files",
	Long: `Reconcile a GitHub organization with the desired state declared in module files.

The organization is observed, the changes needed are computed and shown, and
after confirmation they are executed in order: organization admins first,
then teams and their members, then repository access and settings.

Without --plan or --execute the plan is shown and you are asked before
anything is changed. Without a terminal, apply refuses to execute unless
--execute is given.

Examples:
  # Show what would change
  ghconf apply --plan

  # Apply only repository access for two repositories
  ghconf apply --no-org-changes -r api -r web

  # Apply every module under org/ without asking
  ghconf apply -m "org/**/*.yaml" --execute

  # Machine readable plan
  ghconf apply --plan --output json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runApply(cmd, applyPlanOnly)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the changes apply would make",
	Long:  "Observe the organization and show the changes needed to match the module files. Nothing is modified.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runApply(cmd, true)
	},
}

func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&applyModules, "modules", "m", nil, "Module file glob, repeatable (overrides modules in the config file)")
	cmd.Flags().StringSliceVarP(&applyRepos, "repo", "r", nil, "Only reconcile these repositories")
	cmd.Flags().StringArrayVar(&applyRepoRegex, "repo-regex", nil, "Only reconcile repositories matching this regular expression, repeatable")
}

func addRunFlags(cmd *cobra.Command) {
	addSelectionFlags(cmd)
	cmd.Flags().BoolVar(&applyNoOrg, "no-org-changes", false, "Skip organization admins, teams and team members")
	cmd.Flags().BoolVar(&applyNoRepo, "no-repo-changes", false, "Skip repository access and settings")
	cmd.Flags().BoolVar(&applyPruneTeams, "prune-teams", false, "Delete undeclared teams in the managed namespace of every module")
	cmd.Flags().IntVar(&applyConcurrency, "concurrency", 0, "Maximum concurrent API operations (overrides concurrency in the config file)")
	cmd.Flags().StringVar(&applyOutput, "output", outputText, "Output format: text or json")
	cmd.Flags().BoolVar(&applyNoProgress, "no-progressbar", false, "Disable progress bars")
}

func init() {
	addRunFlags(applyCmd)
	applyCmd.Flags().BoolVar(&applyPlanOnly, "plan", false, "Only show the plan")
	applyCmd.Flags().BoolVar(&applyExecute, "execute", false, "Execute the plan without asking")
	applyCmd.MarkFlagsMutuallyExclusive("plan", "execute")

	addRunFlags(planCmd)
}

// runSettings resolves the configuration and the module files for a run
func runSettings(cmd *cobra.Command) (*config.Config, []*reconcile.Module, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if len(applyModules) > 0 {
		cfg.Modules = applyModules
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = applyConcurrency
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mods, err := modules.Load(cfg.Modules)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug().Int("modules", len(mods)).Strs("globs", cfg.Modules).Msg("modules loaded")
	return cfg, mods, nil
}

func selection() (reconcile.Selection, error) {
	sel := reconcile.Selection{
		Repos:           applyRepos,
		SkipOrgChanges:  applyNoOrg,
		SkipRepoChanges: applyNoRepo,
	}
	for _, expr := range applyRepoRegex {
		re, err := regexp.Compile(expr)
		if err != nil {
			return sel, fmt.Errorf("invalid --repo-regex %q: %w", expr, err)
		}
		sel.RepoPatterns = append(sel.RepoPatterns, re)
	}
	return sel, nil
}

func newOrchestrator(provider reconcile.Provider, cfg *config.Config, progress reconcile.Progress) *reconcile.Orchestrator {
	var limiter *rate.Limiter
	if cfg.Rate.WritesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate.WritesPerSecond), 1)
	}

	return reconcile.NewOrchestrator(provider, reconcile.OrchestratorConfig{
		Concurrency: cfg.Concurrency,
		Verbose:     verbose,
		Retry: reconcile.RetryConfig{
			MaxRetries:       cfg.Retry.MaxRetries,
			InitialDelay:     cfg.Retry.InitialDelay,
			MaxDelay:         cfg.Retry.MaxDelay,
			MaxRateLimitWait: cfg.Retry.MaxRateLimitWait,
		},
		Limiter:  limiter,
		Progress: progress,
		Logger:   logger,
	})
}

func newProgress(stderr io.Writer) reconcile.Progress {
	if applyNoProgress || applyOutput != outputText || quiet {
		return nil
	}
	if f, ok := stderr.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return newBarProgress(stderr)
}

func runApply(cmd *cobra.Command, planOnly bool) error {
	if err := validateOutput(applyOutput); err != nil {
		return err
	}

	cfg, mods, err := runSettings(cmd)
	if err != nil {
		return err
	}
	if applyPruneTeams {
		for _, m := range mods {
			m.TeamPolicy = reconcile.Overwrite
		}
	}

	sel, err := selection()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	client, tokenInfo, err := authenticate(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	logger.Info().Str("user", tokenInfo.User).Str("org", cfg.Organization).Msg("authenticated")

	orchestrator := newOrchestrator(client, cfg, newProgress(cmd.ErrOrStderr()))
	stdout := cmd.OutOrStdout()
	jsonOutput := applyOutput == outputJSON

	opts := reconcile.RunOptions{Mode: reconcile.ModeExecute, Selection: sel}
	displayed := false
	switch {
	case planOnly:
		opts.Mode = reconcile.ModePlan
	case !applyExecute:
		promptOut := os.Stdout
		if jsonOutput {
			promptOut = os.Stderr
		}
		prompt := newPromptConfirmer(promptOut)
		opts.Confirmer = reconcile.ConfirmFunc(func(ctx context.Context, cs *reconcile.ChangeSet) (bool, error) {
			if !jsonOutput {
				displayPlan(stdout, cfg.Organization, &reconcile.RunResult{Sets: []*reconcile.ChangeSet{cs}, Plan: cs}, false)
				displayed = true
			}
			return prompt.Confirm(ctx, cs)
		})
	}

	result, err := orchestrator.Run(ctx, mods, opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := displayJSON(stdout, cfg.Organization, result); err != nil {
			return fmt.Errorf("failed to write JSON output: %w", err)
		}
		return result.Report.Err()
	}

	if !displayed {
		displayPlan(stdout, cfg.Organization, result, opts.Mode == reconcile.ModePlan)
	} else if len(result.Unconfigured) > 0 {
		fmt.Fprintf(stdout, "\n❓ Repositories without a matching rule (%d)\n", len(result.Unconfigured))
	}

	switch {
	case result.Cancelled:
		fmt.Fprintf(stdout, "\nExecution cancelled. No changes were applied.\n")
	case result.Report.Mode == reconcile.ModePlan:
		if opts.Mode == reconcile.ModePlan {
			fmt.Fprintf(stdout, "\n✓ Plan completed. No changes were applied.\n")
		}
	default:
		displayReport(stdout, cfg.Organization, result.Report)
		if result.Report.Cancelled {
			fmt.Fprintf(stdout, "\n⚠️  Interrupted: remaining changes were skipped\n")
		}
	}

	return result.Report.Err()
}

// commandContext returns the command context, which is unset when a command runs outside Execute
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
