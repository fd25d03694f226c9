package reconcile

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Selection narrows a run to some repositories and domains
type Selection struct {
	Repos           []string
	RepoPatterns    []*regexp.Regexp
	SkipOrgChanges  bool
	SkipRepoChanges bool
}

// Selects reports whether the repository is part of the selection
func (s Selection) Selects(name string) bool {
	if len(s.Repos) == 0 && len(s.RepoPatterns) == 0 {
		return true
	}
	for _, repo := range s.Repos {
		if strings.EqualFold(repo, name) {
			return true
		}
	}
	for _, re := range s.RepoPatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (s Selection) filter(repos []Repository) ([]Repository, error) {
	var missing []string
	for _, name := range s.Repos {
		found := slices.ContainsFunc(repos, func(r Repository) bool {
			return strings.EqualFold(r.Name, name)
		})
		if !found {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Err: fmt.Errorf("repositories not found in organization: %s", strings.Join(missing, ", "))}
	}

	var selected []Repository
	for _, r := range repos {
		if s.Selects(r.Name) {
			selected = append(selected, r)
		}
	}
	return selected, nil
}

// RunOptions configures one orchestrated run
type RunOptions struct {
	Mode      Mode
	Selection Selection

	// Confirmer is asked before executing. Nil executes without asking.
	Confirmer Confirmer
}

// RunResult is everything a run produced
type RunResult struct {
	// Sets are the non-empty change sets in execution order
	Sets []*ChangeSet
	// Plan is the combination of Sets
	Plan *ChangeSet

	// Unconfigured lists selected repositories no rule applies to
	Unconfigured      []string
	ObservationErrors []*ObservationError
	Report            *ExecutionReport

	// Cancelled is set when the confirmer declined
	Cancelled bool
}

// OrchestratorConfig configures an Orchestrator
type OrchestratorConfig struct {
	// Concurrency bounds concurrent reads and concurrently executing ordering domains
	Concurrency int
	Verbose     bool
	Retry       RetryConfig

	// Limiter throttles mutating calls. Nil means unthrottled.
	Limiter  *rate.Limiter
	Progress Progress
	Logger   zerolog.Logger
}

// Orchestrator observes an organization, diffs it against modules and executes the result
type Orchestrator struct {
	provider Provider
	differ   Differ
	executor Executor
	observer *observer
	log      zerolog.Logger
}

// NewOrchestrator wires a differ, an executor and an observer around provider
func NewOrchestrator(provider Provider, config OrchestratorConfig) *Orchestrator {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.Progress == nil {
		config.Progress = noopProgress{}
	}
	if config.Retry == (RetryConfig{}) {
		config.Retry = DefaultRetryConfig()
	}

	return &Orchestrator{
		provider: provider,
		differ:   NewDiffer(WithVerbose(config.Verbose)),
		executor: NewExecutor(provider,
			WithConcurrency(config.Concurrency),
			WithRetry(config.Retry),
			WithRateLimiter(config.Limiter),
			WithProgress(config.Progress),
			WithExecutorLogger(config.Logger),
		),
		observer: &observer{
			reader:      provider,
			concurrency: config.Concurrency,
			progress:    config.Progress,
			log:         config.Logger,
		},
		log: config.Logger,
	}
}

// Run diffs modules against the organization and applies the result in the requested mode
func (o *Orchestrator) Run(ctx context.Context, modules []*Module, opts RunOptions) (*RunResult, error) {
	if err := ValidateModules(modules); err != nil {
		return nil, err
	}

	obs, unconfigured, err := o.observe(ctx, modules, opts.Selection)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		Unconfigured:      unconfigured,
		ObservationErrors: obs.errors,
	}
	for _, oe := range obs.errors {
		o.log.Warn().Err(oe.Err).Str("domain", string(oe.Domain)).Str("target", oe.Target).Msg("domain skipped")
	}

	result.Sets = o.diff(modules, obs, opts.Selection)
	result.Plan = Combine("ghconf", result.Sets...)
	o.log.Info().Int("changes", result.Plan.Len()).Int("sets", len(result.Sets)).Msg("plan computed")

	if opts.Mode == ModePlan || result.Plan.Empty() {
		result.Report = o.executor.Apply(ctx, result.Plan, ModePlan)
		return result, nil
	}

	if opts.Confirmer != nil {
		ok, err := opts.Confirmer.Confirm(ctx, result.Plan)
		if err != nil {
			return result, fmt.Errorf("confirmation failed: %w", err)
		}
		if !ok {
			o.log.Info().Msg("execution declined")
			result.Cancelled = true
			result.Report = o.executor.Apply(ctx, result.Plan, ModePlan)
			return result, nil
		}
	}

	result.Report = o.executor.Apply(ctx, result.Plan, ModeExecute)
	return result, nil
}

// ListUnconfigured returns the selected repositories no rule applies to
func (o *Orchestrator) ListUnconfigured(ctx context.Context, modules []*Module, sel Selection) ([]string, error) {
	if err := ValidateModules(modules); err != nil {
		return nil, err
	}
	repos, err := o.listRepositories(ctx, sel)
	if err != nil {
		return nil, err
	}
	return unconfigured(modules, repos), nil
}

func (o *Orchestrator) listRepositories(ctx context.Context, sel Selection) ([]Repository, error) {
	all, err := o.provider.ListRepositories(ctx)
	if err != nil {
		return nil, &ObservationError{Domain: DomainRepository, Err: err}
	}
	return sel.filter(all)
}

func unconfigured(modules []*Module, repos []Repository) []string {
	var names []string
	for _, r := range repos {
		if RuleFor(modules, r.Name) == nil {
			names = append(names, r.Name)
		}
	}
	slices.Sort(names)
	return names
}

func needsOrgMembers(modules []*Module) bool {
	return slices.ContainsFunc(modules, func(m *Module) bool {
		return m.Org != nil && m.Org.MemberPolicy == Overwrite
	})
}

func (o *Orchestrator) observe(ctx context.Context, modules []*Module, sel Selection) (*observation, []string, error) {
	obs := newObservation()

	if !sel.SkipOrgChanges {
		o.observer.observeOrg(ctx, obs, needsOrgMembers(modules))
	} else if !sel.SkipRepoChanges {
		// repository access still resolves team names against live teams
		// and leaves organization admins alone
		if teams, err := o.provider.ListTeams(ctx); err == nil {
			obs.state.Teams = teams
		} else {
			o.log.Warn().Err(err).Msg("listing teams failed, deriving slugs from names")
		}
		if admins, err := o.provider.ListOrgAdmins(ctx); err == nil {
			obs.state.Admins = admins
		} else {
			o.log.Warn().Err(err).Msg("listing organization admins failed")
		}
	}

	var unconfiguredRepos []string
	if !sel.SkipRepoChanges {
		repos, err := o.listRepositories(ctx, sel)
		if err != nil {
			return nil, nil, err
		}
		unconfiguredRepos = unconfigured(modules, repos)
		o.observer.observeRepositories(ctx, obs, repos, modules)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return obs, unconfiguredRepos, nil
}

// diff runs every domain in order: organization, teams, repositories
func (o *Orchestrator) diff(modules []*Module, obs *observation, sel Selection) []*ChangeSet {
	var sets []*ChangeSet
	keep := func(cs *ChangeSet) {
		if len(cs.Changes) > 0 {
			sets = append(sets, cs)
		}
	}
	state := obs.state

	if !sel.SkipOrgChanges {
		var teams []*Team
		for _, m := range modules {
			teams = append(teams, m.Teams...)
		}

		source, org := MergeOrgSpecs(modules)
		if !obs.failed[DomainOrgAdmins] {
			keep(o.differ.DiffOrgAdmins(source, org, state))
		}
		if !obs.failed[DomainOrgMembers] {
			keep(o.differ.DiffOrgMembers(source, org, teams, state))
		}
		if !obs.failed[DomainTeamHierarchy] {
			for _, m := range modules {
				if obs.failed[DomainTeamMembership] {
					keep(o.differ.DiffTeamHierarchy(m, state))
					continue
				}
				keep(o.differ.DiffTeams(m, state))
			}
			keep(o.differ.DiffTeamPruning(modules, state))
		}
	}

	if !sel.SkipRepoChanges {
		for i := range state.Repositories {
			repo := &state.Repositories[i]
			rule := RuleFor(modules, repo.Name())
			if rule == nil {
				continue
			}
			source := ""
			if owner := ruleOwner(modules, rule); owner != nil {
				source = owner.Name
			}
			keep(o.differ.DiffRepository(source, rule, repo, state))
		}
	}
	return sets
}
