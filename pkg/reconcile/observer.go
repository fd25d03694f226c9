package reconcile

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// observation is the observed state plus the domains that could not be read
type observation struct {
	state  *ObservedState
	failed map[Domain]bool
	errors []*ObservationError
	mu     sync.Mutex
}

func newObservation() *observation {
	return &observation{
		state:  &ObservedState{TeamMembers: make(map[string][]Member)},
		failed: make(map[Domain]bool),
	}
}

func (o *observation) fail(err *ObservationError, domains ...Domain) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, err)
	for _, d := range domains {
		o.failed[d] = true
	}
}

type observer struct {
	reader      StateReader
	concurrency int
	progress    Progress
	log         zerolog.Logger
}

// observeOrg reads admins, members and teams. Reads run concurrently.
func (o *observer) observeOrg(ctx context.Context, obs *observation, withMembers bool) {
	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)

	g.Go(func() error {
		admins, err := o.reader.ListOrgAdmins(ctx)
		if err != nil {
			obs.fail(&ObservationError{Domain: DomainOrgAdmins, Err: err}, DomainOrgAdmins, DomainOrgMembers)
			return nil
		}
		obs.state.Admins = admins
		return nil
	})
	if withMembers {
		g.Go(func() error {
			members, err := o.reader.ListOrgMembers(ctx)
			if err != nil {
				obs.fail(&ObservationError{Domain: DomainOrgMembers, Err: err}, DomainOrgMembers)
				return nil
			}
			obs.state.Members = members
			return nil
		})
	}
	g.Go(func() error {
		teams, err := o.reader.ListTeams(ctx)
		if err != nil {
			obs.fail(&ObservationError{Domain: DomainTeamHierarchy, Err: err}, DomainTeamHierarchy, DomainTeamMembership)
			return nil
		}
		obs.state.Teams = teams
		return nil
	})
	_ = g.Wait()

	if obs.failed[DomainTeamHierarchy] {
		return
	}

	o.log.Debug().Int("teams", len(obs.state.Teams)).Msg("observing team members")
	members := make([][]Member, len(obs.state.Teams))
	g = new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for i, team := range obs.state.Teams {
		g.Go(func() error {
			list, err := o.reader.ListTeamMembers(ctx, team.Slug)
			if err != nil {
				obs.fail(&ObservationError{Domain: DomainTeamMembership, Target: team.Slug, Err: err}, DomainTeamMembership)
				return nil
			}
			members[i] = list
			return nil
		})
	}
	_ = g.Wait()

	for i, team := range obs.state.Teams {
		obs.state.TeamMembers[team.Slug] = members[i]
	}
}

// observeRepositories reads the access, branches and protections of every
// repository a rule applies to. Failing repositories are left out.
func (o *observer) observeRepositories(ctx context.Context, obs *observation, repos []Repository, modules []*Module) {
	states := make([]*RepositoryState, len(repos))

	o.progress.Start("observing repositories", len(repos))
	defer o.progress.Finish()

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for i, repo := range repos {
		g.Go(func() error {
			defer o.progress.Step(repo.Name)

			rule := RuleFor(modules, repo.Name)
			if rule == nil || repo.Archived {
				return nil
			}
			state, err := o.observeRepository(ctx, repo, rule)
			if err != nil {
				o.log.Warn().Err(err).Str("repo", repo.Name).Msg("skipping repository")
				obs.fail(&ObservationError{Domain: DomainRepository, Target: repo.Name, Err: err})
				return nil
			}
			states[i] = state
			return nil
		})
	}
	_ = g.Wait()

	for _, state := range states {
		if state != nil {
			obs.state.Repositories = append(obs.state.Repositories, *state)
		}
	}
}

func (o *observer) observeRepository(ctx context.Context, repo Repository, rule *RepositoryAccessRule) (*RepositoryState, error) {
	state := &RepositoryState{
		Repository:  repo,
		Protections: make(map[string]*BranchProtection),
	}

	var err error
	if state.Teams, err = o.reader.ListRepoTeams(ctx, repo.Name); err != nil {
		return nil, err
	}
	if state.Collaborators, err = o.reader.ListRepoCollaborators(ctx, repo.Name); err != nil {
		return nil, err
	}
	if state.Branches, err = o.reader.ListBranches(ctx, repo.Name); err != nil {
		return nil, err
	}

	for _, branch := range protectedBranches(repo, rule) {
		if !state.HasBranch(branch) {
			continue
		}
		protection, err := o.reader.GetBranchProtection(ctx, repo.Name, branch)
		if err != nil {
			return nil, err
		}
		state.Protections[branch] = protection
	}

	for _, proc := range rule.Procedures {
		watcher, ok := proc.(CheckWatcher)
		if !ok {
			continue
		}
		branch, window := watcher.WatchedBranch(repo)
		if branch == "" || !state.HasBranch(branch) {
			continue
		}
		if _, done := state.RecentChecks[branch]; done {
			continue
		}
		checks, err := o.reader.ListRecentChecks(ctx, repo.Name, branch, time.Now().Add(-window))
		if err != nil {
			return nil, err
		}
		if state.RecentChecks == nil {
			state.RecentChecks = make(map[string][]string)
		}
		state.RecentChecks[branch] = checks
	}
	return state, nil
}

// protectedBranches lists the branches whose protection the procedures of a rule may inspect
func protectedBranches(repo Repository, rule *RepositoryAccessRule) []string {
	var branches []string
	if repo.DefaultBranch != "" {
		branches = append(branches, repo.DefaultBranch)
	}
	for _, proc := range rule.Procedures {
		if targeter, ok := proc.(BranchTargeter); ok {
			for _, b := range targeter.TargetBranches(repo) {
				if !slices.Contains(branches, b) {
					branches = append(branches, b)
				}
			}
		}
	}
	return branches
}
