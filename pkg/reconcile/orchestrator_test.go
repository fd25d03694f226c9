package reconcile

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenario(t *testing.T) (*fakeProvider, []*Module) {
	t.Helper()

	fake := newFakeProvider()
	fake.admins["alice"] = "alice"
	fake.admins["mallory"] = "mallory"
	fake.members["a"] = "a"
	fake.members["drifter"] = "drifter"
	fake.addRepo(Repository{Name: "test1-svc", DefaultBranch: "main"}, "main")
	fake.addRepo(Repository{Name: "test1-web", DefaultBranch: "main"}, "main", "dev")
	fake.addRepo(Repository{Name: "other"}, "main")

	rule := mustRule(t, "^test1-").Grant(PermissionPush, "core")
	rule.Procedures = []Procedure{RequireApprovals("", 1)}

	module := &Module{
		Name: "platform",
		Org: &OrgSpec{
			Admins:       []string{"alice"},
			AdminPolicy:  Overwrite,
			MemberPolicy: Overwrite,
		},
		Teams: []*Team{NewTeam("Root", member("a")).AddSubteams(NewTeam("Core", member("b")))},
		Rules: []*RepositoryAccessRule{rule},
	}
	return fake, []*Module{module}
}

func TestOrchestrator_PlanMakesNoChanges(t *testing.T) {
	fake, modules := scenario(t)
	o := NewOrchestrator(fake, OrchestratorConfig{Concurrency: 4})

	result, err := o.Run(context.Background(), modules, RunOptions{Mode: ModePlan})
	require.NoError(t, err)

	assert.Equal(t, 0, fake.writes)
	assert.Equal(t, []string{"other"}, result.Unconfigured)
	assert.Empty(t, result.ObservationErrors)
	assert.False(t, result.Plan.Empty())
	for _, res := range result.Report.Results {
		assert.Equal(t, StatusPlanned, res.Status)
	}

	assert.Equal(t, []string{
		"demote mallory to organization member",
		"remove drifter from the organization",
		"remove mallory from the organization",
		"create team Root",
		"add a as member of team Root",
		"create team Core under root",
		"add b as member of team Core",
		"grant push to team core on test1-svc",
		"protect branch main on test1-svc",
		"grant push to team core on test1-web",
		"protect branch main on test1-web",
	}, descriptions(result.Plan))
}

func TestOrchestrator_PlanFollowsStageOrder(t *testing.T) {
	fake, modules := scenario(t)
	o := NewOrchestrator(fake, OrchestratorConfig{})

	result, err := o.Run(context.Background(), modules, RunOptions{Mode: ModePlan})
	require.NoError(t, err)

	last := StageOrg
	for _, c := range result.Plan.Changes {
		assert.GreaterOrEqual(t, c.Stage, last, "change %q is out of order", c.Description)
		last = c.Stage
	}
}

func TestOrchestrator_ExecuteConverges(t *testing.T) {
	fake, modules := scenario(t)
	o := NewOrchestrator(fake, OrchestratorConfig{Concurrency: 4})

	result, err := o.Run(context.Background(), modules, RunOptions{Mode: ModeExecute})
	require.NoError(t, err)
	require.NotNil(t, result.Report)
	assert.NoError(t, result.Report.Err())
	assert.Len(t, result.Report.Applied(), result.Plan.Len())

	assert.Equal(t, map[string]string{"alice": "alice"}, fake.admins)
	assert.Equal(t, map[string]string{"a": "a", "b": "b"}, fake.members)
	assert.Equal(t, "root", fake.teams["core"].ParentSlug)
	assert.Equal(t, PermissionPush, fake.repoTeams["test1-svc"]["core"])
	assert.Equal(t, 1, fake.protections["test1-web"]["main"].RequiredApprovals)

	writes := fake.writes
	again, err := o.Run(context.Background(), modules, RunOptions{Mode: ModeExecute})
	require.NoError(t, err)
	assert.True(t, again.Plan.Empty(), "second run planned: %v", descriptions(again.Plan))
	assert.Equal(t, writes, fake.writes)
}

func TestOrchestrator_PruningRunsAfterMoves(t *testing.T) {
	fake := newFakeProvider()
	fake.addTeam(LiveTeam{Name: "R", Slug: "r", Privacy: PrivacyClosed, Permission: PermissionPull})
	fake.addTeam(LiveTeam{Name: "X", Slug: "x", ParentSlug: "r", Privacy: PrivacyClosed, Permission: PermissionPull})
	fake.addTeam(LiveTeam{Name: "Y", Slug: "y", ParentSlug: "x", Privacy: PrivacyClosed, Permission: PermissionPull}, member("yuser"))

	modules := []*Module{{
		Name:       "platform",
		Teams:      []*Team{NewTeam("R", member("ruser")), NewTeam("Y", member("yuser"))},
		TeamPolicy: Overwrite,
	}}
	o := NewOrchestrator(fake, OrchestratorConfig{Concurrency: 1})

	result, err := o.Run(context.Background(), modules, RunOptions{Mode: ModeExecute})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"add ruser as member of team R",
		"change parent of team Y",
		"delete team X",
	}, descriptions(result.Plan))
	assert.NoError(t, result.Report.Err())

	require.Contains(t, fake.teams, "y")
	assert.Empty(t, fake.teams["y"].ParentSlug)
	assert.Contains(t, fake.teamMembers["y"], "yuser")
	assert.NotContains(t, fake.teams, "x")

	again, err := o.Run(context.Background(), modules, RunOptions{Mode: ModeExecute})
	require.NoError(t, err)
	assert.True(t, again.Plan.Empty(), "second run planned: %v", descriptions(again.Plan))
}

func TestOrchestrator_ModulesShareOrgAdmins(t *testing.T) {
	fake := newFakeProvider()
	fake.admins["alice"] = "alice"
	fake.admins["bob"] = "bob"
	fake.admins["mallory"] = "mallory"

	modules := []*Module{
		{Name: "a", Org: &OrgSpec{Admins: []string{"alice"}, AdminPolicy: Overwrite}},
		{Name: "b", Org: &OrgSpec{Admins: []string{"bob", "carol"}, AdminPolicy: Overwrite}},
	}
	o := NewOrchestrator(fake, OrchestratorConfig{})

	result, err := o.Run(context.Background(), modules, RunOptions{Mode: ModeExecute})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"make carol an organization admin",
		"demote mallory to organization member",
	}, descriptions(result.Plan))
	require.Len(t, result.Sets, 1)
	assert.Equal(t, "a,b", result.Sets[0].Source)
	assert.Equal(t, map[string]string{"alice": "alice", "bob": "bob", "carol": "carol"}, fake.admins)

	again, err := o.Run(context.Background(), modules, RunOptions{Mode: ModeExecute})
	require.NoError(t, err)
	assert.True(t, again.Plan.Empty(), "second run planned: %v", descriptions(again.Plan))
}

func TestOrchestrator_Confirmation(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		fake, modules := scenario(t)
		o := NewOrchestrator(fake, OrchestratorConfig{})

		var asked *ChangeSet
		confirm := ConfirmFunc(func(_ context.Context, cs *ChangeSet) (bool, error) {
			asked = cs
			return false, nil
		})

		result, err := o.Run(context.Background(), modules, RunOptions{Mode: ModeExecute, Confirmer: confirm})
		require.NoError(t, err)
		assert.True(t, result.Cancelled)
		assert.Same(t, result.Plan, asked)
		assert.Equal(t, ModePlan, result.Report.Mode)
		assert.Equal(t, 0, fake.writes)
	})

	t.Run("approved", func(t *testing.T) {
		fake, modules := scenario(t)
		o := NewOrchestrator(fake, OrchestratorConfig{})

		confirm := ConfirmFunc(func(context.Context, *ChangeSet) (bool, error) { return true, nil })
		result, err := o.Run(context.Background(), modules, RunOptions{Mode: ModeExecute, Confirmer: confirm})
		require.NoError(t, err)
		assert.False(t, result.Cancelled)
		assert.Equal(t, ModeExecute, result.Report.Mode)
		assert.Greater(t, fake.writes, 0)
	})

	t.Run("not asked for an empty plan", func(t *testing.T) {
		fake := newFakeProvider()
		o := NewOrchestrator(fake, OrchestratorConfig{})

		confirm := ConfirmFunc(func(context.Context, *ChangeSet) (bool, error) {
			t.Fatal("confirmer called for an empty plan")
			return false, nil
		})
		result, err := o.Run(context.Background(), []*Module{{Name: "empty"}}, RunOptions{Mode: ModeExecute, Confirmer: confirm})
		require.NoError(t, err)
		assert.True(t, result.Plan.Empty())
	})

	t.Run("error aborts", func(t *testing.T) {
		fake, modules := scenario(t)
		o := NewOrchestrator(fake, OrchestratorConfig{})

		confirm := ConfirmFunc(func(context.Context, *ChangeSet) (bool, error) { return false, errors.New("no tty") })
		_, err := o.Run(context.Background(), modules, RunOptions{Mode: ModeExecute, Confirmer: confirm})
		assert.ErrorContains(t, err, "no tty")
		assert.Equal(t, 0, fake.writes)
	})
}

func TestOrchestrator_Selection(t *testing.T) {
	t.Run("explicit repository", func(t *testing.T) {
		fake, modules := scenario(t)
		o := NewOrchestrator(fake, OrchestratorConfig{})

		result, err := o.Run(context.Background(), modules, RunOptions{
			Mode:      ModePlan,
			Selection: Selection{Repos: []string{"test1-web"}, SkipOrgChanges: true},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"grant push to team core on test1-web",
			"protect branch main on test1-web",
		}, descriptions(result.Plan))
		assert.Empty(t, result.Unconfigured)
	})

	t.Run("pattern", func(t *testing.T) {
		fake, modules := scenario(t)
		o := NewOrchestrator(fake, OrchestratorConfig{})

		result, err := o.Run(context.Background(), modules, RunOptions{
			Mode:      ModePlan,
			Selection: Selection{RepoPatterns: []*regexp.Regexp{regexp.MustCompile("svc$")}, SkipOrgChanges: true},
		})
		require.NoError(t, err)
		for _, c := range result.Plan.Changes {
			assert.Equal(t, "repo:test1-svc", c.Queue)
		}
	})

	t.Run("unknown repository", func(t *testing.T) {
		fake, modules := scenario(t)
		o := NewOrchestrator(fake, OrchestratorConfig{})

		_, err := o.Run(context.Background(), modules, RunOptions{Selection: Selection{Repos: []string{"missing"}}})
		var cfgErr *ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("organization only", func(t *testing.T) {
		fake, modules := scenario(t)
		o := NewOrchestrator(fake, OrchestratorConfig{})

		result, err := o.Run(context.Background(), modules, RunOptions{Selection: Selection{SkipRepoChanges: true}})
		require.NoError(t, err)
		for _, c := range result.Plan.Changes {
			assert.NotEqual(t, StageRepositories, c.Stage)
		}
		assert.Nil(t, result.Unconfigured)
	})
}

func TestOrchestrator_ListUnconfigured(t *testing.T) {
	fake, modules := scenario(t)
	fake.addRepo(Repository{Name: "another"})
	o := NewOrchestrator(fake, OrchestratorConfig{})

	names, err := o.ListUnconfigured(context.Background(), modules, Selection{})
	require.NoError(t, err)
	assert.Equal(t, []string{"another", "other"}, names)
	assert.Equal(t, 0, fake.writes)
}

func TestOrchestrator_RejectsInvalidModules(t *testing.T) {
	fake := newFakeProvider()
	o := NewOrchestrator(fake, OrchestratorConfig{})

	modules := []*Module{
		{Name: "one", Teams: []*Team{NewTeam("Core")}},
		{Name: "two", Teams: []*Team{NewTeam("core")}},
	}
	_, err := o.Run(context.Background(), modules, RunOptions{})

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "two", cfgErr.Module)
}

// failingReader makes selected reads of a fakeProvider fail
type failingReader struct {
	*fakeProvider
	teamMembers  bool
	repositories bool
}

func (f *failingReader) ListTeamMembers(ctx context.Context, slug string) ([]Member, error) {
	if f.teamMembers {
		return nil, &kindError{kind: ErrorForbidden}
	}
	return f.fakeProvider.ListTeamMembers(ctx, slug)
}

func (f *failingReader) ListRepositories(ctx context.Context) ([]Repository, error) {
	if f.repositories {
		return nil, &kindError{kind: ErrorTransient}
	}
	return f.fakeProvider.ListRepositories(ctx)
}

func TestOrchestrator_ObservationFailures(t *testing.T) {
	t.Run("membership failure skips the membership domain", func(t *testing.T) {
		fake := newFakeProvider()
		fake.addTeam(LiveTeam{Name: "Root", Slug: "root", Description: "old", Privacy: PrivacyClosed, Permission: PermissionPull})
		reader := &failingReader{fakeProvider: fake, teamMembers: true}

		root := NewTeam("Root", member("a"))
		root.Description = "new"
		o := NewOrchestrator(reader, OrchestratorConfig{})

		result, err := o.Run(context.Background(), []*Module{{Name: "m", Teams: []*Team{root}}}, RunOptions{Mode: ModePlan})
		require.NoError(t, err)
		assert.Equal(t, []string{"change description of team Root"}, descriptions(result.Plan))
		require.Len(t, result.ObservationErrors, 1)
		assert.Equal(t, DomainTeamMembership, result.ObservationErrors[0].Domain)
		assert.Equal(t, "root", result.ObservationErrors[0].Target)
	})

	t.Run("repository listing failure aborts", func(t *testing.T) {
		fake, modules := scenario(t)
		o := NewOrchestrator(&failingReader{fakeProvider: fake, repositories: true}, OrchestratorConfig{})

		_, err := o.Run(context.Background(), modules, RunOptions{Mode: ModePlan})
		var obsErr *ObservationError
		require.True(t, errors.As(err, &obsErr))
		assert.True(t, IsTransient(err))
	})
}
