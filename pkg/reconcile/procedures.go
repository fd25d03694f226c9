package reconcile

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// StateProjector is implemented by procedures whose planned changes alter
// the repository state seen by the procedures after them
type StateProjector interface {
	Project(repo *RepositoryState, rule *RepositoryAccessRule)
}

func (r *RepositoryState) clone() *RepositoryState {
	c := *r
	c.Teams = slices.Clone(r.Teams)
	c.Collaborators = slices.Clone(r.Collaborators)
	c.Branches = slices.Clone(r.Branches)
	c.Protections = maps.Clone(r.Protections)
	if c.Protections == nil {
		c.Protections = make(map[string]*BranchProtection)
	}
	c.RecentChecks = maps.Clone(r.RecentChecks)
	return &c
}

func targetBranch(repo *RepositoryState, branch string) string {
	if branch != "" {
		return branch
	}
	return repo.Repository.DefaultBranch
}

// Summary renders a protection for change listings
func (bp BranchProtection) Summary() string {
	checks := "none"
	if len(bp.StatusChecks) > 0 {
		checks = strings.Join(bp.StatusChecks, ",")
	}
	return fmt.Sprintf("approvals=%d dismiss-stale=%t code-owners=%t checks=%s strict=%t enforce-admins=%t",
		bp.RequiredApprovals, bp.DismissStaleReviews, bp.RequireCodeOwnerReviews, checks, bp.StrictStatusChecks, bp.EnforceAdmins)
}

// ProtectBranch is the desired protection of one branch. Nil fields keep the
// observed value. An empty Branch targets the default branch.
type ProtectBranch struct {
	Branch                  string
	RequiredApprovals       *int
	DismissStaleReviews     *bool
	RequireCodeOwnerReviews *bool
	StrictStatusChecks      *bool
	EnforceAdmins           *bool

	// StatusChecks replaces the required checks when non-nil. An empty
	// non-nil slice removes every check.
	StatusChecks []string
}

// RequireApprovals protects a branch with n approving reviews
func RequireApprovals(branch string, n int) *ProtectBranch {
	return &ProtectBranch{Branch: branch, RequiredApprovals: &n}
}

// DismissStaleReviews dismisses approvals when new commits are pushed
func DismissStaleReviews(branch string, enabled bool) *ProtectBranch {
	return &ProtectBranch{Branch: branch, DismissStaleReviews: &enabled}
}

// RequireStatusChecks requires the given checks to pass
func RequireStatusChecks(branch string, strict bool, contexts ...string) *ProtectBranch {
	if contexts == nil {
		contexts = []string{}
	}
	return &ProtectBranch{Branch: branch, StatusChecks: contexts, StrictStatusChecks: &strict}
}

func (p *ProtectBranch) Name() string {
	return "protect-branch"
}

func (p *ProtectBranch) TargetBranches(Repository) []string {
	if p.Branch == "" {
		return nil
	}
	return []string{p.Branch}
}

func (p *ProtectBranch) apply(bp BranchProtection) BranchProtection {
	if p.RequiredApprovals != nil {
		bp.RequiredApprovals = *p.RequiredApprovals
	}
	if p.DismissStaleReviews != nil {
		bp.DismissStaleReviews = *p.DismissStaleReviews
	}
	if p.RequireCodeOwnerReviews != nil {
		bp.RequireCodeOwnerReviews = *p.RequireCodeOwnerReviews
	}
	if p.StrictStatusChecks != nil {
		bp.StrictStatusChecks = *p.StrictStatusChecks
	}
	if p.EnforceAdmins != nil {
		bp.EnforceAdmins = *p.EnforceAdmins
	}
	if p.StatusChecks != nil {
		bp.StatusChecks = slices.Clone(p.StatusChecks)
	}
	return bp
}

func (p *ProtectBranch) Plan(repo *RepositoryState, _ *RepositoryAccessRule) []Change {
	branch := targetBranch(repo, p.Branch)
	if branch == "" || !repo.HasBranch(branch) {
		return nil
	}

	current := repo.Protection(branch)
	desired := p.apply(current)
	if current.Equal(desired) {
		return nil
	}

	name := repo.Name()
	c := Change{
		Kind:        KindReplace,
		Target:      fmt.Sprintf("repo %s branch %s protection", name, branch),
		Before:      current.Summary(),
		After:       desired.Summary(),
		Description: fmt.Sprintf("update protection of branch %s on %s", branch, name),
	}
	if repo.Protections[branch] == nil {
		c.Kind = KindAdd
		c.Before = "unprotected"
		c.Description = fmt.Sprintf("protect branch %s on %s", branch, name)
	}
	return []Change{RepoChange(repo, c, func(ctx context.Context, w StateWriter) error {
		return w.SetBranchProtection(ctx, name, branch, desired)
	})}
}

func (p *ProtectBranch) Project(repo *RepositoryState, _ *RepositoryAccessRule) {
	branch := targetBranch(repo, p.Branch)
	if branch == "" || !repo.HasBranch(branch) {
		return
	}
	desired := p.apply(repo.Protection(branch))
	repo.Protections[branch] = &desired
}

// DefaultBranch makes the first existing preferred branch the default
type DefaultBranch struct {
	Preferred []string
}

func (p *DefaultBranch) Name() string {
	return "default-branch"
}

func (p *DefaultBranch) TargetBranches(Repository) []string {
	return p.Preferred
}

func (p *DefaultBranch) choose(repo *RepositoryState) (string, bool) {
	for _, branch := range p.Preferred {
		if repo.HasBranch(branch) {
			return branch, true
		}
	}
	return "", false
}

func (p *DefaultBranch) Plan(repo *RepositoryState, _ *RepositoryAccessRule) []Change {
	branch, ok := p.choose(repo)
	if !ok || branch == repo.Repository.DefaultBranch {
		return nil
	}
	name := repo.Name()
	return []Change{RepoChange(repo, Change{
		Kind:        KindReplace,
		Target:      fmt.Sprintf("repo %s default branch", name),
		Before:      repo.Repository.DefaultBranch,
		After:       branch,
		Description: fmt.Sprintf("make %s the default branch of %s", branch, name),
	}, func(ctx context.Context, w StateWriter) error {
		return w.UpdateRepository(ctx, name, RepositorySettings{DefaultBranch: &branch})
	})}
}

func (p *DefaultBranch) Project(repo *RepositoryState, _ *RepositoryAccessRule) {
	if branch, ok := p.choose(repo); ok {
		repo.Repository.DefaultBranch = branch
	}
}

// Features toggles repository features. Nil fields are left alone.
type Features struct {
	Issues   *bool
	Wiki     *bool
	Projects *bool

	// DeleteBranchOnMerge deletes head branches once their pull request is merged
	DeleteBranchOnMerge *bool
}

func (p *Features) Name() string {
	return "features"
}

func (p *Features) Plan(repo *RepositoryState, _ *RepositoryAccessRule) []Change {
	name := repo.Name()
	var changes []Change
	toggle := func(feature string, desired *bool, observed bool, settings func(*bool) RepositorySettings) {
		if desired == nil || *desired == observed {
			return
		}
		value := *desired
		verb := "disable"
		if value {
			verb = "enable"
		}
		changes = append(changes, RepoChange(repo, Change{
			Kind:        KindReplace,
			Target:      fmt.Sprintf("repo %s %s", name, feature),
			Before:      strconv.FormatBool(observed),
			After:       strconv.FormatBool(value),
			Description: fmt.Sprintf("%s %s on %s", verb, feature, name),
		}, func(ctx context.Context, w StateWriter) error {
			return w.UpdateRepository(ctx, name, settings(&value))
		}))
	}

	toggle("issues", p.Issues, repo.Repository.HasIssues, func(v *bool) RepositorySettings { return RepositorySettings{HasIssues: v} })
	toggle("wiki", p.Wiki, repo.Repository.HasWiki, func(v *bool) RepositorySettings { return RepositorySettings{HasWiki: v} })
	toggle("projects", p.Projects, repo.Repository.HasProjects, func(v *bool) RepositorySettings { return RepositorySettings{HasProjects: v} })
	toggle("branch deletion on merge", p.DeleteBranchOnMerge, repo.Repository.DeleteBranchOnMerge, func(v *bool) RepositorySettings {
		return RepositorySettings{DeleteBranchOnMerge: v}
	})
	return changes
}

func (p *Features) Project(repo *RepositoryState, _ *RepositoryAccessRule) {
	if p.Issues != nil {
		repo.Repository.HasIssues = *p.Issues
	}
	if p.Wiki != nil {
		repo.Repository.HasWiki = *p.Wiki
	}
	if p.Projects != nil {
		repo.Repository.HasProjects = *p.Projects
	}
	if p.DeleteBranchOnMerge != nil {
		repo.Repository.DeleteBranchOnMerge = *p.DeleteBranchOnMerge
	}
}

// RemoveOutsideCollaborators removes collaborators who are not organization
// members unless the rule grants them access
type RemoveOutsideCollaborators struct{}

func (RemoveOutsideCollaborators) Name() string {
	return "remove-outside-collaborators"
}

func (RemoveOutsideCollaborators) Plan(repo *RepositoryState, rule *RepositoryAccessRule) []Change {
	declared := granted(rule)

	name := repo.Name()
	var changes []Change
	for _, collaborator := range repo.Collaborators {
		if !collaborator.Outside || declared[collaboratorKey(collaborator)] {
			continue
		}
		user := collaborator.Username
		changes = append(changes, RepoChange(repo, Change{
			Kind:        KindRemove,
			Target:      fmt.Sprintf("repo %s collaborator %s", name, user),
			Before:      string(collaborator.Permission),
			Description: fmt.Sprintf("remove outside collaborator %s from %s", user, name),
		}, func(ctx context.Context, w StateWriter) error {
			return w.RemoveRepoCollaborator(ctx, name, user)
		}))
	}
	return changes
}

func (RemoveOutsideCollaborators) Project(repo *RepositoryState, rule *RepositoryAccessRule) {
	declared := granted(rule)
	repo.Collaborators = slices.DeleteFunc(repo.Collaborators, func(c Collaborator) bool {
		return c.Outside && !declared[collaboratorKey(c)]
	})
}

// granted collects the collaborators a rule declares at any level
func granted(rule *RepositoryAccessRule) map[string]bool {
	users := make(map[string]bool)
	if rule == nil {
		return users
	}
	for _, grant := range rule.Access {
		for _, user := range grant.Collaborators {
			users[lower(user)] = true
		}
	}
	return users
}

// RemoveAdminCollaborators removes direct collaborators holding admin on the
// repository unless the rule grants them access. Administration goes
// through teams.
type RemoveAdminCollaborators struct{}

func (RemoveAdminCollaborators) Name() string {
	return "remove-admin-collaborators"
}

func (RemoveAdminCollaborators) Plan(repo *RepositoryState, rule *RepositoryAccessRule) []Change {
	declared := granted(rule)

	name := repo.Name()
	var changes []Change
	for _, collaborator := range repo.Collaborators {
		if collaborator.Permission != PermissionAdmin || declared[collaboratorKey(collaborator)] {
			continue
		}
		user := collaborator.Username
		changes = append(changes, RepoChange(repo, Change{
			Kind:        KindRemove,
			Target:      fmt.Sprintf("repo %s collaborator %s", name, user),
			Before:      string(collaborator.Permission),
			Description: fmt.Sprintf("remove admin collaborator %s from %s", user, name),
		}, func(ctx context.Context, w StateWriter) error {
			return w.RemoveRepoCollaborator(ctx, name, user)
		}))
	}
	return changes
}

func (RemoveAdminCollaborators) Project(repo *RepositoryState, rule *RepositoryAccessRule) {
	declared := granted(rule)
	repo.Collaborators = slices.DeleteFunc(repo.Collaborators, func(c Collaborator) bool {
		return c.Permission == PermissionAdmin && !declared[collaboratorKey(c)]
	})
}

// CheckWatcher is implemented by procedures that need the checks recently
// reported on a branch
type CheckWatcher interface {
	// WatchedBranch returns the branch to read and how far back to look
	WatchedBranch(repo Repository) (branch string, window time.Duration)
}

// DefaultCheckWindow is how far back RequireRecentChecks looks by default
const DefaultCheckWindow = 7 * 24 * time.Hour

// RequireRecentChecks makes every check reported on the branch within
// Window a required status check. Branches without recent checks are left alone.
type RequireRecentChecks struct {
	Branch string
	Window time.Duration
}

func (p *RequireRecentChecks) Name() string {
	return "require-recent-checks"
}

func (p *RequireRecentChecks) TargetBranches(Repository) []string {
	if p.Branch == "" {
		return nil
	}
	return []string{p.Branch}
}

func (p *RequireRecentChecks) WatchedBranch(repo Repository) (string, time.Duration) {
	branch := p.Branch
	if branch == "" {
		branch = repo.DefaultBranch
	}
	window := p.Window
	if window <= 0 {
		window = DefaultCheckWindow
	}
	return branch, window
}

// protection returns the branch protection the recent checks call for, nil
// when there is nothing to require
func (p *RequireRecentChecks) protection(repo *RepositoryState) *ProtectBranch {
	branch := targetBranch(repo, p.Branch)
	checks := slices.Clone(repo.RecentChecks[branch])
	if len(checks) == 0 {
		return nil
	}
	slices.Sort(checks)
	return RequireStatusChecks(branch, true, slices.Compact(checks)...)
}

func (p *RequireRecentChecks) Plan(repo *RepositoryState, rule *RepositoryAccessRule) []Change {
	if protect := p.protection(repo); protect != nil {
		return protect.Plan(repo, rule)
	}
	return nil
}

func (p *RequireRecentChecks) Project(repo *RepositoryState, rule *RepositoryAccessRule) {
	if protect := p.protection(repo); protect != nil {
		protect.Project(repo, rule)
	}
}
