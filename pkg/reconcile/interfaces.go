package reconcile

import (
	"context"
	"time"
)

// StateReader reads the observed state of an organization
type StateReader interface {
	// ListOrgAdmins lists the logins of organization owners
	ListOrgAdmins(ctx context.Context) ([]string, error)

	// ListOrgMembers lists the logins of organization members without the admin role
	ListOrgMembers(ctx context.Context) ([]string, error)

	ListTeams(ctx context.Context) ([]LiveTeam, error)
	ListTeamMembers(ctx context.Context, teamSlug string) ([]Member, error)

	ListRepositories(ctx context.Context) ([]Repository, error)
	ListRepoTeams(ctx context.Context, repo string) ([]TeamAccess, error)
	ListRepoCollaborators(ctx context.Context, repo string) ([]Collaborator, error)
	ListBranches(ctx context.Context, repo string) ([]string, error)

	// GetBranchProtection returns nil without error for unprotected branches
	GetBranchProtection(ctx context.Context, repo, branch string) (*BranchProtection, error)

	// ListRecentChecks lists the names of status checks and check runs
	// reported on commits of branch since the given time
	ListRecentChecks(ctx context.Context, repo, branch string, since time.Time) ([]string, error)
}

// StateWriter mutates an organization. Every call is an upsert: repeating a
// call that already took effect succeeds and changes nothing.
type StateWriter interface {
	SetOrgMembership(ctx context.Context, username string, role Role) error
	RemoveOrgMember(ctx context.Context, username string) error

	// CreateTeam updates the team instead when the slug already exists
	CreateTeam(ctx context.Context, team TeamSettings) error
	UpdateTeam(ctx context.Context, slug string, update TeamUpdate) error
	DeleteTeam(ctx context.Context, slug string) error

	SetTeamMembership(ctx context.Context, teamSlug, username string, role Role) error
	RemoveTeamMembership(ctx context.Context, teamSlug, username string) error

	SetRepoTeamPermission(ctx context.Context, repo, teamSlug string, permission Permission) error
	RemoveRepoTeamPermission(ctx context.Context, repo, teamSlug string) error
	SetRepoCollaborator(ctx context.Context, repo, username string, permission Permission) error
	RemoveRepoCollaborator(ctx context.Context, repo, username string) error

	SetBranchProtection(ctx context.Context, repo, branch string, protection BranchProtection) error
	UpdateRepository(ctx context.Context, repo string, settings RepositorySettings) error
}

// Provider is the full API surface of a hosting platform organization
type Provider interface {
	StateReader
	StateWriter
}

// Procedure inspects one repository and returns the changes needed to bring
// a setting in line. Procedures must only return changes built with RepoChange.
type Procedure interface {
	Name() string
	Plan(repo *RepositoryState, rule *RepositoryAccessRule) []Change
}

// BranchTargeter is implemented by procedures that need the protection of
// branches other than the default branch observed
type BranchTargeter interface {
	TargetBranches(repo Repository) []string
}

// Confirmer decides whether a planned ChangeSet may be executed
type Confirmer interface {
	Confirm(ctx context.Context, cs *ChangeSet) (bool, error)
}

// ConfirmFunc adapts a function to the Confirmer interface
type ConfirmFunc func(ctx context.Context, cs *ChangeSet) (bool, error)

// Confirm calls f
func (f ConfirmFunc) Confirm(ctx context.Context, cs *ChangeSet) (bool, error) {
	return f(ctx, cs)
}

// Progress receives notifications while a run observes and executes
type Progress interface {
	// Start announces a phase with the number of steps it will take
	Start(phase string, total int)
	// Step reports one finished step of the current phase
	Step(description string)
	// Finish closes the current phase
	Finish()
}

type noopProgress struct{}

func (noopProgress) Start(string, int) {}
func (noopProgress) Step(string)       {}
func (noopProgress) Finish()           {}
