package reconcile

import (
	"slices"
	"strings"
)

// LiveTeam is a team as it exists in the organization
type LiveTeam struct {
	ID          int64
	Name        string
	Slug        string
	Description string
	Privacy     Privacy
	Permission  Permission
	ParentSlug  string
}

// TeamSettings are the attributes sent when creating a team
type TeamSettings struct {
	Name        string
	Slug        string
	Description string
	Privacy     Privacy
	Permission  Permission
	ParentSlug  string
}

// TeamUpdate carries the attributes to change on an existing team. Nil fields are left alone.
type TeamUpdate struct {
	Description *string
	Privacy     *Privacy
	Permission  *Permission

	// ParentSlug set to an empty string moves the team to the top level
	ParentSlug *string
}

// TeamAccess is a team's permission on a repository
type TeamAccess struct {
	Slug       string
	Name       string
	Permission Permission
}

func teamAccessKey(t TeamAccess) string {
	return strings.ToLower(t.Slug)
}

// Collaborator is a user with direct access to a repository
type Collaborator struct {
	Username   string
	Permission Permission

	// Outside is set for collaborators who are not organization members
	Outside bool
}

func collaboratorKey(c Collaborator) string {
	return strings.ToLower(c.Username)
}

// Repository is the observed settings of a repository
type Repository struct {
	Name          string
	DefaultBranch string
	Archived      bool
	Private       bool
	HasIssues     bool
	HasWiki       bool
	HasProjects   bool

	DeleteBranchOnMerge bool
}

// RepositorySettings carries repository attributes to change. Nil fields are left alone.
type RepositorySettings struct {
	DefaultBranch *string
	HasIssues     *bool
	HasWiki       *bool
	HasProjects   *bool

	DeleteBranchOnMerge *bool
}

// BranchProtection is the protection configured on one branch
type BranchProtection struct {
	RequiredApprovals       int
	DismissStaleReviews     bool
	RequireCodeOwnerReviews bool
	StatusChecks            []string
	StrictStatusChecks      bool
	EnforceAdmins           bool

	// Extras are carried from the observed protection into every update
	Extras ProtectionExtras
}

// ProtectionExtras are protection settings no procedure manages. GitHub
// replaces a protection as a whole, so they are read back and resent
// unchanged. Equal ignores them.
type ProtectionExtras struct {
	RequireLinearHistory          bool
	AllowForcePushes              bool
	AllowDeletions                bool
	RequireConversationResolution bool
	RequireLastPushApproval       bool

	// PushRestrictions is nil when anyone with write access may push
	PushRestrictions *PushRestrictions
}

// PushRestrictions lists who may push to a protected branch
type PushRestrictions struct {
	Users []string
	Teams []string
	Apps  []string
}

// Equal reports whether two protections are configured identically. Status
// check order is ignored.
func (bp BranchProtection) Equal(other BranchProtection) bool {
	if bp.RequiredApprovals != other.RequiredApprovals ||
		bp.DismissStaleReviews != other.DismissStaleReviews ||
		bp.RequireCodeOwnerReviews != other.RequireCodeOwnerReviews ||
		bp.StrictStatusChecks != other.StrictStatusChecks ||
		bp.EnforceAdmins != other.EnforceAdmins {
		return false
	}
	a := slices.Clone(bp.StatusChecks)
	b := slices.Clone(other.StatusChecks)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// RepositoryState is everything observed about one repository
type RepositoryState struct {
	Repository    Repository
	Teams         []TeamAccess
	Collaborators []Collaborator
	Branches      []string

	// Protections is keyed by branch. Unprotected branches map to nil.
	Protections map[string]*BranchProtection

	// RecentChecks lists, per branch, the status checks and check runs
	// reported on its recent commits. Only branches a procedure asks for are read.
	RecentChecks map[string][]string
}

// Name returns the repository name
func (r *RepositoryState) Name() string {
	return r.Repository.Name
}

// HasBranch reports whether the branch exists
func (r *RepositoryState) HasBranch(branch string) bool {
	return slices.Contains(r.Branches, branch)
}

// Protection returns the protection of a branch, the zero value if unprotected
func (r *RepositoryState) Protection(branch string) BranchProtection {
	if bp := r.Protections[branch]; bp != nil {
		return *bp
	}
	return BranchProtection{}
}

// ObservedState is the organization as read from the provider
type ObservedState struct {
	Admins      []string
	Members     []string
	Teams       []LiveTeam
	TeamMembers map[string][]Member

	Repositories []RepositoryState
}

// Team returns the live team with the given slug
func (o *ObservedState) Team(slug string) (LiveTeam, bool) {
	for _, t := range o.Teams {
		if strings.EqualFold(t.Slug, slug) {
			return t, true
		}
	}
	return LiveTeam{}, false
}

// TeamSlug resolves a team name to its slug, preferring live teams
func (o *ObservedState) TeamSlug(name string) string {
	for _, t := range o.Teams {
		if strings.EqualFold(t.Name, name) || strings.EqualFold(t.Slug, name) {
			return t.Slug
		}
	}
	return Slugify(name)
}

// Children returns the slugs of live teams directly below slug
func (o *ObservedState) Children(slug string) []string {
	var children []string
	for _, t := range o.Teams {
		if t.ParentSlug != "" && strings.EqualFold(t.ParentSlug, slug) {
			children = append(children, t.Slug)
		}
	}
	return children
}

// RootSlug follows the parent chain of a live team up to the top level
func (o *ObservedState) RootSlug(slug string) string {
	seen := make(map[string]bool)
	current := slug
	for !seen[current] {
		seen[current] = true
		team, ok := o.Team(current)
		if !ok || team.ParentSlug == "" {
			return current
		}
		current = team.ParentSlug
	}
	return current
}

// Repository returns the observed state of the named repository
func (o *ObservedState) Repository(name string) (*RepositoryState, bool) {
	for i := range o.Repositories {
		if o.Repositories[i].Repository.Name == name {
			return &o.Repositories[i], true
		}
	}
	return nil, false
}
