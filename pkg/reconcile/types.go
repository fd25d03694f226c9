package reconcile

import (
	"fmt"
	"regexp"
	"strings"
)

// Policy governs how a desired collection or field is merged into the observed one
type Policy int

const (
	// Extend only adds missing desired elements
	Extend Policy = iota
	// Overwrite makes the desired state replace the observed state
	Overwrite
)

// String returns the configuration form of the policy
func (p Policy) String() string {
	if p == Overwrite {
		return "overwrite"
	}
	return "extend"
}

// ParsePolicy parses "extend" or "overwrite"
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "extend":
		return Extend, nil
	case "overwrite":
		return Overwrite, nil
	}
	return Extend, fmt.Errorf("invalid policy %q: must be one of extend, overwrite", s)
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Role is the role of a user within a team or the organization
type Role string

const (
	RoleMember     Role = "member"
	RoleMaintainer Role = "maintainer"
	RoleAdmin      Role = "admin"
)

// IsValidTeamRole reports whether r can be held inside a team
func IsValidTeamRole(r Role) bool {
	return r == RoleMember || r == RoleMaintainer
}

// IsValidOrgRole reports whether r can be held inside the organization
func IsValidOrgRole(r Role) bool {
	return r == RoleMember || r == RoleAdmin
}

// Permission is a repository access level
type Permission string

const (
	PermissionPull     Permission = "pull"
	PermissionTriage   Permission = "triage"
	PermissionPush     Permission = "push"
	PermissionMaintain Permission = "maintain"
	PermissionAdmin    Permission = "admin"
)

// Permissions lists every access level from weakest to strongest
var Permissions = []Permission{
	PermissionPull,
	PermissionTriage,
	PermissionPush,
	PermissionMaintain,
	PermissionAdmin,
}

// Rank orders permissions by strength. Unknown permissions rank lowest.
func (p Permission) Rank() int {
	for i, known := range Permissions {
		if known == p {
			return i + 1
		}
	}
	return 0
}

// IsValidPermission checks if a permission level is known
func IsValidPermission(p Permission) bool {
	return p.Rank() > 0
}

// Privacy is the visibility of a team
type Privacy string

const (
	PrivacyClosed Privacy = "closed"
	PrivacySecret Privacy = "secret"
)

// Member is a user holding a role
type Member struct {
	Username string
	Role     Role

	// Pending is set for invited users who have not accepted yet. Their
	// role is not known until they do.
	Pending bool
}

// Key returns the identity of the member
func (m Member) Key() string {
	return strings.ToLower(m.Username)
}

func (m Member) String() string {
	return fmt.Sprintf("%s (%s)", m.Username, m.Role)
}

// Team is a desired team. Subteams are nested; Link sets the parent pointers.
type Team struct {
	Name              string
	Description       string
	Privacy           Privacy
	DefaultPermission Permission
	MemberPolicy      Policy
	Members           []Member
	Subteams          []*Team

	parent *Team
}

// NewTeam creates a closed team with pull as default permission
func NewTeam(name string, members ...Member) *Team {
	return &Team{
		Name:              name,
		Privacy:           PrivacyClosed,
		DefaultPermission: PermissionPull,
		Members:           members,
	}
}

// AddSubteams nests subs under t and returns t
func (t *Team) AddSubteams(subs ...*Team) *Team {
	for _, sub := range subs {
		sub.parent = t
		t.Subteams = append(t.Subteams, sub)
	}
	return t
}

// Link sets parent pointers throughout the tree rooted at t
func (t *Team) Link() {
	for _, sub := range t.Subteams {
		sub.parent = t
		sub.Link()
	}
}

// Parent returns the enclosing team or nil for top-level teams
func (t *Team) Parent() *Team {
	return t.parent
}

// Slug returns the GitHub slug derived from the team name
func (t *Team) Slug() string {
	return Slugify(t.Name)
}

// ParentSlug returns the slug of the parent or an empty string
func (t *Team) ParentSlug() string {
	if t.parent == nil {
		return ""
	}
	return t.parent.Slug()
}

// Path returns the names from the root down to t joined by "/"
func (t *Team) Path() string {
	if t.parent == nil {
		return t.Name
	}
	return t.parent.Path() + "/" + t.Name
}

// Root returns the top-level ancestor of t
func (t *Team) Root() *Team {
	root := t
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// Walk visits t and its descendants in pre-order
func (t *Team) Walk(fn func(*Team)) {
	fn(t)
	for _, sub := range t.Subteams {
		sub.Walk(fn)
	}
}

// Settings returns the team attributes as sent to the provider
func (t *Team) Settings() TeamSettings {
	return TeamSettings{
		Name:        t.Name,
		Slug:        t.Slug(),
		Description: t.Description,
		Privacy:     t.Privacy,
		Permission:  t.DefaultPermission,
		ParentSlug:  t.ParentSlug(),
	}
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9_-]+`)

// Slugify converts a team name into the slug GitHub derives from it
func Slugify(name string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(slug, "-")
}

// OrgSpec is the desired organization-level membership
type OrgSpec struct {
	Admins      []string
	AdminPolicy Policy

	// MemberPolicy set to Overwrite removes organization members that are
	// neither declared admins nor members of a declared team.
	MemberPolicy Policy
}

// MergeOrgSpecs joins the organization declarations of every module into a
// single desired state, so modules never demote each other's admins. A
// policy is overwrite when any declaring module asks for it. source names
// the declaring modules; org is nil when no module declares one.
func MergeOrgSpecs(modules []*Module) (source string, org *OrgSpec) {
	var names []string
	seen := make(map[string]bool)
	for _, m := range modules {
		if m == nil || m.Org == nil {
			continue
		}
		if org == nil {
			org = &OrgSpec{}
		}
		names = append(names, m.Name)
		for _, admin := range m.Org.Admins {
			if key := strings.ToLower(admin); !seen[key] {
				seen[key] = true
				org.Admins = append(org.Admins, admin)
			}
		}
		if m.Org.AdminPolicy == Overwrite {
			org.AdminPolicy = Overwrite
		}
		if m.Org.MemberPolicy == Overwrite {
			org.MemberPolicy = Overwrite
		}
	}
	return strings.Join(names, ","), org
}

// AccessGrant lists who receives one permission level on a repository
type AccessGrant struct {
	Teams         []string
	Collaborators []string

	// TeamPolicy and CollaboratorPolicy override the rule policy for this level
	TeamPolicy         *Policy
	CollaboratorPolicy *Policy
}

// RepositoryAccessRule configures every repository whose name matches Pattern
type RepositoryAccessRule struct {
	Pattern    *regexp.Regexp
	Policy     Policy
	Access     map[Permission]AccessGrant
	Procedures []Procedure
}

// NewRule compiles pattern into a rule with the default overwrite policy
func NewRule(pattern string) (*RepositoryAccessRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid repository pattern %q: %w", pattern, err)
	}
	return &RepositoryAccessRule{
		Pattern: re,
		Policy:  Overwrite,
		Access:  make(map[Permission]AccessGrant),
	}, nil
}

// Grant adds teams to a permission level and returns the rule
func (r *RepositoryAccessRule) Grant(level Permission, teams ...string) *RepositoryAccessRule {
	grant := r.Access[level]
	grant.Teams = append(grant.Teams, teams...)
	r.Access[level] = grant
	return r
}

// Matches reports whether the rule applies to the repository name
func (r *RepositoryAccessRule) Matches(name string) bool {
	return r.Pattern != nil && r.Pattern.MatchString(name)
}

func (r *RepositoryAccessRule) String() string {
	if r.Pattern == nil {
		return "<nil>"
	}
	return r.Pattern.String()
}

func (r *RepositoryAccessRule) teamPolicy(level Permission) Policy {
	if grant, ok := r.Access[level]; ok && grant.TeamPolicy != nil {
		return *grant.TeamPolicy
	}
	return r.Policy
}

// collaboratorPolicy returns the policy for a level and whether collaborators
// are managed at that level at all
func (r *RepositoryAccessRule) collaboratorPolicy(level Permission) (Policy, bool) {
	grant, ok := r.Access[level]
	if !ok {
		return Extend, false
	}
	if grant.CollaboratorPolicy != nil {
		return *grant.CollaboratorPolicy, true
	}
	return r.Policy, len(grant.Collaborators) > 0
}

// Module is one unit of desired state, usually loaded from one file
type Module struct {
	Name  string
	Org   *OrgSpec
	Teams []*Team

	// TeamPolicy set to Overwrite deletes observed teams inside the managed
	// namespace that no module declares. The managed namespace is every
	// descendant of a declared team plus top-level teams whose name starts
	// with ManagedTeamPrefix.
	TeamPolicy        Policy
	ManagedTeamPrefix string

	Rules []*RepositoryAccessRule
}

// RuleFor returns the first rule matching the repository name
func RuleFor(modules []*Module, repo string) *RepositoryAccessRule {
	for _, m := range modules {
		for _, rule := range m.Rules {
			if rule.Matches(repo) {
				return rule
			}
		}
	}
	return nil
}

// ruleOwner returns the module declaring rule
func ruleOwner(modules []*Module, rule *RepositoryAccessRule) *Module {
	for _, m := range modules {
		for _, r := range m.Rules {
			if r == rule {
				return m
			}
		}
	}
	return nil
}
