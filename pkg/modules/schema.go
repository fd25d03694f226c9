// Package modules loads desired-state module files into reconcile.Module
// values. Files are YAML or TOML and share one schema.
package modules

import (
	"ghconf/pkg/reconcile"
)

// File is the on-disk form of one module
type File struct {
	// Name defaults to the file name without its extension
	Name string   `yaml:"name,omitempty" toml:"name,omitempty"`
	Org  *OrgFile `yaml:"org,omitempty" toml:"org,omitempty"`

	// TeamPolicy overwrite deletes undeclared teams in the managed namespace
	TeamPolicy        *reconcile.Policy `yaml:"team_policy,omitempty" toml:"team_policy,omitempty"`
	ManagedTeamPrefix string            `yaml:"managed_team_prefix,omitempty" toml:"managed_team_prefix,omitempty"`
	Teams             []TeamFile        `yaml:"teams,omitempty" toml:"teams,omitempty"`

	// Defaults merge into every repository rule of the module
	Defaults     *RuleDefaults `yaml:"defaults,omitempty" toml:"defaults,omitempty"`
	Repositories []RuleFile    `yaml:"repositories,omitempty" toml:"repositories,omitempty"`
}

// OrgFile declares organization admins
type OrgFile struct {
	Admins       []string          `yaml:"admins" toml:"admins"`
	AdminPolicy  *reconcile.Policy `yaml:"admin_policy,omitempty" toml:"admin_policy,omitempty"`
	MemberPolicy *reconcile.Policy `yaml:"member_policy,omitempty" toml:"member_policy,omitempty"`
}

// TeamFile declares a team and its subteams
type TeamFile struct {
	Name              string            `yaml:"name" toml:"name"`
	Description       string            `yaml:"description,omitempty" toml:"description,omitempty"`
	Privacy           string            `yaml:"privacy,omitempty" toml:"privacy,omitempty"`
	DefaultPermission string            `yaml:"default_permission,omitempty" toml:"default_permission,omitempty"`
	MemberPolicy      *reconcile.Policy `yaml:"member_policy,omitempty" toml:"member_policy,omitempty"`
	Maintainers       []string          `yaml:"maintainers,omitempty" toml:"maintainers,omitempty"`
	Members           []string          `yaml:"members,omitempty" toml:"members,omitempty"`
	Subteams          []TeamFile        `yaml:"subteams,omitempty" toml:"subteams,omitempty"`
}

// RuleDefaults are applied to rules that do not set them
type RuleDefaults struct {
	Policy     *reconcile.Policy `yaml:"policy,omitempty" toml:"policy,omitempty"`
	Procedures []ProcedureFile   `yaml:"procedures,omitempty" toml:"procedures,omitempty"`
}

// RuleFile declares a repository access rule
type RuleFile struct {
	Pattern string            `yaml:"pattern" toml:"pattern"`
	Policy  *reconcile.Policy `yaml:"policy,omitempty" toml:"policy,omitempty"`

	// Access is keyed by permission level
	Access     map[string]GrantFile `yaml:"access,omitempty" toml:"access,omitempty"`
	Procedures []ProcedureFile      `yaml:"procedures,omitempty" toml:"procedures,omitempty"`

	// SkipDefaultProcedures leaves out the procedures from Defaults
	SkipDefaultProcedures bool `yaml:"skip_default_procedures,omitempty" toml:"skip_default_procedures,omitempty"`
}

// GrantFile lists who receives one permission level
type GrantFile struct {
	Teams              []string          `yaml:"teams,omitempty" toml:"teams,omitempty"`
	Collaborators      []string          `yaml:"collaborators,omitempty" toml:"collaborators,omitempty"`
	TeamPolicy         *reconcile.Policy `yaml:"team_policy,omitempty" toml:"team_policy,omitempty"`
	CollaboratorPolicy *reconcile.Policy `yaml:"collaborator_policy,omitempty" toml:"collaborator_policy,omitempty"`
}

// ProcedureFile selects a registered procedure by name. Which of the other
// fields apply depends on the procedure.
type ProcedureFile struct {
	Name   string `yaml:"name" toml:"name"`
	Branch string `yaml:"branch,omitempty" toml:"branch,omitempty"`

	Approvals               *int  `yaml:"approvals,omitempty" toml:"approvals,omitempty"`
	Enabled                 *bool `yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	DismissStaleReviews     *bool `yaml:"dismiss_stale_reviews,omitempty" toml:"dismiss_stale_reviews,omitempty"`
	RequireCodeOwnerReviews *bool `yaml:"require_code_owner_reviews,omitempty" toml:"require_code_owner_reviews,omitempty"`
	EnforceAdmins           *bool `yaml:"enforce_admins,omitempty" toml:"enforce_admins,omitempty"`

	Strict *bool    `yaml:"strict,omitempty" toml:"strict,omitempty"`
	Checks []string `yaml:"checks,omitempty" toml:"checks,omitempty"`

	// Preferred is the ordered list of default branch candidates
	Preferred []string `yaml:"preferred,omitempty" toml:"preferred,omitempty"`

	Issues              *bool `yaml:"issues,omitempty" toml:"issues,omitempty"`
	Wiki                *bool `yaml:"wiki,omitempty" toml:"wiki,omitempty"`
	Projects            *bool `yaml:"projects,omitempty" toml:"projects,omitempty"`
	DeleteBranchOnMerge *bool `yaml:"delete_branch_on_merge,omitempty" toml:"delete_branch_on_merge,omitempty"`

	// Window is how far back require-recent-checks looks, e.g. "168h"
	Window string `yaml:"window,omitempty" toml:"window,omitempty"`
}
