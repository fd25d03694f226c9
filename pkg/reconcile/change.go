package reconcile

import (
	"context"
	"fmt"
)

// ChangeKind is the kind of mutation a Change performs
type ChangeKind string

const (
	KindAdd     ChangeKind = "add"
	KindRemove  ChangeKind = "remove"
	KindReplace ChangeKind = "replace"

	// KindInfo records an element that is already in the desired state. Info
	// changes are only produced in verbose mode and never execute.
	KindInfo ChangeKind = "info"
)

// Symbol returns the prefix used when rendering a change
func (k ChangeKind) Symbol() string {
	switch k {
	case KindAdd:
		return "+"
	case KindRemove:
		return "-"
	case KindReplace:
		return "~"
	default:
		return "="
	}
}

// Stage orders changes across domains. A stage only starts after every
// change of the previous stage finished.
type Stage int

const (
	StageOrg Stage = iota
	StageTeams

	// StagePruning deletes undeclared teams once every declared team has
	// been moved to its place, so no deletion takes a declared subteam with it
	StagePruning
	StageRepositories
)

// Stages lists every stage in execution order
var Stages = []Stage{StageOrg, StageTeams, StagePruning, StageRepositories}

func (s Stage) String() string {
	switch s {
	case StageOrg:
		return "organization"
	case StageTeams:
		return "teams"
	case StagePruning:
		return "team pruning"
	default:
		return "repositories"
	}
}

// Domain names the part of the desired state a ChangeSet was derived from
type Domain string

const (
	DomainOrgAdmins      Domain = "org-admins"
	DomainOrgMembers     Domain = "org-members"
	DomainTeamHierarchy  Domain = "team-hierarchy"
	DomainTeamMembership Domain = "team-membership"
	DomainRepository     Domain = "repository"
	DomainCombined       Domain = "combined"
)

// Action performs a change against the mutating API surface
type Action func(ctx context.Context, w StateWriter) error

// Change is one atomic mutation candidate. Changes are values; the action is
// only reachable through Apply.
type Change struct {
	Kind  ChangeKind
	Stage Stage

	// Queue is the ordering domain. Changes sharing a queue execute in
	// emission order.
	Queue string

	Target      string
	Before      string
	After       string
	Description string

	action Action
}

// NewChange attaches an action to a change description
func NewChange(c Change, action Action) Change {
	c.action = action
	return c
}

// Executable reports whether the change mutates anything
func (c Change) Executable() bool {
	return c.action != nil && c.Kind != KindInfo
}

// Apply runs the change action
func (c Change) Apply(ctx context.Context, w StateWriter) error {
	if !c.Executable() {
		return nil
	}
	return c.action(ctx, w)
}

func (c Change) String() string {
	switch c.Kind {
	case KindReplace:
		return fmt.Sprintf("%s %s: %s -> %s", c.Kind.Symbol(), c.Target, c.Before, c.After)
	case KindRemove:
		return fmt.Sprintf("%s %s: %s", c.Kind.Symbol(), c.Target, c.Before)
	default:
		return fmt.Sprintf("%s %s: %s", c.Kind.Symbol(), c.Target, c.After)
	}
}

const orgQueue = "org"

func teamQueue(rootSlug string) string { return "team:" + rootSlug }

func repoQueue(repo string) string { return "repo:" + repo }

// RepoChange places a change in the ordering domain of a repository
func RepoChange(repo *RepositoryState, c Change, action Action) Change {
	c.Stage = StageRepositories
	c.Queue = repoQueue(repo.Name())
	return NewChange(c, action)
}

// ChangeSet is an ordered sequence of changes from one source and domain
type ChangeSet struct {
	Source      string
	Domain      Domain
	Description string
	Changes     []Change
}

// NewChangeSet creates an empty change set
func NewChangeSet(source string, domain Domain, description string) *ChangeSet {
	return &ChangeSet{
		Source:      source,
		Domain:      domain,
		Description: description,
	}
}

// Add appends changes in order
func (cs *ChangeSet) Add(changes ...Change) {
	cs.Changes = append(cs.Changes, changes...)
}

// Executable returns the changes that mutate state, in order
func (cs *ChangeSet) Executable() []Change {
	var out []Change
	for _, c := range cs.Changes {
		if c.Executable() {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of executable changes
func (cs *ChangeSet) Len() int {
	n := 0
	for _, c := range cs.Changes {
		if c.Executable() {
			n++
		}
	}
	return n
}

// Empty reports whether the set has nothing to execute
func (cs *ChangeSet) Empty() bool {
	return cs == nil || cs.Len() == 0
}

// ChangeCounts summarizes a change set by kind
type ChangeCounts struct {
	Additions    int `json:"additions"`
	Removals     int `json:"removals"`
	Replacements int `json:"replacements"`
	Infos        int `json:"infos"`
}

// Counts tallies changes by kind
func (cs *ChangeSet) Counts() ChangeCounts {
	var counts ChangeCounts
	for _, c := range cs.Changes {
		switch c.Kind {
		case KindAdd:
			counts.Additions++
		case KindRemove:
			counts.Removals++
		case KindReplace:
			counts.Replacements++
		default:
			counts.Infos++
		}
	}
	return counts
}

// Combine concatenates change sets preserving their order
func Combine(source string, sets ...*ChangeSet) *ChangeSet {
	combined := NewChangeSet(source, DomainCombined, "all changes")
	for _, cs := range sets {
		if cs == nil {
			continue
		}
		combined.Add(cs.Changes...)
	}
	return combined
}
