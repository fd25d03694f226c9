package reconcile

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Differ derives change sets from desired and observed state. Every method
// is pure: it reads its inputs and returns a new ChangeSet.
type Differ interface {
	// DiffOrgAdmins compares the desired admin set with the observed one
	DiffOrgAdmins(source string, org *OrgSpec, observed *ObservedState) *ChangeSet

	// DiffOrgMembers removes undeclared organization members when the
	// member policy is overwrite. teams are all declared teams of the run.
	DiffOrgMembers(source string, org *OrgSpec, teams []*Team, observed *ObservedState) *ChangeSet

	// DiffTeams walks every team tree of a module and emits, per team, its
	// hierarchy changes followed by its membership changes
	DiffTeams(module *Module, observed *ObservedState) *ChangeSet

	DiffTeamHierarchy(module *Module, observed *ObservedState) *ChangeSet
	DiffTeamMembership(module *Module, observed *ObservedState) *ChangeSet

	// DiffTeamPruning deletes undeclared teams in the managed namespace of
	// modules whose team policy is overwrite
	DiffTeamPruning(modules []*Module, observed *ObservedState) *ChangeSet

	// DiffRepository applies rule to one repository
	DiffRepository(source string, rule *RepositoryAccessRule, repo *RepositoryState, observed *ObservedState) *ChangeSet
}

// DifferOption configures a Differ
type DifferOption func(*differ)

// WithVerbose makes the differ emit info changes for elements already in the desired state
func WithVerbose(verbose bool) DifferOption {
	return func(d *differ) {
		d.verbose = verbose
	}
}

type differ struct {
	verbose bool
}

// NewDiffer creates a new Differ
func NewDiffer(opts ...DifferOption) Differ {
	d := &differ{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *differ) info(cs *ChangeSet, c Change) {
	if !d.verbose {
		return
	}
	c.Kind = KindInfo
	cs.Add(c)
}

func lower(s string) string {
	return strings.ToLower(s)
}

func (d *differ) DiffOrgAdmins(source string, org *OrgSpec, observed *ObservedState) *ChangeSet {
	cs := NewChangeSet(source, DomainOrgAdmins, "organization admins")
	if org == nil {
		return cs
	}

	result := Evaluate(org.Admins, observed.Admins, lower, org.AdminPolicy)
	for _, user := range result.ToAdd {
		cs.Add(NewChange(Change{
			Kind:        KindAdd,
			Stage:       StageOrg,
			Queue:       orgQueue,
			Target:      "org admin " + user,
			After:       string(RoleAdmin),
			Description: fmt.Sprintf("make %s an organization admin", user),
		}, func(ctx context.Context, w StateWriter) error {
			return w.SetOrgMembership(ctx, user, RoleAdmin)
		}))
	}
	for _, user := range result.ToRemove {
		cs.Add(NewChange(Change{
			Kind:        KindRemove,
			Stage:       StageOrg,
			Queue:       orgQueue,
			Target:      "org admin " + user,
			Before:      string(RoleAdmin),
			After:       string(RoleMember),
			Description: fmt.Sprintf("demote %s to organization member", user),
		}, func(ctx context.Context, w StateWriter) error {
			return w.SetOrgMembership(ctx, user, RoleMember)
		}))
	}
	for _, user := range result.ToKeep {
		d.info(cs, Change{Stage: StageOrg, Queue: orgQueue, Target: "org admin " + user, After: string(RoleAdmin)})
	}
	return cs
}

func (d *differ) DiffOrgMembers(source string, org *OrgSpec, teams []*Team, observed *ObservedState) *ChangeSet {
	cs := NewChangeSet(source, DomainOrgMembers, "organization members")
	if org == nil || org.MemberPolicy != Overwrite {
		return cs
	}

	desired := slices.Clone(org.Admins)
	for _, root := range teams {
		root.Walk(func(t *Team) {
			for _, m := range t.Members {
				desired = append(desired, m.Username)
			}
		})
	}

	current := slices.Clone(observed.Members)
	if org.AdminPolicy == Overwrite {
		// admins demoted in this run are plain members by the time this set executes
		current = append(current, Evaluate(org.Admins, observed.Admins, lower, Overwrite).ToRemove...)
	}

	result := Evaluate(desired, current, lower, Overwrite)
	for _, user := range result.ToRemove {
		cs.Add(NewChange(Change{
			Kind:        KindRemove,
			Stage:       StageOrg,
			Queue:       orgQueue,
			Target:      "org member " + user,
			Before:      string(RoleMember),
			Description: fmt.Sprintf("remove %s from the organization", user),
		}, func(ctx context.Context, w StateWriter) error {
			return w.RemoveOrgMember(ctx, user)
		}))
	}
	return cs
}

func (d *differ) DiffTeams(module *Module, observed *ObservedState) *ChangeSet {
	cs := NewChangeSet(module.Name, DomainTeamHierarchy, "teams")
	d.walkTeams(module, func(queue string, t *Team) {
		d.diffTeam(cs, queue, t, observed)
		d.diffMembers(cs, queue, t, observed)
	})
	return cs
}

func (d *differ) DiffTeamHierarchy(module *Module, observed *ObservedState) *ChangeSet {
	cs := NewChangeSet(module.Name, DomainTeamHierarchy, "team hierarchy")
	d.walkTeams(module, func(queue string, t *Team) {
		d.diffTeam(cs, queue, t, observed)
	})
	return cs
}

func (d *differ) DiffTeamMembership(module *Module, observed *ObservedState) *ChangeSet {
	cs := NewChangeSet(module.Name, DomainTeamMembership, "team membership")
	d.walkTeams(module, func(queue string, t *Team) {
		d.diffMembers(cs, queue, t, observed)
	})
	return cs
}

func (d *differ) walkTeams(module *Module, fn func(queue string, t *Team)) {
	for _, root := range module.Teams {
		root.Link()
		queue := teamQueue(root.Slug())
		root.Walk(func(t *Team) {
			fn(queue, t)
		})
	}
}

func displayParent(slug string) string {
	if slug == "" {
		return "(top level)"
	}
	return slug
}

func (d *differ) diffTeam(cs *ChangeSet, queue string, t *Team, observed *ObservedState) {
	slug := t.Slug()
	target := "team " + t.Path()

	live, exists := observed.Team(slug)
	if !exists {
		settings := t.Settings()
		description := fmt.Sprintf("create team %s", t.Name)
		if settings.ParentSlug != "" {
			description += " under " + settings.ParentSlug
		}
		cs.Add(NewChange(Change{
			Kind:        KindAdd,
			Stage:       StageTeams,
			Queue:       queue,
			Target:      target,
			After:       t.Path(),
			Description: description,
		}, func(ctx context.Context, w StateWriter) error {
			return w.CreateTeam(ctx, settings)
		}))
		return
	}

	update := func(field, before, after string, u TeamUpdate) {
		cs.Add(NewChange(Change{
			Kind:        KindReplace,
			Stage:       StageTeams,
			Queue:       queue,
			Target:      target + " " + field,
			Before:      before,
			After:       after,
			Description: fmt.Sprintf("change %s of team %s", field, t.Name),
		}, func(ctx context.Context, w StateWriter) error {
			return w.UpdateTeam(ctx, slug, u)
		}))
	}

	if parent, changed := EvaluateScalar(lower(t.ParentSlug()), lower(live.ParentSlug), Overwrite); changed {
		update("parent", displayParent(live.ParentSlug), displayParent(parent), TeamUpdate{ParentSlug: &parent})
	}
	if description, changed := EvaluateScalar(t.Description, live.Description, Overwrite); changed {
		update("description", live.Description, description, TeamUpdate{Description: &description})
	}
	if privacy, changed := EvaluateScalar(t.Privacy, live.Privacy, Overwrite); changed {
		update("privacy", string(live.Privacy), string(privacy), TeamUpdate{Privacy: &privacy})
	}
	if permission, changed := EvaluateScalar(t.DefaultPermission, live.Permission, Overwrite); changed {
		update("default permission", string(live.Permission), string(permission), TeamUpdate{Permission: &permission})
	}
}

// directMembers returns the observed members of t without those listed only
// because they belong to a child team
func (d *differ) directMembers(t *Team, observed *ObservedState) []Member {
	slug := t.Slug()
	declared := make(map[string]bool, len(t.Members))
	for _, m := range t.Members {
		declared[m.Key()] = true
	}

	inherited := make(map[string]bool)
	visited := map[string]bool{lower(slug): true}
	queue := observed.Children(slug)
	for len(queue) > 0 {
		child := queue[0]
		queue = queue[1:]
		if visited[lower(child)] {
			continue
		}
		visited[lower(child)] = true
		for _, m := range observed.TeamMembers[child] {
			inherited[m.Key()] = true
		}
		queue = append(queue, observed.Children(child)...)
	}

	var direct []Member
	for _, m := range observed.TeamMembers[slug] {
		if inherited[m.Key()] && !declared[m.Key()] {
			continue
		}
		direct = append(direct, m)
	}
	return direct
}

func (d *differ) diffMembers(cs *ChangeSet, queue string, t *Team, observed *ObservedState) {
	slug := t.Slug()

	var current []Member
	if _, exists := observed.Team(slug); exists {
		current = d.directMembers(t, observed)
	}

	desired := make(map[string]Member, len(t.Members))
	for _, m := range t.Members {
		desired[m.Key()] = m
	}

	result := Evaluate(t.Members, current, Member.Key, t.MemberPolicy)
	for _, m := range result.ToAdd {
		cs.Add(NewChange(Change{
			Kind:        KindAdd,
			Stage:       StageTeams,
			Queue:       queue,
			Target:      fmt.Sprintf("team %s member %s", t.Path(), m.Username),
			After:       string(m.Role),
			Description: fmt.Sprintf("add %s as %s of team %s", m.Username, m.Role, t.Name),
		}, func(ctx context.Context, w StateWriter) error {
			return w.SetTeamMembership(ctx, slug, m.Username, m.Role)
		}))
	}

	// role mismatches are corrected whatever the member policy
	for _, m := range result.ToKeep {
		want, declared := desired[m.Key()]
		if !declared {
			continue
		}
		target := fmt.Sprintf("team %s member %s", t.Path(), want.Username)
		if m.Pending {
			// the invitation is out; the role applies once it is accepted
			d.info(cs, Change{Stage: StageTeams, Queue: queue, Target: target, After: "invited as " + string(want.Role)})
			continue
		}
		if want.Role == m.Role {
			d.info(cs, Change{Stage: StageTeams, Queue: queue, Target: target, After: string(m.Role)})
			continue
		}
		cs.Add(NewChange(Change{
			Kind:        KindReplace,
			Stage:       StageTeams,
			Queue:       queue,
			Target:      target,
			Before:      string(m.Role),
			After:       string(want.Role),
			Description: fmt.Sprintf("change role of %s in team %s from %s to %s", want.Username, t.Name, m.Role, want.Role),
		}, func(ctx context.Context, w StateWriter) error {
			return w.SetTeamMembership(ctx, slug, want.Username, want.Role)
		}))
	}

	for _, m := range result.ToRemove {
		cs.Add(NewChange(Change{
			Kind:        KindRemove,
			Stage:       StageTeams,
			Queue:       queue,
			Target:      fmt.Sprintf("team %s member %s", t.Path(), m.Username),
			Before:      string(m.Role),
			Description: fmt.Sprintf("remove %s from team %s", m.Username, t.Name),
		}, func(ctx context.Context, w StateWriter) error {
			return w.RemoveTeamMembership(ctx, slug, m.Username)
		}))
	}
}

func (d *differ) DiffTeamPruning(modules []*Module, observed *ObservedState) *ChangeSet {
	cs := NewChangeSet("", DomainTeamHierarchy, "team pruning")

	declared := make(map[string]bool)
	managedParents := make(map[string]bool)
	var prefixes []string
	for _, m := range modules {
		for _, root := range m.Teams {
			root.Walk(func(t *Team) {
				declared[t.Slug()] = true
				if m.TeamPolicy == Overwrite {
					managedParents[t.Slug()] = true
				}
			})
		}
		if m.TeamPolicy == Overwrite && m.ManagedTeamPrefix != "" {
			prefixes = append(prefixes, lower(m.ManagedTeamPrefix))
		}
	}
	if len(managedParents) == 0 && len(prefixes) == 0 {
		return cs
	}

	var managed func(slug string, depth int) bool
	managed = func(slug string, depth int) bool {
		team, ok := observed.Team(slug)
		if !ok || depth > len(observed.Teams) {
			return false
		}
		if team.ParentSlug == "" {
			for _, prefix := range prefixes {
				if strings.HasPrefix(lower(team.Name), prefix) {
					return true
				}
			}
			return false
		}
		if managedParents[lower(team.ParentSlug)] {
			return true
		}
		return managed(team.ParentSlug, depth+1)
	}

	for _, live := range observed.Teams {
		if declared[lower(live.Slug)] || !managed(live.Slug, 0) {
			continue
		}
		// deleting the topmost undeclared team removes its children with it
		if parent := lower(live.ParentSlug); parent != "" && !declared[parent] && managed(parent, 0) {
			continue
		}
		slug := live.Slug
		cs.Add(NewChange(Change{
			Kind:        KindRemove,
			Stage:       StagePruning,
			Queue:       teamQueue(lower(observed.RootSlug(slug))),
			Target:      "team " + live.Name,
			Before:      live.Name,
			Description: fmt.Sprintf("delete team %s", live.Name),
		}, func(ctx context.Context, w StateWriter) error {
			return w.DeleteTeam(ctx, slug)
		}))
	}
	return cs
}
