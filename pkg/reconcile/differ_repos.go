package reconcile

import (
	"context"
	"fmt"
	"slices"
)

// accessEntry is a team or collaborator grant reduced to what the access
// diff needs
type accessEntry struct {
	key        string
	name       string
	permission Permission
}

type accessDelta struct {
	kind   ChangeKind
	entry  accessEntry
	before Permission
}

// highestAccess merges entries sharing a key, keeping the first position and
// the strongest permission
func highestAccess(entries []accessEntry) []accessEntry {
	index := make(map[string]int)
	var merged []accessEntry
	for _, e := range entries {
		if i, ok := index[e.key]; ok {
			if e.permission.Rank() > merged[i].permission.Rank() {
				merged[i].permission = e.permission
			}
			continue
		}
		index[e.key] = len(merged)
		merged = append(merged, e)
	}
	return merged
}

func atLevel(entries []accessEntry, level Permission) []accessEntry {
	var out []accessEntry
	for _, e := range entries {
		if e.permission == level {
			out = append(out, e)
		}
	}
	return out
}

func accessKey(e accessEntry) string {
	return e.key
}

// planAccess evaluates every permission level under its own policy and folds
// the per-level results into upserts. A grant that moves between levels
// becomes a single replacement. A grant kept at a stronger level under
// extend is never downgraded.
func planAccess(desired, current []accessEntry, policyFor func(Permission) (Policy, bool)) (deltas []accessDelta, kept []accessEntry) {
	desired = highestAccess(desired)

	currentBy := make(map[string]accessEntry, len(current))
	for _, e := range current {
		currentBy[e.key] = e
	}

	var adds []accessEntry
	removes := make(map[string]accessEntry)
	for _, level := range Permissions {
		policy, managed := policyFor(level)
		if !managed {
			continue
		}
		want := atLevel(desired, level)
		have := atLevel(current, level)
		if len(want) == 0 && len(have) == 0 {
			continue
		}
		result := Evaluate(want, have, accessKey, policy)
		adds = append(adds, result.ToAdd...)
		for _, e := range result.ToRemove {
			removes[e.key] = e
		}
		for _, e := range result.ToKeep {
			if e.permission == level {
				for _, w := range want {
					if w.key == e.key {
						kept = append(kept, e)
						break
					}
				}
			}
		}
	}

	for _, add := range adds {
		if prev, ok := removes[add.key]; ok {
			delete(removes, add.key)
			deltas = append(deltas, accessDelta{kind: KindReplace, entry: add, before: prev.permission})
			continue
		}
		if prev, ok := currentBy[add.key]; ok {
			if add.permission.Rank() < prev.permission.Rank() {
				kept = append(kept, prev)
				continue
			}
			deltas = append(deltas, accessDelta{kind: KindReplace, entry: add, before: prev.permission})
			continue
		}
		deltas = append(deltas, accessDelta{kind: KindAdd, entry: add})
	}

	for _, e := range current {
		if _, ok := removes[e.key]; ok {
			deltas = append(deltas, accessDelta{kind: KindRemove, entry: e, before: e.permission})
		}
	}
	return deltas, kept
}

func (d *differ) DiffRepository(source string, rule *RepositoryAccessRule, repo *RepositoryState, observed *ObservedState) *ChangeSet {
	cs := NewChangeSet(source, DomainRepository, "repository "+repo.Name())
	if rule == nil || repo.Repository.Archived {
		return cs
	}

	d.diffRepoTeams(cs, rule, repo, observed)
	removed := d.diffRepoCollaborators(cs, rule, repo, observed)

	// procedures see the repository as the changes before them leave it
	work := repo.clone()
	work.Collaborators = slices.DeleteFunc(work.Collaborators, func(c Collaborator) bool {
		return removed[collaboratorKey(c)]
	})
	for _, proc := range rule.Procedures {
		cs.Add(proc.Plan(work, rule)...)
		if projector, ok := proc.(StateProjector); ok {
			projector.Project(work, rule)
		}
	}
	return cs
}

func (d *differ) diffRepoTeams(cs *ChangeSet, rule *RepositoryAccessRule, repo *RepositoryState, observed *ObservedState) {
	var desired []accessEntry
	for _, level := range Permissions {
		grant, ok := rule.Access[level]
		if !ok {
			continue
		}
		for _, name := range grant.Teams {
			slug := observed.TeamSlug(name)
			desired = append(desired, accessEntry{key: lower(slug), name: slug, permission: level})
		}
	}

	var current []accessEntry
	for _, t := range repo.Teams {
		current = append(current, accessEntry{key: teamAccessKey(t), name: t.Slug, permission: t.Permission})
	}

	deltas, kept := planAccess(desired, current, func(level Permission) (Policy, bool) {
		return rule.teamPolicy(level), true
	})

	name := repo.Name()
	for _, delta := range deltas {
		slug := delta.entry.name
		permission := delta.entry.permission
		c := Change{
			Kind:   delta.kind,
			Target: fmt.Sprintf("repo %s team %s", name, slug),
		}
		switch delta.kind {
		case KindRemove:
			c.Before = string(delta.before)
			c.Description = fmt.Sprintf("revoke access of team %s to %s", slug, name)
			cs.Add(RepoChange(repo, c, func(ctx context.Context, w StateWriter) error {
				return w.RemoveRepoTeamPermission(ctx, name, slug)
			}))
			continue
		case KindReplace:
			c.Before = string(delta.before)
			c.After = string(permission)
			c.Description = fmt.Sprintf("change permission of team %s on %s from %s to %s", slug, name, delta.before, permission)
		default:
			c.After = string(permission)
			c.Description = fmt.Sprintf("grant %s to team %s on %s", permission, slug, name)
		}
		cs.Add(RepoChange(repo, c, func(ctx context.Context, w StateWriter) error {
			return w.SetRepoTeamPermission(ctx, name, slug, permission)
		}))
	}

	for _, e := range kept {
		d.info(cs, RepoChange(repo, Change{Target: fmt.Sprintf("repo %s team %s", name, e.name), After: string(e.permission)}, nil))
	}
}

// diffRepoCollaborators plans direct collaborator access. Organization
// admins hold admin on every repository, so they are left out on both sides.
func (d *differ) diffRepoCollaborators(cs *ChangeSet, rule *RepositoryAccessRule, repo *RepositoryState, observed *ObservedState) map[string]bool {
	orgAdmin := make(map[string]bool, len(observed.Admins))
	for _, admin := range observed.Admins {
		orgAdmin[lower(admin)] = true
	}

	var desired []accessEntry
	for _, level := range Permissions {
		for _, user := range rule.Access[level].Collaborators {
			if orgAdmin[lower(user)] {
				continue
			}
			desired = append(desired, accessEntry{key: lower(user), name: user, permission: level})
		}
	}

	var current []accessEntry
	for _, c := range repo.Collaborators {
		if orgAdmin[collaboratorKey(c)] {
			continue
		}
		current = append(current, accessEntry{key: collaboratorKey(c), name: c.Username, permission: c.Permission})
	}

	deltas, kept := planAccess(desired, current, rule.collaboratorPolicy)

	name := repo.Name()
	removed := make(map[string]bool)
	for _, delta := range deltas {
		user := delta.entry.name
		permission := delta.entry.permission
		c := Change{
			Kind:   delta.kind,
			Target: fmt.Sprintf("repo %s collaborator %s", name, user),
		}
		switch delta.kind {
		case KindRemove:
			removed[delta.entry.key] = true
			c.Before = string(delta.before)
			c.Description = fmt.Sprintf("remove collaborator %s from %s", user, name)
			cs.Add(RepoChange(repo, c, func(ctx context.Context, w StateWriter) error {
				return w.RemoveRepoCollaborator(ctx, name, user)
			}))
			continue
		case KindReplace:
			c.Before = string(delta.before)
			c.After = string(permission)
			c.Description = fmt.Sprintf("change permission of collaborator %s on %s from %s to %s", user, name, delta.before, permission)
		default:
			c.After = string(permission)
			c.Description = fmt.Sprintf("grant %s to collaborator %s on %s", permission, user, name)
		}
		cs.Add(RepoChange(repo, c, func(ctx context.Context, w StateWriter) error {
			return w.SetRepoCollaborator(ctx, name, user, permission)
		}))
	}

	for _, e := range kept {
		d.info(cs, RepoChange(repo, Change{Target: fmt.Sprintf("repo %s collaborator %s", name, e.name), After: string(e.permission)}, nil))
	}
	return removed
}
