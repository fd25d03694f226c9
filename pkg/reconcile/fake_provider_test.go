package reconcile

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeProvider is an in-memory organization that applies mutations, so a
// second diff after execution sees the converged state
type fakeProvider struct {
	mu sync.Mutex

	admins        map[string]string
	members       map[string]string
	teams         map[string]*LiveTeam
	teamMembers   map[string]map[string]Member
	repos         map[string]*Repository
	repoTeams     map[string]map[string]Permission
	collaborators map[string]map[string]Collaborator
	branches      map[string][]string
	protections   map[string]map[string]*BranchProtection
	recentChecks  map[string]map[string][]string

	writes int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		admins:        make(map[string]string),
		members:       make(map[string]string),
		teams:         make(map[string]*LiveTeam),
		teamMembers:   make(map[string]map[string]Member),
		repos:         make(map[string]*Repository),
		repoTeams:     make(map[string]map[string]Permission),
		collaborators: make(map[string]map[string]Collaborator),
		branches:      make(map[string][]string),
		protections:   make(map[string]map[string]*BranchProtection),
		recentChecks:  make(map[string]map[string][]string),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeProvider) addRepo(repo Repository, branches ...string) {
	f.repos[repo.Name] = &repo
	f.branches[repo.Name] = branches
}

func (f *fakeProvider) addTeam(team LiveTeam, members ...Member) {
	f.teams[team.Slug] = &team
	f.teamMembers[team.Slug] = make(map[string]Member)
	for _, m := range members {
		f.teamMembers[team.Slug][m.Key()] = m
	}
}

func (f *fakeProvider) ListOrgAdmins(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, k := range sortedKeys(f.admins) {
		out = append(out, f.admins[k])
	}
	return out, nil
}

func (f *fakeProvider) ListOrgMembers(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, k := range sortedKeys(f.members) {
		out = append(out, f.members[k])
	}
	return out, nil
}

func (f *fakeProvider) ListTeams(context.Context) ([]LiveTeam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []LiveTeam
	for _, k := range sortedKeys(f.teams) {
		out = append(out, *f.teams[k])
	}
	return out, nil
}

// ListTeamMembers includes the members of child teams like GitHub does
func (f *fakeProvider) ListTeamMembers(_ context.Context, slug string) ([]Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var out []Member
	var collect func(s string)
	collect = func(s string) {
		for _, k := range sortedKeys(f.teamMembers[s]) {
			if !seen[k] {
				seen[k] = true
				out = append(out, f.teamMembers[s][k])
			}
		}
		for _, child := range sortedKeys(f.teams) {
			if f.teams[child].ParentSlug == s {
				collect(child)
			}
		}
	}
	collect(slug)
	return out, nil
}

func (f *fakeProvider) ListRepositories(context.Context) ([]Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Repository
	for _, k := range sortedKeys(f.repos) {
		out = append(out, *f.repos[k])
	}
	return out, nil
}

func (f *fakeProvider) ListRepoTeams(_ context.Context, repo string) ([]TeamAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []TeamAccess
	for _, slug := range sortedKeys(f.repoTeams[repo]) {
		name := slug
		if t, ok := f.teams[slug]; ok {
			name = t.Name
		}
		out = append(out, TeamAccess{Slug: slug, Name: name, Permission: f.repoTeams[repo][slug]})
	}
	return out, nil
}

func (f *fakeProvider) ListRepoCollaborators(_ context.Context, repo string) ([]Collaborator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Collaborator
	for _, k := range sortedKeys(f.collaborators[repo]) {
		out = append(out, f.collaborators[repo][k])
	}
	return out, nil
}

func (f *fakeProvider) ListBranches(_ context.Context, repo string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.branches[repo]), nil
}

func (f *fakeProvider) GetBranchProtection(_ context.Context, repo, branch string) (*BranchProtection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bp := f.protections[repo][branch]
	if bp == nil {
		return nil, nil
	}
	c := *bp
	c.StatusChecks = slices.Clone(bp.StatusChecks)
	return &c, nil
}

func (f *fakeProvider) ListRecentChecks(_ context.Context, repo, branch string, _ time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.recentChecks[repo][branch]), nil
}

func (f *fakeProvider) SetOrgMembership(_ context.Context, username string, role Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	key := strings.ToLower(username)
	delete(f.admins, key)
	delete(f.members, key)
	if role == RoleAdmin {
		f.admins[key] = username
	} else {
		f.members[key] = username
	}
	return nil
}

func (f *fakeProvider) RemoveOrgMember(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	delete(f.admins, strings.ToLower(username))
	delete(f.members, strings.ToLower(username))
	return nil
}

func (f *fakeProvider) CreateTeam(_ context.Context, team TeamSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.teams[team.Slug] = &LiveTeam{
		Name:        team.Name,
		Slug:        team.Slug,
		Description: team.Description,
		Privacy:     team.Privacy,
		Permission:  team.Permission,
		ParentSlug:  team.ParentSlug,
	}
	if f.teamMembers[team.Slug] == nil {
		f.teamMembers[team.Slug] = make(map[string]Member)
	}
	return nil
}

func (f *fakeProvider) UpdateTeam(_ context.Context, slug string, update TeamUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	t := f.teams[slug]
	if update.Description != nil {
		t.Description = *update.Description
	}
	if update.Privacy != nil {
		t.Privacy = *update.Privacy
	}
	if update.Permission != nil {
		t.Permission = *update.Permission
	}
	if update.ParentSlug != nil {
		t.ParentSlug = *update.ParentSlug
	}
	return nil
}

func (f *fakeProvider) DeleteTeam(_ context.Context, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	var remove func(s string)
	remove = func(s string) {
		for _, child := range sortedKeys(f.teams) {
			if f.teams[child].ParentSlug == s {
				remove(child)
			}
		}
		delete(f.teams, s)
		delete(f.teamMembers, s)
	}
	remove(slug)
	return nil
}

func (f *fakeProvider) SetTeamMembership(_ context.Context, slug, username string, role Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.teamMembers[slug] == nil {
		f.teamMembers[slug] = make(map[string]Member)
	}
	key := strings.ToLower(username)
	f.teamMembers[slug][key] = Member{Username: username, Role: role}
	if _, admin := f.admins[key]; !admin {
		f.members[key] = username
	}
	return nil
}

func (f *fakeProvider) RemoveTeamMembership(_ context.Context, slug, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	delete(f.teamMembers[slug], strings.ToLower(username))
	return nil
}

func (f *fakeProvider) SetRepoTeamPermission(_ context.Context, repo, slug string, permission Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.repoTeams[repo] == nil {
		f.repoTeams[repo] = make(map[string]Permission)
	}
	f.repoTeams[repo][slug] = permission
	return nil
}

func (f *fakeProvider) RemoveRepoTeamPermission(_ context.Context, repo, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	delete(f.repoTeams[repo], slug)
	return nil
}

func (f *fakeProvider) SetRepoCollaborator(_ context.Context, repo, username string, permission Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.collaborators[repo] == nil {
		f.collaborators[repo] = make(map[string]Collaborator)
	}
	key := strings.ToLower(username)
	c := f.collaborators[repo][key]
	c.Username = username
	c.Permission = permission
	f.collaborators[repo][key] = c
	return nil
}

func (f *fakeProvider) RemoveRepoCollaborator(_ context.Context, repo, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	delete(f.collaborators[repo], strings.ToLower(username))
	return nil
}

func (f *fakeProvider) SetBranchProtection(_ context.Context, repo, branch string, protection BranchProtection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.protections[repo] == nil {
		f.protections[repo] = make(map[string]*BranchProtection)
	}
	protection.StatusChecks = slices.Clone(protection.StatusChecks)
	f.protections[repo][branch] = &protection
	return nil
}

func (f *fakeProvider) UpdateRepository(_ context.Context, repo string, settings RepositorySettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	r := f.repos[repo]
	if settings.DefaultBranch != nil {
		r.DefaultBranch = *settings.DefaultBranch
	}
	if settings.HasIssues != nil {
		r.HasIssues = *settings.HasIssues
	}
	if settings.HasWiki != nil {
		r.HasWiki = *settings.HasWiki
	}
	if settings.HasProjects != nil {
		r.HasProjects = *settings.HasProjects
	}
	if settings.DeleteBranchOnMerge != nil {
		r.DeleteBranchOnMerge = *settings.DeleteBranchOnMerge
	}
	return nil
}
