package github

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-github/v66/github"

	"ghconf/pkg/reconcile"
)

// Validator checks modules against the live organization: every referenced
// user must exist on GitHub and every referenced team must be declared or exist.
type Validator struct {
	client *Client
}

// NewValidator creates a new validator with GitHub API access
func NewValidator(client *Client) *Validator {
	return &Validator{client: client}
}

// ValidateModules performs the remote checks for every module
func (v *Validator) ValidateModules(ctx context.Context, modules []*reconcile.Module) error {
	var errs reconcile.ValidationErrors

	users, teams := references(modules)
	for _, username := range users {
		exists, err := v.UserExists(ctx, username)
		if err != nil {
			return fmt.Errorf("failed to validate user '%s': %w", username, err)
		}
		if !exists {
			errs.Add("user", username, "user does not exist on GitHub")
		}
	}

	declared := make(map[string]bool)
	for _, m := range modules {
		for _, root := range m.Teams {
			root.Walk(func(t *reconcile.Team) { declared[t.Slug()] = true })
		}
	}
	for _, team := range teams {
		slug := reconcile.Slugify(team)
		if declared[slug] {
			continue
		}
		exists, err := v.TeamExists(ctx, slug)
		if err != nil {
			return fmt.Errorf("failed to validate team '%s': %w", team, err)
		}
		if !exists {
			errs.Add("team", team, fmt.Sprintf("team does not exist in organization '%s' and no module declares it", v.client.org))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// UserExists checks if a username exists on GitHub
func (v *Validator) UserExists(ctx context.Context, username string) (bool, error) {
	err := v.client.read(ctx, fmt.Sprintf("user %s", username), func(ctx context.Context) (*github.Response, error) {
		_, resp, err := v.client.client.Users.Get(ctx, username)
		return resp, err
	})
	if isNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// TeamExists checks if a team slug exists in the organization
func (v *Validator) TeamExists(ctx context.Context, slug string) (bool, error) {
	_, err := v.client.getTeam(ctx, slug)
	if isNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// references collects every distinct username and team name the modules mention
func references(modules []*reconcile.Module) (users, teams []string) {
	userSet := make(map[string]string)
	teamSet := make(map[string]string)

	for _, m := range modules {
		if m.Org != nil {
			for _, admin := range m.Org.Admins {
				userSet[strings.ToLower(admin)] = admin
			}
		}
		for _, root := range m.Teams {
			root.Walk(func(t *reconcile.Team) {
				for _, member := range t.Members {
					userSet[member.Key()] = member.Username
				}
			})
		}
		for _, rule := range m.Rules {
			for _, grant := range rule.Access {
				for _, team := range grant.Teams {
					teamSet[strings.ToLower(team)] = team
				}
				for _, collaborator := range grant.Collaborators {
					userSet[strings.ToLower(collaborator)] = collaborator
				}
			}
		}
	}

	for _, u := range userSet {
		users = append(users, u)
	}
	for _, t := range teamSet {
		teams = append(teams, t)
	}
	sort.Strings(users)
	sort.Strings(teams)
	return users, teams
}
