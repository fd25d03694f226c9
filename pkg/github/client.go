package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"

	"ghconf/pkg/reconcile"
)

const perPage = 100

// Client implements reconcile.Provider for one organization using the GitHub REST API
type Client struct {
	client  *github.Client
	org     string
	limiter *RateLimiter
	log     zerolog.Logger

	readRetries uint64
	readBackoff time.Duration
}

var _ reconcile.Provider = (*Client)(nil)

// Option configures a Client
type Option func(*Client) error

// WithBaseURL points the client at a GitHub Enterprise Server API
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		if baseURL == "" {
			return nil
		}
		client, err := c.client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return fmt.Errorf("invalid GitHub base URL %q: %w", baseURL, err)
		}
		c.client = client
		return nil
	}
}

// WithRateLimiter shares a rate limiter between clients using the same token
func WithRateLimiter(limiter *RateLimiter) Option {
	return func(c *Client) error {
		c.limiter = limiter
		return nil
	}
}

// WithLogger sets the logger used for retries and throttling
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = logger
		return nil
	}
}

// WithReadRetry sets how often failed reads are retried and the initial backoff
func WithReadRetry(maxRetries uint64, initial time.Duration) Option {
	return func(c *Client) error {
		c.readRetries = maxRetries
		c.readBackoff = initial
		return nil
	}
}

// NewClient creates a GitHub API client for org authenticated with token
func NewClient(token, org string, opts ...Option) (*Client, error) {
	if org == "" {
		return nil, errors.New("organization cannot be empty")
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	c := &Client{
		client:      github.NewClient(tc),
		org:         org,
		limiter:     NewRateLimiter(DefaultRateLimiterConfig()),
		log:         zerolog.Nop(),
		readRetries: 2,
		readBackoff: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Organization returns the organization the client manages
func (c *Client) Organization() string {
	return c.org
}

// RateLimiter returns the limiter guarding the client's API budget
func (c *Client) RateLimiter() *RateLimiter {
	return c.limiter
}

// call issues one API request through the rate limiter and wraps its error
func (c *Client) call(ctx context.Context, resource string, fn func(ctx context.Context) (*github.Response, error)) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	resp, err := fn(ctx)
	c.limiter.Observe(resp)
	if err != nil {
		return WrapGitHubError(err, resource)
	}
	return nil
}

// read is call with bounded retries on rate limit and network failures.
// Writes are retried by the executor instead.
func (c *Client) read(ctx context.Context, resource string, fn func(ctx context.Context) (*github.Response, error)) error {
	base := c.readBackoff
	if base <= 0 {
		base = time.Millisecond
	}
	backoff := retry.WithMaxRetries(c.readRetries, retry.NewExponential(base))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.call(ctx, resource, fn)
		if err == nil || !reconcile.IsRetryable(err) {
			return err
		}
		c.log.Debug().Err(err).Str("resource", resource).Int("attempt", attempt).Msg("retrying read")
		return retry.RetryableError(err)
	})
}

// paginate collects every page of a list endpoint
func paginate[T any](ctx context.Context, c *Client, resource string, list func(ctx context.Context, opts github.ListOptions) ([]T, *github.Response, error)) ([]T, error) {
	var all []T
	opts := github.ListOptions{PerPage: perPage}

	for {
		var page []T
		var resp *github.Response
		err := c.read(ctx, resource, func(ctx context.Context) (*github.Response, error) {
			var err error
			page, resp, err = list(ctx, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		all = append(all, page...)
		if resp == nil || resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListOrgAdmins lists the logins of organization owners
func (c *Client) ListOrgAdmins(ctx context.Context) ([]string, error) {
	return c.listOrgMembers(ctx, "admin")
}

// ListOrgMembers lists the logins of organization members without the admin role
func (c *Client) ListOrgMembers(ctx context.Context) ([]string, error) {
	return c.listOrgMembers(ctx, "member")
}

func (c *Client) listOrgMembers(ctx context.Context, role string) ([]string, error) {
	users, err := paginate(ctx, c, fmt.Sprintf("organization %s members", c.org),
		func(ctx context.Context, opts github.ListOptions) ([]*github.User, *github.Response, error) {
			return c.client.Organizations.ListMembers(ctx, c.org, &github.ListMembersOptions{
				Role:        role,
				ListOptions: opts,
			})
		})
	if err != nil {
		return nil, err
	}

	logins := make([]string, 0, len(users))
	for _, u := range users {
		logins = append(logins, u.GetLogin())
	}
	return logins, nil
}

// ListTeams lists every team of the organization
func (c *Client) ListTeams(ctx context.Context) ([]reconcile.LiveTeam, error) {
	teams, err := paginate(ctx, c, fmt.Sprintf("organization %s teams", c.org),
		func(ctx context.Context, opts github.ListOptions) ([]*github.Team, *github.Response, error) {
			return c.client.Teams.ListTeams(ctx, c.org, &opts)
		})
	if err != nil {
		return nil, err
	}

	live := make([]reconcile.LiveTeam, 0, len(teams))
	for _, t := range teams {
		live = append(live, convertTeam(t))
	}
	return live, nil
}

// ListTeamMembers lists the members of a team with their team role. GitHub
// includes the members of child teams.
func (c *Client) ListTeamMembers(ctx context.Context, teamSlug string) ([]reconcile.Member, error) {
	var members []reconcile.Member
	for _, role := range []reconcile.Role{reconcile.RoleMaintainer, reconcile.RoleMember} {
		users, err := paginate(ctx, c, fmt.Sprintf("team %s members", teamSlug),
			func(ctx context.Context, opts github.ListOptions) ([]*github.User, *github.Response, error) {
				return c.client.Teams.ListTeamMembersBySlug(ctx, c.org, teamSlug, &github.TeamListTeamMembersOptions{
					Role:        string(role),
					ListOptions: opts,
				})
			})
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			members = append(members, reconcile.Member{Username: u.GetLogin(), Role: role})
		}
	}

	// invited users only show up as pending invitations until they accept
	invitations, err := paginate(ctx, c, fmt.Sprintf("team %s invitations", teamSlug),
		func(ctx context.Context, opts github.ListOptions) ([]*github.Invitation, *github.Response, error) {
			return c.client.Teams.ListPendingTeamInvitationsBySlug(ctx, c.org, teamSlug, &opts)
		})
	if err != nil {
		return nil, err
	}
	for _, inv := range invitations {
		if inv.GetLogin() == "" {
			continue
		}
		members = append(members, reconcile.Member{Username: inv.GetLogin(), Role: reconcile.RoleMember, Pending: true})
	}
	return members, nil
}

// ListRepositories lists every repository of the organization
func (c *Client) ListRepositories(ctx context.Context) ([]reconcile.Repository, error) {
	repos, err := paginate(ctx, c, fmt.Sprintf("organization %s repositories", c.org),
		func(ctx context.Context, opts github.ListOptions) ([]*github.Repository, *github.Response, error) {
			return c.client.Repositories.ListByOrg(ctx, c.org, &github.RepositoryListByOrgOptions{
				Type:        "all",
				ListOptions: opts,
			})
		})
	if err != nil {
		return nil, err
	}

	result := make([]reconcile.Repository, 0, len(repos))
	for _, r := range repos {
		result = append(result, convertRepository(r))
	}
	return result, nil
}

// ListRepoTeams lists the teams with access to a repository
func (c *Client) ListRepoTeams(ctx context.Context, repo string) ([]reconcile.TeamAccess, error) {
	teams, err := paginate(ctx, c, fmt.Sprintf("teams for repository %s", repo),
		func(ctx context.Context, opts github.ListOptions) ([]*github.Team, *github.Response, error) {
			return c.client.Repositories.ListTeams(ctx, c.org, repo, &opts)
		})
	if err != nil {
		return nil, err
	}

	access := make([]reconcile.TeamAccess, 0, len(teams))
	for _, t := range teams {
		access = append(access, reconcile.TeamAccess{
			Slug:       t.GetSlug(),
			Name:       t.GetName(),
			Permission: highestPermission(t.Permissions, t.GetPermission()),
		})
	}
	return access, nil
}

// ListRepoCollaborators lists the users with direct access to a repository
func (c *Client) ListRepoCollaborators(ctx context.Context, repo string) ([]reconcile.Collaborator, error) {
	resource := fmt.Sprintf("collaborators for repository %s", repo)
	listBy := func(affiliation string) ([]*github.User, error) {
		return paginate(ctx, c, resource,
			func(ctx context.Context, opts github.ListOptions) ([]*github.User, *github.Response, error) {
				return c.client.Repositories.ListCollaborators(ctx, c.org, repo, &github.ListCollaboratorsOptions{
					Affiliation: affiliation,
					ListOptions: opts,
				})
			})
	}

	direct, err := listBy("direct")
	if err != nil {
		return nil, err
	}
	outside, err := listBy("outside")
	if err != nil {
		return nil, err
	}

	isOutside := make(map[string]bool, len(outside))
	for _, u := range outside {
		isOutside[strings.ToLower(u.GetLogin())] = true
	}

	collaborators := make([]reconcile.Collaborator, 0, len(direct))
	for _, u := range direct {
		permission := normalizePermission(u.GetRoleName())
		if !reconcile.IsValidPermission(permission) {
			permission = highestPermission(u.Permissions, "")
		}
		collaborators = append(collaborators, reconcile.Collaborator{
			Username:   u.GetLogin(),
			Permission: permission,
			Outside:    isOutside[strings.ToLower(u.GetLogin())],
		})
	}
	return collaborators, nil
}

// ListBranches lists the branch names of a repository
func (c *Client) ListBranches(ctx context.Context, repo string) ([]string, error) {
	branches, err := paginate(ctx, c, fmt.Sprintf("branches for repository %s", repo),
		func(ctx context.Context, opts github.ListOptions) ([]*github.Branch, *github.Response, error) {
			return c.client.Repositories.ListBranches(ctx, c.org, repo, &github.BranchListOptions{ListOptions: opts})
		})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.GetName())
	}
	return names, nil
}

// GetBranchProtection returns the protection of a branch, nil when the branch is unprotected
func (c *Client) GetBranchProtection(ctx context.Context, repo, branch string) (*reconcile.BranchProtection, error) {
	var protection *github.Protection
	err := c.read(ctx, fmt.Sprintf("branch protection %s:%s", repo, branch), func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		protection, resp, err = c.client.Repositories.GetBranchProtection(ctx, c.org, repo, branch)
		return resp, err
	})
	if errors.Is(err, github.ErrBranchNotProtected) || isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return convertBranchProtection(protection), nil
}

// recentCommitLimit bounds how many commits ListRecentChecks inspects
const recentCommitLimit = 30

// ListRecentChecks lists the commit status contexts and check run names
// reported on the latest commits of a branch since the given time
func (c *Client) ListRecentChecks(ctx context.Context, repo, branch string, since time.Time) ([]string, error) {
	var commits []*github.RepositoryCommit
	err := c.read(ctx, fmt.Sprintf("commits for repository %s", repo), func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		commits, resp, err = c.client.Repositories.ListCommits(ctx, c.org, repo, &github.CommitsListOptions{
			SHA:         branch,
			Since:       since,
			ListOptions: github.ListOptions{PerPage: recentCommitLimit},
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, commit := range commits {
		sha := commit.GetSHA()
		statuses, err := paginate(ctx, c, fmt.Sprintf("statuses for repository %s", repo),
			func(ctx context.Context, opts github.ListOptions) ([]*github.RepoStatus, *github.Response, error) {
				return c.client.Repositories.ListStatuses(ctx, c.org, repo, sha, &opts)
			})
		if err != nil {
			return nil, err
		}
		for _, status := range statuses {
			add(status.GetContext())
		}

		runs, err := paginate(ctx, c, fmt.Sprintf("check runs for repository %s", repo),
			func(ctx context.Context, opts github.ListOptions) ([]*github.CheckRun, *github.Response, error) {
				result, resp, err := c.client.Checks.ListCheckRunsForRef(ctx, c.org, repo, sha, &github.ListCheckRunsOptions{ListOptions: opts})
				if err != nil || result == nil {
					return nil, resp, err
				}
				return result.CheckRuns, resp, nil
			})
		if err != nil {
			return nil, err
		}
		for _, run := range runs {
			add(run.GetName())
		}
	}
	return names, nil
}

// SetOrgMembership invites a user or changes their organization role
func (c *Client) SetOrgMembership(ctx context.Context, username string, role reconcile.Role) error {
	return c.call(ctx, fmt.Sprintf("organization membership of user %s", username), func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.client.Organizations.EditOrgMembership(ctx, username, c.org, &github.Membership{
			Role: github.String(string(role)),
		})
		return resp, err
	})
}

// RemoveOrgMember removes a user from the organization
func (c *Client) RemoveOrgMember(ctx context.Context, username string) error {
	return ignoreNotFound(c.call(ctx, fmt.Sprintf("organization membership of user %s", username), func(ctx context.Context) (*github.Response, error) {
		return c.client.Organizations.RemoveMember(ctx, c.org, username)
	}))
}

// CreateTeam creates a team, or updates it when the slug already exists
func (c *Client) CreateTeam(ctx context.Context, team reconcile.TeamSettings) error {
	resource := fmt.Sprintf("team %s", team.Slug)

	existing, err := c.getTeam(ctx, team.Slug)
	if err != nil && !isNotFound(err) {
		return err
	}

	newTeam := github.NewTeam{
		Name:        team.Name,
		Description: github.String(team.Description),
		Privacy:     github.String(string(team.Privacy)),
	}
	if team.Permission != "" {
		newTeam.Permission = github.String(string(team.Permission))
	}
	if team.ParentSlug != "" {
		parent, err := c.getTeam(ctx, team.ParentSlug)
		if err != nil {
			return fmt.Errorf("failed to resolve parent team %s: %w", team.ParentSlug, err)
		}
		newTeam.ParentTeamID = github.Int64(parent.GetID())
	}

	if existing != nil {
		c.log.Debug().Str("team", team.Slug).Msg("team already exists, updating instead")
		return c.call(ctx, resource, func(ctx context.Context) (*github.Response, error) {
			_, resp, err := c.client.Teams.EditTeamBySlug(ctx, c.org, team.Slug, newTeam, team.ParentSlug == "")
			return resp, err
		})
	}

	return c.call(ctx, resource, func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.client.Teams.CreateTeam(ctx, c.org, newTeam)
		return resp, err
	})
}

// UpdateTeam changes the attributes set in update
func (c *Client) UpdateTeam(ctx context.Context, slug string, update reconcile.TeamUpdate) error {
	current, err := c.getTeam(ctx, slug)
	if err != nil {
		return err
	}

	newTeam := github.NewTeam{Name: current.GetName()}
	if update.Description != nil {
		newTeam.Description = update.Description
	}
	if update.Privacy != nil {
		newTeam.Privacy = github.String(string(*update.Privacy))
	}
	if update.Permission != nil {
		newTeam.Permission = github.String(string(*update.Permission))
	}

	removeParent := false
	if update.ParentSlug != nil {
		if *update.ParentSlug == "" {
			removeParent = true
		} else {
			parent, err := c.getTeam(ctx, *update.ParentSlug)
			if err != nil {
				return fmt.Errorf("failed to resolve parent team %s: %w", *update.ParentSlug, err)
			}
			newTeam.ParentTeamID = github.Int64(parent.GetID())
		}
	}

	return c.call(ctx, fmt.Sprintf("team %s", slug), func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.client.Teams.EditTeamBySlug(ctx, c.org, slug, newTeam, removeParent)
		return resp, err
	})
}

// DeleteTeam deletes a team together with its child teams
func (c *Client) DeleteTeam(ctx context.Context, slug string) error {
	return ignoreNotFound(c.call(ctx, fmt.Sprintf("team %s", slug), func(ctx context.Context) (*github.Response, error) {
		return c.client.Teams.DeleteTeamBySlug(ctx, c.org, slug)
	}))
}

func (c *Client) getTeam(ctx context.Context, slug string) (*github.Team, error) {
	var team *github.Team
	err := c.read(ctx, fmt.Sprintf("team %s", slug), func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		team, resp, err = c.client.Teams.GetTeamBySlug(ctx, c.org, slug)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// SetTeamMembership adds a user to a team or changes their team role. Users
// outside the organization are invited and stay pending until they accept.
func (c *Client) SetTeamMembership(ctx context.Context, teamSlug, username string, role reconcile.Role) error {
	return c.call(ctx, fmt.Sprintf("team %s membership of user %s", teamSlug, username), func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.client.Teams.AddTeamMembershipBySlug(ctx, c.org, teamSlug, username, &github.TeamAddTeamMembershipOptions{
			Role: string(role),
		})
		return resp, err
	})
}

// RemoveTeamMembership removes a user from a team
func (c *Client) RemoveTeamMembership(ctx context.Context, teamSlug, username string) error {
	return ignoreNotFound(c.call(ctx, fmt.Sprintf("team %s membership of user %s", teamSlug, username), func(ctx context.Context) (*github.Response, error) {
		return c.client.Teams.RemoveTeamMembershipBySlug(ctx, c.org, teamSlug, username)
	}))
}

// SetRepoTeamPermission grants a team a permission on a repository
func (c *Client) SetRepoTeamPermission(ctx context.Context, repo, teamSlug string, permission reconcile.Permission) error {
	return c.call(ctx, fmt.Sprintf("team %s access to repository %s", teamSlug, repo), func(ctx context.Context) (*github.Response, error) {
		return c.client.Teams.AddTeamRepoBySlug(ctx, c.org, teamSlug, c.org, repo, &github.TeamAddTeamRepoOptions{
			Permission: string(permission),
		})
	})
}

// RemoveRepoTeamPermission revokes a team's access to a repository
func (c *Client) RemoveRepoTeamPermission(ctx context.Context, repo, teamSlug string) error {
	return ignoreNotFound(c.call(ctx, fmt.Sprintf("team %s access to repository %s", teamSlug, repo), func(ctx context.Context) (*github.Response, error) {
		return c.client.Teams.RemoveTeamRepoBySlug(ctx, c.org, teamSlug, c.org, repo)
	}))
}

// SetRepoCollaborator grants a user a permission on a repository. Outside
// collaborators receive an invitation.
func (c *Client) SetRepoCollaborator(ctx context.Context, repo, username string, permission reconcile.Permission) error {
	return c.call(ctx, fmt.Sprintf("collaborator %s on repository %s", username, repo), func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.client.Repositories.AddCollaborator(ctx, c.org, repo, username, &github.RepositoryAddCollaboratorOptions{
			Permission: string(permission),
		})
		return resp, err
	})
}

// RemoveRepoCollaborator revokes a user's direct access to a repository
func (c *Client) RemoveRepoCollaborator(ctx context.Context, repo, username string) error {
	return ignoreNotFound(c.call(ctx, fmt.Sprintf("collaborator %s on repository %s", username, repo), func(ctx context.Context) (*github.Response, error) {
		return c.client.Repositories.RemoveCollaborator(ctx, c.org, repo, username)
	}))
}

// SetBranchProtection replaces the protection of a branch
func (c *Client) SetBranchProtection(ctx context.Context, repo, branch string, protection reconcile.BranchProtection) error {
	return c.call(ctx, fmt.Sprintf("branch protection %s:%s", repo, branch), func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.client.Repositories.UpdateBranchProtection(ctx, c.org, repo, branch, buildProtectionRequest(protection))
		return resp, err
	})
}

// UpdateRepository changes the repository settings that are set
func (c *Client) UpdateRepository(ctx context.Context, repo string, settings reconcile.RepositorySettings) error {
	return c.call(ctx, fmt.Sprintf("repository %s", repo), func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.client.Repositories.Edit(ctx, c.org, repo, &github.Repository{
			DefaultBranch: settings.DefaultBranch,
			HasIssues:     settings.HasIssues,
			HasWiki:       settings.HasWiki,
			HasProjects:   settings.HasProjects,

			DeleteBranchOnMerge: settings.DeleteBranchOnMerge,
		})
		return resp, err
	})
}

// buildProtectionRequest builds a GitHub API ProtectionRequest from a
// BranchProtection. The request replaces the whole protection, so the
// extras read with it are sent back.
func buildProtectionRequest(bp reconcile.BranchProtection) *github.ProtectionRequest {
	extras := bp.Extras
	protection := &github.ProtectionRequest{
		EnforceAdmins:                  bp.EnforceAdmins,
		RequireLinearHistory:           github.Bool(extras.RequireLinearHistory),
		AllowForcePushes:               github.Bool(extras.AllowForcePushes),
		AllowDeletions:                 github.Bool(extras.AllowDeletions),
		RequiredConversationResolution: github.Bool(extras.RequireConversationResolution),
	}

	if r := extras.PushRestrictions; r != nil {
		protection.Restrictions = &github.BranchRestrictionsRequest{
			Users: append([]string{}, r.Users...),
			Teams: append([]string{}, r.Teams...),
			Apps:  append([]string{}, r.Apps...),
		}
	}

	if len(bp.StatusChecks) > 0 || bp.StrictStatusChecks {
		contexts := append([]string{}, bp.StatusChecks...)
		protection.RequiredStatusChecks = &github.RequiredStatusChecks{
			Strict:   bp.StrictStatusChecks,
			Contexts: &contexts,
		}
	}

	if bp.RequiredApprovals > 0 || bp.DismissStaleReviews || bp.RequireCodeOwnerReviews || extras.RequireLastPushApproval {
		protection.RequiredPullRequestReviews = &github.PullRequestReviewsEnforcementRequest{
			RequiredApprovingReviewCount: bp.RequiredApprovals,
			DismissStaleReviews:          bp.DismissStaleReviews,
			RequireCodeOwnerReviews:      bp.RequireCodeOwnerReviews,
			RequireLastPushApproval:      github.Bool(extras.RequireLastPushApproval),
		}
	}

	return protection
}

// convertBranchProtection converts GitHub API branch protection to the engine's type
func convertBranchProtection(protection *github.Protection) *reconcile.BranchProtection {
	bp := &reconcile.BranchProtection{}
	if protection == nil {
		return bp
	}

	if checks := protection.RequiredStatusChecks; checks != nil {
		if checks.Contexts != nil {
			bp.StatusChecks = append(bp.StatusChecks, *checks.Contexts...)
		}
		bp.StrictStatusChecks = checks.Strict
	}

	if reviews := protection.RequiredPullRequestReviews; reviews != nil {
		bp.RequiredApprovals = reviews.RequiredApprovingReviewCount
		bp.DismissStaleReviews = reviews.DismissStaleReviews
		bp.RequireCodeOwnerReviews = reviews.RequireCodeOwnerReviews
		bp.Extras.RequireLastPushApproval = reviews.RequireLastPushApproval
	}

	if protection.EnforceAdmins != nil {
		bp.EnforceAdmins = protection.EnforceAdmins.Enabled
	}

	if v := protection.RequireLinearHistory; v != nil {
		bp.Extras.RequireLinearHistory = v.Enabled
	}
	if v := protection.AllowForcePushes; v != nil {
		bp.Extras.AllowForcePushes = v.Enabled
	}
	if v := protection.AllowDeletions; v != nil {
		bp.Extras.AllowDeletions = v.Enabled
	}
	if v := protection.RequiredConversationResolution; v != nil {
		bp.Extras.RequireConversationResolution = v.Enabled
	}

	if r := protection.Restrictions; r != nil {
		restrictions := &reconcile.PushRestrictions{Users: []string{}, Teams: []string{}, Apps: []string{}}
		for _, u := range r.Users {
			restrictions.Users = append(restrictions.Users, u.GetLogin())
		}
		for _, t := range r.Teams {
			restrictions.Teams = append(restrictions.Teams, t.GetSlug())
		}
		for _, a := range r.Apps {
			restrictions.Apps = append(restrictions.Apps, a.GetSlug())
		}
		bp.Extras.PushRestrictions = restrictions
	}

	return bp
}

func convertTeam(t *github.Team) reconcile.LiveTeam {
	permission := normalizePermission(t.GetPermission())
	if permission == "" {
		permission = reconcile.PermissionPull
	}
	privacy := reconcile.Privacy(t.GetPrivacy())
	if privacy == "" {
		privacy = reconcile.PrivacyClosed
	}

	return reconcile.LiveTeam{
		ID:          t.GetID(),
		Name:        t.GetName(),
		Slug:        t.GetSlug(),
		Description: t.GetDescription(),
		Privacy:     privacy,
		Permission:  permission,
		ParentSlug:  t.GetParent().GetSlug(),
	}
}

func convertRepository(r *github.Repository) reconcile.Repository {
	return reconcile.Repository{
		Name:          r.GetName(),
		DefaultBranch: r.GetDefaultBranch(),
		Archived:      r.GetArchived(),
		Private:       r.GetPrivate(),
		HasIssues:     r.GetHasIssues(),
		HasWiki:       r.GetHasWiki(),
		HasProjects:   r.GetHasProjects(),

		DeleteBranchOnMerge: r.GetDeleteBranchOnMerge(),
	}
}

// normalizePermission maps the role names of the newer API onto permission levels
func normalizePermission(p string) reconcile.Permission {
	switch p = strings.ToLower(p); p {
	case "read":
		return reconcile.PermissionPull
	case "write":
		return reconcile.PermissionPush
	}
	return reconcile.Permission(p)
}

// highestPermission picks the strongest granted level of a permissions map,
// falling back to the given level
func highestPermission(granted map[string]bool, fallback string) reconcile.Permission {
	best := normalizePermission(fallback)
	for name, ok := range granted {
		if !ok {
			continue
		}
		if p := reconcile.Permission(name); p.Rank() > best.Rank() {
			best = p
		}
	}
	return best
}

func ignoreNotFound(err error) error {
	if isNotFound(err) {
		return nil
	}
	return err
}
