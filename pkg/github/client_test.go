package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghconf/pkg/reconcile"
)

// apiStatus makes the mock server answer with a status code and message
type apiStatus struct {
	code    int
	message string
}

// recordedRequest is a request received by the mock server
type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   map[string]interface{}
}

type mockServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func (m *mockServer) received() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

func (m *mockServer) count(method, path string) int {
	n := 0
	for _, r := range m.received() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// mockGitHubServer creates a test HTTP server that mocks GitHub API responses.
// Values may be a JSON payload, an apiStatus, an error (answered with 500) or
// an http.HandlerFunc.
func mockGitHubServer(t *testing.T, responses map[string]interface{}) *mockServer {
	t.Helper()
	m := &mockServer{}

	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()}
		if body, _ := io.ReadAll(r.Body); len(body) > 0 {
			_ = json.Unmarshal(body, &rec.Body)
		}
		m.mu.Lock()
		m.requests = append(m.requests, rec)
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")

		key := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		response, exists := responses[key]
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"message": "Not Found"})
			return
		}

		switch resp := response.(type) {
		case http.HandlerFunc:
			resp(w, r)
		case apiStatus:
			w.WriteHeader(resp.code)
			json.NewEncoder(w).Encode(map[string]string{"message": resp.message})
		case error:
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"message": resp.Error()})
		case nil:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(resp)
		}
	}))
	t.Cleanup(m.Close)
	return m
}

// createTestClient creates a GitHub client configured to use the test server
func createTestClient(t *testing.T, server *mockServer, opts ...Option) *Client {
	t.Helper()

	opts = append([]Option{
		WithRateLimiter(NewRateLimiter(RateLimiterConfig{})),
		WithReadRetry(0, time.Millisecond),
	}, opts...)
	client, err := NewClient("test-token", "testorg", opts...)
	require.NoError(t, err)

	serverURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.client.BaseURL = serverURL

	return client
}

func users(logins ...string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, l := range logins {
		out = append(out, map[string]interface{}{"login": l})
	}
	return out
}

func TestNewClient(t *testing.T) {
	t.Run("requires an organization", func(t *testing.T) {
		_, err := NewClient("token", "")
		assert.ErrorContains(t, err, "organization cannot be empty")
	})

	t.Run("defaults", func(t *testing.T) {
		client, err := NewClient("token", "acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", client.Organization())
		assert.NotNil(t, client.RateLimiter())
		assert.Equal(t, "https://api.github.com/", client.client.BaseURL.String())
	})

	t.Run("enterprise base URL", func(t *testing.T) {
		client, err := NewClient("token", "acme", WithBaseURL("https://ghe.example.com"))
		require.NoError(t, err)
		assert.Equal(t, "https://ghe.example.com/api/v3/", client.client.BaseURL.String())
	})

	t.Run("invalid base URL", func(t *testing.T) {
		_, err := NewClient("token", "acme", WithBaseURL("://bad"))
		assert.ErrorContains(t, err, "invalid GitHub base URL")
	})
}

func TestClient_ListOrgMembership(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"GET /orgs/testorg/members": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Query().Get("role") {
			case "admin":
				json.NewEncoder(w).Encode(users("alice"))
			case "member":
				json.NewEncoder(w).Encode(users("bob", "carol"))
			default:
				w.WriteHeader(http.StatusBadRequest)
			}
		}),
	})
	client := createTestClient(t, server)

	admins, err := client.ListOrgAdmins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, admins)

	members, err := client.ListOrgMembers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, members)
}

func TestClient_ListRepositories_Paginates(t *testing.T) {
	var serverURL string
	server := mockGitHubServer(t, map[string]interface{}{
		"GET /orgs/testorg/repos": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			if page < 2 {
				w.Header().Set("Link", fmt.Sprintf(`<%s/orgs/testorg/repos?page=2>; rel="next"`, serverURL))
				json.NewEncoder(w).Encode([]map[string]interface{}{
					{"name": "api", "default_branch": "main", "private": true, "has_issues": true},
				})
				return
			}
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"name": "legacy", "default_branch": "master", "archived": true, "has_wiki": true},
			})
		}),
	})
	serverURL = server.URL
	client := createTestClient(t, server)

	repos, err := client.ListRepositories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []reconcile.Repository{
		{Name: "api", DefaultBranch: "main", Private: true, HasIssues: true},
		{Name: "legacy", DefaultBranch: "master", Archived: true, HasWiki: true},
	}, repos)
	assert.Equal(t, 2, server.count("GET", "/orgs/testorg/repos"))
}

func TestClient_ListTeams(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"GET /orgs/testorg/teams": []map[string]interface{}{
			{"id": 1, "name": "Root", "slug": "root", "privacy": "closed", "permission": "pull"},
			{"id": 2, "name": "Core", "slug": "core", "description": "core team", "privacy": "closed",
				"parent": map[string]interface{}{"id": 1, "slug": "root"}},
		},
	})
	client := createTestClient(t, server)

	teams, err := client.ListTeams(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []reconcile.LiveTeam{
		{ID: 1, Name: "Root", Slug: "root", Privacy: reconcile.PrivacyClosed, Permission: reconcile.PermissionPull},
		{ID: 2, Name: "Core", Slug: "core", Description: "core team", Privacy: reconcile.PrivacyClosed,
			Permission: reconcile.PermissionPull, ParentSlug: "root"},
	}, teams)
}

func TestClient_ListTeamMembers(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"GET /orgs/testorg/teams/core/members": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("role") == "maintainer" {
				json.NewEncoder(w).Encode(users("alice"))
				return
			}
			json.NewEncoder(w).Encode(users("bob"))
		}),
		"GET /orgs/testorg/teams/core/invitations": []map[string]interface{}{
			{"login": "newbie", "role": "direct_member"},
			{"email": "someone@example.com", "role": "direct_member"},
		},
	})
	client := createTestClient(t, server)

	members, err := client.ListTeamMembers(context.Background(), "core")
	require.NoError(t, err)
	assert.Equal(t, []reconcile.Member{
		{Username: "alice", Role: reconcile.RoleMaintainer},
		{Username: "bob", Role: reconcile.RoleMember},
		{Username: "newbie", Role: reconcile.RoleMember, Pending: true},
	}, members)
}

func TestClient_ListRecentChecks(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"GET /repos/testorg/svc/commits": []map[string]interface{}{{"sha": "abc"}, {"sha": "def"}},
		"GET /repos/testorg/svc/commits/abc/statuses": []map[string]interface{}{
			{"context": "ci/build", "state": "success"},
			{"context": "ci/build", "state": "pending"},
		},
		"GET /repos/testorg/svc/commits/def/statuses": []map[string]interface{}{},
		"GET /repos/testorg/svc/commits/abc/check-runs": map[string]interface{}{
			"total_count": 1,
			"check_runs":  []map[string]interface{}{{"name": "test"}},
		},
		"GET /repos/testorg/svc/commits/def/check-runs": map[string]interface{}{
			"total_count": 2,
			"check_runs":  []map[string]interface{}{{"name": "test"}, {"name": "lint"}},
		},
	})
	client := createTestClient(t, server)

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	checks, err := client.ListRecentChecks(context.Background(), "svc", "main", since)
	require.NoError(t, err)
	assert.Equal(t, []string{"ci/build", "test", "lint"}, checks)

	commits := server.received()[0]
	assert.Equal(t, "main", commits.Query.Get("sha"))
	assert.Equal(t, "2024-01-01T00:00:00Z", commits.Query.Get("since"))
}

func TestClient_ListRepoAccess(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"GET /repos/testorg/svc/teams": []map[string]interface{}{
			{"name": "Core", "slug": "core", "permission": "push",
				"permissions": map[string]bool{"pull": true, "triage": true, "push": true, "maintain": false, "admin": false}},
			{"name": "Ops", "slug": "ops", "permission": "admin"},
		},
		"GET /repos/testorg/svc/collaborators": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("affiliation") == "outside" {
				json.NewEncoder(w).Encode(users("Guest"))
				return
			}
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"login": "dev", "role_name": "write"},
				{"login": "guest", "role_name": "read"},
				{"login": "lead", "permissions": map[string]bool{"pull": true, "push": true, "maintain": true}},
			})
		}),
	})
	client := createTestClient(t, server)

	teams, err := client.ListRepoTeams(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, []reconcile.TeamAccess{
		{Slug: "core", Name: "Core", Permission: reconcile.PermissionPush},
		{Slug: "ops", Name: "Ops", Permission: reconcile.PermissionAdmin},
	}, teams)

	collaborators, err := client.ListRepoCollaborators(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, []reconcile.Collaborator{
		{Username: "dev", Permission: reconcile.PermissionPush},
		{Username: "guest", Permission: reconcile.PermissionPull, Outside: true},
		{Username: "lead", Permission: reconcile.PermissionMaintain},
	}, collaborators)
}

func TestClient_ListBranches(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"GET /repos/testorg/svc/branches": []map[string]interface{}{{"name": "main"}, {"name": "dev"}},
	})
	client := createTestClient(t, server)

	branches, err := client.ListBranches(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "dev"}, branches)
}

func TestClient_GetBranchProtection(t *testing.T) {
	tests := []struct {
		name     string
		response interface{}
		want     *reconcile.BranchProtection
		wantErr  bool
	}{
		{
			name: "protected branch",
			response: map[string]interface{}{
				"required_status_checks": map[string]interface{}{"strict": true, "contexts": []string{"ci"}},
				"required_pull_request_reviews": map[string]interface{}{
					"required_approving_review_count": 2,
					"dismiss_stale_reviews":           true,
				},
				"enforce_admins": map[string]interface{}{"enabled": true},
			},
			want: &reconcile.BranchProtection{
				RequiredApprovals:   2,
				DismissStaleReviews: true,
				StatusChecks:        []string{"ci"},
				StrictStatusChecks:  true,
				EnforceAdmins:       true,
			},
		},
		{
			name:     "branch not protected",
			response: apiStatus{code: http.StatusNotFound, message: "Branch not protected"},
		},
		{
			name:     "branch missing",
			response: apiStatus{code: http.StatusNotFound, message: "Branch not found"},
		},
		{
			name:     "forbidden",
			response: apiStatus{code: http.StatusForbidden, message: "Resource not accessible"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := mockGitHubServer(t, map[string]interface{}{
				"GET /repos/testorg/svc/branches/main/protection": tt.response,
			})
			client := createTestClient(t, server)

			got, err := client.GetBranchProtection(context.Background(), "svc", "main")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, reconcile.ErrorForbidden, reconcile.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_OrgMembershipWrites(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"PUT /orgs/testorg/memberships/bob": map[string]interface{}{"role": "admin"},
		"DELETE /orgs/testorg/members/bob":  nil,
	})
	client := createTestClient(t, server)

	require.NoError(t, client.SetOrgMembership(context.Background(), "bob", reconcile.RoleAdmin))
	require.NoError(t, client.RemoveOrgMember(context.Background(), "bob"))
	// already gone
	require.NoError(t, client.RemoveOrgMember(context.Background(), "ghost"))

	reqs := server.received()
	require.Len(t, reqs, 3)
	assert.Equal(t, "admin", reqs[0].Body["role"])
}

func TestClient_CreateTeam(t *testing.T) {
	t.Run("creates under the parent", func(t *testing.T) {
		server := mockGitHubServer(t, map[string]interface{}{
			"GET /orgs/testorg/teams/root": map[string]interface{}{"id": 7, "name": "Root", "slug": "root"},
			"POST /orgs/testorg/teams":     map[string]interface{}{"id": 8, "name": "Core", "slug": "core"},
		})
		client := createTestClient(t, server)

		err := client.CreateTeam(context.Background(), reconcile.TeamSettings{
			Name: "Core", Slug: "core", Description: "core team",
			Privacy: reconcile.PrivacyClosed, Permission: reconcile.PermissionPull, ParentSlug: "root",
		})
		require.NoError(t, err)

		var create recordedRequest
		for _, r := range server.received() {
			if r.Method == "POST" {
				create = r
			}
		}
		assert.Equal(t, "Core", create.Body["name"])
		assert.Equal(t, "core team", create.Body["description"])
		assert.Equal(t, "closed", create.Body["privacy"])
		assert.Equal(t, float64(7), create.Body["parent_team_id"])
	})

	t.Run("updates an existing team", func(t *testing.T) {
		server := mockGitHubServer(t, map[string]interface{}{
			"GET /orgs/testorg/teams/core":   map[string]interface{}{"id": 8, "name": "Core", "slug": "core"},
			"PATCH /orgs/testorg/teams/core": map[string]interface{}{"id": 8, "name": "Core", "slug": "core"},
		})
		client := createTestClient(t, server)

		err := client.CreateTeam(context.Background(), reconcile.TeamSettings{
			Name: "Core", Slug: "core", Privacy: reconcile.PrivacyClosed,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, server.count("POST", "/orgs/testorg/teams"))
		assert.Equal(t, 1, server.count("PATCH", "/orgs/testorg/teams/core"))
	})

	t.Run("unknown parent", func(t *testing.T) {
		server := mockGitHubServer(t, map[string]interface{}{})
		client := createTestClient(t, server)

		err := client.CreateTeam(context.Background(), reconcile.TeamSettings{Name: "Core", Slug: "core", ParentSlug: "missing"})
		assert.ErrorContains(t, err, "failed to resolve parent team missing")
		assert.Equal(t, reconcile.ErrorNotFound, reconcile.KindOf(err))
	})
}

func TestClient_UpdateTeam(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"GET /orgs/testorg/teams/core":   map[string]interface{}{"id": 8, "name": "Core", "slug": "core"},
		"PATCH /orgs/testorg/teams/core": map[string]interface{}{"id": 8, "name": "Core", "slug": "core"},
	})
	client := createTestClient(t, server)

	description := "new"
	topLevel := ""
	err := client.UpdateTeam(context.Background(), "core", reconcile.TeamUpdate{
		Description: &description,
		ParentSlug:  &topLevel,
	})
	require.NoError(t, err)

	var patch recordedRequest
	for _, r := range server.received() {
		if r.Method == "PATCH" {
			patch = r
		}
	}
	assert.Equal(t, "Core", patch.Body["name"])
	assert.Equal(t, "new", patch.Body["description"])
	parent, ok := patch.Body["parent_team_id"]
	assert.True(t, ok, "parent_team_id must be sent to move the team to the top level")
	assert.Nil(t, parent)
}

func TestClient_TeamWrites(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"PUT /orgs/testorg/teams/core/memberships/bob":      map[string]interface{}{"role": "maintainer"},
		"DELETE /orgs/testorg/teams/core/memberships/bob":   nil,
		"PUT /orgs/testorg/teams/core/repos/testorg/svc":    nil,
		"DELETE /orgs/testorg/teams/core/repos/testorg/svc": nil,
		"DELETE /orgs/testorg/teams/old":                    nil,
	})
	client := createTestClient(t, server)
	ctx := context.Background()

	require.NoError(t, client.SetTeamMembership(ctx, "core", "bob", reconcile.RoleMaintainer))
	require.NoError(t, client.RemoveTeamMembership(ctx, "core", "bob"))
	require.NoError(t, client.SetRepoTeamPermission(ctx, "svc", "core", reconcile.PermissionPush))
	require.NoError(t, client.RemoveRepoTeamPermission(ctx, "svc", "core"))
	require.NoError(t, client.DeleteTeam(ctx, "old"))
	require.NoError(t, client.DeleteTeam(ctx, "already-deleted"))

	reqs := server.received()
	assert.Equal(t, "maintainer", reqs[0].Body["role"])
	assert.Equal(t, "push", reqs[2].Body["permission"])
}

func TestClient_RepositoryWrites(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"PUT /repos/testorg/svc/collaborators/dev":        nil,
		"DELETE /repos/testorg/svc/collaborators/dev":     nil,
		"PUT /repos/testorg/svc/branches/main/protection": map[string]interface{}{},
		"PATCH /repos/testorg/svc":                        map[string]interface{}{"name": "svc"},
	})
	client := createTestClient(t, server)
	ctx := context.Background()

	require.NoError(t, client.SetRepoCollaborator(ctx, "svc", "dev", reconcile.PermissionTriage))
	require.NoError(t, client.RemoveRepoCollaborator(ctx, "svc", "dev"))
	require.NoError(t, client.SetBranchProtection(ctx, "svc", "main", reconcile.BranchProtection{
		RequiredApprovals: 1,
		StatusChecks:      []string{"ci"},
	}))
	branch := "main"
	wiki := false
	require.NoError(t, client.UpdateRepository(ctx, "svc", reconcile.RepositorySettings{DefaultBranch: &branch, HasWiki: &wiki}))

	reqs := server.received()
	require.Len(t, reqs, 4)
	assert.Equal(t, "triage", reqs[0].Body["permission"])

	protection := reqs[2].Body
	assert.Equal(t, false, protection["enforce_admins"])
	assert.Nil(t, protection["restrictions"])
	reviews := protection["required_pull_request_reviews"].(map[string]interface{})
	assert.Equal(t, float64(1), reviews["required_approving_review_count"])
	checks := protection["required_status_checks"].(map[string]interface{})
	assert.Equal(t, []interface{}{"ci"}, checks["contexts"])

	assert.Equal(t, map[string]interface{}{"default_branch": "main", "has_wiki": false}, reqs[3].Body)
}

func TestClient_ProtectionKeepsUnmanagedSettings(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"GET /repos/testorg/svc/branches/main/protection": map[string]interface{}{
			"required_pull_request_reviews": map[string]interface{}{
				"required_approving_review_count": 1,
				"require_last_push_approval":      true,
			},
			"enforce_admins":         map[string]interface{}{"enabled": false},
			"required_linear_history": map[string]interface{}{"enabled": true},
			"allow_force_pushes":     map[string]interface{}{"enabled": false},
			"allow_deletions":        map[string]interface{}{"enabled": false},
			"restrictions": map[string]interface{}{
				"users": users("release-bot"),
				"teams": []map[string]interface{}{{"slug": "core"}},
				"apps":  []map[string]interface{}{},
			},
		},
		"PUT /repos/testorg/svc/branches/main/protection": map[string]interface{}{},
		"PATCH /repos/testorg/svc":                        map[string]interface{}{"name": "svc"},
	})
	client := createTestClient(t, server)
	ctx := context.Background()

	current, err := client.GetBranchProtection(ctx, "svc", "main")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.True(t, current.Extras.RequireLinearHistory)
	assert.True(t, current.Extras.RequireLastPushApproval)
	assert.Equal(t, &reconcile.PushRestrictions{Users: []string{"release-bot"}, Teams: []string{"core"}, Apps: []string{}}, current.Extras.PushRestrictions)

	desired := *current
	desired.RequiredApprovals = 2
	require.NoError(t, client.SetBranchProtection(ctx, "svc", "main", desired))

	deleteBranch := true
	require.NoError(t, client.UpdateRepository(ctx, "svc", reconcile.RepositorySettings{DeleteBranchOnMerge: &deleteBranch}))

	reqs := server.received()
	require.Len(t, reqs, 3)
	body := reqs[1].Body
	assert.Equal(t, true, body["required_linear_history"])
	assert.Equal(t, false, body["allow_force_pushes"])
	assert.Equal(t, map[string]interface{}{
		"users": []interface{}{"release-bot"},
		"teams": []interface{}{"core"},
		"apps":  []interface{}{},
	}, body["restrictions"])
	reviews := body["required_pull_request_reviews"].(map[string]interface{})
	assert.Equal(t, float64(2), reviews["required_approving_review_count"])
	assert.Equal(t, true, reviews["require_last_push_approval"])

	assert.Equal(t, map[string]interface{}{"delete_branch_on_merge": true}, reqs[2].Body)
}

func TestClient_ReadRetries(t *testing.T) {
	calls := 0
	server := mockGitHubServer(t, map[string]interface{}{
		"GET /repos/testorg/svc/branches": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls < 3 {
				w.WriteHeader(http.StatusBadGateway)
				json.NewEncoder(w).Encode(map[string]string{"message": "bad gateway"})
				return
			}
			json.NewEncoder(w).Encode([]map[string]interface{}{{"name": "main"}})
		}),
	})
	client := createTestClient(t, server, WithReadRetry(2, time.Millisecond))

	branches, err := client.ListBranches(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, branches)
	assert.Equal(t, 3, calls)
}

func TestClient_WritesAreNotRetried(t *testing.T) {
	server := mockGitHubServer(t, map[string]interface{}{
		"PUT /orgs/testorg/teams/core/memberships/bob": apiStatus{code: http.StatusServiceUnavailable, message: "unavailable"},
	})
	client := createTestClient(t, server, WithReadRetry(3, time.Millisecond))

	err := client.SetTeamMembership(context.Background(), "core", "bob", reconcile.RoleMember)
	require.Error(t, err)
	assert.True(t, reconcile.IsTransient(err))
	assert.Equal(t, 1, server.count("PUT", "/orgs/testorg/teams/core/memberships/bob"))
}

func TestClient_ObservesRateLimitHeaders(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()
	server := mockGitHubServer(t, map[string]interface{}{
		"GET /repos/testorg/svc/branches": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Limit", "5000")
			w.Header().Set("X-RateLimit-Remaining", "42")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
			json.NewEncoder(w).Encode([]map[string]interface{}{})
		}),
	})
	client := createTestClient(t, server)

	_, err := client.ListBranches(context.Background(), "svc")
	require.NoError(t, err)

	stats := client.RateLimiter().Stats()
	assert.Equal(t, 42, stats.RemainingRequests)
	assert.Equal(t, reset, stats.ResetTime.Unix())
}

func TestHighestPermission(t *testing.T) {
	assert.Equal(t, reconcile.PermissionMaintain, highestPermission(map[string]bool{"pull": true, "maintain": true, "admin": false}, "pull"))
	assert.Equal(t, reconcile.PermissionPush, highestPermission(nil, "write"))
	assert.Equal(t, reconcile.Permission(""), highestPermission(nil, ""))
}
