// Package github implements the reconcile.Provider capability on top of the
// GitHub REST API.
//
// The package includes:
// - Client, the provider for one organization, with paginated reads
// - RateLimiter, which paces calls and honours the X-RateLimit headers
// - GitHubError, mapping HTTP failures onto reconcile error kinds
// - AuthManager for token discovery and scope validation
// - Validator for remote checks of users and teams referenced by modules
package github
