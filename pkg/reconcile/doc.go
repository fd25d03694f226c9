// Package reconcile implements the change-planning engine of ghconf.
//
// Desired state (modules of teams, organization settings and repository
// access rules) is compared against the observed state of an organization,
// read through a Provider. The comparison produces ordered ChangeSets which
// an Executor either renders (plan) or applies (execute).
//
// The package includes:
// - State model types for desired and observed state
// - The EXTEND/OVERWRITE policy evaluator
// - Differs for organization admins, team hierarchy, team membership and repository access
// - Repository procedures (branch protection, default branch, features)
// - An Executor with per-domain ordered queues, throttling and bounded retry
// - An Orchestrator tying observation, diffing, confirmation and execution together
package reconcile
