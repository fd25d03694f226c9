package modules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"ghconf/pkg/reconcile"
)

// ProcedureFactory builds a procedure from its file form
type ProcedureFactory func(spec ProcedureFile) (reconcile.Procedure, error)

// Registry maps procedure names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProcedureFactory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProcedureFactory)}
}

// Register adds or replaces a factory
func (r *Registry) Register(name string, factory ProcedureFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the procedure named by spec
func (r *Registry) Build(spec ProcedureFile) (reconcile.Procedure, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown procedure %q: must be one of %v", spec.Name, r.Names())
	}
	return factory(spec)
}

// Procedures holds the built-in procedures. Custom procedures are added with Register.
var Procedures = builtinRegistry()

func builtinRegistry() *Registry {
	r := NewRegistry()
	r.Register("protect-branch", protectBranch)
	r.Register("require-approvals", requireApprovals)
	r.Register("dismiss-stale-reviews", dismissStaleReviews)
	r.Register("require-status-checks", requireStatusChecks)
	r.Register("default-branch", defaultBranch)
	r.Register("features", features)
	r.Register("delete-branch-on-merge", deleteBranchOnMerge)
	r.Register("require-recent-checks", requireRecentChecks)
	r.Register("remove-outside-collaborators", func(ProcedureFile) (reconcile.Procedure, error) {
		return reconcile.RemoveOutsideCollaborators{}, nil
	})
	r.Register("remove-admin-collaborators", func(ProcedureFile) (reconcile.Procedure, error) {
		return reconcile.RemoveAdminCollaborators{}, nil
	})
	return r
}

func protectBranch(spec ProcedureFile) (reconcile.Procedure, error) {
	if spec.Approvals != nil && *spec.Approvals < 0 {
		return nil, fmt.Errorf("approvals cannot be negative")
	}
	p := &reconcile.ProtectBranch{
		Branch:                  spec.Branch,
		RequiredApprovals:       spec.Approvals,
		DismissStaleReviews:     spec.DismissStaleReviews,
		RequireCodeOwnerReviews: spec.RequireCodeOwnerReviews,
		StrictStatusChecks:      spec.Strict,
		EnforceAdmins:           spec.EnforceAdmins,
	}
	if spec.Checks != nil {
		p.StatusChecks = append([]string{}, spec.Checks...)
	}
	return p, nil
}

func requireApprovals(spec ProcedureFile) (reconcile.Procedure, error) {
	if spec.Approvals == nil {
		return nil, fmt.Errorf("approvals is required")
	}
	if *spec.Approvals < 0 || *spec.Approvals > 6 {
		return nil, fmt.Errorf("approvals must be between 0 and 6, got %d", *spec.Approvals)
	}
	return reconcile.RequireApprovals(spec.Branch, *spec.Approvals), nil
}

func dismissStaleReviews(spec ProcedureFile) (reconcile.Procedure, error) {
	enabled := true
	if spec.Enabled != nil {
		enabled = *spec.Enabled
	}
	return reconcile.DismissStaleReviews(spec.Branch, enabled), nil
}

func requireStatusChecks(spec ProcedureFile) (reconcile.Procedure, error) {
	strict := spec.Strict != nil && *spec.Strict
	return reconcile.RequireStatusChecks(spec.Branch, strict, spec.Checks...), nil
}

func defaultBranch(spec ProcedureFile) (reconcile.Procedure, error) {
	if len(spec.Preferred) == 0 {
		return nil, fmt.Errorf("preferred must list at least one branch")
	}
	return &reconcile.DefaultBranch{Preferred: append([]string{}, spec.Preferred...)}, nil
}

func features(spec ProcedureFile) (reconcile.Procedure, error) {
	if spec.Issues == nil && spec.Wiki == nil && spec.Projects == nil && spec.DeleteBranchOnMerge == nil {
		return nil, fmt.Errorf("at least one of issues, wiki, projects, delete_branch_on_merge is required")
	}
	return &reconcile.Features{
		Issues:              spec.Issues,
		Wiki:                spec.Wiki,
		Projects:            spec.Projects,
		DeleteBranchOnMerge: spec.DeleteBranchOnMerge,
	}, nil
}

func deleteBranchOnMerge(spec ProcedureFile) (reconcile.Procedure, error) {
	enabled := true
	if spec.Enabled != nil {
		enabled = *spec.Enabled
	}
	return &reconcile.Features{DeleteBranchOnMerge: &enabled}, nil
}

func requireRecentChecks(spec ProcedureFile) (reconcile.Procedure, error) {
	p := &reconcile.RequireRecentChecks{Branch: spec.Branch, Window: reconcile.DefaultCheckWindow}
	if spec.Window != "" {
		window, err := time.ParseDuration(spec.Window)
		if err != nil {
			return nil, fmt.Errorf("invalid window %q: %w", spec.Window, err)
		}
		if window <= 0 {
			return nil, fmt.Errorf("window must be positive, got %s", spec.Window)
		}
		p.Window = window
	}
	return p, nil
}
