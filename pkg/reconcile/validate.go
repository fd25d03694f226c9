package reconcile

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	validUsername = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)
	validTeamSlug = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// ValidateUsername validates a GitHub username according to GitHub's rules
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if len(username) > 39 {
		return fmt.Errorf("username must be 39 characters or less")
	}
	if !validUsername.MatchString(username) {
		return fmt.Errorf("username '%s' is invalid: must contain only alphanumeric characters and single hyphens, cannot start or end with hyphen", username)
	}
	if strings.Contains(username, "--") {
		return fmt.Errorf("username '%s' is invalid: cannot contain consecutive hyphens", username)
	}
	return nil
}

// ValidateTeamSlug validates a GitHub team slug
func ValidateTeamSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("team slug cannot be empty")
	}
	if len(slug) > 100 {
		return fmt.Errorf("team slug must be 100 characters or less")
	}
	if !validTeamSlug.MatchString(slug) {
		return fmt.Errorf("team slug '%s' is invalid: must contain only lowercase alphanumeric characters, hyphens, and underscores, and start with alphanumeric character", slug)
	}
	return nil
}

// ValidateModules checks every module and the slugs they share. The first
// invalid module is returned as a ConfigurationError.
func ValidateModules(modules []*Module) error {
	seen := make(map[string]string)
	for _, m := range modules {
		if m == nil {
			return &ConfigurationError{Err: fmt.Errorf("nil module")}
		}
		errs := m.validate()
		for _, root := range m.Teams {
			root.Walk(func(t *Team) {
				slug := t.Slug()
				if other, dup := seen[slug]; dup {
					errs.Add("teams", t.Path(), fmt.Sprintf("slug %q is already declared by %s", slug, other))
					return
				}
				seen[slug] = fmt.Sprintf("%s in module %s", t.Path(), m.Name)
			})
		}
		if errs.HasErrors() {
			return &ConfigurationError{Module: m.Name, Err: errs}
		}
	}
	return nil
}

// Validate checks a single module
func (m *Module) Validate() error {
	if errs := m.validate(); errs.HasErrors() {
		return errs
	}
	return nil
}

func (m *Module) validate() ValidationErrors {
	var errs ValidationErrors

	if m.Org != nil {
		seen := make(map[string]bool)
		for _, admin := range m.Org.Admins {
			if err := ValidateUsername(admin); err != nil {
				errs.Add("org.admins", admin, err.Error())
				continue
			}
			if seen[strings.ToLower(admin)] {
				errs.Add("org.admins", admin, "duplicate admin")
			}
			seen[strings.ToLower(admin)] = true
		}
	}

	for _, root := range m.Teams {
		if root == nil {
			errs.Add("teams", "", "team cannot be nil")
			continue
		}
		root.Link()
		root.Walk(func(t *Team) {
			validateTeam(t, &errs)
		})
	}

	for i, rule := range m.Rules {
		validateRule(i, rule, &errs)
	}

	return errs
}

func validateTeam(t *Team, errs *ValidationErrors) {
	field := fmt.Sprintf("teams[%s]", t.Path())

	if strings.TrimSpace(t.Name) == "" {
		errs.Add(field, "", "team name cannot be empty")
		return
	}
	if err := ValidateTeamSlug(t.Slug()); err != nil {
		errs.Add(field, t.Name, err.Error())
	}
	if t.Privacy != PrivacyClosed && t.Privacy != PrivacySecret {
		errs.Add(field+".privacy", string(t.Privacy), "privacy must be one of closed, secret")
	}
	if t.Privacy == PrivacySecret && (t.Parent() != nil || len(t.Subteams) > 0) {
		errs.Add(field+".privacy", string(t.Privacy), "secret teams cannot be nested")
	}
	if !IsValidPermission(t.DefaultPermission) {
		errs.Add(field+".default_permission", string(t.DefaultPermission), "invalid permission level")
	}

	seen := make(map[string]bool)
	for _, member := range t.Members {
		if err := ValidateUsername(member.Username); err != nil {
			errs.Add(field+".members", member.Username, err.Error())
			continue
		}
		if !IsValidTeamRole(member.Role) {
			errs.Add(field+".members", member.Username, fmt.Sprintf("invalid team role %q: must be member or maintainer", member.Role))
		}
		if seen[member.Key()] {
			errs.Add(field+".members", member.Username, "duplicate member")
		}
		seen[member.Key()] = true
	}
}

func validateRule(i int, rule *RepositoryAccessRule, errs *ValidationErrors) {
	field := fmt.Sprintf("repositories[%d]", i)
	if rule == nil || rule.Pattern == nil {
		errs.Add(field+".pattern", "", "pattern is required")
		return
	}
	field = fmt.Sprintf("repositories[%s]", rule.Pattern)

	for level, grant := range rule.Access {
		if !IsValidPermission(level) {
			errs.Add(field+".access", string(level), "invalid permission level")
			continue
		}
		for _, team := range grant.Teams {
			if strings.TrimSpace(team) == "" {
				errs.Add(field+".access."+string(level)+".teams", "", "team name cannot be empty")
			}
		}
		for _, user := range grant.Collaborators {
			if err := ValidateUsername(user); err != nil {
				errs.Add(field+".access."+string(level)+".collaborators", user, err.Error())
			}
		}
	}

	for j, proc := range rule.Procedures {
		if proc == nil {
			errs.Add(fmt.Sprintf("%s.procedures[%d]", field, j), "", "procedure cannot be nil")
		}
	}
}
