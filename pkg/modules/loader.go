package modules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"ghconf/pkg/reconcile"
)

// Format is the encoding of a module file
type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

// String returns the string representation of Format
func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatTOML:
		return "toml"
	default:
		return "unknown"
	}
}

// FormatFromPath detects the format from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return FormatYAML, fmt.Errorf("unsupported module file %s: expected .yaml, .yml or .toml", path)
	}
}

// Discover expands doublestar globs into a sorted, de-duplicated list of files
func Discover(globs []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	for _, glob := range globs {
		matches, err := doublestar.FilepathGlob(glob, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid module glob %q: %w", glob, err)
		}
		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				paths = append(paths, match)
			}
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// Load discovers, decodes and validates every module matched by globs
func Load(globs []string) ([]*reconcile.Module, error) {
	paths, err := Discover(globs)
	if err != nil {
		return nil, &reconcile.ConfigurationError{Err: err}
	}
	if len(paths) == 0 {
		return nil, &reconcile.ConfigurationError{Err: fmt.Errorf("no module files match %s", strings.Join(globs, ", "))}
	}

	return LoadFiles(paths)
}

// LoadFiles decodes and validates the given module files
func LoadFiles(paths []string) ([]*reconcile.Module, error) {
	modules := make([]*reconcile.Module, 0, len(paths))
	sources := make(map[string]string)

	for _, path := range paths {
		module, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if other, dup := sources[module.Name]; dup {
			return nil, &reconcile.ConfigurationError{
				Module: module.Name,
				Err:    fmt.Errorf("module name declared by both %s and %s", other, path),
			}
		}
		sources[module.Name] = path
		modules = append(modules, module)
	}

	if err := reconcile.ValidateModules(modules); err != nil {
		return nil, err
	}
	return modules, nil
}

// LoadFile decodes one module file. The module is not validated against others.
func LoadFile(path string) (*reconcile.Module, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &reconcile.ConfigurationError{Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &reconcile.ConfigurationError{Err: fmt.Errorf("failed to read module file: %w", err)}
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Decode(data, format, name)
}

// Decode parses module data. defaultName is used when the file sets no name.
func Decode(data []byte, format Format, defaultName string) (*reconcile.Module, error) {
	var file File

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
			return nil, &reconcile.ConfigurationError{Module: defaultName, Err: fmt.Errorf("failed to parse YAML: %w", err)}
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &file)
		if err != nil {
			return nil, &reconcile.ConfigurationError{Module: defaultName, Err: fmt.Errorf("failed to parse TOML: %w", err)}
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return nil, &reconcile.ConfigurationError{Module: defaultName, Err: fmt.Errorf("unknown TOML keys: %s", strings.Join(keys, ", "))}
		}
	default:
		return nil, &reconcile.ConfigurationError{Module: defaultName, Err: fmt.Errorf("unsupported format %s", format)}
	}

	if file.Name == "" {
		file.Name = defaultName
	}
	return file.Module()
}

// Module converts the file form into a validated module
func (f *File) Module() (*reconcile.Module, error) {
	var errs reconcile.ValidationErrors

	module := &reconcile.Module{
		Name:              f.Name,
		TeamPolicy:        policyOr(f.TeamPolicy, reconcile.Extend),
		ManagedTeamPrefix: f.ManagedTeamPrefix,
	}

	if f.Org != nil {
		module.Org = &reconcile.OrgSpec{
			Admins:       append([]string{}, f.Org.Admins...),
			AdminPolicy:  policyOr(f.Org.AdminPolicy, reconcile.Overwrite),
			MemberPolicy: policyOr(f.Org.MemberPolicy, reconcile.Extend),
		}
	}

	for _, tf := range f.Teams {
		module.Teams = append(module.Teams, tf.team())
	}

	var defaults RuleDefaults
	if f.Defaults != nil {
		defaults = *f.Defaults
	}

	for i, rf := range f.Repositories {
		rule, err := rf.rule(defaults)
		if err != nil {
			errs.Add(fmt.Sprintf("repositories[%d]", i), rf.Pattern, err.Error())
			continue
		}
		module.Rules = append(module.Rules, rule)
	}

	if errs.HasErrors() {
		return nil, &reconcile.ConfigurationError{Module: f.Name, Err: errs}
	}
	if err := module.Validate(); err != nil {
		return nil, &reconcile.ConfigurationError{Module: f.Name, Err: err}
	}
	return module, nil
}

func (tf TeamFile) team() *reconcile.Team {
	var members []reconcile.Member
	for _, user := range tf.Maintainers {
		members = append(members, reconcile.Member{Username: user, Role: reconcile.RoleMaintainer})
	}
	for _, user := range tf.Members {
		members = append(members, reconcile.Member{Username: user, Role: reconcile.RoleMember})
	}

	team := reconcile.NewTeam(tf.Name, members...)
	team.Description = tf.Description
	team.MemberPolicy = policyOr(tf.MemberPolicy, reconcile.Extend)
	if tf.Privacy != "" {
		team.Privacy = reconcile.Privacy(strings.ToLower(tf.Privacy))
	}
	if tf.DefaultPermission != "" {
		team.DefaultPermission = reconcile.Permission(strings.ToLower(tf.DefaultPermission))
	}

	for _, sub := range tf.Subteams {
		team.AddSubteams(sub.team())
	}
	return team
}

func (rf RuleFile) rule(defaults RuleDefaults) (*reconcile.RepositoryAccessRule, error) {
	if strings.TrimSpace(rf.Pattern) == "" {
		return nil, fmt.Errorf("pattern is required")
	}

	rule, err := reconcile.NewRule(rf.Pattern)
	if err != nil {
		return nil, err
	}
	rule.Policy = policyOr(rf.Policy, policyOr(defaults.Policy, reconcile.Overwrite))

	spelled := make(map[reconcile.Permission]string, len(rf.Access))
	for level := range rf.Access {
		key := reconcile.Permission(strings.ToLower(level))
		if other, dup := spelled[key]; dup {
			first, second := other, level
			if second < first {
				first, second = second, first
			}
			return nil, fmt.Errorf("access levels %q and %q differ only in case", first, second)
		}
		spelled[key] = level
	}

	for level, gf := range rf.Access {
		rule.Access[reconcile.Permission(strings.ToLower(level))] = reconcile.AccessGrant{
			Teams:              append([]string{}, gf.Teams...),
			Collaborators:      append([]string{}, gf.Collaborators...),
			TeamPolicy:         gf.TeamPolicy,
			CollaboratorPolicy: gf.CollaboratorPolicy,
		}
	}

	var specs []ProcedureFile
	if !rf.SkipDefaultProcedures {
		specs = append(specs, defaults.Procedures...)
	}
	specs = append(specs, rf.Procedures...)

	for i, spec := range specs {
		proc, err := Procedures.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("procedures[%d] %s: %w", i, spec.Name, err)
		}
		rule.Procedures = append(rule.Procedures, proc)
	}
	return rule, nil
}

func policyOr(p *reconcile.Policy, fallback reconcile.Policy) reconcile.Policy {
	if p == nil {
		return fallback
	}
	return *p
}
