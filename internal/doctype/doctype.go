// Package doctype defines the built-in document types, validates custom
// type registrations from project config, and checks document frontmatter
// against the per-type schema.
package doctype

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/compoundkb/compoundmcp/internal/config"
	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

// Type describes one document type, built-in or custom.
type Type struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Folder      string `json:"folder"`
	BuiltIn     bool   `json:"built_in"`
}

// Built-in types. Custom registrations must not collide with these names.
var builtins = []Type{
	{Name: "problem", Description: "A problem encountered and how it was solved", Folder: "problems", BuiltIn: true},
	{Name: "insight", Description: "A non-obvious observation about the system", Folder: "insights", BuiltIn: true},
	{Name: "codebase", Description: "How a part of the codebase works", Folder: "codebase", BuiltIn: true},
	{Name: "tool", Description: "Knowledge about an external tool or dependency", Folder: "tools", BuiltIn: true},
	{Name: "style", Description: "A convention or style rule for this project", Folder: "styles", BuiltIn: true},
}

// reservedNames are claimed by the skill surface and can never be doc types.
var reservedNames = map[string]bool{
	"create-type":     true,
	"capture-select":  true,
	"activate":        true,
	"query":           true,
	"search":          true,
	"search-external": true,
	"query-external":  true,
	"delete":          true,
	"promote":         true,
	"todo":            true,
	"worktree":        true,
}

var kebabCase = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidateName checks a custom type name for kebab-case and collisions.
func ValidateName(name string) error {
	if !kebabCase.MatchString(name) {
		return fmt.Errorf("doc type name %q is not kebab-case", name)
	}
	for _, b := range builtins {
		if b.Name == name {
			return fmt.Errorf("doc type name %q collides with built-in type", name)
		}
	}
	if reservedNames[name] {
		return fmt.Errorf("doc type name %q is reserved", name)
	}
	return nil
}

// Registry holds the built-in types plus the active project's custom types
// and their compiled frontmatter schemas. A registry is rebuilt on every
// project activation.
type Registry struct {
	types   map[string]Type
	schemas map[string]*Schema
}

// NewRegistry validates the custom registrations and compiles their schemas.
// Invalid names fail with INVALID_CONFIG; a schema file that cannot be read
// is a warning, and captures of that type stay blocked until the file
// appears.
func NewRegistry(customs []config.CustomType, configDir string) (*Registry, []string, error) {
	reg := &Registry{
		types:   make(map[string]Type, len(builtins)+len(customs)),
		schemas: make(map[string]*Schema, len(builtins)+len(customs)),
	}
	for _, b := range builtins {
		reg.types[b.Name] = b
		reg.schemas[b.Name] = builtinSchema(b.Name)
	}

	var warnings []string
	for _, c := range customs {
		if err := ValidateName(c.Name); err != nil {
			return nil, nil, enginerr.Wrap(enginerr.CodeInvalidConfig, "invalid custom doc type", err).
				WithDetail("doc_type", c.Name)
		}
		if _, dup := reg.types[c.Name]; dup {
			return nil, nil, enginerr.Newf(enginerr.CodeInvalidConfig,
				"custom doc type %q registered twice", c.Name)
		}
		reg.types[c.Name] = Type{
			Name:        c.Name,
			Description: c.Description,
			Folder:      c.Folder,
		}
		schema, err := loadCustomSchema(configDir, c.SchemaFile)
		if err != nil {
			warnings = append(warnings,
				fmt.Sprintf("doc type %q: schema file %s unavailable: %v", c.Name, c.SchemaFile, err))
			continue
		}
		reg.schemas[c.Name] = schema
	}
	return reg, warnings, nil
}

// Lookup returns the type by name.
func (r *Registry) Lookup(name string) (Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// All returns every registered type, built-ins first, each group sorted by
// name. This is the list_doc_types payload.
func (r *Registry) All() []Type {
	var builtin, custom []Type
	for _, t := range r.types {
		if t.BuiltIn {
			builtin = append(builtin, t)
		} else {
			custom = append(custom, t)
		}
	}
	sort.Slice(builtin, func(i, j int) bool { return builtin[i].Name < builtin[j].Name })
	sort.Slice(custom, func(i, j int) bool { return custom[i].Name < custom[j].Name })
	return append(builtin, custom...)
}

// Names returns all registered type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
