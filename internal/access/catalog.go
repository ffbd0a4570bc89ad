// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package access resolves effective permissions from roles and validates
// role and permission assignments against a catalog.
package access

import (
	"slices"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// AdminRole bypasses every permission check.
const AdminRole = "admin"

// Catalog is the read-only role and permission registry.
type Catalog interface {
	// RoleExists reports whether role is defined.
	RoleExists(role string) bool

	// PermissionExists reports whether permission is defined.
	PermissionExists(permission string) bool

	// RolePermissions returns the permissions granted by role, or nil.
	RolePermissions(role string) []string
}

// Permission is a named capability. Resource and Action default to the
// two halves of an "action:resource" name; "*" in either matches anything.
type Permission struct {
	Name        string `json:"name" yaml:"name" jsonschema:"minLength=1"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Resource    string `json:"resource,omitempty" yaml:"resource,omitempty"`
	Action      string `json:"action,omitempty" yaml:"action,omitempty"`
}

// Pattern returns the "action:resource" glob this permission satisfies.
func (p Permission) Pattern() string {
	if p.Action == "" && p.Resource == "" {
		return p.Name
	}
	action, resource := p.Action, p.Resource
	if action == "" {
		action = "*"
	}
	if resource == "" {
		resource = "*"
	}
	return action + ":" + resource
}

// Role groups permissions under a name.
type Role struct {
	Name        string   `json:"name" yaml:"name" jsonschema:"minLength=1"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// Definition is the on-disk catalog document.
type Definition struct {
	Permissions []Permission `json:"permissions" yaml:"permissions"`
	Roles       []Role       `json:"roles" yaml:"roles"`
}

// compiledPermission holds a permission pattern and its compiled glob.
type compiledPermission struct {
	pattern string
	glob    glob.Glob
}

// StaticCatalog is an immutable Catalog built from a Definition.
// It is safe for concurrent use without locking.
type StaticCatalog struct {
	permissions map[string]compiledPermission
	roles       map[string][]string
}

// NewStaticCatalog validates def and compiles its permission patterns.
// Every permission a role references must be defined.
func NewStaticCatalog(def Definition) (*StaticCatalog, error) {
	c := &StaticCatalog{
		permissions: make(map[string]compiledPermission, len(def.Permissions)),
		roles:       make(map[string][]string, len(def.Roles)),
	}

	for _, p := range def.Permissions {
		if p.Name == "" {
			return nil, oops.In("access").Code("CATALOG_INVALID").Errorf("permission name cannot be empty")
		}
		if _, dup := c.permissions[p.Name]; dup {
			return nil, oops.In("access").Code("CATALOG_INVALID").With("permission", p.Name).Errorf("duplicate permission")
		}
		// ':' separates action from resource in patterns.
		g, err := glob.Compile(p.Pattern(), ':')
		if err != nil {
			return nil, oops.In("access").
				Code("INVALID_PERMISSION_PATTERN").
				With("permission", p.Name).
				With("pattern", p.Pattern()).
				Wrap(err)
		}
		c.permissions[p.Name] = compiledPermission{pattern: p.Pattern(), glob: g}
	}

	for _, r := range def.Roles {
		if r.Name == "" {
			return nil, oops.In("access").Code("CATALOG_INVALID").Errorf("role name cannot be empty")
		}
		if _, dup := c.roles[r.Name]; dup {
			return nil, oops.In("access").Code("CATALOG_INVALID").With("role", r.Name).Errorf("duplicate role")
		}
		var unknown []string
		for _, p := range r.Permissions {
			if _, ok := c.permissions[p]; !ok {
				unknown = append(unknown, p)
			}
		}
		if len(unknown) > 0 {
			return nil, oops.In("access").
				Code("CATALOG_INVALID").
				With("role", r.Name).
				With("unknown_permissions", unknown).
				Errorf("role %q references undefined permissions", r.Name)
		}
		c.roles[r.Name] = dedupe(r.Permissions)
	}

	return c, nil
}

// RoleExists implements Catalog.
func (c *StaticCatalog) RoleExists(role string) bool {
	_, ok := c.roles[role]
	return ok
}

// PermissionExists implements Catalog.
func (c *StaticCatalog) PermissionExists(permission string) bool {
	_, ok := c.permissions[permission]
	return ok
}

// RolePermissions implements Catalog. The returned slice is a copy.
func (c *StaticCatalog) RolePermissions(role string) []string {
	return slices.Clone(c.roles[role])
}

// Roles returns the defined role names in sorted order.
func (c *StaticCatalog) Roles() []string {
	names := make([]string, 0, len(c.roles))
	for name := range c.roles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// matches reports whether the named permission's pattern covers required.
// Unknown permissions never match.
func (c *StaticCatalog) matches(permission, required string) bool {
	cp, ok := c.permissions[permission]
	if !ok {
		return false
	}
	return cp.pattern == required || cp.glob.Match(required)
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
