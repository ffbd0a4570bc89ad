// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import (
	"log/slog"
	"slices"
)

// Grantee is anything holding roles and direct permission grants.
type Grantee interface {
	GrantedRoles() []string
	GrantedPermissions() []string
}

// Resolver computes effective permissions against a Catalog.
type Resolver struct {
	catalog Catalog
	logger  *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger used for catalog warnings.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver over catalog.
func NewResolver(catalog Catalog, opts ...ResolverOption) *Resolver {
	r := &Resolver{catalog: catalog, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EffectivePermissions returns the sorted set union of g's direct grants and
// the permissions of each of its roles. Roles unknown to the catalog
// contribute nothing.
func (r *Resolver) EffectivePermissions(g Grantee) []string {
	set := make(map[string]struct{})
	for _, p := range g.GrantedPermissions() {
		set[p] = struct{}{}
	}
	for _, role := range g.GrantedRoles() {
		if !r.catalog.RoleExists(role) {
			r.logger.Warn("ignoring undefined role", "role", role)
			continue
		}
		for _, p := range r.catalog.RolePermissions(role) {
			set[p] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// ValidateRoleAssignment returns an ACCESS_INVALID_ROLES error carrying
// every undefined role, or nil when all are defined.
func (r *Resolver) ValidateRoleAssignment(roles []string) error {
	var invalid []string
	for _, role := range dedupe(roles) {
		if !r.catalog.RoleExists(role) {
			invalid = append(invalid, role)
		}
	}
	if len(invalid) > 0 {
		return invalidRoles(invalid)
	}
	return nil
}

// ValidatePermissionAssignment returns an ACCESS_INVALID_PERMISSIONS error
// carrying every undefined permission, or nil when all are defined.
func (r *Resolver) ValidatePermissionAssignment(permissions []string) error {
	var invalid []string
	for _, p := range dedupe(permissions) {
		if !r.catalog.PermissionExists(p) {
			invalid = append(invalid, p)
		}
	}
	if len(invalid) > 0 {
		return invalidPermissions(invalid)
	}
	return nil
}

// matcher is implemented by catalogs that can evaluate permission patterns.
type matcher interface {
	matches(permission, required string) bool
}

// HasPermission reports whether g may exercise required. The admin role
// allows everything. Otherwise an effective permission must equal required
// or, when the catalog supports patterns, cover it ("read:*", "*:users").
func (r *Resolver) HasPermission(g Grantee, required string) bool {
	if slices.Contains(g.GrantedRoles(), AdminRole) && r.catalog.RoleExists(AdminRole) {
		return true
	}

	effective := r.EffectivePermissions(g)
	if _, found := slices.BinarySearch(effective, required); found {
		return true
	}

	m, ok := r.catalog.(matcher)
	if !ok {
		return false
	}
	for _, p := range effective {
		if m.matches(p, required) {
			return true
		}
	}
	return false
}
