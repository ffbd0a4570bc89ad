// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import (
	"strings"

	"github.com/samber/oops"
)

// Error codes for rejected assignments.
const (
	CodeInvalidRoles       = "ACCESS_INVALID_ROLES"
	CodeInvalidPermissions = "ACCESS_INVALID_PERMISSIONS"
)

// InvalidRolesError lists every role in an assignment that the catalog
// does not define.
type InvalidRolesError struct {
	Roles []string
}

func (e *InvalidRolesError) Error() string {
	return "invalid roles: " + strings.Join(e.Roles, ", ")
}

// InvalidPermissionsError lists every permission in an assignment that the
// catalog does not define.
type InvalidPermissionsError struct {
	Permissions []string
}

func (e *InvalidPermissionsError) Error() string {
	return "invalid permissions: " + strings.Join(e.Permissions, ", ")
}

func invalidRoles(roles []string) error {
	return oops.In("access").
		Code(CodeInvalidRoles).
		With("invalid_roles", roles).
		Wrap(&InvalidRolesError{Roles: roles})
}

func invalidPermissions(perms []string) error {
	return oops.In("access").
		Code(CodeInvalidPermissions).
		With("invalid_permissions", perms).
		Wrap(&InvalidPermissionsError{Permissions: perms})
}
