// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

func perm(action, resource, description string) Permission {
	return Permission{Name: action + ":" + resource, Description: description, Resource: resource, Action: action}
}

// Permission groups compose into roles; roles never inherit.

var userPowers = []string{
	"read:users",
	"read:services",
	"read:segmentation",
	"write:segmentation",
	"read:runner",
	"write:runner",
	"read:archive",
	"write:archive",
}

var servicePowers = []string{
	"read:services",
	"read:segmentation",
	"read:runner",
	"read:archive",
}

var guestPowers = []string{
	"read:services",
}

var adminPowers = []string{
	"write:users",
	"delete:users",
	"write:services",
	"admin",
}

// DefaultDefinition returns the built-in roles and permissions.
func DefaultDefinition() Definition {
	return Definition{
		Permissions: []Permission{
			perm("read", "users", "Read principal records"),
			perm("write", "users", "Modify principal records"),
			perm("delete", "users", "Delete principal records"),
			perm("read", "services", "Read service definitions"),
			perm("write", "services", "Modify service definitions"),
			perm("read", "segmentation", "Read segmentation jobs"),
			perm("write", "segmentation", "Start segmentation jobs"),
			perm("read", "runner", "Read runner jobs"),
			perm("write", "runner", "Start runner jobs"),
			perm("read", "archive", "Read archive records"),
			perm("write", "archive", "Start archiving"),
			{Name: "admin", Description: "Full administrative access", Resource: "*", Action: "*"},
		},
		Roles: []Role{
			{Name: AdminRole, Description: "System administrator", Permissions: compose(userPowers, adminPowers)},
			{Name: "user", Description: "Standard user", Permissions: userPowers},
			{Name: "service", Description: "Service account", Permissions: servicePowers},
			{Name: "guest", Description: "Guest", Permissions: guestPowers},
		},
	}
}

// DefaultCatalog returns a StaticCatalog over DefaultDefinition.
//
// Panics if the built-in definition is invalid (code bug).
func DefaultCatalog() *StaticCatalog {
	c, err := NewStaticCatalog(DefaultDefinition())
	if err != nil {
		panic("invalid default catalog: " + err.Error())
	}
	return c
}

// compose merges multiple permission slices into one.
func compose(groups ...[]string) []string {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	result := make([]string, 0, total)
	for _, g := range groups {
		result = append(result, g...)
	}
	return result
}
