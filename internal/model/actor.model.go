package model

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
	RoleDonor   Role = "donor"
)

func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleStudent, RoleManager, RoleAdmin, RoleDonor:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Actor is the caller identity handed over by the upstream auth layer.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

func (a Actor) IsStaff() bool { return a.Is(RoleManager, RoleAdmin) }
