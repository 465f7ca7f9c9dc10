package auth

import (
	"fmt"
	"strings"
)

// PermissionAdmin lets a caller act on any actor's encounters and conditions.
const PermissionAdmin = "encounter.admin"

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	ActorID    string
}

func (e ForbiddenError) Error() string {
	if e.ActorID != "" {
		return fmt.Sprintf("permission %s required to act for %s", e.Permission, e.ActorID)
	}
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Caller is the authenticated identity behind an engine call.
type Caller struct {
	ActorID     string
	Permissions []string
}

// Local is the caller used by the CLI, which owns its workspace.
func Local(actorID string) Caller {
	return Caller{ActorID: actorID, Permissions: []string{PermissionAdmin}}
}

func (c Caller) Has(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// CanActFor returns nil when the caller is the owning actor or an admin.
func (c Caller) CanActFor(ownerID string) error {
	if strings.TrimSpace(c.ActorID) != "" && c.ActorID == ownerID {
		return nil
	}
	if c.Has(PermissionAdmin) {
		return nil
	}
	return ForbiddenError{Permission: PermissionAdmin, ActorID: ownerID}
}
