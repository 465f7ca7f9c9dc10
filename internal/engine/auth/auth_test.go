package auth

import (
	"errors"
	"testing"
)

func TestCanActFor(t *testing.T) {
	owner := Caller{ActorID: "hero"}
	if err := owner.CanActFor("hero"); err != nil {
		t.Fatalf("owner should be allowed: %v", err)
	}
	var forbidden ForbiddenError
	if err := owner.CanActFor("villain"); !errors.As(err, &forbidden) || forbidden.ActorID != "villain" {
		t.Fatalf("expected forbidden for another actor, got %v", err)
	}
	if err := (Caller{}).CanActFor(""); err == nil {
		t.Fatalf("anonymous caller must not match an empty owner")
	}
	if err := Local("gm").CanActFor("hero"); err != nil {
		t.Fatalf("admin should be allowed: %v", err)
	}
	if !(Caller{Permissions: []string{"*"}}).Has(PermissionAdmin) {
		t.Fatalf("wildcard should grant admin")
	}
}
