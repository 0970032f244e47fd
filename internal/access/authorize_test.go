package access

import (
	"errors"
	"testing"
)

func TestAuthorizedForUnionsGrants(t *testing.T) {
	_, authz, groups, roles, resources, grants := newFixture(t)
	ctx := registerUser(t, groups, "leader")
	if _, err := groups.CreateGroup(ctx, "lab", ""); err != nil {
		t.Fatalf("create group: %v", err)
	}
	r, err := resources.CreateResource(ctx, "expr", CategoryMRNA, false)
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}

	// Two narrow roles for the same collaborator on one resource.
	_, viewGR, err := roles.CreateRole(ctx, "viewer", []string{PrivViewResource})
	if err != nil {
		t.Fatalf("create viewer role: %v", err)
	}
	_, editGR, err := roles.CreateRole(ctx, "editor", []string{PrivEditResource})
	if err != nil {
		t.Fatalf("create editor role: %v", err)
	}
	if _, err := grants.AssignRole(ctx, r.ID, "carol", viewGR.ID); err != nil {
		t.Fatalf("assign viewer: %v", err)
	}
	if _, err := grants.AssignRole(ctx, r.ID, "carol", editGR.ID); err != nil {
		t.Fatalf("assign editor: %v", err)
	}

	// Neither role alone carries both privileges; the union does.
	decisions, err := authz.AuthorizedFor(ctx, "carol", []string{PrivViewResource, PrivEditResource}, []string{r.ID})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !decisions[r.ID] {
		t.Fatalf("privileges from separate grants must union")
	}

	// Removing one grant narrows the union again.
	if err := grants.UnassignRole(ctx, r.ID, "carol", editGR.ID); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	decisions, err = authz.AuthorizedFor(ctx, "carol", []string{PrivViewResource, PrivEditResource}, []string{r.ID})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if decisions[r.ID] {
		t.Fatalf("revoked privilege must disappear from the union")
	}
}

func TestPublicResourceReadBypass(t *testing.T) {
	_, authz, groups, _, resources, _ := newFixture(t)
	ctx := registerUser(t, groups, "leader")
	if _, err := groups.CreateGroup(ctx, "lab", ""); err != nil {
		t.Fatalf("create group: %v", err)
	}
	pub, err := resources.CreateResource(ctx, "atlas", CategoryMRNA, true)
	if err != nil {
		t.Fatalf("create public resource: %v", err)
	}
	priv, err := resources.CreateResource(ctx, "draft", CategoryMRNA, false)
	if err != nil {
		t.Fatalf("create private resource: %v", err)
	}

	// A user with no grants at all.
	decisions, err := authz.AuthorizedFor(ctx, "stranger", []string{PrivViewResource}, []string{pub.ID, priv.ID})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !decisions[pub.ID] {
		t.Fatalf("public resource must satisfy a read-only requirement")
	}
	if decisions[priv.ID] {
		t.Fatalf("private resource must not leak to strangers")
	}

	// The bypass never extends to write privileges.
	decisions, err = authz.AuthorizedFor(ctx, "stranger", []string{PrivViewResource, PrivEditResource}, []string{pub.ID})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if decisions[pub.ID] {
		t.Fatalf("public flag must not grant write access")
	}
}

func TestAuthorizedForUnknownResource(t *testing.T) {
	_, authz, groups, _, _, _ := newFixture(t)
	ctx := registerUser(t, groups, "alice")

	decisions, err := authz.AuthorizedFor(ctx, "alice", []string{PrivViewResource}, []string{"no-such-id"})
	if err != nil {
		t.Fatalf("unknown resources should evaluate, not error: %v", err)
	}
	if decisions["no-such-id"] {
		t.Fatalf("unknown resource must deny")
	}
}

func TestAuthorizedForEmptyRequirement(t *testing.T) {
	_, authz, groups, _, resources, _ := newFixture(t)
	ctx := registerUser(t, groups, "leader")
	if _, err := groups.CreateGroup(ctx, "lab", ""); err != nil {
		t.Fatalf("create group: %v", err)
	}
	r, err := resources.CreateResource(ctx, "expr", CategoryMRNA, true)
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	decisions, err := authz.AuthorizedFor(ctx, "leader", nil, []string{r.ID})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if decisions[r.ID] {
		t.Fatalf("an empty privilege list must never authorize")
	}
}

func TestGrantRequiresSameGroup(t *testing.T) {
	_, _, groups, roles, resources, grants := newFixture(t)

	leaderA := registerUser(t, groups, "leader-a")
	if _, err := groups.CreateGroup(leaderA, "lab-a", ""); err != nil {
		t.Fatalf("create group a: %v", err)
	}
	rA, err := resources.CreateResource(leaderA, "data-a", CategoryMRNA, false)
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}

	leaderB := registerUser(t, groups, "leader-b")
	if _, err := groups.CreateGroup(leaderB, "lab-b", ""); err != nil {
		t.Fatalf("create group b: %v", err)
	}
	_, grB, err := roles.CreateRole(leaderB, "b-viewer", []string{PrivViewResource})
	if err != nil {
		t.Fatalf("create role in group b: %v", err)
	}

	// Group A's leader cannot bind group B's role to group A's resource.
	if _, err := grants.AssignRole(leaderA, rA.ID, "carol", grB.ID); !errors.Is(err, ErrInconsistency) {
		t.Fatalf("cross-group grant must be ErrInconsistency, got %v", err)
	}
}

func TestAssignRoleRequiresPrivilege(t *testing.T) {
	_, _, groups, roles, resources, grants := newFixture(t)
	ctx := registerUser(t, groups, "leader")
	if _, err := groups.CreateGroup(ctx, "lab", ""); err != nil {
		t.Fatalf("create group: %v", err)
	}
	r, err := resources.CreateResource(ctx, "expr", CategoryMRNA, false)
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	_, gr, err := roles.CreateRole(ctx, "viewer", []string{PrivViewResource})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}

	// A viewer cannot hand out grants.
	if _, err := grants.AssignRole(ctx, r.ID, "carol", gr.ID); err != nil {
		t.Fatalf("owner assign: %v", err)
	}
	if _, err := grants.AssignRole(asUser("carol"), r.ID, "dave", gr.ID); !errors.Is(err, ErrAuthorisation) {
		t.Fatalf("grantee without assign-role must be refused, got %v", err)
	}
}
