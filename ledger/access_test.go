package ledger_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/revenue-ledger/ledger"
)

// =============================================================================
// TEST ACTORS
// =============================================================================

var (
	adminActor   = ledger.Actor{ID: "u-admin", Role: ledger.RoleAdmin}
	managerActor = ledger.Actor{ID: "u-manager", Role: ledger.RoleManager, Party: ledger.PartyTeam}
	memberActor  = ledger.Actor{ID: "u-member", Role: ledger.RoleMember, Party: ledger.PartyVendor}
)

// =============================================================================
// PERMISSIONS
// =============================================================================

func TestGuard_RolePermissions(t *testing.T) {
	var g ledger.Guard

	// Member: the three read permissions, nothing else
	assert.True(t, g.HasPermission(memberActor, ledger.PermViewLedgerEntries))
	assert.True(t, g.HasPermission(memberActor, ledger.PermViewPartyBalances))
	assert.True(t, g.HasPermission(memberActor, ledger.PermViewSettlements))
	assert.False(t, g.HasPermission(memberActor, ledger.PermCreateManualEntries))
	assert.False(t, g.HasPermission(memberActor, ledger.PermCreateSettlements))
	assert.False(t, g.HasPermission(memberActor, ledger.PermViewAllLedgerEntries))

	// Manager: member permissions plus the write set
	assert.True(t, g.HasPermission(managerActor, ledger.PermViewLedgerEntries))
	assert.True(t, g.HasPermission(managerActor, ledger.PermCreateManualEntries))
	assert.True(t, g.HasPermission(managerActor, ledger.PermEditLedgerEntries))
	assert.True(t, g.HasPermission(managerActor, ledger.PermCreateSettlements))
	assert.False(t, g.HasPermission(managerActor, ledger.PermManageRevenueRules))
	assert.False(t, g.HasPermission(managerActor, ledger.PermRunMigrations))

	// Admin: everything
	assert.True(t, g.HasPermission(adminActor, ledger.PermViewAllLedgerEntries))
	assert.True(t, g.HasPermission(adminActor, ledger.PermViewAllPartyBalances))
	assert.True(t, g.HasPermission(adminActor, ledger.PermViewAllSettlements))
	assert.True(t, g.HasPermission(adminActor, ledger.PermManageRevenueRules))
	assert.True(t, g.HasPermission(adminActor, ledger.PermRunMigrations))
	assert.True(t, g.HasPermission(adminActor, ledger.PermViewAuditReports))
	assert.True(t, g.HasPermission(adminActor, ledger.PermCreateSettlements))
}

func TestGuard_ExplicitGrants_ExtendRoleSet(t *testing.T) {
	// GIVEN: A member with an explicit CREATE_SETTLEMENTS grant
	// WHEN: Checking permissions
	// THEN: The grant adds to the role set; it never shrinks it

	var g ledger.Guard
	granted := ledger.Actor{
		ID:          "u-granted",
		Role:        ledger.RoleMember,
		Party:       ledger.PartyTeam,
		Permissions: []ledger.Permission{ledger.PermCreateSettlements},
	}

	assert.True(t, g.HasPermission(granted, ledger.PermCreateSettlements))
	assert.True(t, g.HasPermission(granted, ledger.PermViewLedgerEntries), "role permissions remain")
}

// =============================================================================
// PARTY REACHABILITY
// =============================================================================

func TestGuard_AccessibleParties(t *testing.T) {
	var g ledger.Guard

	assert.ElementsMatch(t,
		[]ledger.Party{ledger.PartyAdmin, ledger.PartyTeam, ledger.PartyVendor},
		g.AccessibleParties(adminActor))

	assert.ElementsMatch(t,
		[]ledger.Party{ledger.PartyAdmin, ledger.PartyTeam},
		g.AccessibleParties(managerActor))

	assert.Equal(t, []ledger.Party{ledger.PartyVendor}, g.AccessibleParties(memberActor))

	// Member with no recorded party defaults to team
	anon := ledger.Actor{ID: "u-anon", Role: ledger.RoleMember}
	assert.Equal(t, []ledger.Party{ledger.PartyTeam}, g.AccessibleParties(anon))
}

func TestGuard_CanPerformSettlement(t *testing.T) {
	var g ledger.Guard

	assert.True(t, g.CanPerformSettlement(adminActor, ledger.PartyVendor))
	assert.True(t, g.CanPerformSettlement(managerActor, ledger.PartyTeam))
	assert.False(t, g.CanPerformSettlement(managerActor, ledger.PartyVendor), "vendor is out of a manager's reach")
	assert.False(t, g.CanPerformSettlement(memberActor, ledger.PartyVendor), "member lacks the permission even for its own party")
}

func TestGuard_ValidateSettlementPermissions_NamesBlockedParties(t *testing.T) {
	// GIVEN: A manager and entries spanning team and vendor
	// WHEN: Validating settlement permissions
	// THEN: The error names exactly the unreachable party

	var g ledger.Guard
	entries := []*ledger.LedgerEntry{
		{ID: "e1", Party: ledger.PartyTeam},
		{ID: "e2", Party: ledger.PartyVendor},
		{ID: "e3", Party: ledger.PartyVendor},
	}

	err := g.ValidateSettlementPermissions(managerActor, entries)
	require.Error(t, err)

	var perr *ledger.PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, managerActor.ID, perr.ActorID)
	assert.Equal(t, []ledger.Party{ledger.PartyVendor}, perr.Parties, "blocked parties deduplicated")
	assert.True(t, errors.Is(err, ledger.ErrPermissionDenied))

	// Admin reaches everything
	assert.NoError(t, g.ValidateSettlementPermissions(adminActor, entries))

	// Member fails on the permission itself before party checks
	err = g.ValidateSettlementPermissions(memberActor, entries)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ledger.PermCreateSettlements, perr.Permission)
}

// =============================================================================
// RESULT FILTERING
// =============================================================================

func TestGuard_FilterEntries(t *testing.T) {
	var g ledger.Guard
	entries := []*ledger.LedgerEntry{
		{ID: "e1", Party: ledger.PartyAdmin},
		{ID: "e2", Party: ledger.PartyTeam},
		{ID: "e3", Party: ledger.PartyVendor},
	}

	assert.Len(t, g.FilterEntries(adminActor, entries), 3)
	assert.Len(t, g.FilterEntries(managerActor, entries), 2)

	got := g.FilterEntries(memberActor, entries)
	require.Len(t, got, 1)
	assert.Equal(t, "e3", got[0].ID)
}

func TestGuard_FilterSettlements(t *testing.T) {
	var g ledger.Guard
	settlements := []*ledger.Settlement{
		{ID: "s1", Party: ledger.PartyAdmin},
		{ID: "s2", Party: ledger.PartyTeam},
		{ID: "s3", Party: ledger.PartyVendor},
	}

	assert.Len(t, g.FilterSettlements(adminActor, settlements), 3)
	assert.Len(t, g.FilterSettlements(managerActor, settlements), 2)
	assert.Len(t, g.FilterSettlements(memberActor, settlements), 1)
}
