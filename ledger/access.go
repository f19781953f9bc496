/*
access.go - Role and party based access control

PURPOSE:
  Maps a closed Role enum onto permission sets and decides which parties an
  actor can reach. Every guarded ledger operation asks this file two
  questions: does the actor hold the permission, and can the actor reach the
  party involved.

ROLE HIERARCHY:
  admin   everything, all three parties
  manager member permissions + write operations, parties {admin, team}
  member  the three VIEW_* read permissions, its own party only

All checks are pure functions of (actor, input); the guard holds no state.
Explicit per-actor permission grants extend the role set, never shrink it.
*/
package ledger

// =============================================================================
// ROLES AND PERMISSIONS
// =============================================================================

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

type Permission string

const (
	PermViewLedgerEntries    Permission = "VIEW_LEDGER_ENTRIES"
	PermViewPartyBalances    Permission = "VIEW_PARTY_BALANCES"
	PermViewSettlements      Permission = "VIEW_SETTLEMENTS"
	PermViewAllLedgerEntries Permission = "VIEW_ALL_LEDGER_ENTRIES"
	PermViewAllPartyBalances Permission = "VIEW_ALL_PARTY_BALANCES"
	PermViewAllSettlements   Permission = "VIEW_ALL_SETTLEMENTS"
	PermCreateManualEntries  Permission = "CREATE_MANUAL_ENTRIES"
	PermEditLedgerEntries    Permission = "EDIT_LEDGER_ENTRIES"
	PermCreateSettlements    Permission = "CREATE_SETTLEMENTS"
	PermManageRevenueRules   Permission = "MANAGE_REVENUE_RULES"
	PermRunMigrations        Permission = "RUN_MIGRATIONS"
	PermViewAuditReports     Permission = "VIEW_AUDIT_REPORTS"
)

// memberPermissions is the floor: read-only access to what the member's own
// party can see.
var memberPermissions = []Permission{
	PermViewLedgerEntries,
	PermViewPartyBalances,
	PermViewSettlements,
}

var managerPermissions = append([]Permission{
	PermCreateManualEntries,
	PermEditLedgerEntries,
	PermCreateSettlements,
}, memberPermissions...)

var adminPermissions = append([]Permission{
	PermViewAllLedgerEntries,
	PermViewAllPartyBalances,
	PermViewAllSettlements,
	PermManageRevenueRules,
	PermRunMigrations,
	PermViewAuditReports,
}, managerPermissions...)

var rolePermissions = map[Role][]Permission{
	RoleAdmin:   adminPermissions,
	RoleManager: managerPermissions,
	RoleMember:  memberPermissions,
}

// =============================================================================
// ACTOR - supplied by the identity collaborator, consumed here
// =============================================================================

// Actor is who is performing an operation. Party may be empty for actors not
// attached to a revenue party. Permissions are explicit grants on top of the
// role set.
type Actor struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Party       Party        `json:"party,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// SystemActor performs trusted system-originated mutations (payment
// processing, migration backfill). Permission checks do not apply to it.
var SystemActor = Actor{ID: "system", Role: RoleAdmin}

// =============================================================================
// GUARD
// =============================================================================

// Guard answers permission and party-reachability questions. Stateless; the
// zero value is ready to use.
type Guard struct{}

// HasPermission reports whether the permission is in the actor's role set or
// among its explicit grants.
func (Guard) HasPermission(actor Actor, perm Permission) bool {
	for _, p := range rolePermissions[actor.Role] {
		if p == perm {
			return true
		}
	}
	for _, p := range actor.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// AccessibleParties returns the parties the actor can reach:
// admin all three, manager {admin, team}, member its own party
// (team when the actor has none recorded).
func (Guard) AccessibleParties(actor Actor) []Party {
	switch actor.Role {
	case RoleAdmin:
		return AllParties()
	case RoleManager:
		return []Party{PartyAdmin, PartyTeam}
	default:
		if ValidParty(actor.Party) {
			return []Party{actor.Party}
		}
		return []Party{PartyTeam}
	}
}

// CanAccessParty reports whether party is among the actor's reachable parties.
func (g Guard) CanAccessParty(actor Actor, party Party) bool {
	for _, p := range g.AccessibleParties(actor) {
		if p == party {
			return true
		}
	}
	return false
}

// CanPerformSettlement requires both the settlement permission and access to
// the settled party.
func (g Guard) CanPerformSettlement(actor Actor, party Party) bool {
	return g.HasPermission(actor, PermCreateSettlements) && g.CanAccessParty(actor, party)
}

// ValidateSettlementPermissions returns a PermissionError naming every party
// in entries the actor cannot reach, or nil when all are reachable.
func (g Guard) ValidateSettlementPermissions(actor Actor, entries []*LedgerEntry) error {
	if !g.HasPermission(actor, PermCreateSettlements) {
		return &PermissionError{
			ActorID:    actor.ID,
			Permission: PermCreateSettlements,
			Operation:  "create settlement",
		}
	}
	seen := make(map[Party]bool)
	var blocked []Party
	for _, e := range entries {
		if seen[e.Party] {
			continue
		}
		seen[e.Party] = true
		if !g.CanAccessParty(actor, e.Party) {
			blocked = append(blocked, e.Party)
		}
	}
	if len(blocked) > 0 {
		return &PermissionError{
			ActorID:   actor.ID,
			Parties:   blocked,
			Operation: "create settlement",
		}
	}
	return nil
}

// FilterEntries narrows entries to the actor's reachable parties unless the
// actor holds VIEW_ALL_LEDGER_ENTRIES.
func (g Guard) FilterEntries(actor Actor, entries []*LedgerEntry) []*LedgerEntry {
	if g.HasPermission(actor, PermViewAllLedgerEntries) {
		return entries
	}
	out := make([]*LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if g.CanAccessParty(actor, e.Party) {
			out = append(out, e)
		}
	}
	return out
}

// FilterSettlements narrows settlements to the actor's reachable parties
// unless the actor holds VIEW_ALL_SETTLEMENTS.
func (g Guard) FilterSettlements(actor Actor, settlements []*Settlement) []*Settlement {
	if g.HasPermission(actor, PermViewAllSettlements) {
		return settlements
	}
	out := make([]*Settlement, 0, len(settlements))
	for _, s := range settlements {
		if g.CanAccessParty(actor, s.Party) {
			out = append(out, s)
		}
	}
	return out
}
