package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/revenue-ledger/audit"
	"github.com/warp/revenue-ledger/ledger"
	"github.com/warp/revenue-ledger/ledger/store"
	"github.com/warp/revenue-ledger/notify"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	svc      *ledger.Service
	store    *store.Memory
	sink     *audit.MemorySink
	recorder *notify.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, audit.Options{})
	recorder := notify.NewRecorder()
	mem := store.NewMemory()
	return &fixture{
		svc:      ledger.NewService(mem, trail, recorder),
		store:    mem,
		sink:     sink,
		recorder: recorder,
	}
}

func (f *fixture) pendingEntry(t *testing.T, party ledger.Party, amount, currency string, entryType ledger.EntryType) *ledger.LedgerEntry {
	t.Helper()
	e := &ledger.LedgerEntry{
		ProjectID: "proj-1",
		Type:      entryType,
		Party:     party,
		Amount:    d(amount),
		Currency:  currency,
		Date:      time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC),
	}
	stored, vr, err := f.svc.CreateEntry(context.Background(), e, ledger.SystemActor)
	require.NoError(t, err)
	require.True(t, vr.Valid, "fixture entry must validate: %v", vr.Errors)
	return stored
}

// =============================================================================
// ENTRY CREATION
// =============================================================================

func TestCreateEntry_Manual_ManagerAllowed(t *testing.T) {
	f := newFixture(t)

	e := &ledger.LedgerEntry{
		ProjectID: "proj-1",
		Type:      ledger.EntryDebit,
		Party:     ledger.PartyTeam,
		Amount:    d("50.00"),
		Currency:  "USD",
	}
	stored, vr, err := f.svc.CreateEntry(context.Background(), e, managerActor)
	require.NoError(t, err)
	require.True(t, vr.Valid)

	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, ledger.StatusPending, stored.Status, "new entries default to pending")
	assert.Equal(t, managerActor.ID, stored.CreatedBy)
	assert.False(t, stored.Date.IsZero(), "date defaults to now")
	assert.True(t, stored.Manual())
}

func TestCreateEntry_Manual_MemberDenied(t *testing.T) {
	// GIVEN: A member without CREATE_MANUAL_ENTRIES
	// WHEN: Creating a manual entry
	// THEN: Denied, and the attempt lands on the audit trail immediately

	f := newFixture(t)

	e := &ledger.LedgerEntry{
		ProjectID: "proj-1",
		Type:      ledger.EntryCredit,
		Party:     ledger.PartyVendor,
		Amount:    d("10.00"),
		Currency:  "USD",
	}
	_, _, err := f.svc.CreateEntry(context.Background(), e, memberActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrPermissionDenied))

	events, qerr := f.sink.QueryEvents(context.Background(), audit.Filter{
		Types: []string{audit.EventUnauthorized},
	})
	require.NoError(t, qerr)
	require.Len(t, events, 1, "denial is persisted synchronously, not buffered")
	assert.Equal(t, memberActor.ID, events[0].UserID)
}

func TestCreateEntry_Manual_ManagerCannotReachVendor(t *testing.T) {
	f := newFixture(t)

	e := &ledger.LedgerEntry{
		ProjectID: "proj-1",
		Type:      ledger.EntryCredit,
		Party:     ledger.PartyVendor,
		Amount:    d("10.00"),
		Currency:  "USD",
	}
	_, _, err := f.svc.CreateEntry(context.Background(), e, managerActor)
	require.Error(t, err)

	var perr *ledger.PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []ledger.Party{ledger.PartyVendor}, perr.Parties)
}

func TestCreateEntry_InvalidInput_ReturnsResultNotError(t *testing.T) {
	f := newFixture(t)

	bad := &ledger.LedgerEntry{
		ProjectID: "proj-1",
		Type:      "transfer",
		Party:     ledger.PartyTeam,
		Amount:    d("-5"),
		Currency:  "USD",
	}
	stored, vr, err := f.svc.CreateEntry(context.Background(), bad, ledger.SystemActor)
	assert.NoError(t, err, "validation failure is a value, not an error")
	assert.False(t, vr.Valid)
	assert.Nil(t, stored)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestQueryEntries_FiltersAndNarrowing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pendingEntry(t, ledger.PartyAdmin, "10.00", "USD", ledger.EntryCredit)
	f.pendingEntry(t, ledger.PartyTeam, "20.00", "USD", ledger.EntryCredit)
	f.pendingEntry(t, ledger.PartyVendor, "30.00", "USD", ledger.EntryCredit)
	f.pendingEntry(t, ledger.PartyTeam, "5.00", "EUR", ledger.EntryDebit)

	// Admin sees everything
	all, err := f.svc.QueryEntries(ctx, ledger.EntryQuery{}, adminActor)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	// Currency filter
	usd := "USD"
	got, err := f.svc.QueryEntries(ctx, ledger.EntryQuery{
		EntryFilter: ledger.EntryFilter{Currency: &usd},
	}, adminActor)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// Member results narrow to the member's own party
	got, err = f.svc.QueryEntries(ctx, ledger.EntryQuery{}, memberActor)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ledger.PartyVendor, got[0].Party)

	// Date range excludes everything before it
	from := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	got, err = f.svc.QueryEntries(ctx, ledger.EntryQuery{DateFrom: &from}, adminActor)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func TestUpdateStatus_PendingToCleared(t *testing.T) {
	f := newFixture(t)
	e := f.pendingEntry(t, ledger.PartyTeam, "100.00", "USD", ledger.EntryCredit)

	updated, err := f.svc.UpdateStatus(context.Background(), e.ID, ledger.StatusCleared, managerActor)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCleared, updated.Status)

	// Cleared is terminal
	_, err = f.svc.UpdateStatus(context.Background(), e.ID, ledger.StatusCleared, managerActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInvalidStatusTransition))
}

func TestUpdateStatus_ClearedToPending_Rejected(t *testing.T) {
	f := newFixture(t)
	e := f.pendingEntry(t, ledger.PartyTeam, "100.00", "USD", ledger.EntryCredit)

	_, err := f.svc.UpdateStatus(context.Background(), e.ID, ledger.StatusCleared, managerActor)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(context.Background(), e.ID, ledger.StatusPending, managerActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInvalidStatusTransition))
}

func TestUpdateStatus_MemberDenied(t *testing.T) {
	f := newFixture(t)
	e := f.pendingEntry(t, ledger.PartyVendor, "100.00", "USD", ledger.EntryCredit)

	_, err := f.svc.UpdateStatus(context.Background(), e.ID, ledger.StatusCleared, memberActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrPermissionDenied))
}

func TestUpdateStatus_UnknownEntry(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpdateStatus(context.Background(), "ent_missing", ledger.StatusCleared, adminActor)
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// BALANCES
// =============================================================================

func TestComputeBalance_MixedEntries(t *testing.T) {
	// GIVEN: Team credits and debits in both statuses
	// WHEN: Computing the team USD balance
	// THEN: Pending and cleared totals are signed sums, net is their sum

	f := newFixture(t)
	ctx := context.Background()

	f.pendingEntry(t, ledger.PartyTeam, "100.00", "USD", ledger.EntryCredit)
	f.pendingEntry(t, ledger.PartyTeam, "30.00", "USD", ledger.EntryDebit)
	cleared := f.pendingEntry(t, ledger.PartyTeam, "50.00", "USD", ledger.EntryCredit)
	_, err := f.svc.UpdateStatus(ctx, cleared.ID, ledger.StatusCleared, adminActor)
	require.NoError(t, err)

	// Other party and currency must not leak in
	f.pendingEntry(t, ledger.PartyAdmin, "999.00", "USD", ledger.EntryCredit)
	f.pendingEntry(t, ledger.PartyTeam, "999.00", "EUR", ledger.EntryCredit)

	b, err := f.svc.ComputeBalance(ctx, ledger.PartyTeam, "USD", adminActor)
	require.NoError(t, err)

	assert.True(t, b.TotalPending.Equal(d("70.00")), "pending: %s", b.TotalPending)
	assert.True(t, b.TotalCleared.Equal(d("50.00")), "cleared: %s", b.TotalCleared)
	assert.True(t, b.NetBalance.Equal(d("120.00")), "net: %s", b.NetBalance)
}

func TestComputeBalance_NoEntries_IsZero(t *testing.T) {
	f := newFixture(t)

	b, err := f.svc.ComputeBalance(context.Background(), ledger.PartyVendor, "USD", adminActor)
	require.NoError(t, err)
	assert.True(t, b.TotalPending.IsZero())
	assert.True(t, b.TotalCleared.IsZero())
	assert.True(t, b.NetBalance.IsZero())
}

func TestComputeBalance_MemberCannotReadOtherParty(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ComputeBalance(context.Background(), ledger.PartyAdmin, "USD", memberActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrPermissionDenied))

	// Own party is fine
	_, err = f.svc.ComputeBalance(context.Background(), ledger.PartyVendor, "USD", memberActor)
	assert.NoError(t, err)
}

func TestComputeBalance_UnsupportedCurrency(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ComputeBalance(context.Background(), ledger.PartyTeam, "XYZ", adminActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrBalanceCalculation))
}

// =============================================================================
// PROJECT SUMMARY
// =============================================================================

func TestProjectLedgerSummary_GroupsByPartyAndCurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pendingEntry(t, ledger.PartyTeam, "100.00", "USD", ledger.EntryCredit)
	f.pendingEntry(t, ledger.PartyTeam, "40.00", "USD", ledger.EntryDebit)
	f.pendingEntry(t, ledger.PartyTeam, "10.00", "EUR", ledger.EntryCredit)
	f.pendingEntry(t, ledger.PartyAdmin, "60.00", "USD", ledger.EntryCredit)

	groups, err := f.svc.ProjectLedgerSummary(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, groups, 3, "one group per (party, currency)")

	var teamUSD *ledger.SummaryGroup
	for i := range groups {
		if groups[i].Party == ledger.PartyTeam && groups[i].Currency == "USD" {
			teamUSD = &groups[i]
		}
	}
	require.NotNil(t, teamUSD)
	assert.Equal(t, 2, teamUSD.EntryCount)
	assert.True(t, teamUSD.TotalCredits.Equal(d("100.00")))
	assert.True(t, teamUSD.TotalDebits.Equal(d("40.00")))
	assert.True(t, teamUSD.NetBalance.Equal(d("60.00")))
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func TestCreateSettlement_ClearsEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e1 := f.pendingEntry(t, ledger.PartyTeam, "100.00", "USD", ledger.EntryCredit)
	e2 := f.pendingEntry(t, ledger.PartyTeam, "30.00", "USD", ledger.EntryDebit)

	stl, vr, err := f.svc.CreateSettlement(ctx, ledger.SettlementInput{
		Party:          ledger.PartyTeam,
		LedgerEntryIDs: []string{e1.ID, e2.ID},
		Currency:       "USD",
		SettlementDate: time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC),
	}, managerActor)
	require.NoError(t, err)
	require.True(t, vr.Valid)

	assert.True(t, stl.TotalAmount.Equal(d("70.00")), "signed total: %s", stl.TotalAmount)
	assert.Equal(t, managerActor.ID, stl.CreatedBy)

	for _, id := range []string{e1.ID, e2.ID} {
		e, gerr := f.store.GetEntry(ctx, id)
		require.NoError(t, gerr)
		assert.Equal(t, ledger.StatusCleared, e.Status)
		assert.Equal(t, stl.ID, e.SettlementID)
	}

	// Settlement notification goes out asynchronously
	assert.Eventually(t, func() bool {
		for _, n := range f.recorder.Sent() {
			if n.Kind == notify.KindSettlementCreated {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestCreateSettlement_NonPendingEntry_NoMutation(t *testing.T) {
	// GIVEN: One pending and one already-cleared entry
	// WHEN: Settling both together
	// THEN: Rejected with a SettlementError, and the pending entry is untouched

	f := newFixture(t)
	ctx := context.Background()

	pending := f.pendingEntry(t, ledger.PartyTeam, "100.00", "USD", ledger.EntryCredit)
	done := f.pendingEntry(t, ledger.PartyTeam, "50.00", "USD", ledger.EntryCredit)
	_, err := f.svc.UpdateStatus(ctx, done.ID, ledger.StatusCleared, adminActor)
	require.NoError(t, err)

	_, _, err = f.svc.CreateSettlement(ctx, ledger.SettlementInput{
		Party:          ledger.PartyTeam,
		LedgerEntryIDs: []string{pending.ID, done.ID},
		Currency:       "USD",
		SettlementDate: time.Now(),
	}, managerActor)
	require.Error(t, err)

	var serr *ledger.SettlementError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, done.ID, serr.EntryID)

	// No settlement was persisted, the pending entry stayed pending
	settlements, qerr := f.store.QuerySettlements(ctx, ledger.SettlementFilter{})
	require.NoError(t, qerr)
	assert.Empty(t, settlements)

	e, gerr := f.store.GetEntry(ctx, pending.ID)
	require.NoError(t, gerr)
	assert.Equal(t, ledger.StatusPending, e.Status)
}

func TestCreateSettlement_PartyMismatch(t *testing.T) {
	f := newFixture(t)
	e := f.pendingEntry(t, ledger.PartyAdmin, "100.00", "USD", ledger.EntryCredit)

	_, _, err := f.svc.CreateSettlement(context.Background(), ledger.SettlementInput{
		Party:          ledger.PartyTeam,
		LedgerEntryIDs: []string{e.ID},
		Currency:       "USD",
		SettlementDate: time.Now(),
	}, adminActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrSettlement))
}

func TestCreateSettlement_CurrencyMismatch(t *testing.T) {
	f := newFixture(t)
	e := f.pendingEntry(t, ledger.PartyTeam, "100.00", "EUR", ledger.EntryCredit)

	_, _, err := f.svc.CreateSettlement(context.Background(), ledger.SettlementInput{
		Party:          ledger.PartyTeam,
		LedgerEntryIDs: []string{e.ID},
		Currency:       "USD",
		SettlementDate: time.Now(),
	}, adminActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrSettlement))
}

func TestCreateSettlement_ManagerCannotSettleVendor(t *testing.T) {
	f := newFixture(t)
	e := f.pendingEntry(t, ledger.PartyVendor, "100.00", "USD", ledger.EntryCredit)

	_, _, err := f.svc.CreateSettlement(context.Background(), ledger.SettlementInput{
		Party:          ledger.PartyVendor,
		LedgerEntryIDs: []string{e.ID},
		Currency:       "USD",
		SettlementDate: time.Now(),
	}, managerActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrPermissionDenied))
}

func TestReconcileSettlements_FinishesHalfAppliedClear(t *testing.T) {
	// GIVEN: A settlement whose entry was never cleared (simulated crash
	//        between the settlement write and the entry patch)
	// WHEN: Running reconciliation
	// THEN: The entry is cleared and linked, and the repair is counted

	f := newFixture(t)
	ctx := context.Background()

	e := f.pendingEntry(t, ledger.PartyTeam, "100.00", "USD", ledger.EntryCredit)
	stl, err := f.store.CreateSettlement(ctx, &ledger.Settlement{
		Party:          ledger.PartyTeam,
		LedgerEntryIDs: []string{e.ID},
		TotalAmount:    d("100.00"),
		Currency:       "USD",
		SettlementDate: time.Now(),
		CreatedBy:      adminActor.ID,
	})
	require.NoError(t, err)

	repaired, err := f.svc.ReconcileSettlements(ctx, ledger.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	got, err := f.store.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCleared, got.Status)
	assert.Equal(t, stl.ID, got.SettlementID)

	// Second pass finds nothing to do
	repaired, err = f.svc.ReconcileSettlements(ctx, ledger.SystemActor)
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

// =============================================================================
// PAYMENT REVENUE PROCESSING
// =============================================================================

func TestProcessPaymentRevenue_CreatesEntryPerShare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.store.CreatePayment(ctx, &ledger.Payment{
		ProjectID: "proj-1",
		Amount:    d("100.00"),
		Currency:  "USD",
		Verified:  true,
	})
	require.NoError(t, err)

	entries, err := f.svc.ProcessPaymentRevenue(ctx, payment, rule("40", "60", "0"))
	require.NoError(t, err)
	require.Len(t, entries, 2, "zero-percent vendor gets no entry")

	byParty := map[ledger.Party]*ledger.LedgerEntry{}
	for _, e := range entries {
		byParty[e.Party] = e
		assert.Equal(t, payment.ID, e.PaymentID)
		assert.Equal(t, ledger.EntryCredit, e.Type)
		assert.Equal(t, ledger.StatusPending, e.Status)
	}
	assert.True(t, byParty[ledger.PartyAdmin].Amount.Equal(d("40.00")))
	assert.True(t, byParty[ledger.PartyTeam].Amount.Equal(d("60.00")))
}

// =============================================================================
// REVENUE RULES
// =============================================================================

func TestCreateRule_DemotesPreviousDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := rule("40", "60", "0")
	first.ID = ""
	first.IsDefault = true
	stored1, vr, err := f.svc.CreateRule(ctx, first, adminActor)
	require.NoError(t, err)
	require.True(t, vr.Valid)

	second := rule("50", "30", "20")
	second.ID = ""
	second.Name = "Vendor-inclusive split"
	second.IsDefault = true
	stored2, vr, err := f.svc.CreateRule(ctx, second, adminActor)
	require.NoError(t, err)
	require.True(t, vr.Valid)

	def, err := f.store.ActiveDefaultRule(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored2.ID, def.ID, "only the newest default survives")

	old, err := f.store.GetRule(ctx, stored1.ID)
	require.NoError(t, err)
	assert.False(t, old.IsDefault)
	assert.True(t, old.IsActive, "demotion does not deactivate")
}

func TestCreateRule_ManagerDenied(t *testing.T) {
	f := newFixture(t)

	r := rule("40", "60", "0")
	r.ID = ""
	_, _, err := f.svc.CreateRule(context.Background(), r, managerActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrPermissionDenied))
}

func TestDeactivateRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := rule("40", "60", "0")
	r.ID = ""
	r.IsDefault = true
	stored, _, err := f.svc.CreateRule(ctx, r, adminActor)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeactivateRule(ctx, stored.ID, adminActor))

	got, err := f.store.GetRule(ctx, stored.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.False(t, got.IsDefault)

	// No active default remains
	_, err = f.store.ActiveDefaultRule(ctx)
	assert.True(t, ledger.IsNotFound(err))
}
