package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/revenue-ledger/ledger"
	"github.com/warp/revenue-ledger/ledger/store"
)

func entry(party ledger.Party, amount string) *ledger.LedgerEntry {
	return &ledger.LedgerEntry{
		ProjectID: "proj-1",
		Type:      ledger.EntryCredit,
		Party:     party,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "USD",
		Date:      time.Now().UTC(),
		Status:    ledger.StatusPending,
	}
}

func TestMemory_SubscribeEntries(t *testing.T) {
	// GIVEN: A subscriber on the entry collection
	// WHEN: An entry is created and later patched
	// THEN: The subscriber observes both changes; cancelling stops delivery

	m := store.NewMemory()
	ctx := context.Background()

	var seen []ledger.LedgerEntry
	cancel := m.SubscribeEntries(func(e ledger.LedgerEntry) {
		seen = append(seen, e)
	})

	created, err := m.CreateEntry(ctx, entry(ledger.PartyTeam, "10.00"))
	require.NoError(t, err)

	cleared := ledger.StatusCleared
	require.NoError(t, m.UpdateEntry(ctx, created.ID, ledger.EntryPatch{Status: &cleared}))

	require.Len(t, seen, 2)
	assert.Equal(t, ledger.StatusPending, seen[0].Status)
	assert.Equal(t, ledger.StatusCleared, seen[1].Status)

	cancel()
	_, err = m.CreateEntry(ctx, entry(ledger.PartyAdmin, "5.00"))
	require.NoError(t, err)
	assert.Len(t, seen, 2, "cancelled subscriber receives nothing")
}

func TestMemory_SubscriberCanReadBack(t *testing.T) {
	// Callbacks run outside the store lock, so a subscriber may query the
	// store without deadlocking.
	m := store.NewMemory()
	ctx := context.Background()

	var got *ledger.LedgerEntry
	m.SubscribeEntries(func(e ledger.LedgerEntry) {
		read, err := m.GetEntry(ctx, e.ID)
		if err == nil {
			got = read
		}
	})

	created, err := m.CreateEntry(ctx, entry(ledger.PartyTeam, "10.00"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
}

func TestMemory_CopiesInAndOut(t *testing.T) {
	// GIVEN: An entry stored and read back
	// WHEN: The caller mutates either its input or the returned copy
	// THEN: The stored record is unaffected

	m := store.NewMemory()
	ctx := context.Background()

	in := entry(ledger.PartyTeam, "10.00")
	created, err := m.CreateEntry(ctx, in)
	require.NoError(t, err)

	in.Remarks = "mutated after store"
	created.Remarks = "mutated copy"

	got, err := m.GetEntry(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Remarks)
}
