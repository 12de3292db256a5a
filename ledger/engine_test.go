package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steelworks/stock-engine/ledger"
	"github.com/steelworks/stock-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newTestEngine returns an engine over a fresh memory store with a
// deterministic clock (one second per tick) and sequential ids, plus two
// seeded materials.
func newTestEngine(t *testing.T) (*ledger.Engine, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	mem.SeedMaterial(&ledger.Material{
		Name:         "A16GA",
		Category:     "Aluminum",
		Gauge:        "16GA",
		Density:      decimal.RequireFromString("0.098"),
		Thickness:    decimal.RequireFromString("0.0508"),
		CostPerPound: decimal.RequireFromString("2.15"),
	})
	mem.SeedMaterial(&ledger.Material{
		Name:         "S20GA",
		Category:     "Stainless",
		Gauge:        "20GA",
		Density:      decimal.RequireFromString("0.289"),
		Thickness:    decimal.RequireFromString("0.0355"),
		CostPerPound: decimal.RequireFromString("3.40"),
	})

	engine := ledger.NewEngine(mem)

	tick := 0
	engine.Now = func() time.Time {
		tick++
		return time.Date(2025, time.June, 1, 8, 0, tick, 0, time.UTC)
	}
	seq := 0
	engine.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	return engine, mem
}

// seedOnHand inserts n on-hand sheets at the key directly into the store,
// with ascending lot timestamps starting at base.
func seedOnHand(t *testing.T, mem *store.Memory, material string, length, n int, base time.Time) []string {
	t.Helper()

	var ids []string
	err := mem.RunTransaction(context.Background(), func(tx ledger.Tx) error {
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("seed-%s-%d-%d", material, length, i)
			ids = append(ids, id)
			if err := tx.PutUnit(&ledger.InventoryUnit{
				ID:           id,
				MaterialType: material,
				Length:       length,
				Width:        ledger.StandardWidth,
				Status:       ledger.StatusOnHand,
				CreatedAt:    base.Add(time.Duration(i) * time.Hour),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func onHandCount(t *testing.T, mem *store.Memory, material string, length int) int {
	t.Helper()
	units, err := mem.UnitsWhere(context.Background(), ledger.UnitPredicate{
		MaterialType: material, Length: length, Status: ledger.StatusOnHand,
	})
	require.NoError(t, err)
	return len(units)
}

func usedCount(t *testing.T, mem *store.Memory, material string, length int) int {
	t.Helper()
	units, err := mem.UnitsWhere(context.Background(), ledger.UnitPredicate{
		MaterialType: material, Length: length, Status: ledger.StatusUsed,
	})
	require.NoError(t, err)
	return len(units)
}

func useJob(material string, quantities map[int]int) ledger.JobRequest {
	return ledger.JobRequest{
		Customer: "ACME HVAC",
		JobName:  "Rooftop Unit 4",
		Items:    []ledger.LineItem{{MaterialType: material, Quantities: quantities}},
	}
}

// =============================================================================
// USE STOCK - immediate path
// =============================================================================

func TestUseStock_Immediate_ConsumesOldestFirst(t *testing.T) {
	// GIVEN: Three on-hand A16GA@96 sheets with ascending lot timestamps
	// WHEN: Using two immediately
	// THEN: The two oldest are marked used with back-references to a
	//       completed record holding their snapshots

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	ids := seedOnHand(t, mem, "A16GA", 96, 3, day(1))

	records, err := engine.UseStock(ctx, []ledger.JobRequest{useJob("A16GA", map[int]int{96: 2})}, ledger.UseOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, ledger.RecordCompleted, record.Status)
	assert.Equal(t, -2, record.Qty)
	require.Len(t, record.Details, 2)
	assert.Equal(t, ids[0], record.Details[0].UnitID)
	assert.Equal(t, ids[1], record.Details[1].UnitID)

	for _, id := range ids[:2] {
		u, err := mem.Unit(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusUsed, u.Status)
		assert.Equal(t, record.ID, u.UsageLogID)
		assert.Equal(t, "Rooftop Unit 4", u.JobNameUsed)
		assert.Equal(t, "ACME HVAC", u.CustomerUsed)
		assert.NotNil(t, u.UsedAt)
	}

	newest, err := mem.Unit(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOnHand, newest.Status)
}

func TestUseStock_AllOrNothing_ShortfallLeavesStockUntouched(t *testing.T) {
	// GIVEN: 3 on-hand A16GA@96 sheets
	// WHEN: Requesting 4
	// THEN: All 3 stay on hand, no record is created, and the error
	//       carries requested=4, available=3

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 3, day(1))

	_, err := engine.UseStock(ctx, []ledger.JobRequest{useJob("A16GA", map[int]int{96: 4})}, ledger.UseOptions{})
	require.Error(t, err)

	var short *ledger.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 4, short.Requested)
	assert.Equal(t, 3, short.Available)

	assert.Equal(t, 3, onHandCount(t, mem, "A16GA", 96))
	assert.Equal(t, 0, usedCount(t, mem, "A16GA", 96))
	records, err := mem.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUseStock_BatchAtomicity_OneShortJobAbortsAll(t *testing.T) {
	// GIVEN: Enough stock for job 1 but not job 2
	// WHEN: Using both in one batch
	// THEN: Neither job succeeds; job 1's would-be consumption is rolled back

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 2, day(1))
	seedOnHand(t, mem, "S20GA", 120, 1, day(1))

	jobs := []ledger.JobRequest{
		useJob("A16GA", map[int]int{96: 2}),
		useJob("S20GA", map[int]int{120: 3}),
	}
	_, err := engine.UseStock(ctx, jobs, ledger.UseOptions{})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	assert.Equal(t, 2, onHandCount(t, mem, "A16GA", 96))
	assert.Equal(t, 1, onHandCount(t, mem, "S20GA", 120))
	records, err := mem.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUseStock_MissingCustomer_RejectedBeforeStore(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedOnHand(t, mem, "A16GA", 96, 1, day(1))

	job := useJob("A16GA", map[int]int{96: 1})
	job.Customer = ""

	_, err := engine.UseStock(context.Background(), []ledger.JobRequest{job}, ledger.UseOptions{})
	require.Error(t, err)
	assert.True(t, ledger.IsClientError(err))
	assert.Equal(t, 1, onHandCount(t, mem, "A16GA", 96))
}

// =============================================================================
// USE STOCK - scheduled path
// =============================================================================

func TestUseStock_Scheduled_PureIntentLog(t *testing.T) {
	// GIVEN: Only 1 on-hand sheet
	// WHEN: Scheduling use of 5 (more than exists)
	// THEN: The record is written anyway - a scheduled record reserves
	//       nothing physically and touches no unit

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 1, day(1))

	when := day(20)
	records, err := engine.UseStock(ctx,
		[]ledger.JobRequest{useJob("A16GA", map[int]int{96: 5})},
		ledger.UseOptions{Scheduled: true, ScheduledDate: when})
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, ledger.RecordScheduled, record.Status)
	assert.Equal(t, when, record.UsedAt)
	assert.Equal(t, -5, record.Qty)
	require.Len(t, record.Details, 5)
	for _, d := range record.Details {
		assert.Empty(t, d.UnitID, "scheduled details are synthetic")
		assert.Equal(t, "16GA", d.Gauge)
	}

	assert.Equal(t, 1, onHandCount(t, mem, "A16GA", 96))
	assert.Equal(t, 0, usedCount(t, mem, "A16GA", 96))
}

func TestUseStock_Scheduled_RequiresDate(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.UseStock(context.Background(),
		[]ledger.JobRequest{useJob("A16GA", map[int]int{96: 1})},
		ledger.UseOptions{Scheduled: true})
	assert.True(t, ledger.IsClientError(err))
}

// =============================================================================
// FULFILLMENT
// =============================================================================

func TestFulfillScheduledLog_AllocatesRealUnits(t *testing.T) {
	// GIVEN: A scheduled record for 2 A16GA@96 and 3 on-hand sheets
	// WHEN: Fulfilling it
	// THEN: The two oldest sheets are consumed, the record turns completed
	//       with real snapshots and a fulfillment stamp

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	ids := seedOnHand(t, mem, "A16GA", 96, 3, day(1))

	records, err := engine.UseStock(ctx,
		[]ledger.JobRequest{useJob("A16GA", map[int]int{96: 2})},
		ledger.UseOptions{Scheduled: true, ScheduledDate: day(20)})
	require.NoError(t, err)

	fulfilled, err := engine.FulfillScheduledLog(ctx, records[0].ID)
	require.NoError(t, err)

	assert.Equal(t, ledger.RecordCompleted, fulfilled.Status)
	require.NotNil(t, fulfilled.FulfilledAt)
	assert.Equal(t, -2, fulfilled.Qty)
	require.Len(t, fulfilled.Details, 2)
	assert.Equal(t, ids[0], fulfilled.Details[0].UnitID)
	assert.Equal(t, ids[1], fulfilled.Details[1].UnitID)

	assert.Equal(t, 1, onHandCount(t, mem, "A16GA", 96))
	assert.Equal(t, 2, usedCount(t, mem, "A16GA", 96))
}

func TestFulfillScheduledLog_Shortfall_LeavesRecordScheduled(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 1, day(1))

	records, err := engine.UseStock(ctx,
		[]ledger.JobRequest{useJob("A16GA", map[int]int{96: 3})},
		ledger.UseOptions{Scheduled: true, ScheduledDate: day(20)})
	require.NoError(t, err)

	_, err = engine.FulfillScheduledLog(ctx, records[0].ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	reloaded, err := mem.Record(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RecordScheduled, reloaded.Status)
	assert.Nil(t, reloaded.FulfilledAt)
	assert.Equal(t, 1, onHandCount(t, mem, "A16GA", 96))
}

func TestFulfillScheduledLog_CompletedRecord_Rejected(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 1, day(1))

	records, err := engine.UseStock(ctx, []ledger.JobRequest{useJob("A16GA", map[int]int{96: 1})}, ledger.UseOptions{})
	require.NoError(t, err)

	_, err = engine.FulfillScheduledLog(ctx, records[0].ID)
	assert.True(t, ledger.IsClientError(err))
}

// =============================================================================
// EDIT OUTGOING LOG
// =============================================================================

func TestEditOutgoingLog_Scheduled_MetadataRewriteOnly(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 2, day(1))

	records, err := engine.UseStock(ctx,
		[]ledger.JobRequest{useJob("A16GA", map[int]int{96: 2})},
		ledger.UseOptions{Scheduled: true, ScheduledDate: day(20)})
	require.NoError(t, err)

	edited, err := engine.EditOutgoingLog(ctx, records[0].ID, ledger.RecordEdit{
		Job:      "Ductwork Phase 2",
		Customer: "ACME HVAC",
		UsedAt:   day(25),
		Items:    []ledger.LineItem{{MaterialType: "A16GA", Quantities: map[int]int{96: 4}}},
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.RecordScheduled, edited.Status)
	assert.Equal(t, "Ductwork Phase 2", edited.Job)
	assert.Equal(t, -4, edited.Qty)
	require.Len(t, edited.Details, 4)
	for _, d := range edited.Details {
		assert.Empty(t, d.UnitID)
	}

	// No unit was touched.
	assert.Equal(t, 2, onHandCount(t, mem, "A16GA", 96))
	assert.Equal(t, 0, usedCount(t, mem, "A16GA", 96))
}

func TestEditOutgoingLog_Shrink_ConservesUnits(t *testing.T) {
	// GIVEN: A completed record that consumed 2 A16GA@96 sheets, and zero
	//        other on-hand sheets at that key
	// WHEN: Editing it down to 1
	// THEN: Exactly 1 sheet is used (referencing the record) and exactly 1
	//       is back on hand with cleared back-references; the key's total
	//       population is conserved

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 2, day(1))

	records, err := engine.UseStock(ctx, []ledger.JobRequest{useJob("A16GA", map[int]int{96: 2})}, ledger.UseOptions{})
	require.NoError(t, err)
	recordID := records[0].ID

	edited, err := engine.EditOutgoingLog(ctx, recordID, ledger.RecordEdit{
		Job:      "Rooftop Unit 4",
		Customer: "ACME HVAC",
		UsedAt:   day(10),
		Items:    []ledger.LineItem{{MaterialType: "A16GA", Quantities: map[int]int{96: 1}}},
	})
	require.NoError(t, err)
	assert.Equal(t, -1, edited.Qty)
	require.Len(t, edited.Details, 1)

	assert.Equal(t, 1, usedCount(t, mem, "A16GA", 96))
	assert.Equal(t, 1, onHandCount(t, mem, "A16GA", 96))

	used, err := mem.UnitsWhere(ctx, ledger.UnitPredicate{Status: ledger.StatusUsed})
	require.NoError(t, err)
	require.Len(t, used, 1)
	assert.Equal(t, recordID, used[0].UsageLogID)
	// The oldest lot stays consumed.
	assert.Equal(t, "seed-A16GA-96-0", used[0].ID)

	returned, err := mem.UnitsWhere(ctx, ledger.UnitPredicate{Status: ledger.StatusOnHand})
	require.NoError(t, err)
	require.Len(t, returned, 1)
	assert.Empty(t, returned[0].UsageLogID)
	assert.Empty(t, returned[0].JobNameUsed)
	assert.Empty(t, returned[0].CustomerUsed)
	assert.Nil(t, returned[0].UsedAt)
}

func TestEditOutgoingLog_Grow_DrawsFromOnHand(t *testing.T) {
	// GIVEN: A completed record for 2 sheets and 2 more on hand
	// WHEN: Editing it up to 4
	// THEN: All 4 are used, all referencing the record

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 4, day(1))

	records, err := engine.UseStock(ctx, []ledger.JobRequest{useJob("A16GA", map[int]int{96: 2})}, ledger.UseOptions{})
	require.NoError(t, err)

	edited, err := engine.EditOutgoingLog(ctx, records[0].ID, ledger.RecordEdit{
		Job:      "Rooftop Unit 4",
		Customer: "ACME HVAC",
		UsedAt:   day(10),
		Items:    []ledger.LineItem{{MaterialType: "A16GA", Quantities: map[int]int{96: 4}}},
	})
	require.NoError(t, err)
	assert.Equal(t, -4, edited.Qty)

	assert.Equal(t, 4, usedCount(t, mem, "A16GA", 96))
	assert.Equal(t, 0, onHandCount(t, mem, "A16GA", 96))
	for _, d := range edited.Details {
		u, err := mem.Unit(ctx, d.UnitID)
		require.NoError(t, err)
		assert.Equal(t, records[0].ID, u.UsageLogID)
	}
}

func TestEditOutgoingLog_Grow_PrecheckShortfall_NothingMutated(t *testing.T) {
	// GIVEN: A completed record for 2 sheets and only 1 more on hand
	// WHEN: Editing it up to 4 (needs 2 extra)
	// THEN: Plain shortfall before anything mutates; record and units
	//       are untouched

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 3, day(1))

	records, err := engine.UseStock(ctx, []ledger.JobRequest{useJob("A16GA", map[int]int{96: 2})}, ledger.UseOptions{})
	require.NoError(t, err)

	_, err = engine.EditOutgoingLog(ctx, records[0].ID, ledger.RecordEdit{
		Job:      "Rooftop Unit 4",
		Customer: "ACME HVAC",
		UsedAt:   day(10),
		Items:    []ledger.LineItem{{MaterialType: "A16GA", Quantities: map[int]int{96: 4}}},
	})
	require.Error(t, err)

	var short *ledger.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 2, short.Requested, "only the extra demand is requested")
	assert.Equal(t, 1, short.Available)
	assert.False(t, errors.Is(err, ledger.ErrEditReconciliation))

	reloaded, err := mem.Record(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Len(t, reloaded.Details, 2)
	assert.Equal(t, 2, usedCount(t, mem, "A16GA", 96))
	assert.Equal(t, 1, onHandCount(t, mem, "A16GA", 96))
}

func TestEditOutgoingLog_ReconciliationFailure_RollsBackReturns(t *testing.T) {
	// GIVEN: A completed record for 2 sheets, one of which was since
	//        deleted out-of-band, and no other on-hand stock
	// WHEN: Editing the record to the same 2 sheets
	// THEN: The re-allocation comes up short after the return phase; the
	//       whole edit rolls back and is reported as a reconciliation
	//       failure, not a plain shortfall

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 2, day(1))

	records, err := engine.UseStock(ctx, []ledger.JobRequest{useJob("A16GA", map[int]int{96: 2})}, ledger.UseOptions{})
	require.NoError(t, err)
	recordID := records[0].ID

	require.NoError(t, engine.DeleteInventoryGroup(ctx, []string{records[0].Details[0].UnitID}))

	_, err = engine.EditOutgoingLog(ctx, recordID, ledger.RecordEdit{
		Job:      "Rooftop Unit 4",
		Customer: "ACME HVAC",
		UsedAt:   day(10),
		Items:    []ledger.LineItem{{MaterialType: "A16GA", Quantities: map[int]int{96: 2}}},
	})
	require.Error(t, err)

	var editErr *ledger.EditReconciliationError
	require.ErrorAs(t, err, &editErr)
	assert.Equal(t, recordID, editErr.RecordID)
	require.NotNil(t, editErr.Cause)
	assert.Equal(t, 1, editErr.Cause.Requested)
	assert.Equal(t, 0, editErr.Cause.Available)

	// The surviving sheet's return was rolled back with everything else.
	survivor, err := mem.Unit(ctx, records[0].Details[1].UnitID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusUsed, survivor.Status)
	assert.Equal(t, recordID, survivor.UsageLogID)

	reloaded, err := mem.Record(ctx, recordID)
	require.NoError(t, err)
	assert.Len(t, reloaded.Details, 2)
}

func TestEditOutgoingLog_ChangeKey_ReturnsOldConsumesNew(t *testing.T) {
	// GIVEN: A completed record for 2 A16GA@96 sheets and 1 on-hand S20GA@120
	// WHEN: Editing it to 1 S20GA@120
	// THEN: Both A16GA sheets come back on hand; the S20GA sheet is used

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 2, day(1))
	seedOnHand(t, mem, "S20GA", 120, 1, day(1))

	records, err := engine.UseStock(ctx, []ledger.JobRequest{useJob("A16GA", map[int]int{96: 2})}, ledger.UseOptions{})
	require.NoError(t, err)

	edited, err := engine.EditOutgoingLog(ctx, records[0].ID, ledger.RecordEdit{
		Job:      "Rooftop Unit 4",
		Customer: "ACME HVAC",
		UsedAt:   day(10),
		Items:    []ledger.LineItem{{MaterialType: "S20GA", Quantities: map[int]int{120: 1}}},
	})
	require.NoError(t, err)
	require.Len(t, edited.Details, 1)
	assert.Equal(t, "S20GA", edited.Details[0].MaterialType)

	assert.Equal(t, 2, onHandCount(t, mem, "A16GA", 96))
	assert.Equal(t, 0, usedCount(t, mem, "A16GA", 96))
	assert.Equal(t, 1, usedCount(t, mem, "S20GA", 120))
}

// =============================================================================
// MANUAL STOCK ADJUSTMENT
// =============================================================================

func TestManualStockAdjust_Symmetry(t *testing.T) {
	// GIVEN: Any reachable on-hand count
	// WHEN: Adjusting to N and reading back
	// THEN: The count is exactly N

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	for _, target := range []int{5, 2, 7, 0} {
		_, err := engine.ManualStockAdjust(ctx, "A16GA", 120, target)
		require.NoError(t, err)
		assert.Equal(t, target, onHandCount(t, mem, "A16GA", 120), "after adjusting to %d", target)
	}
}

func TestManualStockAdjust_Growth_TaggedZeroCost(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()

	delta, err := engine.ManualStockAdjust(ctx, "A16GA", 120, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, delta)

	units, err := mem.UnitsWhere(ctx, ledger.UnitPredicate{MaterialType: "A16GA", Length: 120})
	require.NoError(t, err)
	require.Len(t, units, 3)
	for _, u := range units {
		assert.Equal(t, ledger.ManualAdjustmentOrigin, u.Job)
		assert.Equal(t, ledger.ManualAdjustmentOrigin, u.Supplier)
		assert.True(t, u.CostPerPound.IsZero())
		assert.Equal(t, "16GA", u.Gauge)
		assert.NotNil(t, u.DateReceived)
	}
}

func TestManualStockAdjust_Shrink_DeletesNotConsumes(t *testing.T) {
	// GIVEN: 4 on-hand sheets
	// WHEN: Adjusting down to 1
	// THEN: The 3 oldest are permanently deleted - stock correction, not
	//       consumption, so nothing is marked used

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	ids := seedOnHand(t, mem, "A16GA", 96, 4, day(1))

	delta, err := engine.ManualStockAdjust(ctx, "A16GA", 96, 1)
	require.NoError(t, err)
	assert.Equal(t, -3, delta)

	assert.Equal(t, 1, onHandCount(t, mem, "A16GA", 96))
	assert.Equal(t, 0, usedCount(t, mem, "A16GA", 96))
	for _, id := range ids[:3] {
		u, err := mem.Unit(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, u, "unit %s should be gone", id)
	}
}

func TestManualStockAdjust_NoOp(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedOnHand(t, mem, "A16GA", 96, 2, day(1))

	delta, err := engine.ManualStockAdjust(context.Background(), "A16GA", 96, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, delta)
}

func TestManualStockAdjust_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.ManualStockAdjust(ctx, "A16GA", 96, -1)
	assert.True(t, ledger.IsClientError(err))

	_, err = engine.ManualStockAdjust(ctx, "A16GA", 97, 1)
	assert.True(t, ledger.IsClientError(err))
}

// =============================================================================
// ORDERS
// =============================================================================

func TestAddOrEditOrder_CreatesUnitsPerQuantity(t *testing.T) {
	// GIVEN: One ordered job asking for 2x96 and 1x120 of A16GA
	// WHEN: Creating the order
	// THEN: Three ordered units exist with master properties copied and
	//       the arrival date set

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	arrival := day(15)

	orderID, err := engine.AddOrEditOrder(ctx, []ledger.JobRequest{{
		Customer:    "ACME HVAC",
		JobName:     "Rooftop Unit 4",
		Status:      ledger.StatusOrdered,
		Supplier:    "Central Steel",
		ArrivalDate: &arrival,
		Items:       []ledger.LineItem{{MaterialType: "A16GA", Quantities: map[int]int{96: 2, 120: 1}}},
	}}, "")
	require.NoError(t, err)

	units, err := mem.UnitsWhere(ctx, ledger.UnitPredicate{OrderID: orderID})
	require.NoError(t, err)
	require.Len(t, units, 3)

	lengths := map[int]int{}
	for _, u := range units {
		lengths[u.Length]++
		assert.Equal(t, ledger.StatusOrdered, u.Status)
		assert.Equal(t, "16GA", u.Gauge)
		assert.Equal(t, "Central Steel", u.Supplier)
		assert.Equal(t, ledger.StandardWidth, u.Width)
		require.NotNil(t, u.ArrivalDate)
		assert.Equal(t, arrival, *u.ArrivalDate)
		assert.True(t, u.CostPerPound.Equal(decimal.RequireFromString("2.15")))
	}
	assert.Equal(t, map[int]int{96: 2, 120: 1}, lengths)
}

func TestAddOrEditOrder_OnHandStatus_NoArrivalDate(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	arrival := day(15)

	orderID, err := engine.AddOrEditOrder(ctx, []ledger.JobRequest{{
		Customer:    "ACME HVAC",
		JobName:     "Walk-in Pickup",
		Status:      ledger.StatusOnHand,
		ArrivalDate: &arrival, // ignored for on-hand orders
		Items:       []ledger.LineItem{{MaterialType: "A16GA", Quantities: map[int]int{96: 1}}},
	}}, "")
	require.NoError(t, err)

	units, err := mem.UnitsWhere(ctx, ledger.UnitPredicate{OrderID: orderID})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, ledger.StatusOnHand, units[0].Status)
	assert.Nil(t, units[0].ArrivalDate)
}

func TestAddOrEditOrder_Edit_ReplacesOriginalUnits(t *testing.T) {
	// GIVEN: An existing order with 2 units
	// WHEN: Editing it to 1 unit of a different length
	// THEN: The original units are gone and only the replacement exists

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	original, err := engine.AddOrEditOrder(ctx, []ledger.JobRequest{{
		Customer: "ACME HVAC", JobName: "Rooftop Unit 4", Status: ledger.StatusOrdered,
		Items: []ledger.LineItem{{MaterialType: "A16GA", Quantities: map[int]int{96: 2}}},
	}}, "")
	require.NoError(t, err)

	replacement, err := engine.AddOrEditOrder(ctx, []ledger.JobRequest{{
		Customer: "ACME HVAC", JobName: "Rooftop Unit 4", Status: ledger.StatusOrdered,
		Items: []ledger.LineItem{{MaterialType: "A16GA", Quantities: map[int]int{144: 1}}},
	}}, original)
	require.NoError(t, err)

	oldUnits, err := mem.UnitsWhere(ctx, ledger.UnitPredicate{OrderID: original})
	require.NoError(t, err)
	assert.Empty(t, oldUnits)

	newUnits, err := mem.UnitsWhere(ctx, ledger.UnitPredicate{OrderID: replacement})
	require.NoError(t, err)
	require.Len(t, newUnits, 1)
	assert.Equal(t, 144, newUnits[0].Length)
}

func TestAddOrEditOrder_UnknownMaterial_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.AddOrEditOrder(context.Background(), []ledger.JobRequest{{
		Customer: "ACME HVAC", JobName: "Rooftop Unit 4", Status: ledger.StatusOrdered,
		Items: []ledger.LineItem{{MaterialType: "UNOBTANIUM", Quantities: map[int]int{96: 1}}},
	}}, "")
	assert.True(t, ledger.IsClientError(err))
}

func TestReceiveOrder_StampsReceipt(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	arrival := day(15)

	orderID, err := engine.AddOrEditOrder(ctx, []ledger.JobRequest{{
		Customer: "ACME HVAC", JobName: "Rooftop Unit 4", Status: ledger.StatusOrdered,
		ArrivalDate: &arrival,
		Items:       []ledger.LineItem{{MaterialType: "A16GA", Quantities: map[int]int{96: 2}}},
	}}, "")
	require.NoError(t, err)

	units, err := mem.UnitsWhere(ctx, ledger.UnitPredicate{OrderID: orderID})
	require.NoError(t, err)
	ids := []string{units[0].ID, units[1].ID}

	require.NoError(t, engine.ReceiveOrder(ctx, ids))

	for _, id := range ids {
		u, err := mem.Unit(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusOnHand, u.Status)
		assert.NotNil(t, u.DateReceived)
		assert.Nil(t, u.ArrivalDate)
	}
}

func TestReceiveOrder_UnknownUnit_Aborts(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	ids := seedOnHand(t, mem, "A16GA", 96, 1, day(1))

	err := engine.ReceiveOrder(ctx, []string{ids[0], "ghost"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// CATEGORY CASCADE
// =============================================================================

func TestDeleteCategoryCascade_ChunksAt500(t *testing.T) {
	// GIVEN: A category with 1200 associated units
	// WHEN: Deleting the category
	// THEN: Exactly 3 bulk commits of sizes 500/500/200

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 1200, day(1))

	deleted, err := engine.DeleteCategoryCascade(ctx, []string{"Aluminum"})
	require.NoError(t, err)
	assert.Equal(t, 1201, deleted, "1200 units plus the material record")

	assert.Equal(t, []int{500, 500, 200}, mem.BulkCommitSizes())
	assert.Equal(t, 0, onHandCount(t, mem, "A16GA", 96))

	mat, err := mem.Material(ctx, "A16GA")
	require.NoError(t, err)
	assert.Nil(t, mat)

	// Other categories are untouched.
	other, err := mem.Material(ctx, "S20GA")
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestDeleteCategoryCascade_PartialFailure_ReportsCommittedChunks(t *testing.T) {
	// GIVEN: 600 units and a store that fails the second bulk commit
	// WHEN: Cascading the category
	// THEN: CascadeDeleteError reports 1 of 2 chunks committed; the first
	//       chunk stays committed and the material survives for a re-run

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 600, day(1))

	mem.FailBulkAt = 2
	mem.BulkErr = errors.New("backend unavailable")

	deleted, err := engine.DeleteCategoryCascade(ctx, []string{"Aluminum"})
	require.Error(t, err)
	assert.Equal(t, 500, deleted)

	var cascade *ledger.CascadeDeleteError
	require.ErrorAs(t, err, &cascade)
	assert.Equal(t, 1, cascade.CommittedChunks)
	assert.Equal(t, 2, cascade.TotalChunks)
	assert.ErrorIs(t, err, ledger.ErrCascadePartial)

	assert.Equal(t, 100, onHandCount(t, mem, "A16GA", 96))
	mat, err := mem.Material(ctx, "A16GA")
	require.NoError(t, err)
	assert.NotNil(t, mat, "material survives a failed cascade for re-running")
}

// =============================================================================
// SIMPLE DELETION
// =============================================================================

func TestDeleteRecord_RemovesLog(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedOnHand(t, mem, "A16GA", 96, 1, day(1))

	records, err := engine.UseStock(ctx, []ledger.JobRequest{useJob("A16GA", map[int]int{96: 1})}, ledger.UseOptions{})
	require.NoError(t, err)

	require.NoError(t, engine.DeleteRecord(ctx, records[0].ID))

	reloaded, err := mem.Record(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded)
}

func TestDeleteInventoryGroup_RemovesUnits(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	ids := seedOnHand(t, mem, "A16GA", 96, 3, day(1))

	require.NoError(t, engine.DeleteInventoryGroup(ctx, ids[:2]))
	assert.Equal(t, 1, onHandCount(t, mem, "A16GA", 96))
}
