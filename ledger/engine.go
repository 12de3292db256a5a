/*
engine.go - The atomic stock ledger operations

PURPOSE:
  The Engine orchestrates every lifecycle mutation of sheets and usage
  records: order creation/edit, immediate use, scheduled use, fulfillment,
  edit of a historical consumption, manual stock adjustment, receipt, and
  cascading deletion. Each operation executes as one atomic unit against
  the store, composing SelectFIFO and NetChanges.

ATOMICITY:
  All multi-step consistency is delegated to the store's transaction
  primitive. Every availability read happens through the transaction
  handle - not against a cached pool captured earlier - so two concurrent
  consumptions can never both believe the same sheet is available. The one
  deliberate exception is the category cascade, which commits chunk by
  chunk and is documented as non-atomic across chunks.

THE EDIT PATH:
  Editing a completed record is the delicate one. It must "un-consume" and
  "re-consume" sheets without leaking or duplicating them:
    1. Compute per-key net change (original count - revised request)
    2. Pre-check: extra demand must be coverable from on-hand stock
    3. Return every originally consumed sheet to on-hand
    4. Re-consume: revised quantities come first from the record's own
       just-returned sheets (oldest first), then from the wider on-hand
       pool excluding the returned ids
    5. Any shortfall in step 4 rolls the whole edit back, returns
       included, and is reported distinctly from a plain shortfall
    6. Overwrite the record with the newly consumed snapshots

SEE ALSO:
  - allocation.go: SelectFIFO
  - reconcile.go: NetChanges
  - store.go: Transaction and bulk-write contract
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine executes stock ledger operations against a Store.
type Engine struct {
	Store Store

	// Now and NewID are injectable for tests. Zero values fall back to
	// time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// NewEngine creates an engine with the default clock and id generator.
func NewEngine(store Store) *Engine {
	return &Engine{
		Store: store,
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateJobs(jobs []JobRequest, forOrder bool) error {
	if len(jobs) == 0 {
		return &ValidationError{Field: "jobs", Message: "at least one job is required"}
	}
	for i, job := range jobs {
		if job.Customer == "" {
			return &ValidationError{Field: fmt.Sprintf("jobs[%d].customer", i), Message: "customer is required"}
		}
		if job.JobName == "" {
			return &ValidationError{Field: fmt.Sprintf("jobs[%d].jobName", i), Message: "job name is required"}
		}
		if forOrder && job.Status != StatusOrdered && job.Status != StatusOnHand {
			return &ValidationError{
				Field:   fmt.Sprintf("jobs[%d].status", i),
				Message: fmt.Sprintf("order status must be %q or %q", StatusOrdered, StatusOnHand),
			}
		}
		if err := validateItems(job.Items, fmt.Sprintf("jobs[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func validateItems(items []LineItem, prefix string) error {
	for j, item := range items {
		if item.MaterialType == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("%s.items[%d].materialType", prefix, j),
				Message: "material type is required",
			}
		}
		for length, qty := range item.Quantities {
			if !IsStandardLength(length) {
				return &ValidationError{
					Field:   fmt.Sprintf("%s.items[%d]", prefix, j),
					Message: fmt.Sprintf("%d is not a standard length", length),
				}
			}
			if qty < 0 {
				return &ValidationError{
					Field:   fmt.Sprintf("%s.items[%d]", prefix, j),
					Message: "quantities must not be negative",
				}
			}
		}
	}
	return nil
}

// =============================================================================
// ORDERS
// =============================================================================

// AddOrEditOrder creates a fresh group of units for the given jobs. If
// originalOrderID is non-empty the units of that order are deleted first,
// inside the same transaction, so no observer ever sees stock disappear
// without its replacement. Returns the new order's group id.
func (e *Engine) AddOrEditOrder(ctx context.Context, jobs []JobRequest, originalOrderID string) (string, error) {
	if err := validateJobs(jobs, true); err != nil {
		return "", err
	}

	orderID := e.newID()
	now := e.now()

	err := e.Store.RunTransaction(ctx, func(tx Tx) error {
		if originalOrderID != "" {
			old, err := tx.UnitsWhere(UnitPredicate{OrderID: originalOrderID})
			if err != nil {
				return err
			}
			for _, u := range old {
				if err := tx.DeleteUnit(u.ID); err != nil {
					return err
				}
			}
		}

		for _, job := range jobs {
			for _, item := range job.Items {
				mat, err := tx.Material(item.MaterialType)
				if err != nil {
					return err
				}
				if mat == nil {
					return &ValidationError{Field: "materialType", Message: fmt.Sprintf("unknown material %q", item.MaterialType)}
				}
				for _, length := range StandardLengths {
					for n := 0; n < item.QuantityAt(length); n++ {
						unit := &InventoryUnit{
							ID:           e.newID(),
							MaterialType: mat.Name,
							Length:       length,
							Width:        StandardWidth,
							Gauge:        mat.Gauge,
							Density:      mat.Density,
							Thickness:    mat.Thickness,
							CostPerPound: mat.CostPerPound,
							Supplier:     job.Supplier,
							Status:       job.Status,
							Job:          job.JobName,
							Customer:     job.Customer,
							OrderID:      orderID,
							CreatedAt:    now,
						}
						if job.Status == StatusOrdered {
							unit.ArrivalDate = job.ArrivalDate
						}
						if err := tx.PutUnit(unit); err != nil {
							return err
						}
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return orderID, nil
}

// ReceiveOrder marks every identified unit on hand and stamps the receipt
// date. Direct id-targeted update, no selection logic.
func (e *Engine) ReceiveOrder(ctx context.Context, unitIDs []string) error {
	if len(unitIDs) == 0 {
		return &ValidationError{Field: "unitIDs", Message: "at least one unit id is required"}
	}
	now := e.now()
	return e.Store.RunTransaction(ctx, func(tx Tx) error {
		for _, id := range unitIDs {
			u, err := tx.Unit(id)
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("unit %s: %w", id, ErrNotFound)
			}
			u.Status = StatusOnHand
			u.DateReceived = &now
			u.ArrivalDate = nil
			if err := tx.PutUnit(u); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteInventoryGroup removes the given units unconditionally.
func (e *Engine) DeleteInventoryGroup(ctx context.Context, unitIDs []string) error {
	return e.Store.RunTransaction(ctx, func(tx Tx) error {
		for _, id := range unitIDs {
			if err := tx.DeleteUnit(id); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// USE STOCK
// =============================================================================

// UseStock processes all jobs in one atomic unit and returns the created
// records.
//
// Scheduled path: no allocation and no unit mutation - one Scheduled
// record per job with synthetic details, a pure intent log.
//
// Immediate path: for every (material, length) requirement SelectFIFO runs
// over on-hand units through the transaction handle; chosen units are
// marked used with back-references to a fresh Completed record. If any
// requirement across any job is short, the entire batch aborts - no job
// partially succeeds.
func (e *Engine) UseStock(ctx context.Context, jobs []JobRequest, opts UseOptions) ([]*ConsumptionRecord, error) {
	if err := validateJobs(jobs, false); err != nil {
		return nil, err
	}
	if opts.Scheduled && opts.ScheduledDate.IsZero() {
		return nil, &ValidationError{Field: "scheduledDate", Message: "scheduled use requires a date"}
	}

	now := e.now()
	var records []*ConsumptionRecord

	err := e.Store.RunTransaction(ctx, func(tx Tx) error {
		records = records[:0] // fresh on transaction retry
		for _, job := range jobs {
			record := &ConsumptionRecord{
				ID:        e.newID(),
				Job:       job.JobName,
				Customer:  job.Customer,
				CreatedAt: now,
			}

			if opts.Scheduled {
				details, err := syntheticDetails(tx, job.Items)
				if err != nil {
					return err
				}
				record.Status = RecordScheduled
				record.UsedAt = opts.ScheduledDate
				record.Details = details
				record.Qty = -len(details)
			} else {
				details, err := e.consume(tx, job.Items, record.ID, job.JobName, job.Customer, now)
				if err != nil {
					return err
				}
				record.Status = RecordCompleted
				record.UsedAt = now
				record.Details = details
				record.Qty = -len(details)
			}

			if err := tx.PutRecord(record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// consume allocates every requirement of items from on-hand stock and
// marks the chosen units used by recordID. Returns snapshots of the
// consumed units.
func (e *Engine) consume(tx Tx, items []LineItem, recordID, jobName, customer string, at time.Time) ([]UnitSnapshot, error) {
	return e.consumeExcluding(tx, requiredByKey(items), nil, recordID, jobName, customer, at)
}

func (e *Engine) consumeExcluding(tx Tx, required map[StockKey]int, exclude map[string]bool, recordID, jobName, customer string, at time.Time) ([]UnitSnapshot, error) {
	var details []UnitSnapshot
	for _, key := range sortedKeys(required) {
		chosen, err := SelectFIFO(tx, UnitPredicate{
			MaterialType: key.MaterialType,
			Length:       key.Length,
			Status:       StatusOnHand,
			Exclude:      exclude,
		}, required[key])
		if err != nil {
			return nil, err
		}
		for _, u := range chosen {
			if err := markUsed(tx, u, recordID, jobName, customer, at); err != nil {
				return nil, err
			}
			details = append(details, snapshotOf(u))
		}
	}
	return details, nil
}

func markUsed(tx Tx, u *InventoryUnit, recordID, jobName, customer string, at time.Time) error {
	u.Status = StatusUsed
	u.UsageLogID = recordID
	u.JobNameUsed = jobName
	u.CustomerUsed = customer
	usedAt := at
	u.UsedAt = &usedAt
	return tx.PutUnit(u)
}

func snapshotOf(u *InventoryUnit) UnitSnapshot {
	return UnitSnapshot{
		UnitID:       u.ID,
		MaterialType: u.MaterialType,
		Length:       u.Length,
		Gauge:        u.Gauge,
		Supplier:     u.Supplier,
		CostPerPound: u.CostPerPound,
	}
}

// syntheticDetails builds descriptor lines for a scheduled record. No real
// unit stands behind them.
func syntheticDetails(tx Tx, items []LineItem) ([]UnitSnapshot, error) {
	var details []UnitSnapshot
	for _, item := range items {
		mat, err := tx.Material(item.MaterialType)
		if err != nil {
			return nil, err
		}
		if mat == nil {
			return nil, &ValidationError{Field: "materialType", Message: fmt.Sprintf("unknown material %q", item.MaterialType)}
		}
		for _, length := range StandardLengths {
			for n := 0; n < item.QuantityAt(length); n++ {
				details = append(details, UnitSnapshot{
					MaterialType: mat.Name,
					Length:       length,
					Gauge:        mat.Gauge,
					Supplier:     mat.DefaultSupplier,
					CostPerPound: mat.CostPerPound,
				})
			}
		}
	}
	return details, nil
}

// =============================================================================
// FULFILLMENT
// =============================================================================

// FulfillScheduledLog converts a scheduled record into a completed one:
// its synthetic details are tallied by stock key, real units are allocated
// FIFO and marked used, and the record's details are replaced with real
// snapshots. Aborts atomically on any shortfall.
func (e *Engine) FulfillScheduledLog(ctx context.Context, recordID string) (*ConsumptionRecord, error) {
	now := e.now()
	var fulfilled *ConsumptionRecord

	err := e.Store.RunTransaction(ctx, func(tx Tx) error {
		record, err := tx.Record(recordID)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("record %s: %w", recordID, ErrNotFound)
		}
		if record.Status != RecordScheduled {
			return &ValidationError{Field: "record", Message: "only scheduled records can be fulfilled"}
		}

		required := make(map[StockKey]int)
		for _, d := range record.Details {
			required[d.Key()]++
		}

		details, err := e.consumeExcluding(tx, required, nil, record.ID, record.Job, record.Customer, now)
		if err != nil {
			return err
		}

		record.Status = RecordCompleted
		record.Details = details
		record.Qty = -len(details)
		record.FulfilledAt = &now
		fulfilled = record
		return tx.PutRecord(record)
	})
	if err != nil {
		return nil, err
	}
	return fulfilled, nil
}

// =============================================================================
// EDIT OUTGOING LOG - the reconciliation path
// =============================================================================

// EditOutgoingLog rewrites an existing record to match edit.
//
// A scheduled record is a pure metadata rewrite: synthetic details and qty
// are recomputed and the record overwritten, no unit touched.
//
// A completed record goes through the return/re-consume sequence described
// at the top of this file. The total unit population per key is conserved
// across the edit: units are only moved between used and on-hand, never
// created or destroyed.
func (e *Engine) EditOutgoingLog(ctx context.Context, recordID string, edit RecordEdit) (*ConsumptionRecord, error) {
	if edit.Customer == "" {
		return nil, &ValidationError{Field: "customer", Message: "customer is required"}
	}
	if edit.Job == "" {
		return nil, &ValidationError{Field: "job", Message: "job name is required"}
	}
	if err := validateItems(edit.Items, "edit"); err != nil {
		return nil, err
	}

	now := e.now()
	var edited *ConsumptionRecord

	err := e.Store.RunTransaction(ctx, func(tx Tx) error {
		record, err := tx.Record(recordID)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("record %s: %w", recordID, ErrNotFound)
		}

		if record.Status == RecordScheduled {
			details, err := syntheticDetails(tx, edit.Items)
			if err != nil {
				return err
			}
			record.Job = edit.Job
			record.Customer = edit.Customer
			record.UsedAt = edit.UsedAt
			record.Details = details
			record.Qty = -len(details)
			edited = record
			return tx.PutRecord(record)
		}

		edited, err = e.reconcileCompleted(tx, record, edit, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return edited, nil
}

// reconcileCompleted runs the six-step edit sequence for a completed
// record inside tx.
func (e *Engine) reconcileCompleted(tx Tx, record *ConsumptionRecord, edit RecordEdit, now time.Time) (*ConsumptionRecord, error) {
	// 1. Signed per-key delta between what was consumed and what is asked.
	net := NetChanges(record.Details, edit.Items)

	// 2. Pre-check: extra demand must be coverable from units not part of
	// the original consumption. Nothing has been mutated yet, so a miss
	// here is a plain shortfall.
	for _, key := range sortedNetKeys(net) {
		needed := -net[key]
		if needed <= 0 {
			continue
		}
		onHand, err := tx.UnitsWhere(UnitPredicate{
			MaterialType: key.MaterialType,
			Length:       key.Length,
			Status:       StatusOnHand,
		})
		if err != nil {
			return nil, err
		}
		if len(onHand) < needed {
			return nil, &InsufficientStockError{Key: key, Requested: needed, Available: len(onHand)}
		}
	}

	// 3. Return phase: every originally consumed unit goes back on hand,
	// even ones about to be re-consumed. Units deleted out-of-band since
	// the original consumption are skipped.
	originalIDs := make(map[string]bool, len(record.Details))
	returnedByKey := make(map[StockKey][]*InventoryUnit)
	for _, d := range record.Details {
		u, err := tx.Unit(d.UnitID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			continue
		}
		u.Status = StatusOnHand
		u.UsageLogID = ""
		u.JobNameUsed = ""
		u.CustomerUsed = ""
		u.UsedAt = nil
		if err := tx.PutUnit(u); err != nil {
			return nil, err
		}
		originalIDs[u.ID] = true
		returnedByKey[u.Key()] = append(returnedByKey[u.Key()], u)
	}

	// 4. Re-consume. Each key's demand is satisfied first from the
	// record's own just-returned units (oldest lot first), then from the
	// wider on-hand pool excluding the returned ids, so an unrelated
	// just-returned unit never satisfies a requirement it is not needed
	// for.
	required := requiredByKey(edit.Items)
	var details []UnitSnapshot
	for _, key := range sortedKeys(required) {
		qty := required[key]

		reuse := returnedByKey[key]
		sort.SliceStable(reuse, func(i, j int) bool {
			return reuse[i].CreatedAt.Before(reuse[j].CreatedAt)
		})
		if len(reuse) > qty {
			reuse = reuse[:qty]
		}
		for _, u := range reuse {
			if err := markUsed(tx, u, record.ID, edit.Job, edit.Customer, now); err != nil {
				return nil, err
			}
			details = append(details, snapshotOf(u))
		}

		if remaining := qty - len(reuse); remaining > 0 {
			extra, err := e.consumeExcluding(tx, map[StockKey]int{key: remaining}, originalIDs,
				record.ID, edit.Job, edit.Customer, now)
			if err != nil {
				// 5. A shortfall here means the pool regressed after the
				// pre-check. Rolling back undoes the returns from step 3;
				// report distinctly from a plain shortfall.
				var short *InsufficientStockError
				if errors.As(err, &short) {
					return nil, &EditReconciliationError{RecordID: record.ID, Cause: short}
				}
				return nil, err
			}
			details = append(details, extra...)
		}
	}

	// 6. Commit the rewritten record.
	record.Job = edit.Job
	record.Customer = edit.Customer
	record.UsedAt = edit.UsedAt
	record.Details = details
	record.Qty = -len(details)
	return record, tx.PutRecord(record)
}

// =============================================================================
// MANUAL ADJUSTMENT
// =============================================================================

// ManualStockAdjust forces the on-hand count for a (material, length) pair
// to newQuantity. Growth creates zero-cost units tagged with the
// manual-adjustment origin; shrinkage permanently deletes FIFO-selected
// units - stock correction, not consumption. Returns the applied delta.
func (e *Engine) ManualStockAdjust(ctx context.Context, materialType string, length, newQuantity int) (int, error) {
	if materialType == "" {
		return 0, &ValidationError{Field: "materialType", Message: "material type is required"}
	}
	if !IsStandardLength(length) {
		return 0, &ValidationError{Field: "length", Message: fmt.Sprintf("%d is not a standard length", length)}
	}
	if newQuantity < 0 {
		return 0, &ValidationError{Field: "quantity", Message: "quantity must not be negative"}
	}

	now := e.now()
	var diff int

	err := e.Store.RunTransaction(ctx, func(tx Tx) error {
		pred := UnitPredicate{MaterialType: materialType, Length: length, Status: StatusOnHand}
		onHand, err := tx.UnitsWhere(pred)
		if err != nil {
			return err
		}
		diff = newQuantity - len(onHand)

		switch {
		case diff == 0:
			return nil

		case diff > 0:
			mat, err := tx.Material(materialType)
			if err != nil {
				return err
			}
			if mat == nil {
				return &ValidationError{Field: "materialType", Message: fmt.Sprintf("unknown material %q", materialType)}
			}
			for n := 0; n < diff; n++ {
				unit := &InventoryUnit{
					ID:           e.newID(),
					MaterialType: mat.Name,
					Length:       length,
					Width:        StandardWidth,
					Gauge:        mat.Gauge,
					Density:      mat.Density,
					Thickness:    mat.Thickness,
					CostPerPound: decimal.Zero,
					Supplier:     ManualAdjustmentOrigin,
					Status:       StatusOnHand,
					Job:          ManualAdjustmentOrigin,
					OrderID:      ManualAdjustmentOrigin,
					CreatedAt:    now,
					DateReceived: &now,
				}
				if err := tx.PutUnit(unit); err != nil {
					return err
				}
			}
			return nil

		default:
			victims, err := SelectFIFO(tx, pred, -diff)
			if err != nil {
				return err
			}
			for _, u := range victims {
				if err := tx.DeleteUnit(u.ID); err != nil {
					return err
				}
			}
			return nil
		}
	})
	if err != nil {
		return 0, err
	}
	return diff, nil
}

// =============================================================================
// DELETION
// =============================================================================

// DeleteRecord removes a usage record by id, unconditionally. Units that
// referenced it keep their snapshots' history in place; this is an
// explicit log deletion, not a reversal.
func (e *Engine) DeleteRecord(ctx context.Context, recordID string) error {
	return e.Store.RunTransaction(ctx, func(tx Tx) error {
		return tx.DeleteRecord(recordID)
	})
}

// DeleteCategoryCascade removes every material under the named categories
// and every unit of those materials. Unit deletion is chunked at
// MaxBatchSize operations per physical commit and committed sequentially:
// this is explicitly NOT atomic across chunks. A later chunk's failure
// leaves earlier chunks committed and surfaces as a CascadeDeleteError;
// the cascade is destructive and idempotent, so re-running it is safe.
// The handful of material-master documents are removed last, in one
// transaction, so a failed re-run still finds them and can gather the
// surviving units. Returns the number of documents deleted.
func (e *Engine) DeleteCategoryCascade(ctx context.Context, categories []string) (int, error) {
	if len(categories) == 0 {
		return 0, &ValidationError{Field: "categories", Message: "at least one category is required"}
	}
	wanted := make(map[string]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	materials, err := e.Store.Materials(ctx)
	if err != nil {
		return 0, err
	}

	var refs []DocRef
	var doomed []*Material
	for _, m := range materials {
		if !wanted[m.Category] {
			continue
		}
		doomed = append(doomed, m)
		units, err := e.Store.UnitsWhere(ctx, UnitPredicate{MaterialType: m.Name})
		if err != nil {
			return 0, err
		}
		for _, u := range units {
			refs = append(refs, DocRef{Collection: CollectionUnits, ID: u.ID})
		}
	}

	chunks := chunkRefs(refs, MaxBatchSize)
	deleted := 0
	for i, chunk := range chunks {
		if err := e.Store.BulkDelete(ctx, chunk); err != nil {
			return deleted, &CascadeDeleteError{
				CommittedChunks: i,
				TotalChunks:     len(chunks),
				Cause:           err,
			}
		}
		deleted += len(chunk)
	}

	err = e.Store.RunTransaction(ctx, func(tx Tx) error {
		for _, m := range doomed {
			if err := tx.DeleteMaterial(m.Name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return deleted, &CascadeDeleteError{
			CommittedChunks: len(chunks),
			TotalChunks:     len(chunks),
			Cause:           err,
		}
	}
	return deleted + len(doomed), nil
}

func chunkRefs(refs []DocRef, size int) [][]DocRef {
	var chunks [][]DocRef
	for len(refs) > size {
		chunks = append(chunks, refs[:size])
		refs = refs[size:]
	}
	if len(refs) > 0 {
		chunks = append(chunks, refs)
	}
	return chunks
}

// =============================================================================
// HELPERS
// =============================================================================

func sortedKeys(m map[StockKey]int) []StockKey {
	keys := make([]StockKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStockKeys(keys)
	return keys
}

func sortedNetKeys(m map[StockKey]int) []StockKey {
	return sortedKeys(m)
}

func sortStockKeys(keys []StockKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].MaterialType != keys[j].MaterialType {
			return keys[i].MaterialType < keys[j].MaterialType
		}
		return keys[i].Length < keys[j].Length
	})
}
