/*
store.go - Persistence contract for units, records, and the material master

PURPOSE:
  Defines the interface between the engine and the document store. Three
  logical collections - units, consumption records, materials - each keyed
  by opaque identity, plus an atomic-transaction primitive and a capped
  bulk-write primitive.

TRANSACTION CONTRACT:
  RunTransaction executes fn against a transaction handle. Every read fn
  performs goes through that handle and observes the store's authoritative
  state plus fn's own staged writes - never a client-side snapshot taken
  before the transaction started. If fn returns an error, nothing is
  committed. Two transactions competing for the same units are serialized
  by the implementation; the loser re-reads fresh state or fails.

BULK WRITES:
  BulkDelete applies up to MaxBatchSize deletions in one physical commit.
  Larger batches are the CALLER's responsibility to chunk; the store
  rejects oversized batches with ErrBatchTooLarge. Used only by the
  category cascade, which is deliberately not atomic across chunks.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - ledger/store: In-memory store for testing/dev

SEE ALSO:
  - engine.go: The only writer through this interface
  - allocation.go: Reads pools through the transaction handle
*/
package ledger

import "context"

// MaxBatchSize is the store's documented cap on operations per physical
// bulk commit.
const MaxBatchSize = 500

// Collection names the three logical document collections.
type Collection string

const (
	CollectionUnits     Collection = "units"
	CollectionRecords   Collection = "records"
	CollectionMaterials Collection = "materials"
)

// DocRef identifies one document for bulk deletion.
type DocRef struct {
	Collection Collection
	ID         string
}

// UnitPredicate filters units. Zero-valued fields match everything, so the
// zero predicate matches every unit.
type UnitPredicate struct {
	MaterialType string
	Length       int
	Status       UnitStatus
	OrderID      string
	UsageLogID   string

	// Exclude drops specific unit ids from the result regardless of the
	// other fields.
	Exclude map[string]bool
}

// Matches reports whether u satisfies the predicate.
func (p UnitPredicate) Matches(u *InventoryUnit) bool {
	if p.MaterialType != "" && u.MaterialType != p.MaterialType {
		return false
	}
	if p.Length != 0 && u.Length != p.Length {
		return false
	}
	if p.Status != "" && u.Status != p.Status {
		return false
	}
	if p.OrderID != "" && u.OrderID != p.OrderID {
		return false
	}
	if p.UsageLogID != "" && u.UsageLogID != p.UsageLogID {
		return false
	}
	if p.Exclude != nil && p.Exclude[u.ID] {
		return false
	}
	return true
}

// UnitReader reads pools of units. The enumeration order must be stable
// across calls for identical state: implementations return units in
// insertion order, which the allocator uses as its FIFO tie-break.
type UnitReader interface {
	UnitsWhere(p UnitPredicate) ([]*InventoryUnit, error)
}

// Tx is the transaction handle passed to RunTransaction's callback.
// Reads observe authoritative state plus this transaction's own staged
// writes. Writes are committed all-or-nothing when the callback returns
// nil. Returned documents are private copies; mutations take effect only
// through Put*.
type Tx interface {
	UnitReader

	Unit(id string) (*InventoryUnit, error)
	Record(id string) (*ConsumptionRecord, error)
	Material(name string) (*Material, error)

	PutUnit(u *InventoryUnit) error
	DeleteUnit(id string) error
	PutRecord(r *ConsumptionRecord) error
	DeleteRecord(id string) error
	PutMaterial(m *Material) error
	DeleteMaterial(name string) error
}

// Store is the document store the engine runs against.
type Store interface {
	// RunTransaction executes fn atomically. If fn returns an error the
	// transaction is discarded and the error returned unchanged.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// BulkDelete removes the referenced documents in one physical commit.
	// Rejects batches larger than MaxBatchSize with ErrBatchTooLarge.
	BulkDelete(ctx context.Context, refs []DocRef) error

	// Read-only access outside any transaction, for queries and for
	// gathering cascade targets.
	UnitsWhere(ctx context.Context, p UnitPredicate) ([]*InventoryUnit, error)
	Unit(ctx context.Context, id string) (*InventoryUnit, error)
	Record(ctx context.Context, id string) (*ConsumptionRecord, error)
	Records(ctx context.Context) ([]*ConsumptionRecord, error)
	Material(ctx context.Context, name string) (*Material, error)
	Materials(ctx context.Context) ([]*Material, error)
}
