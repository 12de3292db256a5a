/*
Package ledger provides the stock ledger transaction engine.

PURPOSE:
  This package contains the types and algorithms for tracking discrete
  physical units ("sheets") of sheet-metal stock through their lifecycle:
  ordered, received, reserved, consumed. Every sheet is an individually
  tracked document; available stock for a (material, length) pair is the
  count of on-hand sheets at that pair, never a cached balance field.

KEY CONCEPTS IN THIS FILE (types.go):
  - InventoryUnit: One physical, individually trackable sheet
  - ConsumptionRecord: A usage log, either a scheduled intent or a
    completed consumption backed by real sheets
  - StockKey: The (materialType, length) pair stock is counted by
  - Material: Material-master record (gauge, density, cost)
  - JobRequest/LineItem: The inbound request shape from the form layer

DESIGN PRINCIPLES:
  1. Single status: A unit is in exactly one lifecycle state at any instant
  2. Typed states: Statuses are closed enumerations, not free-form strings
  3. Precision: decimal.Decimal for physical properties and cost
  4. FIFO key: A unit's CreatedAt is its lot timestamp and allocation key

SEE ALSO:
  - allocation.go: FIFO selection of units against a quantity
  - reconcile.go: Per-key deltas when editing a completed record
  - engine.go: The atomic operations composing the two
  - store.go: Persistence contract
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LIFECYCLE STATES
// =============================================================================

// UnitStatus is the lifecycle state of a single sheet.
// Valid transitions: Ordered -> OnHand, OnHand -> Used, and Used -> OnHand
// (the latter only through the edit-reconciliation return phase).
type UnitStatus string

const (
	StatusOrdered UnitStatus = "ordered" // purchased, not yet received
	StatusOnHand  UnitStatus = "on_hand" // received and available
	StatusUsed    UnitStatus = "used"    // consumed by a job
)

// Valid reports whether s is one of the closed set of unit states.
func (s UnitStatus) Valid() bool {
	switch s {
	case StatusOrdered, StatusOnHand, StatusUsed:
		return true
	}
	return false
}

// RecordStatus is the lifecycle state of a consumption record.
type RecordStatus string

const (
	RecordScheduled RecordStatus = "scheduled" // intent only, no real units behind it
	RecordCompleted RecordStatus = "completed" // backed by actually-consumed units
)

// =============================================================================
// DIMENSIONS
// =============================================================================

// StandardLengths are the sheet lengths stock is ordered and counted in,
// in inches.
var StandardLengths = []int{96, 120, 144}

// StandardWidth is the fixed sheet width in inches.
const StandardWidth = 48

// IsStandardLength reports whether l is one of the standard sheet lengths.
func IsStandardLength(l int) bool {
	for _, s := range StandardLengths {
		if l == s {
			return true
		}
	}
	return false
}

// StockKey identifies the pool stock is counted against: everything with
// the same material type and length is interchangeable for allocation.
type StockKey struct {
	MaterialType string
	Length       int
}

func (k StockKey) String() string {
	return fmt.Sprintf("%s@%d", k.MaterialType, k.Length)
}

// =============================================================================
// INVENTORY UNIT - One physical sheet
// =============================================================================

// ManualAdjustmentOrigin tags units created by a manual stock adjustment
// rather than a purchase order. Such units carry zero cost.
const ManualAdjustmentOrigin = "manual-adjustment"

// InventoryUnit is a single physical sheet. CreatedAt is the lot timestamp:
// it serves as the audit trail and as the FIFO ordering key.
type InventoryUnit struct {
	ID           string
	MaterialType string
	Length       int
	Width        int
	Gauge        string

	// Copied from the material master at creation so later master edits
	// never rewrite history.
	Density      decimal.Decimal
	Thickness    decimal.Decimal
	CostPerPound decimal.Decimal

	Supplier string
	Status   UnitStatus

	// Origin job at creation.
	Job      string
	Customer string

	// OrderID ties together all units created by one order submission.
	OrderID string

	CreatedAt    time.Time
	ArrivalDate  *time.Time // expected arrival; only meaningful while Ordered
	DateReceived *time.Time // stamped on Ordered -> OnHand

	// Usage back-references. Set iff Status == StatusUsed, and the unit
	// appears in that record's Details.
	UsageLogID   string
	JobNameUsed  string
	CustomerUsed string
	UsedAt       *time.Time
}

// Key returns the stock key this unit is counted under.
func (u *InventoryUnit) Key() StockKey {
	return StockKey{MaterialType: u.MaterialType, Length: u.Length}
}

// =============================================================================
// CONSUMPTION RECORD - A usage log
// =============================================================================

// UnitSnapshot is one line of a record's Details. For a Completed record it
// is a snapshot of a real consumed sheet (UnitID set). For a Scheduled
// record it is a synthetic descriptor (UnitID empty) - a scheduled record
// reserves nothing physically.
type UnitSnapshot struct {
	UnitID       string
	MaterialType string
	Length       int
	Gauge        string
	Supplier     string
	CostPerPound decimal.Decimal
}

// Key returns the stock key this snapshot is tallied under.
func (s UnitSnapshot) Key() StockKey {
	return StockKey{MaterialType: s.MaterialType, Length: s.Length}
}

// ConsumptionRecord is a usage log. Qty is the negative of len(Details) -
// the signed value shown in ledger views.
type ConsumptionRecord struct {
	ID       string
	Job      string
	Customer string
	Status   RecordStatus

	CreatedAt   time.Time
	UsedAt      time.Time
	FulfilledAt *time.Time

	Details []UnitSnapshot
	Qty     int
}

// =============================================================================
// MATERIAL MASTER
// =============================================================================

// Material is a material-master record. Name doubles as the unit-level
// MaterialType. Category groups materials for display and cascade deletion.
type Material struct {
	Name            string
	Category        string
	Gauge           string
	Density         decimal.Decimal
	Thickness       decimal.Decimal
	CostPerPound    decimal.Decimal
	DefaultSupplier string
}

// =============================================================================
// INBOUND REQUEST SHAPES (from the form layer)
// =============================================================================

// LineItem is one material line of a job: a requested count per standard
// length. Lengths absent from Quantities are treated as zero.
type LineItem struct {
	MaterialType string
	Quantities   map[int]int
}

// QuantityAt returns the requested count at a standard length.
func (li LineItem) QuantityAt(length int) int {
	return li.Quantities[length]
}

// JobRequest is one job of an order or use-stock submission.
type JobRequest struct {
	Customer    string
	JobName     string
	Items       []LineItem
	Status      UnitStatus // declared status for created units: Ordered or OnHand
	Supplier    string
	ArrivalDate *time.Time // only used when Status == StatusOrdered
}

// RecordEdit is the revised shape for an existing consumption record.
type RecordEdit struct {
	Job      string
	Customer string
	UsedAt   time.Time
	Items    []LineItem
}

// UseOptions selects between the immediate and scheduled use-stock paths.
type UseOptions struct {
	Scheduled     bool
	ScheduledDate time.Time
}

// requiredByKey flattens items into a per-key requested count, skipping
// zero and negative quantities.
func requiredByKey(items []LineItem) map[StockKey]int {
	req := make(map[StockKey]int)
	for _, item := range items {
		for length, qty := range item.Quantities {
			if qty <= 0 {
				continue
			}
			req[StockKey{MaterialType: item.MaterialType, Length: length}] += qty
		}
	}
	return req
}
