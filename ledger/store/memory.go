// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/steelworks/stock-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory ledger.Store. Transactions are simulated with a
// full snapshot taken under the store lock and restored if the callback
// fails, which also serializes all writers. Unit enumeration is insertion
// ordered, satisfying the UnitReader tie-break contract.
type Memory struct {
	mu        sync.RWMutex
	units     map[string]*ledger.InventoryUnit
	unitOrder []string
	records   map[string]*ledger.ConsumptionRecord
	materials map[string]*ledger.Material

	// bulkSizes records the size of every committed bulk batch, for
	// chunking assertions in tests.
	bulkSizes []int

	// FailBulkAt makes the n-th BulkDelete call (1-based) fail without
	// applying, to exercise partial-cascade reporting. Zero disables.
	FailBulkAt int
	bulkCalls  int
	BulkErr    error
}

func NewMemory() *Memory {
	return &Memory{
		units:     make(map[string]*ledger.InventoryUnit),
		records:   make(map[string]*ledger.ConsumptionRecord),
		materials: make(map[string]*ledger.Material),
	}
}

// BulkCommitSizes returns the operation count of every committed bulk
// batch, in commit order.
func (m *Memory) BulkCommitSizes() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int{}, m.bulkSizes...)
}

// SeedMaterial inserts a material without a transaction. Test/dev helper.
func (m *Memory) SeedMaterial(mat *ledger.Material) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.materials[mat.Name] = cloneMaterial(mat)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// RunTransaction executes fn against a view that mutates live state under
// the store lock. Reads therefore observe fn's own staged writes. On error
// the pre-transaction snapshot is restored.
func (m *Memory) RunTransaction(_ context.Context, fn func(tx ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	units     map[string]*ledger.InventoryUnit
	unitOrder []string
	records   map[string]*ledger.ConsumptionRecord
	materials map[string]*ledger.Material
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		units:     make(map[string]*ledger.InventoryUnit, len(m.units)),
		unitOrder: append([]string{}, m.unitOrder...),
		records:   make(map[string]*ledger.ConsumptionRecord, len(m.records)),
		materials: make(map[string]*ledger.Material, len(m.materials)),
	}
	for id, u := range m.units {
		s.units[id] = cloneUnit(u)
	}
	for id, r := range m.records {
		s.records[id] = cloneRecord(r)
	}
	for name, mat := range m.materials {
		s.materials[name] = cloneMaterial(mat)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.units = s.units
	m.unitOrder = s.unitOrder
	m.records = s.records
	m.materials = s.materials
}

// txView implements ledger.Tx over the parent's live state. The parent
// lock is already held for the duration of the transaction.
type txView struct {
	m *Memory
}

func (tv *txView) UnitsWhere(p ledger.UnitPredicate) ([]*ledger.InventoryUnit, error) {
	return tv.m.unitsWhereLocked(p), nil
}

func (tv *txView) Unit(id string) (*ledger.InventoryUnit, error) {
	if u, ok := tv.m.units[id]; ok {
		return cloneUnit(u), nil
	}
	return nil, nil
}

func (tv *txView) Record(id string) (*ledger.ConsumptionRecord, error) {
	if r, ok := tv.m.records[id]; ok {
		return cloneRecord(r), nil
	}
	return nil, nil
}

func (tv *txView) Material(name string) (*ledger.Material, error) {
	if mat, ok := tv.m.materials[name]; ok {
		return cloneMaterial(mat), nil
	}
	return nil, nil
}

func (tv *txView) PutUnit(u *ledger.InventoryUnit) error {
	if _, ok := tv.m.units[u.ID]; !ok {
		tv.m.unitOrder = append(tv.m.unitOrder, u.ID)
	}
	tv.m.units[u.ID] = cloneUnit(u)
	return nil
}

func (tv *txView) DeleteUnit(id string) error {
	delete(tv.m.units, id)
	return nil
}

func (tv *txView) PutRecord(r *ledger.ConsumptionRecord) error {
	tv.m.records[r.ID] = cloneRecord(r)
	return nil
}

func (tv *txView) DeleteRecord(id string) error {
	delete(tv.m.records, id)
	return nil
}

func (tv *txView) PutMaterial(mat *ledger.Material) error {
	tv.m.materials[mat.Name] = cloneMaterial(mat)
	return nil
}

func (tv *txView) DeleteMaterial(name string) error {
	delete(tv.m.materials, name)
	return nil
}

// =============================================================================
// BULK WRITES
// =============================================================================

func (m *Memory) BulkDelete(_ context.Context, refs []ledger.DocRef) error {
	if len(refs) > ledger.MaxBatchSize {
		return ledger.ErrBatchTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.bulkCalls++
	if m.FailBulkAt != 0 && m.bulkCalls >= m.FailBulkAt {
		return m.BulkErr
	}

	for _, ref := range refs {
		switch ref.Collection {
		case ledger.CollectionUnits:
			delete(m.units, ref.ID)
		case ledger.CollectionRecords:
			delete(m.records, ref.ID)
		case ledger.CollectionMaterials:
			delete(m.materials, ref.ID)
		}
	}
	m.bulkSizes = append(m.bulkSizes, len(refs))
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) UnitsWhere(_ context.Context, p ledger.UnitPredicate) ([]*ledger.InventoryUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unitsWhereLocked(p), nil
}

// unitsWhereLocked walks units in insertion order and returns copies.
func (m *Memory) unitsWhereLocked(p ledger.UnitPredicate) []*ledger.InventoryUnit {
	var result []*ledger.InventoryUnit
	for _, id := range m.unitOrder {
		u, ok := m.units[id]
		if !ok {
			continue // deleted
		}
		if p.Matches(u) {
			result = append(result, cloneUnit(u))
		}
	}
	return result
}

func (m *Memory) Unit(_ context.Context, id string) (*ledger.InventoryUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.units[id]; ok {
		return cloneUnit(u), nil
	}
	return nil, nil
}

func (m *Memory) Record(_ context.Context, id string) (*ledger.ConsumptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[id]; ok {
		return cloneRecord(r), nil
	}
	return nil, nil
}

func (m *Memory) Records(_ context.Context) ([]*ledger.ConsumptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*ledger.ConsumptionRecord, 0, len(m.records))
	for _, r := range m.records {
		result = append(result, cloneRecord(r))
	}
	return result, nil
}

func (m *Memory) Material(_ context.Context, name string) (*ledger.Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mat, ok := m.materials[name]; ok {
		return cloneMaterial(mat), nil
	}
	return nil, nil
}

func (m *Memory) Materials(_ context.Context) ([]*ledger.Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*ledger.Material, 0, len(m.materials))
	for _, mat := range m.materials {
		result = append(result, cloneMaterial(mat))
	}
	return result, nil
}

// =============================================================================
// COPY HELPERS
// =============================================================================
// Reads hand out private copies so callers can never mutate committed
// state except through Put*.

func cloneUnit(u *ledger.InventoryUnit) *ledger.InventoryUnit {
	c := *u
	c.ArrivalDate = cloneTime(u.ArrivalDate)
	c.DateReceived = cloneTime(u.DateReceived)
	c.UsedAt = cloneTime(u.UsedAt)
	return &c
}

func cloneRecord(r *ledger.ConsumptionRecord) *ledger.ConsumptionRecord {
	c := *r
	c.FulfilledAt = cloneTime(r.FulfilledAt)
	c.Details = append([]ledger.UnitSnapshot{}, r.Details...)
	return &c
}

func cloneMaterial(m *ledger.Material) *ledger.Material {
	c := *m
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
