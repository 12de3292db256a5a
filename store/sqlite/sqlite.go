/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Implements the document-store contract (three collections, atomic
  transactions, capped bulk writes) on SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  units:     One row per physical sheet
  records:   Usage logs; details stored as a JSON column
  materials: Material master, keyed by name

TRANSACTIONS:
  RunTransaction wraps the callback in a database transaction. All reads
  inside the callback go through the same *sql.Tx, so they observe the
  authoritative state plus the callback's own staged writes. A mutex
  serializes writers: SQLite allows a single writer at a time and this
  avoids SQLITE_BUSY churn.

ENUMERATION ORDER:
  Unit queries order by rowid, i.e. insertion order, which is the
  UnitReader tie-break contract the allocator relies on.

WAL MODE:
  The database is opened with WAL so readers don't block behind the
  writer and crash recovery is cleaner.

USAGE:
  st, err := sqlite.New("./data/stock.db")
  if err != nil { ... }
  defer st.Close()
  engine := ledger.NewEngine(st)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/steelworks/stock-engine/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer at a time keeps SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		material_type TEXT NOT NULL,
		length INTEGER NOT NULL,
		width INTEGER NOT NULL,
		gauge TEXT NOT NULL,
		density TEXT NOT NULL,
		thickness TEXT NOT NULL,
		cost_per_pound TEXT NOT NULL,
		supplier TEXT,
		status TEXT NOT NULL,
		job TEXT,
		customer TEXT,
		order_id TEXT,
		created_at TEXT NOT NULL,
		arrival_date TEXT,
		date_received TEXT,
		usage_log_id TEXT,
		job_name_used TEXT,
		customer_used TEXT,
		used_at TEXT
	);

	-- Allocation hot path: on-hand units of a stock key.
	CREATE INDEX IF NOT EXISTS idx_units_key_status
		ON units(material_type, length, status);
	CREATE INDEX IF NOT EXISTS idx_units_order
		ON units(order_id);
	CREATE INDEX IF NOT EXISTS idx_units_usage_log
		ON units(usage_log_id) WHERE usage_log_id != '';

	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		customer TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		used_at TEXT NOT NULL,
		fulfilled_at TEXT,
		details_json TEXT NOT NULL,
		qty INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS materials (
		name TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		gauge TEXT NOT NULL,
		density TEXT NOT NULL,
		thickness TEXT NOT NULL,
		cost_per_pound TEXT NOT NULL,
		default_supplier TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_materials_category
		ON materials(category);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RunTransaction executes fn inside a database transaction. All of fn's
// reads and writes go through the same *sql.Tx.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&txView{ctx: ctx, q: dbTx}); err != nil {
		_ = dbTx.Rollback()
		return err
	}
	return dbTx.Commit()
}

// txView implements ledger.Tx over a live *sql.Tx.
type txView struct {
	ctx context.Context
	q   querier
}

func (tv *txView) UnitsWhere(p ledger.UnitPredicate) ([]*ledger.InventoryUnit, error) {
	return unitsWhere(tv.ctx, tv.q, p)
}

func (tv *txView) Unit(id string) (*ledger.InventoryUnit, error) {
	return getUnit(tv.ctx, tv.q, id)
}

func (tv *txView) Record(id string) (*ledger.ConsumptionRecord, error) {
	return getRecord(tv.ctx, tv.q, id)
}

func (tv *txView) Material(name string) (*ledger.Material, error) {
	return getMaterial(tv.ctx, tv.q, name)
}

func (tv *txView) PutUnit(u *ledger.InventoryUnit) error {
	return putUnit(tv.ctx, tv.q, u)
}

func (tv *txView) DeleteUnit(id string) error {
	_, err := tv.q.ExecContext(tv.ctx, `DELETE FROM units WHERE id = ?`, id)
	return err
}

func (tv *txView) PutRecord(r *ledger.ConsumptionRecord) error {
	return putRecord(tv.ctx, tv.q, r)
}

func (tv *txView) DeleteRecord(id string) error {
	_, err := tv.q.ExecContext(tv.ctx, `DELETE FROM records WHERE id = ?`, id)
	return err
}

func (tv *txView) PutMaterial(m *ledger.Material) error {
	return putMaterial(tv.ctx, tv.q, m)
}

func (tv *txView) DeleteMaterial(name string) error {
	_, err := tv.q.ExecContext(tv.ctx, `DELETE FROM materials WHERE name = ?`, name)
	return err
}

// =============================================================================
// BULK WRITES
// =============================================================================

// BulkDelete removes the referenced documents in one physical commit,
// rejecting batches over ledger.MaxBatchSize.
func (s *Store) BulkDelete(ctx context.Context, refs []ledger.DocRef) error {
	if len(refs) > ledger.MaxBatchSize {
		return ledger.ErrBatchTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		var query string
		switch ref.Collection {
		case ledger.CollectionUnits:
			query = `DELETE FROM units WHERE id = ?`
		case ledger.CollectionRecords:
			query = `DELETE FROM records WHERE id = ?`
		case ledger.CollectionMaterials:
			query = `DELETE FROM materials WHERE name = ?`
		default:
			_ = dbTx.Rollback()
			return fmt.Errorf("unknown collection %q", ref.Collection)
		}
		if _, err := dbTx.ExecContext(ctx, query, ref.ID); err != nil {
			_ = dbTx.Rollback()
			return err
		}
	}
	return dbTx.Commit()
}

// =============================================================================
// READS (outside transactions)
// =============================================================================

func (s *Store) UnitsWhere(ctx context.Context, p ledger.UnitPredicate) ([]*ledger.InventoryUnit, error) {
	return unitsWhere(ctx, s.db, p)
}

func (s *Store) Unit(ctx context.Context, id string) (*ledger.InventoryUnit, error) {
	return getUnit(ctx, s.db, id)
}

func (s *Store) Record(ctx context.Context, id string) (*ledger.ConsumptionRecord, error) {
	return getRecord(ctx, s.db, id)
}

func (s *Store) Records(ctx context.Context) ([]*ledger.ConsumptionRecord, error) {
	rows, err := s.db.QueryContext(ctx, recordColumns+` FROM records ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ledger.ConsumptionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) Material(ctx context.Context, name string) (*ledger.Material, error) {
	return getMaterial(ctx, s.db, name)
}

func (s *Store) Materials(ctx context.Context) ([]*ledger.Material, error) {
	rows, err := s.db.QueryContext(ctx, materialColumns+` FROM materials ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ledger.Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// =============================================================================
// UNITS - queries and row mapping
// =============================================================================

const unitColumns = `SELECT id, material_type, length, width, gauge, density, thickness,
	cost_per_pound, supplier, status, job, customer, order_id, created_at,
	arrival_date, date_received, usage_log_id, job_name_used, customer_used, used_at`

func unitsWhere(ctx context.Context, q querier, p ledger.UnitPredicate) ([]*ledger.InventoryUnit, error) {
	var conds []string
	var args []any
	if p.MaterialType != "" {
		conds = append(conds, "material_type = ?")
		args = append(args, p.MaterialType)
	}
	if p.Length != 0 {
		conds = append(conds, "length = ?")
		args = append(args, p.Length)
	}
	if p.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(p.Status))
	}
	if p.OrderID != "" {
		conds = append(conds, "order_id = ?")
		args = append(args, p.OrderID)
	}
	if p.UsageLogID != "" {
		conds = append(conds, "usage_log_id = ?")
		args = append(args, p.UsageLogID)
	}

	query := unitColumns + ` FROM units`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	// rowid = insertion order, the FIFO tie-break.
	query += ` ORDER BY rowid`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ledger.InventoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		if p.Exclude != nil && p.Exclude[u.ID] {
			continue
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func getUnit(ctx context.Context, q querier, id string) (*ledger.InventoryUnit, error) {
	row := q.QueryRowContext(ctx, unitColumns+` FROM units WHERE id = ?`, id)
	u, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func putUnit(ctx context.Context, q querier, u *ledger.InventoryUnit) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO units (id, material_type, length, width, gauge, density, thickness,
			cost_per_pound, supplier, status, job, customer, order_id, created_at,
			arrival_date, date_received, usage_log_id, job_name_used, customer_used, used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			material_type = excluded.material_type,
			length = excluded.length,
			width = excluded.width,
			gauge = excluded.gauge,
			density = excluded.density,
			thickness = excluded.thickness,
			cost_per_pound = excluded.cost_per_pound,
			supplier = excluded.supplier,
			status = excluded.status,
			job = excluded.job,
			customer = excluded.customer,
			order_id = excluded.order_id,
			created_at = excluded.created_at,
			arrival_date = excluded.arrival_date,
			date_received = excluded.date_received,
			usage_log_id = excluded.usage_log_id,
			job_name_used = excluded.job_name_used,
			customer_used = excluded.customer_used,
			used_at = excluded.used_at
	`,
		u.ID, u.MaterialType, u.Length, u.Width, u.Gauge,
		u.Density.String(), u.Thickness.String(), u.CostPerPound.String(),
		u.Supplier, string(u.Status), u.Job, u.Customer, u.OrderID,
		encodeTime(u.CreatedAt), encodeTimePtr(u.ArrivalDate), encodeTimePtr(u.DateReceived),
		u.UsageLogID, u.JobNameUsed, u.CustomerUsed, encodeTimePtr(u.UsedAt))
	return err
}

// scannable is satisfied by *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanUnit(row scannable) (*ledger.InventoryUnit, error) {
	var u ledger.InventoryUnit
	var density, thickness, cost, createdAt string
	var status string
	var arrival, received, usedAt sql.NullString
	err := row.Scan(&u.ID, &u.MaterialType, &u.Length, &u.Width, &u.Gauge,
		&density, &thickness, &cost, &u.Supplier, &status, &u.Job, &u.Customer,
		&u.OrderID, &createdAt, &arrival, &received,
		&u.UsageLogID, &u.JobNameUsed, &u.CustomerUsed, &usedAt)
	if err != nil {
		return nil, err
	}

	u.Status = ledger.UnitStatus(status)
	if u.Density, err = decimal.NewFromString(density); err != nil {
		return nil, fmt.Errorf("unit %s: bad density: %w", u.ID, err)
	}
	if u.Thickness, err = decimal.NewFromString(thickness); err != nil {
		return nil, fmt.Errorf("unit %s: bad thickness: %w", u.ID, err)
	}
	if u.CostPerPound, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("unit %s: bad cost: %w", u.ID, err)
	}
	if u.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("unit %s: bad created_at: %w", u.ID, err)
	}
	if u.ArrivalDate, err = decodeTimePtr(arrival); err != nil {
		return nil, fmt.Errorf("unit %s: bad arrival_date: %w", u.ID, err)
	}
	if u.DateReceived, err = decodeTimePtr(received); err != nil {
		return nil, fmt.Errorf("unit %s: bad date_received: %w", u.ID, err)
	}
	if u.UsedAt, err = decodeTimePtr(usedAt); err != nil {
		return nil, fmt.Errorf("unit %s: bad used_at: %w", u.ID, err)
	}
	return &u, nil
}

// =============================================================================
// RECORDS
// =============================================================================

const recordColumns = `SELECT id, job, customer, status, created_at, used_at, fulfilled_at, details_json, qty`

// detailJSON is the persisted shape of one details line. Decimals travel
// as strings to keep precision.
type detailJSON struct {
	UnitID       string `json:"unit_id,omitempty"`
	MaterialType string `json:"material_type"`
	Length       int    `json:"length"`
	Gauge        string `json:"gauge"`
	Supplier     string `json:"supplier,omitempty"`
	CostPerPound string `json:"cost_per_pound"`
}

func getRecord(ctx context.Context, q querier, id string) (*ledger.ConsumptionRecord, error) {
	row := q.QueryRowContext(ctx, recordColumns+` FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func putRecord(ctx context.Context, q querier, r *ledger.ConsumptionRecord) error {
	details := make([]detailJSON, len(r.Details))
	for i, d := range r.Details {
		details[i] = detailJSON{
			UnitID:       d.UnitID,
			MaterialType: d.MaterialType,
			Length:       d.Length,
			Gauge:        d.Gauge,
			Supplier:     d.Supplier,
			CostPerPound: d.CostPerPound.String(),
		}
	}
	blob, err := json.Marshal(details)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO records (id, job, customer, status, created_at, used_at, fulfilled_at, details_json, qty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			job = excluded.job,
			customer = excluded.customer,
			status = excluded.status,
			created_at = excluded.created_at,
			used_at = excluded.used_at,
			fulfilled_at = excluded.fulfilled_at,
			details_json = excluded.details_json,
			qty = excluded.qty
	`,
		r.ID, r.Job, r.Customer, string(r.Status),
		encodeTime(r.CreatedAt), encodeTime(r.UsedAt), encodeTimePtr(r.FulfilledAt),
		string(blob), r.Qty)
	return err
}

func scanRecord(row scannable) (*ledger.ConsumptionRecord, error) {
	var r ledger.ConsumptionRecord
	var status, createdAt, usedAt, blob string
	var fulfilled sql.NullString
	err := row.Scan(&r.ID, &r.Job, &r.Customer, &status, &createdAt, &usedAt, &fulfilled, &blob, &r.Qty)
	if err != nil {
		return nil, err
	}

	r.Status = ledger.RecordStatus(status)
	if r.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("record %s: bad created_at: %w", r.ID, err)
	}
	if r.UsedAt, err = decodeTime(usedAt); err != nil {
		return nil, fmt.Errorf("record %s: bad used_at: %w", r.ID, err)
	}
	if r.FulfilledAt, err = decodeTimePtr(fulfilled); err != nil {
		return nil, fmt.Errorf("record %s: bad fulfilled_at: %w", r.ID, err)
	}

	var details []detailJSON
	if err := json.Unmarshal([]byte(blob), &details); err != nil {
		return nil, fmt.Errorf("record %s: bad details: %w", r.ID, err)
	}
	for _, d := range details {
		cost, err := decimal.NewFromString(d.CostPerPound)
		if err != nil {
			return nil, fmt.Errorf("record %s: bad detail cost: %w", r.ID, err)
		}
		r.Details = append(r.Details, ledger.UnitSnapshot{
			UnitID:       d.UnitID,
			MaterialType: d.MaterialType,
			Length:       d.Length,
			Gauge:        d.Gauge,
			Supplier:     d.Supplier,
			CostPerPound: cost,
		})
	}
	return &r, nil
}

// =============================================================================
// MATERIALS
// =============================================================================

const materialColumns = `SELECT name, category, gauge, density, thickness, cost_per_pound, default_supplier`

func getMaterial(ctx context.Context, q querier, name string) (*ledger.Material, error) {
	row := q.QueryRowContext(ctx, materialColumns+` FROM materials WHERE name = ?`, name)
	m, err := scanMaterial(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func putMaterial(ctx context.Context, q querier, m *ledger.Material) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO materials (name, category, gauge, density, thickness, cost_per_pound, default_supplier)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			category = excluded.category,
			gauge = excluded.gauge,
			density = excluded.density,
			thickness = excluded.thickness,
			cost_per_pound = excluded.cost_per_pound,
			default_supplier = excluded.default_supplier
	`,
		m.Name, m.Category, m.Gauge,
		m.Density.String(), m.Thickness.String(), m.CostPerPound.String(),
		m.DefaultSupplier)
	return err
}

func scanMaterial(row scannable) (*ledger.Material, error) {
	var m ledger.Material
	var density, thickness, cost string
	err := row.Scan(&m.Name, &m.Category, &m.Gauge, &density, &thickness, &cost, &m.DefaultSupplier)
	if err != nil {
		return nil, err
	}
	if m.Density, err = decimal.NewFromString(density); err != nil {
		return nil, fmt.Errorf("material %s: bad density: %w", m.Name, err)
	}
	if m.Thickness, err = decimal.NewFromString(thickness); err != nil {
		return nil, fmt.Errorf("material %s: bad thickness: %w", m.Name, err)
	}
	if m.CostPerPound, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("material %s: bad cost: %w", m.Name, err)
	}
	return &m, nil
}

// =============================================================================
// TIME ENCODING
// =============================================================================
// Times are stored as RFC3339Nano strings. Nanosecond precision matters:
// CreatedAt is the FIFO ordering key.

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func decodeTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := decodeTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
