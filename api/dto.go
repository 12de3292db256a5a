/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Wire shapes and their conversions to/from ledger types. Handlers never
  expose ledger structs directly: times are formatted, decimals travel as
  strings, statuses as their enum strings.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/steelworks/stock-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// JobDTO is one job of an order or use-stock submission.
type JobDTO struct {
	Customer    string    `json:"customer"`
	JobName     string    `json:"job_name"`
	Items       []ItemDTO `json:"items"`
	Status      string    `json:"status,omitempty"`
	Supplier    string    `json:"supplier,omitempty"`
	ArrivalDate string    `json:"arrival_date,omitempty"` // YYYY-MM-DD
}

// ItemDTO is one material line: requested count per standard length.
type ItemDTO struct {
	MaterialType string      `json:"material_type"`
	Quantities   map[int]int `json:"quantities"`
}

// CreateOrderRequest creates an order, optionally replacing an existing
// one in the same atomic unit.
type CreateOrderRequest struct {
	Jobs            []JobDTO `json:"jobs"`
	OriginalOrderID string   `json:"original_order_id,omitempty"`
}

// ReceiveOrderRequest marks the identified units received.
type ReceiveOrderRequest struct {
	UnitIDs []string `json:"unit_ids"`
}

// DeleteUnitsRequest removes the identified units.
type DeleteUnitsRequest struct {
	UnitIDs []string `json:"unit_ids"`
}

// UseStockRequest consumes or schedules stock for a batch of jobs.
type UseStockRequest struct {
	Jobs          []JobDTO `json:"jobs"`
	Scheduled     bool     `json:"scheduled,omitempty"`
	ScheduledDate string   `json:"scheduled_date,omitempty"` // YYYY-MM-DD
}

// EditLogRequest rewrites an existing usage record.
type EditLogRequest struct {
	Job      string    `json:"job"`
	Customer string    `json:"customer"`
	UsedAt   string    `json:"used_at"` // YYYY-MM-DD
	Items    []ItemDTO `json:"items"`
}

// AdjustStockRequest forces the on-hand count of a stock key.
type AdjustStockRequest struct {
	MaterialType string `json:"material_type"`
	Length       int    `json:"length"`
	Quantity     int    `json:"quantity"`
}

// DeleteCategoriesRequest cascades deletion of categories and their stock.
type DeleteCategoriesRequest struct {
	Categories []string `json:"categories"`
}

// MaterialDTO is a material-master record on the wire.
type MaterialDTO struct {
	Name            string `json:"name"`
	Category        string `json:"category"`
	Gauge           string `json:"gauge"`
	Density         string `json:"density"`
	Thickness       string `json:"thickness"`
	CostPerPound    string `json:"cost_per_pound"`
	DefaultSupplier string `json:"default_supplier,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// UnitDTO is one physical sheet in API responses.
type UnitDTO struct {
	ID           string `json:"id"`
	MaterialType string `json:"material_type"`
	Length       int    `json:"length"`
	Width        int    `json:"width"`
	Gauge        string `json:"gauge"`
	Supplier     string `json:"supplier,omitempty"`
	Status       string `json:"status"`
	Job          string `json:"job,omitempty"`
	Customer     string `json:"customer,omitempty"`
	OrderID      string `json:"order_id,omitempty"`
	CreatedAt    string `json:"created_at"`
	ArrivalDate  string `json:"arrival_date,omitempty"`
	DateReceived string `json:"date_received,omitempty"`
	UsageLogID   string `json:"usage_log_id,omitempty"`
	JobNameUsed  string `json:"job_name_used,omitempty"`
	CustomerUsed string `json:"customer_used,omitempty"`
	UsedAt       string `json:"used_at,omitempty"`
}

// SnapshotDTO is one details line of a record.
type SnapshotDTO struct {
	UnitID       string `json:"unit_id,omitempty"`
	MaterialType string `json:"material_type"`
	Length       int    `json:"length"`
	Gauge        string `json:"gauge"`
	Supplier     string `json:"supplier,omitempty"`
	CostPerPound string `json:"cost_per_pound"`
}

// RecordDTO is a usage log in API responses.
type RecordDTO struct {
	ID          string        `json:"id"`
	Job         string        `json:"job"`
	Customer    string        `json:"customer"`
	Status      string        `json:"status"`
	CreatedAt   string        `json:"created_at"`
	UsedAt      string        `json:"used_at"`
	FulfilledAt string        `json:"fulfilled_at,omitempty"`
	Details     []SnapshotDTO `json:"details"`
	Qty         int           `json:"qty"`
}

// StockLevelDTO is the on-hand count for one stock key.
type StockLevelDTO struct {
	MaterialType string `json:"material_type"`
	Length       int    `json:"length"`
	OnHand       int    `json:"on_hand"`
}

// ErrorDTO is the error payload. Shortfalls carry the key and counts for
// direct display.
type ErrorDTO struct {
	Error        string `json:"error"`
	Detail       string `json:"detail,omitempty"`
	MaterialType string `json:"material_type,omitempty"`
	Length       int    `json:"length,omitempty"`
	Requested    int    `json:"requested,omitempty"`
	Available    int    `json:"available,omitempty"`
	Committed    int    `json:"committed_chunks,omitempty"`
	TotalChunks  int    `json:"total_chunks,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

const dateLayout = "2006-01-02"

func toJobRequest(j JobDTO) (ledger.JobRequest, error) {
	job := ledger.JobRequest{
		Customer: j.Customer,
		JobName:  j.JobName,
		Items:    toLineItems(j.Items),
		Status:   ledger.UnitStatus(j.Status),
		Supplier: j.Supplier,
	}
	if j.ArrivalDate != "" {
		t, err := time.Parse(dateLayout, j.ArrivalDate)
		if err != nil {
			return ledger.JobRequest{}, &ledger.ValidationError{Field: "arrival_date", Message: "expected YYYY-MM-DD"}
		}
		job.ArrivalDate = &t
	}
	return job, nil
}

func toJobRequests(jobs []JobDTO) ([]ledger.JobRequest, error) {
	out := make([]ledger.JobRequest, len(jobs))
	for i, j := range jobs {
		job, err := toJobRequest(j)
		if err != nil {
			return nil, err
		}
		out[i] = job
	}
	return out, nil
}

func toLineItems(items []ItemDTO) []ledger.LineItem {
	out := make([]ledger.LineItem, len(items))
	for i, item := range items {
		out[i] = ledger.LineItem{
			MaterialType: item.MaterialType,
			Quantities:   item.Quantities,
		}
	}
	return out
}

func toUnitDTO(u *ledger.InventoryUnit) UnitDTO {
	return UnitDTO{
		ID:           u.ID,
		MaterialType: u.MaterialType,
		Length:       u.Length,
		Width:        u.Width,
		Gauge:        u.Gauge,
		Supplier:     u.Supplier,
		Status:       string(u.Status),
		Job:          u.Job,
		Customer:     u.Customer,
		OrderID:      u.OrderID,
		CreatedAt:    u.CreatedAt.Format(time.RFC3339),
		ArrivalDate:  formatDatePtr(u.ArrivalDate),
		DateReceived: formatDatePtr(u.DateReceived),
		UsageLogID:   u.UsageLogID,
		JobNameUsed:  u.JobNameUsed,
		CustomerUsed: u.CustomerUsed,
		UsedAt:       formatTimePtr(u.UsedAt),
	}
}

func toRecordDTO(r *ledger.ConsumptionRecord) RecordDTO {
	details := make([]SnapshotDTO, len(r.Details))
	for i, d := range r.Details {
		details[i] = SnapshotDTO{
			UnitID:       d.UnitID,
			MaterialType: d.MaterialType,
			Length:       d.Length,
			Gauge:        d.Gauge,
			Supplier:     d.Supplier,
			CostPerPound: d.CostPerPound.String(),
		}
	}
	return RecordDTO{
		ID:          r.ID,
		Job:         r.Job,
		Customer:    r.Customer,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		UsedAt:      r.UsedAt.Format(time.RFC3339),
		FulfilledAt: formatTimePtr(r.FulfilledAt),
		Details:     details,
		Qty:         r.Qty,
	}
}

func toMaterial(m MaterialDTO) (*ledger.Material, error) {
	density, err := parseDecimal(m.Density, "density")
	if err != nil {
		return nil, err
	}
	thickness, err := parseDecimal(m.Thickness, "thickness")
	if err != nil {
		return nil, err
	}
	cost, err := parseDecimal(m.CostPerPound, "cost_per_pound")
	if err != nil {
		return nil, err
	}
	return &ledger.Material{
		Name:            m.Name,
		Category:        m.Category,
		Gauge:           m.Gauge,
		Density:         density,
		Thickness:       thickness,
		CostPerPound:    cost,
		DefaultSupplier: m.DefaultSupplier,
	}, nil
}

func toMaterialDTO(m *ledger.Material) MaterialDTO {
	return MaterialDTO{
		Name:            m.Name,
		Category:        m.Category,
		Gauge:           m.Gauge,
		Density:         m.Density.String(),
		Thickness:       m.Thickness.String(),
		CostPerPound:    m.CostPerPound.String(),
		DefaultSupplier: m.DefaultSupplier,
	}
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ledger.ValidationError{Field: field, Message: "expected a decimal number"}
	}
	return d, nil
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
