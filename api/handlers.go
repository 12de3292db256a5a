/*
handlers.go - HTTP handlers for the stock ledger API

PURPOSE:
  Thin HTTP layer over the ledger engine and store:
  1. Decode and sanity-check the request
  2. Call the engine operation (or a store read)
  3. Serialize the result
  4. Map domain errors to HTTP statuses

ERROR HANDLING:
  - 400: Validation errors
  - 404: Missing documents
  - 409: Stock conflicts (shortfall, edit reconciliation)
  - 500: Everything else, including partial cascade failures, whose
         payload reports how many chunks committed

SEE ALSO:
  - dto.go: Wire shapes and conversions
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/steelworks/stock-engine/ledger"
)

// SiteConfig is externally-owned display configuration: the supplier list
// and the category ordering. The engine never reads it.
type SiteConfig struct {
	Suppliers     []string `json:"suppliers"`
	CategoryOrder []string `json:"category_order"`
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  ledger.Store
	Engine *ledger.Engine
	Config SiteConfig
}

// NewHandler creates a handler backed by the given store.
func NewHandler(store ledger.Store, config SiteConfig) *Handler {
	return &Handler{
		Store:  store,
		Engine: ledger.NewEngine(store),
		Config: config,
	}
}

// =============================================================================
// ORDERS
// =============================================================================

// CreateOrder creates a group of units, optionally replacing an existing
// order inside the same atomic unit.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	jobs, err := toJobRequests(req.Jobs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	orderID, err := h.Engine.AddOrEditOrder(r.Context(), jobs, req.OriginalOrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"order_id": orderID})
}

// ReceiveOrder marks identified units on hand with a receipt date.
func (h *Handler) ReceiveOrder(w http.ResponseWriter, r *http.Request) {
	var req ReceiveOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if err := h.Engine.ReceiveOrder(r.Context(), req.UnitIDs); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"received": len(req.UnitIDs)})
}

// DeleteUnits removes the identified units unconditionally.
func (h *Handler) DeleteUnits(w http.ResponseWriter, r *http.Request) {
	var req DeleteUnitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if err := h.Engine.DeleteInventoryGroup(r.Context(), req.UnitIDs); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(req.UnitIDs)})
}

// ListUnits returns units filtered by the query parameters.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	pred := ledger.UnitPredicate{
		MaterialType: r.URL.Query().Get("material"),
		OrderID:      r.URL.Query().Get("order_id"),
		Status:       ledger.UnitStatus(r.URL.Query().Get("status")),
	}
	units, err := h.Store.UnitsWhere(r.Context(), pred)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list units", err)
		return
	}
	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		dtos[i] = toUnitDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// StockLevels returns on-hand counts grouped by stock key. The on-hand
// unit count IS the available stock; there is no separate balance field.
func (h *Handler) StockLevels(w http.ResponseWriter, r *http.Request) {
	units, err := h.Store.UnitsWhere(r.Context(), ledger.UnitPredicate{
		MaterialType: r.URL.Query().Get("material"),
		Status:       ledger.StatusOnHand,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count stock", err)
		return
	}

	counts := make(map[ledger.StockKey]int)
	for _, u := range units {
		counts[u.Key()]++
	}
	levels := make([]StockLevelDTO, 0, len(counts))
	for key, n := range counts {
		levels = append(levels, StockLevelDTO{MaterialType: key.MaterialType, Length: key.Length, OnHand: n})
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].MaterialType != levels[j].MaterialType {
			return levels[i].MaterialType < levels[j].MaterialType
		}
		return levels[i].Length < levels[j].Length
	})
	writeJSON(w, http.StatusOK, levels)
}

// =============================================================================
// USAGE LOGS
// =============================================================================

// UseStock consumes stock immediately or writes scheduled intent logs.
func (h *Handler) UseStock(w http.ResponseWriter, r *http.Request) {
	var req UseStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	jobs, err := toJobRequests(req.Jobs)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	opts := ledger.UseOptions{Scheduled: req.Scheduled}
	if req.ScheduledDate != "" {
		t, err := time.Parse(dateLayout, req.ScheduledDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid scheduled_date, expected YYYY-MM-DD", err)
			return
		}
		opts.ScheduledDate = t
	}

	records, err := h.Engine.UseStock(r.Context(), jobs, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]RecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// ListLogs returns all usage records.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.Records(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list records", err)
		return
	}
	dtos := make([]RecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLog returns one usage record.
func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	record, err := h.Store.Record(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load record", err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "record not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// FulfillLog converts a scheduled record into a completed consumption.
func (h *Handler) FulfillLog(w http.ResponseWriter, r *http.Request) {
	record, err := h.Engine.FulfillScheduledLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// EditLog rewrites an existing usage record, reconciling consumed units
// when the record is completed.
func (h *Handler) EditLog(w http.ResponseWriter, r *http.Request) {
	var req EditLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	usedAt, err := time.Parse(dateLayout, req.UsedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid used_at, expected YYYY-MM-DD", err)
		return
	}

	record, err := h.Engine.EditOutgoingLog(r.Context(), chi.URLParam(r, "id"), ledger.RecordEdit{
		Job:      req.Job,
		Customer: req.Customer,
		UsedAt:   usedAt,
		Items:    toLineItems(req.Items),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// DeleteLog removes a usage record by id.
func (h *Handler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN
// =============================================================================

// AdjustStock forces the on-hand count for one stock key.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	delta, err := h.Engine.ManualStockAdjust(r.Context(), req.MaterialType, req.Length, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"delta": delta})
}

// DeleteCategories cascades deletion of the named categories, their
// materials, and all associated units.
func (h *Handler) DeleteCategories(w http.ResponseWriter, r *http.Request) {
	var req DeleteCategoriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	deleted, err := h.Engine.DeleteCategoryCascade(r.Context(), req.Categories)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// =============================================================================
// MATERIAL MASTER
// =============================================================================

// ListMaterials returns the material master.
func (h *Handler) ListMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := h.Store.Materials(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list materials", err)
		return
	}
	dtos := make([]MaterialDTO, len(materials))
	for i, m := range materials {
		dtos[i] = toMaterialDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveMaterial creates or updates one material-master record.
func (h *Handler) SaveMaterial(w http.ResponseWriter, r *http.Request) {
	var req MaterialDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if req.Name == "" {
		writeDomainError(w, &ledger.ValidationError{Field: "name", Message: "name is required"})
		return
	}
	mat, err := toMaterial(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	err = h.Store.RunTransaction(r.Context(), func(tx ledger.Tx) error {
		return tx.PutMaterial(mat)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save material", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMaterialDTO(mat))
}

// GetConfig returns the externally-owned site configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Config)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := ErrorDTO{Error: msg}
	if err != nil {
		body.Detail = err.Error()
	}
	writeJSON(w, status, body)
}

// writeDomainError maps ledger errors to HTTP statuses and enriches the
// payload with shortfall details where available.
func writeDomainError(w http.ResponseWriter, err error) {
	var short *ledger.InsufficientStockError
	var editErr *ledger.EditReconciliationError
	var cascade *ledger.CascadeDeleteError

	switch {
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "validation failed", err)

	case errors.As(err, &editErr):
		body := ErrorDTO{
			Error:        "edit could not be reconciled",
			Detail:       err.Error(),
			MaterialType: editErr.Cause.Key.MaterialType,
			Length:       editErr.Cause.Key.Length,
			Requested:    editErr.Cause.Requested,
			Available:    editErr.Cause.Available,
		}
		writeJSON(w, http.StatusConflict, body)

	case errors.As(err, &short):
		body := ErrorDTO{
			Error:        "insufficient stock",
			Detail:       err.Error(),
			MaterialType: short.Key.MaterialType,
			Length:       short.Key.Length,
			Requested:    short.Requested,
			Available:    short.Available,
		}
		writeJSON(w, http.StatusConflict, body)

	case errors.As(err, &cascade):
		body := ErrorDTO{
			Error:       "cascade delete partially committed",
			Detail:      err.Error(),
			Committed:   cascade.CommittedChunks,
			TotalChunks: cascade.TotalChunks,
		}
		writeJSON(w, http.StatusInternalServerError, body)

	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)

	default:
		writeError(w, http.StatusInternalServerError, "operation failed", err)
	}
}
