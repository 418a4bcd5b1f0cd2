package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Robinemad1/EEETrading/internal/model"
	"github.com/Robinemad1/EEETrading/pkg/apierror"
	"github.com/Robinemad1/EEETrading/pkg/response"
)

// InventoryHandler handles inventory and synchronization requests.
type InventoryHandler struct {
	inventory InventoryService
	sync      SyncController
	tokens    TokenService
	logger    *slog.Logger
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(inventory InventoryService, sync SyncController, tokens TokenService, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{
		inventory: inventory,
		sync:      sync,
		tokens:    tokens,
		logger:    logger,
	}
}

// List handles GET /api/v1/inventory
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.ListItems(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.OK(w, items)
}

// Create handles POST /api/v1/inventory
func (h *InventoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.NewInventoryItem
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}

	item, err := h.inventory.CreateItem(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.Created(w, item)
}

// QuantityRequest is the body of a single quantity change.
type QuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// UpdateQuantity handles PUT /api/v1/inventory/{id}/quantity
func (h *InventoryHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, apierror.BadRequest("id must be a positive integer"))
		return
	}

	var req QuantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.Quantity == nil {
		response.Error(w, apierror.ValidationError("quantity is required",
			apierror.FieldError{Field: "quantity", Message: "required"}))
		return
	}

	result, err := h.inventory.UpdateQuantity(r.Context(), id, *req.Quantity)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	message := "Quantity updated and synced"
	if !result.Synced {
		message = "Quantity updated locally; sync failed"
	}
	response.Message(w, http.StatusOK, message, result)
}

// BatchRequest is the body of a batch quantity change.
type BatchRequest struct {
	Updates []model.QuantityUpdate `json:"updates"`
}

// BatchUpdate handles POST /api/v1/inventory/batch-update
func (h *InventoryHandler) BatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.Updates == nil {
		response.Error(w, apierror.BadRequest("updates must be an array"))
		return
	}

	result := h.inventory.BatchUpdate(r.Context(), req.Updates)
	response.Message(w, http.StatusOK, "Batch update completed", result)
}

// SyncRequest optionally limits a manual pass to some items.
type SyncRequest struct {
	ItemIDs []int64 `json:"item_ids"`
}

// TriggerSync handles POST /api/v1/inventory/sync
func (h *InventoryHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		response.Error(w, err)
		return
	}

	outcome, err := h.sync.TriggerNow(r.Context(), req.ItemIDs)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if outcome.Skipped {
		// Not queued: the running pass already covers the request.
		response.Message(w, http.StatusOK, "A sync pass is already running; request skipped", outcome)
		return
	}

	response.Message(w, http.StatusOK, "Manual sync completed", outcome)
}

// DashboardResponse combines everything the sync dashboard shows.
type DashboardResponse struct {
	Stats     *model.SyncStats      `json:"stats"`
	Scheduler model.SchedulerStatus `json:"scheduler"`
	Token     *model.TokenStatus    `json:"token,omitempty"`
}

// Dashboard handles GET /api/v1/inventory/sync/dashboard
func (h *InventoryHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.inventory.SyncStats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := DashboardResponse{Stats: stats, Scheduler: h.sync.Status()}
	if h.tokens != nil {
		if status, err := h.tokens.Status(r.Context()); err == nil {
			resp.Token = status
		} else {
			h.logger.Warn("reading token status", slog.String("error", err.Error()))
		}
	}

	response.OK(w, resp)
}
