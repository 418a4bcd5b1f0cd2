package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Robinemad1/EEETrading/internal/model"
	"github.com/Robinemad1/EEETrading/pkg/response"
)

// CatalogHandler serves read-only views of the remote catalogue.
type CatalogHandler struct {
	catalog CatalogService
	logger  *slog.Logger
}

// NewCatalogHandler creates a new catalogue handler.
func NewCatalogHandler(catalog CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, logger: logger}
}

// RemoteItemsResponse is the body of the remote item listing.
type RemoteItemsResponse struct {
	Count int                `json:"count"`
	Items []model.RemoteItem `json:"items"`
}

// Items handles GET /api/v1/quickbooks/items
func (h *CatalogHandler) Items(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.Items(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.OK(w, RemoteItemsResponse{Count: len(items), Items: items})
}

// Item handles GET /api/v1/quickbooks/items/{id}
func (h *CatalogHandler) Item(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.Item(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.OK(w, item)
}

// Accounts handles GET /api/v1/quickbooks/accounts
func (h *CatalogHandler) Accounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.catalog.Accounts(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.OK(w, accounts)
}
