package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Robinemad1/EEETrading/internal/middleware"
	"github.com/Robinemad1/EEETrading/internal/model"
	"github.com/Robinemad1/EEETrading/internal/notify"
	"github.com/Robinemad1/EEETrading/internal/service"
	"github.com/Robinemad1/EEETrading/pkg/apierror"
	"github.com/Robinemad1/EEETrading/pkg/response"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// InventoryService is the local inventory surface used by handlers.
type InventoryService interface {
	CreateItem(ctx context.Context, in model.NewInventoryItem) (*model.InventoryItem, error)
	ListItems(ctx context.Context) ([]model.InventoryItem, error)
	UpdateQuantity(ctx context.Context, id int64, quantity int) (*model.QuantityUpdateResult, error)
	BatchUpdate(ctx context.Context, updates []model.QuantityUpdate) *model.BatchUpdateResult
	SyncStats(ctx context.Context) (*model.SyncStats, error)
}

// SyncController runs and reports reconciliation passes.
type SyncController interface {
	TriggerNow(ctx context.Context, itemIDs []int64) (*model.SyncOutcome, error)
	Status() model.SchedulerStatus
}

// TokenService manages the accounting system credential.
type TokenService interface {
	AuthorizeURL(state string) string
	Authorize(ctx context.Context, code, realmID string) (*model.Credential, error)
	Status(ctx context.Context) (*model.TokenStatus, error)
	Refresh(ctx context.Context) (*model.Credential, error)
}

// CatalogService reads the remote catalogue.
type CatalogService interface {
	Items(ctx context.Context) ([]model.RemoteItem, error)
	Item(ctx context.Context, remoteID string) (*model.RemoteItem, error)
	Accounts(ctx context.Context) (*model.AccountCatalog, error)
}

// ObserverStats reports observer channel activity.
type ObserverStats interface {
	Stats() notify.Stats
}

// errEmptyBody is returned by decodeJSON when the body has no content.
var errEmptyBody = apierror.BadRequest("request body is required")

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return apierror.BadRequest("invalid request body").WithCause(err)
	}
	return nil
}

// writeServiceError maps domain errors to API errors.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var apiErr *apierror.Error
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, service.ErrInvalidInput):
		apiErr = apierror.ValidationError(err.Error())
	case errors.Is(err, service.ErrItemNotFound):
		apiErr = apierror.NotFound("inventory item not found")
	case errors.Is(err, service.ErrNoCredential):
		apiErr = apierror.ServiceUnavailable("QuickBooks is not connected")
	case errors.Is(err, service.ErrRefreshFailed):
		apiErr = apierror.BadGateway("QuickBooks token refresh failed").WithCause(err)
	case errors.Is(err, service.ErrRemoteAuth):
		apiErr = apierror.BadGateway("QuickBooks rejected the credential").WithCause(err)
	case errors.Is(err, service.ErrRemoteItem):
		apiErr = apierror.BadGateway("QuickBooks rejected the item").WithCause(err)
	case errors.Is(err, service.ErrRemoteNotFound):
		apiErr = apierror.NotFound("QuickBooks has no such record")
	case errors.Is(err, service.ErrRemoteUnavailable):
		apiErr = apierror.BadGateway("QuickBooks request failed").WithCause(err)
	case errors.Is(err, service.ErrRemoteIDAssigned):
		apiErr = apierror.Conflict(err.Error())
	default:
		middleware.LoggerFrom(r.Context(), logger).Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apiErr = apierror.InternalError("")
	}
	response.Error(w, apiErr)
}
