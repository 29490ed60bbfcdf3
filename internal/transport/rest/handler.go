// Package rest provides HTTP handlers for product-related operations.
package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	perrors "github.com/crawlkit/prodstore/internal/errors"
	"github.com/crawlkit/prodstore/internal/service"
	"github.com/crawlkit/prodstore/internal/store"
	"github.com/crawlkit/prodstore/pkg/model"
	"github.com/crawlkit/prodstore/pkg/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const defaultPageSize = 50

type Handler struct {
	service  service.ProductService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new instance of the product API with the provided service.
func NewHandler(service service.ProductService, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With("component", "rest"),
	}
}

// RegisterRoutes registers the HTTP routes for the product store.
func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1/products", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)

		r.Route("/batch", func(r chi.Router) {
			r.Get("/", h.FindBatch)
			r.Post("/", h.CreateBatch)
			r.Put("/", h.UpdateBatch)
			r.Delete("/", h.DeleteBatch)
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.FindByID)
			r.Put("/", h.Update)
			r.Delete("/", h.DeleteByID)
		})
	})

	r.Get("/healthz", h.HealthCheck)
}

// ListResponse is the paginated listing payload.
type ListResponse struct {
	Items  []model.Record `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// BatchResponse carries the IDs assigned by an atomic batch save.
type BatchResponse struct {
	IDs []string `json:"ids"`
}

// BatchItemsResponse carries the records returned by a batch get or update.
type BatchItemsResponse struct {
	Items []model.Record `json:"items"`
}

// FindByID retrieves a product by its ID.
func (h *Handler) FindByID(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.ParseID(w, r, mLogger)
	if !ok {
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to find product by ID", "ID", id)
	found, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, perrors.ErrProductNotFound) {
			mLogger.WarnContext(r.Context(), "Product not found", "ID", id)
			web.RespondError(w, mLogger, http.StatusNotFound, fmt.Sprintf("Product with ID %s not found", id))
			return
		}
		mLogger.ErrorContext(r.Context(), "Error retrieving product", "ID", id, "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve product with ID %s", id))
		return
	}
	mLogger.DebugContext(r.Context(), "Successfully retrieved product", "ID", found.ID, "Title", found.Title)
	web.RespondJSON(w, mLogger, http.StatusOK, found)
}

// List retrieves a page of products with optional filtering and sorting.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	limit, ok := web.ParseValidateGtOrDefault(r, w, mLogger, "limit", 0, defaultPageSize)
	if !ok {
		return
	}
	offset, ok := web.ParseValidateGteOrDefault(r, w, mLogger, "offset", 0, 0)
	if !ok {
		return
	}

	opts := store.ListOptions{
		Limit:     limit,
		Offset:    offset,
		SortBy:    r.URL.Query().Get("sort_by"),
		SortOrder: store.SortOrder(r.URL.Query().Get("sort_order")),
	}
	if brand := r.URL.Query().Get("brand"); brand != "" {
		opts.Filters = map[string]string{"brand": brand}
	}

	mLogger.DebugContext(r.Context(), "Received request to list products", "limit", limit, "offset", offset)
	records, total, err := h.service.List(r.Context(), opts)
	if err != nil {
		if errors.Is(err, perrors.ErrInvalidProduct) {
			mLogger.WarnContext(r.Context(), "Invalid list parameters", "error", err)
			web.RespondError(w, mLogger, http.StatusBadRequest, "Invalid sort parameters")
			return
		}
		mLogger.ErrorContext(r.Context(), "Error retrieving product list", "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to fetch products")
		return
	}
	mLogger.DebugContext(r.Context(), "Successfully retrieved product list", "count", len(records), "total", total)
	web.RespondJSON(w, mLogger, http.StatusOK, ListResponse{Items: records, Total: total, Limit: limit, Offset: offset})
}

// Create handles the creation of a new product.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var rec model.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		mLogger.ErrorContext(r.Context(), "Error decoding request body", "error", err)
		web.RespondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return
	}
	mLogger.DebugContext(r.Context(), "Received request to create product", "Title", rec.Title)
	if !h.validateRecord(w, r, mLogger, &rec) {
		return
	}

	saved, err := h.service.Save(r.Context(), rec)
	if err != nil {
		h.respondMutationError(w, r, mLogger, err, "Failed to create product")
		return
	}
	mLogger.InfoContext(r.Context(), "Product created successfully", "ID", saved.ID, "Title", saved.Title)
	web.RespondJSON(w, mLogger, http.StatusCreated, saved)
}

// CreateBatch handles the atomic creation of a group of products: either all
// records are stored or none is.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var recs []model.Record
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		mLogger.ErrorContext(r.Context(), "Error decoding request body", "error", err)
		web.RespondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(recs) == 0 {
		web.RespondError(w, mLogger, http.StatusBadRequest, "Batch must contain at least one product")
		return
	}
	for i := range recs {
		if !h.validateRecord(w, r, mLogger, &recs[i]) {
			return
		}
	}

	mLogger.DebugContext(r.Context(), "Received request to create product batch", "count", len(recs))
	ids, err := h.service.SaveBatch(r.Context(), recs)
	if err != nil {
		h.respondMutationError(w, r, mLogger, err, "Failed to create product batch")
		return
	}
	mLogger.InfoContext(r.Context(), "Product batch created successfully", "count", len(ids))
	web.RespondJSON(w, mLogger, http.StatusCreated, BatchResponse{IDs: ids})
}

// FindBatch retrieves the products named by the comma-separated ids query
// parameter, in the given order. A single unknown ID fails the whole call.
func (h *Handler) FindBatch(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	ids := splitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		web.RespondError(w, mLogger, http.StatusBadRequest, "Query parameter ids must name at least one product")
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to find product batch", "count", len(ids))
	records, err := h.service.GetBatch(r.Context(), ids)
	if err != nil {
		if errors.Is(err, perrors.ErrProductNotFound) {
			mLogger.WarnContext(r.Context(), "Product not found in batch", "error", err)
			web.RespondError(w, mLogger, http.StatusNotFound, "One or more products not found")
			return
		}
		mLogger.ErrorContext(r.Context(), "Error retrieving product batch", "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to retrieve product batch")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, BatchItemsResponse{Items: records})
}

// UpdateBatch atomically replaces a group of products: either every update
// applies or none does. Each record names its target through its id field.
func (h *Handler) UpdateBatch(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var recs []model.Record
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		mLogger.ErrorContext(r.Context(), "Error decoding request body", "error", err)
		web.RespondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(recs) == 0 {
		web.RespondError(w, mLogger, http.StatusBadRequest, "Batch must contain at least one product")
		return
	}
	for i := range recs {
		if recs[i].ID == "" {
			web.RespondError(w, mLogger, http.StatusBadRequest, "Every product in the batch must carry an id")
			return
		}
		if !h.validateRecord(w, r, mLogger, &recs[i]) {
			return
		}
	}

	mLogger.DebugContext(r.Context(), "Received request to update product batch", "count", len(recs))
	updated, err := h.service.UpdateBatch(r.Context(), recs)
	if err != nil {
		if errors.Is(err, perrors.ErrProductNotFound) {
			mLogger.WarnContext(r.Context(), "Product not found in batch", "error", err)
			web.RespondError(w, mLogger, http.StatusNotFound, "One or more products not found")
			return
		}
		h.respondMutationError(w, r, mLogger, err, "Failed to update product batch")
		return
	}
	mLogger.InfoContext(r.Context(), "Product batch updated successfully", "count", len(updated))
	web.RespondJSON(w, mLogger, http.StatusOK, BatchItemsResponse{Items: updated})
}

// DeleteBatch atomically removes the products named by the comma-separated
// ids query parameter: either every product is deleted or none is.
func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	ids := splitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		web.RespondError(w, mLogger, http.StatusBadRequest, "Query parameter ids must name at least one product")
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to delete product batch", "count", len(ids))
	if err := h.service.DeleteBatch(r.Context(), ids); err != nil {
		if errors.Is(err, perrors.ErrProductNotFound) {
			mLogger.WarnContext(r.Context(), "Product not found in batch", "error", err)
			web.RespondError(w, mLogger, http.StatusNotFound, "One or more products not found")
			return
		}
		mLogger.ErrorContext(r.Context(), "Error deleting product batch", "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to delete product batch")
		return
	}
	mLogger.InfoContext(r.Context(), "Product batch deleted successfully", "count", len(ids))
	w.WriteHeader(http.StatusNoContent)
}

// Update replaces an existing product.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.ParseID(w, r, mLogger)
	if !ok {
		return
	}
	mLogger.DebugContext(r.Context(), "Received request to update product", "ID", id)
	var rec model.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		mLogger.ErrorContext(r.Context(), "Error decoding request body", "error", err)
		web.RespondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !h.validateRecord(w, r, mLogger, &rec) {
		return
	}

	updated, err := h.service.Update(r.Context(), id, rec)
	if err != nil {
		if errors.Is(err, perrors.ErrProductNotFound) {
			mLogger.WarnContext(r.Context(), "Product not found", "ID", id)
			web.RespondError(w, mLogger, http.StatusNotFound, fmt.Sprintf("Product with ID %s not found", id))
			return
		}
		h.respondMutationError(w, r, mLogger, err, fmt.Sprintf("Failed to update product with ID %s", id))
		return
	}
	mLogger.InfoContext(r.Context(), "Product updated successfully", "ID", id)
	web.RespondJSON(w, mLogger, http.StatusOK, updated)
}

// DeleteByID removes a product by its ID.
func (h *Handler) DeleteByID(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.ParseID(w, r, mLogger)
	if !ok {
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to delete product", "ID", id)
	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, perrors.ErrProductNotFound) {
			mLogger.WarnContext(r.Context(), "Product not found", "ID", id)
			web.RespondError(w, mLogger, http.StatusNotFound, fmt.Sprintf("Product with ID %s not found", id))
			return
		}
		mLogger.ErrorContext(r.Context(), "Error deleting product", "ID", id, "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, fmt.Sprintf("Failed to delete product with ID %s", id))
		return
	}
	mLogger.InfoContext(r.Context(), "Product deleted successfully", "ID", id)
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck responds with 200 OK when the service is up.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// validateRecord validates a decoded record and writes a field-level error
// response on failure. Returns true when the record is valid.
func (h *Handler) validateRecord(w http.ResponseWriter, r *http.Request, mLogger *slog.Logger, rec *model.Record) bool {
	if err := h.validate.Struct(rec); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			errorResponse := make(map[string]string)
			for _, fieldErr := range validationErrors {
				errorResponse[fieldErr.Field()] = "failed on rule: " + fieldErr.Tag()
			}
			mLogger.WarnContext(r.Context(), "Validation errors occurred", "errors", errorResponse)
			web.RespondJSON(w, mLogger, http.StatusBadRequest, map[string]any{"validation_errors": errorResponse})
			return false
		}
		mLogger.ErrorContext(r.Context(), "Error validating request body", "error", err)
		web.RespondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// respondMutationError maps store errors from save/update paths onto HTTP
// statuses: duplicates are conflicts, validation failures are bad requests,
// everything else is an internal error.
func (h *Handler) respondMutationError(w http.ResponseWriter, r *http.Request, mLogger *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, perrors.ErrDuplicateProduct):
		mLogger.WarnContext(r.Context(), "Duplicate product", "error", err)
		web.RespondError(w, mLogger, http.StatusConflict, "Product already exists")
	case errors.Is(err, perrors.ErrInvalidProduct):
		mLogger.WarnContext(r.Context(), "Invalid product", "error", err)
		web.RespondError(w, mLogger, http.StatusBadRequest, "Invalid product data")
	default:
		mLogger.ErrorContext(r.Context(), fallback, "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, fallback)
	}
}

// splitIDs parses a comma-separated ids query parameter, dropping empty
// segments.
func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// loggerWithReqID returns a logger with the request ID attached.
func (h *Handler) loggerWithReqID(r *http.Request) *slog.Logger {
	if reqID, ok := web.GetRequestID(r.Context()); ok {
		return h.logger.With("request_id", reqID)
	}
	return h.logger
}
