// Package handlers exposes the delivery console API over HTTP.
//
// The handlers are a thin translation layer: they parse request inputs,
// call the cache coordinator, and shape its results with the view
// projector. All caching, optimistic-update, and rollback behavior lives
// in internal/cache; nothing here touches the backing service directly.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-delivery-console/internal/cache"
	"github.com/tbourn/go-delivery-console/internal/domain"
	"github.com/tbourn/go-delivery-console/internal/utils"
	"github.com/tbourn/go-delivery-console/internal/view"
)

// Coordinator is the surface the HTTP layer needs from the cache
// coordinator. Satisfied by *cache.Coordinator.
type Coordinator interface {
	Deliveries(ctx context.Context) cache.Result
	Refetch(ctx context.Context) error
	CreateDelivery(ctx context.Context, d domain.Delivery) (domain.Delivery, error)
	UpdateDelivery(ctx context.Context, id int64, patch domain.DeliveryPatch) (domain.Delivery, error)
	DeleteDelivery(ctx context.Context, id int64) error
}

// DeliveryHandler serves the /deliveries endpoints.
type DeliveryHandler struct {
	coord Coordinator
}

// NewDeliveryHandler wires a DeliveryHandler to its coordinator.
func NewDeliveryHandler(coord Coordinator) *DeliveryHandler {
	return &DeliveryHandler{coord: coord}
}

// listResponse is the paged list envelope returned by GET /deliveries.
type listResponse struct {
	Items     []domain.Delivery `json:"items"`
	Page      int               `json:"page"`
	PageCount int               `json:"page_count"`
	Total     int               `json:"total"`
	Stale     bool              `json:"stale"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// createRequest is the body accepted by POST /deliveries.
type createRequest struct {
	Date      string `json:"date"`
	Recipient string `json:"recipient"`
	Address   string `json:"address"`
	Status    string `json:"status"`
}

// updateRequest is the body accepted by PUT /deliveries/:id. Absent fields
// are left untouched.
type updateRequest struct {
	Date      *string `json:"date"`
	Recipient *string `json:"recipient"`
	Address   *string `json:"address"`
	Status    *string `json:"status"`
}

// List handles GET /deliveries. It serves the cached collection, filtered
// by the optional ?q= term and paged by ?page=, without forcing a refetch;
// stale data is served immediately while revalidation runs in the
// background.
func (h *DeliveryHandler) List(c *gin.Context) {
	res := h.coord.Deliveries(c.Request.Context())
	if res.Err != nil {
		failFromErr(c, res.Err)
		return
	}

	term := c.Query("q")
	page := utils.AtoiDefault(c.Query("page"), 1)

	p := view.Project(res.Data, term, page)
	ok(c, http.StatusOK, listResponse{
		Items:     p.Items,
		Page:      p.Page,
		PageCount: p.PageCount,
		Total:     p.Total,
		Stale:     res.Stale,
		FetchedAt: res.FetchedAt,
	})
}

// Summary handles GET /deliveries/summary: per-status counts over the full
// cached collection, ignoring any filter or paging.
func (h *DeliveryHandler) Summary(c *gin.Context) {
	res := h.coord.Deliveries(c.Request.Context())
	if res.Err != nil {
		failFromErr(c, res.Err)
		return
	}
	ok(c, http.StatusOK, view.Summarize(res.Data))
}

// Refresh handles POST /deliveries/refresh: a forced refetch that bypasses
// staleness checks, mirroring a user-initiated reload.
func (h *DeliveryHandler) Refresh(c *gin.Context) {
	if err := h.coord.Refetch(c.Request.Context()); err != nil {
		failFromErr(c, err)
		return
	}
	noContent(c)
}

// Create handles POST /deliveries. The record appears in the collection
// immediately; if the backing service rejects it the coordinator rolls the
// insertion back and the error is surfaced here.
func (h *DeliveryHandler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		failFromErr(c, err)
		return
	}

	created, err := h.coord.CreateDelivery(c.Request.Context(), domain.Delivery{
		Date:      req.Date,
		Recipient: req.Recipient,
		Address:   req.Address,
		Status:    status,
	})
	if err != nil {
		failFromErr(c, err)
		return
	}
	ok(c, http.StatusCreated, created)
}

// Update handles PUT /deliveries/:id with a partial body.
func (h *DeliveryHandler) Update(c *gin.Context) {
	id, okID := utils.ParseID(c.Param("id"))
	if !okID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid delivery id")
		return
	}

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	patch := domain.DeliveryPatch{
		Date:      req.Date,
		Recipient: req.Recipient,
		Address:   req.Address,
	}
	if req.Status != nil {
		status, err := domain.ParseStatus(*req.Status)
		if err != nil {
			failFromErr(c, err)
			return
		}
		patch.Status = &status
	}

	updated, err := h.coord.UpdateDelivery(c.Request.Context(), id, patch)
	if err != nil {
		failFromErr(c, err)
		return
	}
	ok(c, http.StatusOK, updated)
}

// Delete handles DELETE /deliveries/:id. Deleting an id that is not in the
// collection is a no-op and still answers 204.
func (h *DeliveryHandler) Delete(c *gin.Context) {
	id, okID := utils.ParseID(c.Param("id"))
	if !okID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid delivery id")
		return
	}

	if err := h.coord.DeleteDelivery(c.Request.Context(), id); err != nil {
		failFromErr(c, err)
		return
	}
	noContent(c)
}

// Health handles GET /healthz.
func Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}
