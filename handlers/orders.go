// Package handlers provides the HTTP surface of the order service under
// /api/v1/order.
//
//   - POST   /api/v1/order          – create; honours an Idempotency-Key header.
//   - GET    /api/v1/order          – list every order.
//   - DELETE /api/v1/order          – delete every order.
//   - GET    /api/v1/order/:orderID – get one order.
//   - PUT    /api/v1/order/:orderID – merge a partial order (same as PATCH).
//   - PATCH  /api/v1/order/:orderID – merge a partial order.
//   - DELETE /api/v1/order/:orderID – delete one order and return it.
//
// Person roles are written as identifiers (soldToID, billToID, shipToID) and
// read back as resolved person snapshots (soldTo, billTo, shipTo).
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arkantrust/order-service/apierr"
	"github.com/arkantrust/order-service/logger"
	"github.com/arkantrust/order-service/models"
)

// IdempotencyKeyHeader lets clients retry a create without duplicating it.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayHeader is set to "true" when a create was answered from an earlier
// request with the same idempotency key.
const ReplayHeader = "X-Idempotent-Replay"

// OrderService is the order consistency service the handlers call into.
type OrderService interface {
	Create(ctx context.Context, input models.OrderInput, idemKey string) (*models.Order, bool, error)
	List(ctx context.Context) ([]models.Order, error)
	Get(ctx context.Context, id string) (*models.Order, error)
	Update(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error)
	Delete(ctx context.Context, id string) (*models.Order, error)
	DeleteAll(ctx context.Context) error
}

// APIError is the body of an error response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps APIError as {"error": {...}}.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Handler holds the dependencies for the order HTTP handlers.
type Handler struct {
	orders OrderService
	log    *logger.Logger
}

// New creates a Handler backed by orders.
func New(orders OrderService, log *logger.Logger) *Handler {
	return &Handler{orders: orders, log: log}
}

// Register mounts the order routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api/v1/order")
	g.POST("", h.create)
	g.GET("", h.list)
	g.DELETE("", h.deleteAll)
	g.GET("/:orderID", h.get)
	g.PUT("/:orderID", h.update)
	g.PATCH("/:orderID", h.update)
	g.DELETE("/:orderID", h.delete)
}

// POST /api/v1/order
func (h *Handler) create(c *gin.Context) {
	var body models.OrderPatch
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, apierr.BadRequest(err))
		return
	}
	input, err := body.Input()
	if err != nil {
		h.fail(c, apierr.BadRequest(err))
		return
	}

	order, created, err := h.orders.Create(c.Request.Context(), input, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !created {
		c.Header(ReplayHeader, "true")
	}
	c.JSON(http.StatusOK, order)
}

// GET /api/v1/order
func (h *Handler) list(c *gin.Context) {
	orders, err := h.orders.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// GET /api/v1/order/:orderID
func (h *Handler) get(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), c.Param("orderID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// PUT|PATCH /api/v1/order/:orderID
func (h *Handler) update(c *gin.Context) {
	var patch models.OrderPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.fail(c, apierr.BadRequest(err))
		return
	}

	order, err := h.orders.Update(c.Request.Context(), c.Param("orderID"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// DELETE /api/v1/order/:orderID
func (h *Handler) delete(c *gin.Context) {
	order, err := h.orders.Delete(c.Request.Context(), c.Param("orderID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// DELETE /api/v1/order
func (h *Handler) deleteAll(c *gin.Context) {
	if err := h.orders.DeleteAll(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// fail writes err as an error envelope. Server-side faults and upstream
// failures get a fixed message; the detail only goes to the log.
func (h *Handler) fail(c *gin.Context, err error) {
	e := apierr.From(err)
	if !e.Public() || e.Message != "" {
		h.log.Error("request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", e.Code,
			"error", errors.Unwrap(e),
		)
	}
	_ = c.Error(err)
	c.JSON(e.Status, ErrorEnvelope{Error: APIError{Message: e.ClientMessage(), Code: e.Code}})
}

// Health answers liveness probes.
func Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
