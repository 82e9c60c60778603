// README: Order handlers; every route acts as the authenticated caller.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"drillflow/internal/http/middleware"
	"drillflow/internal/modules/dispatch"
	"drillflow/internal/types"
)

type OrderHandler struct {
	coord *dispatch.Coordinator
}

func NewOrderHandler(coord *dispatch.Coordinator) *OrderHandler {
	return &OrderHandler{coord: coord}
}

type createOrderReq struct {
	ServiceType string `json:"service_type"`
	Address     string `json:"address"`
	Description string `json:"description"`
	pointBody
	// PriceRub is whole rubles; omitted means negotiable.
	PriceRub *int64     `json:"price_rub"`
	Deadline *time.Time `json:"deadline"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	f := dispatch.OrderFields{
		ServiceType: req.ServiceType,
		Address:     req.Address,
		Description: req.Description,
		Price:       priceFromRubles(req.PriceRub),
		Deadline:    req.Deadline,
	}
	if p, ok := req.point(); ok {
		f.Location = &p
	}
	o, err := h.coord.CreateOrder(c.Request.Context(), caller(c), f)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, newOrderView(o))
}

func (h *OrderHandler) List(c *gin.Context) {
	orders, err := h.coord.ListOrders(c.Request.Context(), caller(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"orders": newOrderViews(orders)})
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.coord.GetOrder(c.Request.Context(), caller(c), orderID(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newOrderView(o))
}

func (h *OrderHandler) Accept(c *gin.Context) {
	o, err := h.coord.AcceptOrder(c.Request.Context(), caller(c), orderID(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newOrderView(o))
}

func (h *OrderHandler) Decline(c *gin.Context) {
	if err := h.coord.DeclineOrder(c.Request.Context(), caller(c), orderID(c)); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "declined"})
}

func (h *OrderHandler) Start(c *gin.Context) {
	o, err := h.coord.StartOrder(c.Request.Context(), caller(c), orderID(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newOrderView(o))
}

type completeOrderReq struct {
	Rating *int `json:"rating"`
}

func (h *OrderHandler) Complete(c *gin.Context) {
	var req completeOrderReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json")
			return
		}
	}
	o, err := h.coord.CompleteOrder(c.Request.Context(), caller(c), orderID(c), req.Rating)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newOrderView(o))
}

type cancelOrderReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	var req cancelOrderReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json")
			return
		}
	}
	o, err := h.coord.CancelOrder(c.Request.Context(), caller(c), orderID(c), req.Reason)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newOrderView(o))
}

type rateOrderReq struct {
	Score *int `json:"score"`
}

func (h *OrderHandler) Rate(c *gin.Context) {
	var req rateOrderReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Score == nil {
		badRequest(c, "score is required")
		return
	}
	o, err := h.coord.RateOrder(c.Request.Context(), caller(c), orderID(c), *req.Score)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newOrderView(o))
}

func caller(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func orderID(c *gin.Context) types.ID {
	return types.ID(c.Param("id"))
}
