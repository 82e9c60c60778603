// README: Contractor self-service handlers: location, availability, nearby orders.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"drillflow/internal/modules/dispatch"
	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
)

type ContractorHandler struct {
	coord *dispatch.Coordinator
}

func NewContractorHandler(coord *dispatch.Coordinator) *ContractorHandler {
	return &ContractorHandler{coord: coord}
}

func (h *ContractorHandler) UpdateLocation(c *gin.Context) {
	var req pointBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	p, ok := req.point()
	if !ok {
		badRequest(c, "lat and lng are required")
		return
	}
	if err := h.coord.UpdateContractorLocation(c.Request.Context(), caller(c), p); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

type availabilityReq struct {
	Availability string `json:"availability"`
}

func (h *ContractorHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	a, err := user.ParseAvailability(req.Availability)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.coord.SetAvailability(c.Request.Context(), caller(c), a); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"availability": a})
}

// NearbyOrders handles GET /api/contractors/me/nearby-orders?radius_km=.
// A missing radius uses the contractor's work radius.
func (h *ContractorHandler) NearbyOrders(c *gin.Context) {
	var radius float64
	if raw := c.Query("radius_km"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 {
			writeDomainError(c, fmt.Errorf("%w: radius_km=%q", order.ErrBadRadius, raw))
			return
		}
		radius = r
	}
	orders, err := h.coord.SearchNearbyOrders(c.Request.Context(), caller(c), radius)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"orders": newOrderViews(orders)})
}
