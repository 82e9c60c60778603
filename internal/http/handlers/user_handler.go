// README: Dashboard account handlers; registration takes the role from the Firebase claim when present.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"drillflow/internal/http/middleware"
	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
)

type UserHandler struct {
	users *user.Service
}

func NewUserHandler(users *user.Service) *UserHandler {
	return &UserHandler{users: users}
}

type registerReq struct {
	Name            string   `json:"name"`
	Phone           string   `json:"phone"`
	Role            string   `json:"role"`
	Specializations []string `json:"specializations"`
	RadiusKm        float64  `json:"radius_km"`
}

// Register handles POST /api/users/me. A role claim on the token decides the
// role; without one the body may ask for client or contractor. Admins exist
// only through the claim.
func (h *UserHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	role, err := registrationRole(user.Role(middleware.CallerRole(c)), user.Role(req.Role))
	if err != nil {
		writeDomainError(c, err)
		return
	}

	cmd := user.RegisterCommand{
		ID:       caller(c),
		Name:     req.Name,
		Phone:    req.Phone,
		Role:     role,
		RadiusKm: req.RadiusKm,
	}
	if role == user.RoleContractor && len(req.Specializations) > 0 {
		specs, err := user.ParseSpecializations(strings.Join(req.Specializations, ","))
		if err != nil {
			writeDomainError(c, err)
			return
		}
		cmd.Specializations = specs
	}
	u, err := h.users.Register(c.Request.Context(), cmd)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, newUserView(u, nil))
}

func registrationRole(claim, requested user.Role) (user.Role, error) {
	if claim != "" {
		if requested != "" && requested != claim {
			return "", order.ErrForbidden
		}
		return claim, nil
	}
	switch requested {
	case user.RoleClient, user.RoleContractor:
		return requested, nil
	case "":
		return user.RoleClient, nil
	}
	return "", order.ErrForbidden
}

// Me handles GET /api/users/me.
func (h *UserHandler) Me(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := h.users.Get(ctx, caller(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	var p *user.ContractorProfile
	if u.Role == user.RoleContractor {
		if p, err = h.users.Profile(ctx, u.ID); err != nil {
			writeDomainError(c, err)
			return
		}
	}
	writeJSON(c, http.StatusOK, newUserView(u, p))
}
