// README: Base handler utilities (JSON helpers, domain error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"drillflow/internal/modules/conversation"
	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// DomainError is the HTTP rendering of a module error.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, http.StatusBadRequest, "BAD_REQUEST", msg)
}

// domainError maps err onto a status and a stable code. Unknown errors are
// internal and their text is not exposed.
func domainError(err error) DomainError {
	var verr *conversation.ValidationError
	switch {
	case errors.As(err, &verr):
		return DomainError{"VALIDATION_FAILED", verr.Message, http.StatusBadRequest}
	case errors.Is(err, order.ErrValidation):
		return DomainError{"VALIDATION_FAILED", err.Error(), http.StatusBadRequest}
	case errors.Is(err, user.ErrInvalidProfile):
		return DomainError{"INVALID_PROFILE", err.Error(), http.StatusBadRequest}
	case errors.Is(err, order.ErrNotFound):
		return DomainError{"ORDER_NOT_FOUND", err.Error(), http.StatusNotFound}
	case errors.Is(err, user.ErrNotFound):
		return DomainError{"USER_NOT_FOUND", err.Error(), http.StatusNotFound}
	case errors.Is(err, order.ErrForbidden):
		return DomainError{"FORBIDDEN", err.Error(), http.StatusForbidden}
	case errors.Is(err, user.ErrNotContractor):
		return DomainError{"NOT_CONTRACTOR", err.Error(), http.StatusForbidden}
	case errors.Is(err, order.ErrAlreadyTaken):
		return DomainError{"ALREADY_TAKEN", err.Error(), http.StatusConflict}
	case errors.Is(err, order.ErrInvalidState):
		return DomainError{"INVALID_STATE", err.Error(), http.StatusConflict}
	case errors.Is(err, order.ErrConflict):
		return DomainError{"CONFLICT", err.Error(), http.StatusConflict}
	case errors.Is(err, user.ErrRoleChange):
		return DomainError{"ROLE_CHANGE", err.Error(), http.StatusConflict}
	}
	return DomainError{"INTERNAL", "internal error", http.StatusInternalServerError}
}

func writeDomainError(c *gin.Context, err error) {
	d := domainError(err)
	if d.HTTPStatus == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	writeError(c, d.HTTPStatus, d.Code, d.Message)
}

type pointBody struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (p pointBody) point() (types.Point, bool) {
	if p.Lat == nil || p.Lng == nil {
		return types.Point{}, false
	}
	return types.Point{Lat: *p.Lat, Lng: *p.Lng}, true
}
