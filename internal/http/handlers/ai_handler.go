// README: Service classification handler (token-guarded Gemini call).
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"drillflow/internal/modules/conversation"
	"drillflow/internal/modules/user"
)

const classifyTimeout = 10 * time.Second

type AIHandler struct {
	classifier conversation.ServiceClassifier
}

func NewAIHandler(classifier conversation.ServiceClassifier) *AIHandler {
	return &AIHandler{classifier: classifier}
}

type classifyReq struct {
	Text string `json:"text"`
}

// Classify handles POST /api/services/classify. A catalogue spelling is
// answered directly; anything else costs the caller one AI token.
func (h *AIHandler) Classify(c *gin.Context) {
	var req classifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		badRequest(c, "missing text")
		return
	}
	if entry, ok := user.CatalogueEntry(text); ok {
		writeJSON(c, http.StatusOK, map[string]any{"service": entry})
		return
	}
	if h.classifier == nil {
		writeJSON(c, http.StatusOK, map[string]any{"service": nil, "catalogue": user.ServiceCatalogue})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), classifyTimeout)
	defer cancel()
	service, err := h.classifier.Classify(ctx, caller(c), text)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if service == "" {
		writeJSON(c, http.StatusOK, map[string]any{"service": nil, "catalogue": user.ServiceCatalogue})
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"service": service})
}
