// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"drillflow/internal/http/handlers"
	"drillflow/internal/http/middleware"
	"drillflow/internal/infra"
	"drillflow/internal/modules/conversation"
	"drillflow/internal/modules/dispatch"
	"drillflow/internal/modules/user"
)

type RouterDeps struct {
	Coordinator *dispatch.Coordinator
	Users       *user.Service
	Verifier    infra.TokenVerifier
	// Classifier is optional; without it /api/services/classify only
	// recognises catalogue spellings.
	Classifier conversation.ServiceClassifier
	Logger     *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger), middleware.Logging(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	users := handlers.NewUserHandler(deps.Users)
	api.POST("/users/me", users.Register)
	api.GET("/users/me", users.Me)

	orders := handlers.NewOrderHandler(deps.Coordinator)
	api.POST("/orders", orders.Create)
	api.GET("/orders", orders.List)
	api.GET("/orders/:id", orders.Get)
	api.POST("/orders/:id/accept", orders.Accept)
	api.POST("/orders/:id/decline", orders.Decline)
	api.POST("/orders/:id/start", orders.Start)
	api.POST("/orders/:id/complete", orders.Complete)
	api.POST("/orders/:id/cancel", orders.Cancel)
	api.POST("/orders/:id/rate", orders.Rate)

	contractors := handlers.NewContractorHandler(deps.Coordinator)
	api.PUT("/contractors/me/location", contractors.UpdateLocation)
	api.PUT("/contractors/me/availability", contractors.SetAvailability)
	api.GET("/contractors/me/nearby-orders", contractors.NearbyOrders)

	ai := handlers.NewAIHandler(deps.Classifier)
	api.POST("/services/classify", ai.Classify)

	return r
}
