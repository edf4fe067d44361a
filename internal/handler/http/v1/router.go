package v1

import (
	"github.com/emergo/incident_dispatch_service/internal/feed"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1.
// Чтение и сообщения о происшествиях доступны по API-ключу,
// привилегированные действия диспетчера требуют bearer токен
func (h *Handler) RegisterRoutes(api *gin.RouterGroup, hub *feed.Hub) {
	// Маршрут Health-check
	api.GET("/system/health", h.healthCheck)

	authed := api.Group("", APIKeyAuthMiddleware(h.cfg, h.logger))
	dispatcher := JWTAuthMiddleware(h.cfg, h.logger)

	incidents := authed.Group("/incidents")
	{
		incidents.POST("/report", OptionalJWTAuthMiddleware(h.cfg), h.reportIncident)
		incidents.GET("", h.listIncidents)
		incidents.GET("/:id", h.getIncident)
		incidents.POST("/:id/verify", dispatcher, h.verifyIncident)
		incidents.POST("/:id/resolve", dispatcher, h.resolveIncident)
	}

	dispatch := authed.Group("/dispatch", dispatcher)
	{
		dispatch.POST("/preview", h.previewRoutes)
		dispatch.POST("", h.createDispatch)
	}

	units := authed.Group("/units")
	{
		units.GET("", h.listUnits)
		units.POST("", dispatcher, h.createUnit)
		units.POST("/:id/release", dispatcher, h.releaseUnit)
	}

	authed.GET("/audit", dispatcher, h.listAudit)

	// Подписка на ленту изменений (websocket)
	if hub != nil {
		authed.GET("/feed/ws", hub.HandleWS)
	}
}
