package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

// NewRouter собирает gin engine с маршрутами API заказов.
func NewRouter(h *Handler, logger *log.Entry) *gin.Engine {
	if logger == nil {
		logger = h.logger
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(logger))
	engine.Use(cors.New(corsConfig()))
	engine.Use(gzip.Gzip(gzip.DefaultCompression))
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Code: "route_not_found", Message: "route not found"})
	})

	api := engine.Group("/api/v1", Identity())

	orders := api.Group("/orders")
	orders.POST("", RequireRole(domain.RoleCustomer, domain.RoleAdmin), h.PlaceOrder)
	orders.GET("", h.ListOrders)
	orders.GET("/:id", h.GetOrder)
	orders.PATCH("/:id", RequireRole(domain.RoleAdmin), h.UpdateOrder)
	orders.POST("/:id/cancel", RequireRole(domain.RoleCustomer, domain.RoleAdmin), h.CancelOrder)

	api.POST("/payments/status", RequireRole(domain.RoleGateway, domain.RoleAdmin), h.ReportPaymentStatus)

	return engine
}

// corsConfig разрешает браузерным клиентам передавать заголовки идентичности и идемпотентности.
func corsConfig() cors.Config {
	return cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", HeaderUserID, HeaderUserRole, HeaderIdempotencyKey, HeaderRequestID},
		ExposeHeaders:    []string{HeaderIdempotentReplayed, HeaderRequestID},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
}
