// Package httpapi assembles the gateway's HTTP surface: health probes, the
// subscription admin API, metrics and the subscriber WebSocket routes.
package httpapi

import (
	"net/http"

	"tradegateway/internal/microservices/http-api/handler"
	"tradegateway/internal/microservices/http-api/middleware"

	"github.com/gin-gonic/gin"
)

// RouteRegistrar mounts routes on the root router.
type RouteRegistrar interface {
	RegisterRoutes(r gin.IRouter)
}

type RouterConfig struct {
	Health        *handler.HealthHandler
	Subscriptions *handler.SubscriptionHandler
	Gateway       RouteRegistrar // /ws/all and /ws/:reference_id
	Metrics       http.Handler   // nil disables /metrics
	JWTSecret     string         // empty leaves /subscriptions open
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	cfg.Health.RegisterRoutes(r)

	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	subs := r.Group("/subscriptions")
	if cfg.JWTSecret != "" {
		subs.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	}
	cfg.Subscriptions.RegisterRoutes(subs)

	if cfg.Gateway != nil {
		cfg.Gateway.RegisterRoutes(r)
	}
	return r
}
