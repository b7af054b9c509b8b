package httptransport

import (
	"context"
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroute/backend/internal/config"
	"mailroute/backend/internal/disposition"
	"mailroute/backend/internal/health"
	"mailroute/backend/internal/middleware"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/service"
)

// Disposer 处置引擎，供处置模拟接口使用
type Disposer interface {
	Decide(ctx context.Context, env disposition.Envelope) (*disposition.Decision, error)
	Execute(ctx context.Context, d *disposition.Decision) (*disposition.Outcome, error)
}

// Handler 聚合所有 HTTP 处理逻辑
type Handler struct {
	servers   *service.ServerService
	domains   *service.DomainService
	endpoints *service.EndpointService
	routes    *service.RouteService
	messages  *service.MessageService
	engine    Disposer
	logger    *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config    *config.Config
	Servers   *service.ServerService
	Domains   *service.DomainService
	Endpoints *service.EndpointService
	Routes    *service.RouteService
	Messages  *service.MessageService
	Engine    Disposer
	Health    *health.HealthChecker
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	mon := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(mon.PanicRecovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(mon.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.DynamicBodySizeLimit(map[string]int64{
		"/api/v1/servers/:server/dispositions": middleware.MessageBodyLimit,
	}, middleware.DefaultBodyLimit))

	origins := []string{"*"}
	if deps.Config != nil && len(deps.Config.CORS.AllowedOrigins) > 0 {
		origins = deps.Config.CORS.AllowedOrigins
	}
	corsConfig := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	h := &Handler{
		servers:   deps.Servers,
		domains:   deps.Domains,
		endpoints: deps.Endpoints,
		routes:    deps.Routes,
		messages:  deps.Messages,
		engine:    deps.Engine,
		logger:    logger,
	}

	// 健康检查与指标
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	v1 := router.Group("/api/v1")
	{
		// ========== 组织与服务器 ==========
		v1.POST("/organizations", h.createOrganization)
		v1.GET("/organizations/:org", h.getOrganization)
		v1.POST("/organizations/:org/servers", h.createServer)
		v1.GET("/servers", h.listServers)

		server := v1.Group("/servers/:server")
		server.Use(h.requireServer)
		{
			server.GET("", h.getServer)
			server.PATCH("", h.updateServer)

			// ========== 域名 ==========
			server.POST("/domains", h.createDomain)
			server.GET("/domains", h.listDomains)
			server.GET("/domains/:id", h.getDomain)
			server.POST("/domains/:id/verify", h.verifyDomain)
			server.DELETE("/domains/:id", h.deleteDomain)

			// ========== 投递端点 ==========
			server.POST("/http_endpoints", h.createHTTPEndpoint)
			server.GET("/http_endpoints", h.listHTTPEndpoints)
			server.GET("/http_endpoints/:id", h.getEndpoint(endpointHTTP))
			server.PUT("/http_endpoints/:id", h.updateHTTPEndpoint)
			server.DELETE("/http_endpoints/:id", h.deleteEndpoint(endpointHTTP))

			server.POST("/smtp_endpoints", h.createSMTPEndpoint)
			server.GET("/smtp_endpoints", h.listSMTPEndpoints)
			server.GET("/smtp_endpoints/:id", h.getEndpoint(endpointSMTP))
			server.PUT("/smtp_endpoints/:id", h.updateSMTPEndpoint)
			server.DELETE("/smtp_endpoints/:id", h.deleteEndpoint(endpointSMTP))

			server.POST("/address_endpoints", h.createAddressEndpoint)
			server.GET("/address_endpoints", h.listAddressEndpoints)
			server.GET("/address_endpoints/:id", h.getEndpoint(endpointAddress))
			server.PUT("/address_endpoints/:id", h.updateAddressEndpoint)
			server.DELETE("/address_endpoints/:id", h.deleteEndpoint(endpointAddress))

			// ========== 路由 ==========
			server.POST("/routes", h.createRoute)
			server.GET("/routes", h.listRoutes)
			server.GET("/routes/:id", h.getRoute)
			server.PUT("/routes/:id", h.updateRoute)
			server.DELETE("/routes/:id", h.deleteRoute)
			server.POST("/routes/:id/additional_endpoints", h.addAdditionalEndpoint)
			server.GET("/routes/:id/additional_endpoints", h.listAdditionalEndpoints)
			server.DELETE("/routes/:id/additional_endpoints/:binding", h.removeAdditionalEndpoint)

			// ========== 邮件 ==========
			server.POST("/messages/:id/withdraw", h.withdrawMessage)
			server.GET("/messages/:id/deliveries", h.listDeliveries)
			server.POST("/dispositions", h.simulateDisposition)
		}
	}

	return router
}

// requireServer 校验路径中的服务器存在，并放入上下文
func (h *Handler) requireServer(c *gin.Context) {
	server, err := h.servers.GetServer(c.Request.Context(), c.Param("server"))
	if err != nil {
		h.writeError(c, err)
		c.Abort()
		return
	}
	c.Set("server", server)
	c.Next()
}
