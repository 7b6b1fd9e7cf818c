package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wenwu/saas-platform/provisioning-service/internal/config"
	"github.com/wenwu/saas-platform/provisioning-service/internal/index"
	"github.com/wenwu/saas-platform/provisioning-service/internal/repository"
	"github.com/wenwu/saas-platform/provisioning-service/internal/service"
)

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	admin      *AdminHandler
	cfg        *config.Config
	db         *pgxpool.Pool
}

// 全局速率限制器: 每用户每分钟最多 30 次请求
var userRateLimiter = NewRateLimiter(30, time.Minute)

// Trial 速率限制器: 防止刷试用账号耗尽服务器资源
var trialRateLimiter = NewRateLimiter(5, time.Hour)

func NewServer(
	cfg *config.Config,
	db *pgxpool.Pool,
	provisioning *service.ProvisionService,
	scanner *service.Scanner,
	servers *repository.ServerRepository,
	idx *index.Index,
) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(MetricsMiddleware())

	s := &Server{
		router:  router,
		handler: NewHandler(provisioning, scanner, idx),
		admin:   NewAdminHandler(servers, provisioning),
		cfg:     cfg,
		db:      db,
		httpServer: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check, includes a database ping so orchestration restarts us
	// when the pool dies
	s.router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "degraded",
				"service": "provisioning-service",
				"error":   err.Error(),
			})
			return
		}
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "provisioning-service",
		})
	})

	// Prometheus scrape endpoint
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Internal API - called by the storefront
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		// Provisioning verbs
		internal.POST("/provision", s.handler.Provision)
		internal.POST("/renew", s.handler.Renew)
		internal.POST("/deprovision", s.handler.Deprovision)
		// 试用接口限速防滥用
		internal.POST("/trial", RateLimitMiddleware(trialRateLimiter), s.handler.Trial)

		// Account queries
		internal.GET("/accounts/:id", s.handler.GetAccount)
		internal.GET("/accounts/:id/logs", s.handler.GetAccountLogs)
		internal.GET("/exists", s.handler.AccountExists)
		internal.GET("/users/:user_id/accounts", s.handler.GetUserAccounts)

		// Operation tracking
		internal.GET("/operations", s.handler.GetOperations)
		internal.GET("/operations/:id", s.handler.GetOperation)

		// Manual scanner pass
		internal.POST("/sweep", s.handler.TriggerSweep)
	}

	// Admin API - server fleet management
	admin := s.router.Group("/api/admin")
	admin.Use(AdminAuthMiddleware(s.cfg.AdminAPIKey))
	{
		admin.POST("/servers", s.admin.CreateServer)
		admin.GET("/servers", s.admin.ListServers)
		admin.GET("/servers/:id", s.admin.GetServer)
		admin.PUT("/servers/:id", s.admin.UpdateServer)
		admin.DELETE("/servers/:id", s.admin.DeleteServer)

		admin.GET("/logs", s.admin.GetRecentLogs)
	}

	// User API - requires JWT authentication
	user := s.router.Group("/api/v1")
	user.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	user.Use(RateLimitMiddleware(userRateLimiter))
	{
		user.GET("/my/accounts", s.handler.GetMyAccounts)
		user.GET("/my/accounts/:id", s.handler.GetMyAccount)
		user.GET("/my/accounts/:id/qr", s.handler.GetMyAccountQR)
	}
}

// Run serves until Shutdown is called. A closed-server error is the normal
// shutdown path, not a failure.
func (s *Server) Run() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, bounded by ctx. Provisioning calls
// block on SSH sessions, so the caller should allow for the largest
// watchdog budget.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
