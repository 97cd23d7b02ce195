// Package api is the reviewer and admin HTTP surface. Token-bearing links
// from the notifier hit the action endpoints directly; everything else
// requires an admin session.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/songyu-ren/xagent/pkg/agent/orchestrator"
	"github.com/songyu-ren/xagent/pkg/database"
	"github.com/songyu-ren/xagent/pkg/queue"
	"github.com/songyu-ren/xagent/pkg/services"
)

// sessionCookie is the admin session cookie name.
const sessionCookie = "xagent_session"

// Server wires the HTTP handlers to the orchestrator and services.
type Server struct {
	db            *database.Client
	orch          *orchestrator.Orchestrator
	pool          *queue.WorkerPool
	drafts        *services.DraftService
	users         *services.UserService
	authLimiter   *RateLimiter
	actionLimiter *RateLimiter
}

// NewServer creates the API server.
func NewServer(db *database.Client, orch *orchestrator.Orchestrator, pool *queue.WorkerPool, drafts *services.DraftService, users *services.UserService) *Server {
	return &Server{
		db:            db,
		orch:          orch,
		pool:          pool,
		drafts:        drafts,
		users:         users,
		authLimiter:   NewRateLimiter(10, time.Minute),
		actionLimiter: NewRateLimiter(60, time.Minute),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Token-bearing reviewer actions (out-of-band links).
	actions := router.Group("/", s.actionLimiter.Middleware())
	{
		actions.GET("/approve/:token", s.handleApprove)
		actions.GET("/skip/:token", s.handleSkip)
		actions.GET("/view/:token", s.handleView)
		actions.POST("/edit/:token", s.handleEdit)
		actions.POST("/regenerate/:token", s.handleRegenerate)
	}

	// Admin session surface.
	router.POST("/api/login", s.authLimiter.Middleware(), s.handleLogin)
	admin := router.Group("/api", s.requireSession())
	{
		admin.POST("/logout", s.handleLogout)
		admin.POST("/generate-now", s.handleGenerateNow)
		admin.GET("/drafts", s.handleListDrafts)
		admin.POST("/drafts/:id/approve", s.handleApproveByID)
		admin.POST("/drafts/:id/resume", s.handleResume)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB.DB)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
		"queue":    s.pool.Health(),
	})
}
