package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/songyu-ren/xagent/pkg/agent/orchestrator"
	"github.com/songyu-ren/xagent/pkg/queue"
)

// renderAction writes an orchestrator ActionResult as JSON.
func renderAction(c *gin.Context, result orchestrator.ActionResult) {
	body := gin.H{"message": result.Message}
	if result.Report != nil {
		body["policy_report"] = result.Report
	}
	if result.Draft != nil {
		body["draft"] = gin.H{
			"id":         result.Draft.ID,
			"status":     result.Draft.Status,
			"final_text": result.Draft.FinalText,
			"created_at": result.Draft.CreatedAt,
			"expires_at": result.Draft.ExpiresAt,
		}
	}
	c.JSON(result.Code, body)
}

func (s *Server) handleApprove(c *gin.Context) {
	renderAction(c, s.orch.Approve(c.Request.Context(), c.Param("token")))
}

func (s *Server) handleSkip(c *gin.Context) {
	renderAction(c, s.orch.Skip(c.Request.Context(), c.Param("token")))
}

func (s *Server) handleView(c *gin.Context) {
	renderAction(c, s.orch.View(c.Request.Context(), c.Param("token")))
}

type editRequest struct {
	Texts []string `json:"texts" binding:"required"`
}

func (s *Server) handleEdit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_texts"})
		return
	}
	renderAction(c, s.orch.Edit(c.Request.Context(), c.Param("token"), req.Texts))
}

func (s *Server) handleRegenerate(c *gin.Context) {
	renderAction(c, s.orch.Regenerate(c.Request.Context(), c.Param("token")))
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}
	user, err := s.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	session, err := s.users.CreateSession(c.Request.Context(), user.ID, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.SetCookie(sessionCookie, session.ID, int(time.Until(session.ExpiresAt).Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"csrf_token": session.CSRFToken})
}

func (s *Server) handleLogout(c *gin.Context) {
	if sessionID, err := c.Cookie(sessionCookie); err == nil {
		_ = s.users.DeleteSession(c.Request.Context(), sessionID)
	}
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (s *Server) handleGenerateNow(c *gin.Context) {
	runID, err := s.pool.Enqueue("manual")
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run queue is full"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	s.audit(c, "generate_now", "", map[string]any{"run_id": runID})
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

func (s *Server) handleListDrafts(c *gin.Context) {
	since := time.Now().UTC().AddDate(0, 0, -14)
	drafts, err := s.drafts.ListRecent(c.Request.Context(), since, c.Query("status"), 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	out := make([]gin.H, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, gin.H{
			"id":         d.ID,
			"status":     d.Status,
			"created_at": d.CreatedAt,
			"expires_at": d.ExpiresAt,
			"final_text": d.FinalText,
		})
	}
	c.JSON(http.StatusOK, gin.H{"drafts": out})
}

func (s *Server) handleApproveByID(c *gin.Context) {
	result := s.orch.ApproveByDraftID(c.Request.Context(), c.Param("id"))
	s.audit(c, "approve", c.Param("id"), map[string]any{"code": result.Code})
	renderAction(c, result)
}

func (s *Server) handleResume(c *gin.Context) {
	result := s.orch.Resume(c.Request.Context(), c.Param("id"))
	s.audit(c, "resume", c.Param("id"), map[string]any{"code": result.Code})
	renderAction(c, result)
}

// audit records an admin action; failures only log.
func (s *Server) audit(c *gin.Context, action, draftID string, details map[string]any) {
	userID := c.GetString(contextKeyUserID)
	if userID == "" {
		return
	}
	if err := s.users.RecordAudit(c.Request.Context(), userID, action, draftID, c.ClientIP(), details); err != nil {
		slog.Warn("Failed to record audit log", "action", action, "error", err)
	}
}
