package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CharanRayudu/SentryAI/internal/mission"
	"github.com/CharanRayudu/SentryAI/internal/store"
)

// Handler adapts a Manager onto gin routes for the Control API. The
// route shape (resource-scoped handler struct, one method per verb,
// gin.H{"error": ...} error bodies) follows
// basegraphhq/basegraph's relay/internal/http/handler convention.
type Handler struct {
	mgr *Manager
}

// NewHandler wraps mgr for route registration.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

// Register mounts every Control API route onto router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	missions := router.Group("/missions")
	missions.POST("", h.create)
	missions.GET("", h.list)
	missions.GET("/:id", h.get)
	missions.POST("/:id/cancel", h.cancel)
	missions.POST("/:id/terminate", h.terminate)
	missions.POST("/:id/signal", h.signal)
	missions.DELETE("/:id", h.delete)
	missions.GET("/:id/findings", h.findings)
}

func (h *Handler) create(c *gin.Context) {
	var req CreateMissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.mgr.CreateMission(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"mission_id": rec.MissionID, "status": rec.Status})
}

func (h *Handler) list(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	var statuses []mission.Status
	if s := c.Query("status"); s != "" {
		statuses = append(statuses, mission.Status(s))
	}
	recs, err := h.mgr.ListMissions(c.Request.Context(), tenantID, statuses)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"missions": recs})
}

func (h *Handler) get(c *gin.Context) {
	rec, err := h.mgr.GetMission(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) findings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"findings": h.mgr.Findings(c.Param("id"))})
}

func (h *Handler) cancel(c *gin.Context) {
	if err := h.mgr.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancel requested"})
}

func (h *Handler) terminate(c *gin.Context) {
	if err := h.mgr.Terminate(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "terminate requested"})
}

func (h *Handler) signal(c *gin.Context) {
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.mgr.Signal(c.Request.Context(), c.Param("id"), req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "signal delivered"})
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.mgr.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "mission not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
