package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"checkin-service/internal/feed"
	"checkin-service/internal/models"
	"checkin-service/internal/service"
	"checkin-service/internal/util"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AttemptLog reads back the durable attempt log for rebuilds
type AttemptLog interface {
	ListAttemptsByEvent(ctx context.Context, eventID string) ([]models.CheckInAttempt, error)
}

// Handler contains HTTP handlers
type Handler struct {
	redemption *service.RedemptionService
	alerts     *service.AlertEngine
	stats      *service.StatsAggregator
	staff      *service.StaffTracker
	publisher  *feed.Publisher
	log        AttemptLog
}

// NewHandler creates a new HTTP handler
func NewHandler(
	redemption *service.RedemptionService,
	alerts *service.AlertEngine,
	stats *service.StatsAggregator,
	staff *service.StaffTracker,
	publisher *feed.Publisher,
	log AttemptLog,
) *Handler {
	return &Handler{
		redemption: redemption,
		alerts:     alerts,
		stats:      stats,
		staff:      staff,
		publisher:  publisher,
		log:        log,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/scan", h.scan)
		v1.GET("/events/:id/stats", h.getStats)
		v1.GET("/events/:id/alerts", h.listAlerts)
		v1.GET("/events/:id/staff", h.getStaffPerformance)
		v1.GET("/events/:id/snapshot", h.getSnapshot)
		v1.GET("/events/:id/live", h.subscribe)
		v1.PUT("/events/:id/alert-policy", h.setAlertPolicy)
		v1.POST("/events/:id/alerts/resolve", h.resolveAllAlerts)
		v1.POST("/events/:id/rebuild", h.rebuild)
		v1.DELETE("/events/:id", h.closeEvent)
		v1.POST("/alerts/:id/resolve", h.resolveAlert)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// scan adjudicates one check-in attempt. INVALID and DUPLICATE are 200s:
// they are answers, not failures.
func (h *Handler) scan(c *gin.Context) {
	var req service.ScanRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyToken == "" {
		req.IdempotencyToken = c.GetHeader("Idempotency-Key")
	}

	result, err := h.redemption.AttemptCheckIn(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to process scan",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// getStats returns the live stats snapshot for an event
func (h *Handler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.GetStats(c.Param("id")))
}

// listAlerts returns an event's alerts newest-first
func (h *Handler) listAlerts(c *gin.Context) {
	includeResolved, _ := strconv.ParseBool(c.DefaultQuery("include_resolved", "false"))

	alerts, err := h.alerts.ListAlerts(c.Request.Context(), c.Param("id"), includeResolved)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list alerts",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// getStaffPerformance returns per-staff counters for an event
func (h *Handler) getStaffPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"staff_performance": h.staff.GetStaffPerformance(c.Param("id")),
	})
}

// getSnapshot returns the combined pull-refresh payload dashboards poll as
// a backstop to their live subscription
func (h *Handler) getSnapshot(c *gin.Context) {
	eventID := c.Param("id")

	alerts, err := h.alerts.ListAlerts(c.Request.Context(), eventID, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to build snapshot",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.Snapshot{
		Stats:            h.stats.GetStats(eventID),
		Alerts:           alerts,
		StaffPerformance: h.staff.GetStaffPerformance(eventID),
		TakenAt:          time.Now(),
	})
}

// subscribe upgrades to a WebSocket and streams attempt/alert/stat deltas
func (h *Handler) subscribe(c *gin.Context) {
	eventID := c.Param("id")

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	deltas := h.publisher.Subscribe(eventID)
	defer h.publisher.Unsubscribe(eventID, deltas)

	feed.WritePump(c.Request.Context(), conn, deltas)
}

// resolveAlert marks a single alert resolved (idempotent)
func (h *Handler) resolveAlert(c *gin.Context) {
	alert, err := h.alerts.ResolveAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Alert not found",
			"details": err.Error(),
		})
		return
	}

	h.publisher.Publish(alert.EventID, feed.Delta{
		Kind:        feed.DeltaAlert,
		AlertChange: "resolved",
		Alert:       alert,
	})

	c.JSON(http.StatusOK, gin.H{"resolved": true, "alert_id": alert.ID})
}

// resolveAllAlerts marks every open alert for an event resolved. This is
// the audit-preserving form of the dashboard's "clear all": nothing is
// deleted, history stays queryable with include_resolved=true.
func (h *Handler) resolveAllAlerts(c *gin.Context) {
	ids, err := h.alerts.ResolveAll(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to resolve alerts",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"resolved": true, "count": len(ids)})
}

// setAlertPolicy overrides an event's escalation thresholds
func (h *Handler) setAlertPolicy(c *gin.Context) {
	var policy models.AlertPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.alerts.SetPolicy(c.Param("id"), policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid policy",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, policy)
}

// rebuild replays an event's attempt log into the aggregators, discarding
// their incremental state. Safe at any time; the log is the truth.
func (h *Handler) rebuild(c *gin.Context) {
	eventID := c.Param("id")

	attempts, err := h.log.ListAttemptsByEvent(c.Request.Context(), eventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read attempt log",
			"details": err.Error(),
		})
		return
	}

	h.stats.Replay(eventID, attempts)
	h.staff.Replay(eventID, attempts)

	c.JSON(http.StatusOK, gin.H{"replayed": len(attempts)})
}

// closeEvent tears down per-event state once the check-in window closes.
// Durable data (tickets, attempts, alerts) is untouched.
func (h *Handler) closeEvent(c *gin.Context) {
	eventID := c.Param("id")

	h.stats.CloseEvent(eventID)
	h.staff.CloseEvent(eventID)
	h.alerts.CloseEvent(eventID)
	h.publisher.CloseEvent(eventID)

	c.JSON(http.StatusOK, gin.H{"closed": true})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
