package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tinyhome/api/funnel"
	"tinyhome/api/models"
	"tinyhome/api/store"
	"tinyhome/api/utils"
)

const (
	sessionHeader = "X-Session-ID"
	sessionCookie = "funnel_session"
	// sessionMaxAge keeps a visitor's session cookie for 30 minutes of inactivity.
	sessionMaxAge = 30 * 60
)

type FunnelHandlers struct {
	Engine          *funnel.Engine
	Cache           *store.ReportCache
	AnalysisTimeout time.Duration
	logger          *zap.Logger
}

func NewFunnelHandlers(engine *funnel.Engine, cache *store.ReportCache, analysisTimeout time.Duration, logger *zap.Logger) *FunnelHandlers {
	return &FunnelHandlers{
		Engine:          engine,
		Cache:           cache,
		AnalysisTimeout: analysisTimeout,
		logger:          logger,
	}
}

// TrackStep records one funnel step for a visitor.
func (h *FunnelHandlers) TrackStep(c *gin.Context) {
	var req models.TrackEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = c.GetHeader(sessionHeader)
	}
	if sessionID == "" {
		sessionID, _ = c.Cookie(sessionCookie)
	}
	if sessionID == "" {
		sessionID = utils.GenerateSessionID()
	}
	c.SetCookie(sessionCookie, sessionID, sessionMaxAge, "/", "", false, true)

	requestContext := funnel.Metadata{
		"sessionId": sessionID,
		"userAgent": c.Request.UserAgent(),
		"referrer":  c.Request.Referer(),
		"ipAddress": c.ClientIP(),
		"source":    req.Source,
		"medium":    req.Medium,
		"campaign":  req.Campaign,
		"device":    req.Device,
		"location":  req.Location,
	}
	metadata := funnel.Metadata(req.Metadata).Merge(requestContext)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	result, err := h.Engine.Track(ctx, funnel.TrackRequest{
		UserID:    req.UserID,
		Step:      req.Step,
		SessionID: sessionID,
		Metadata:  metadata,
	})
	if err != nil {
		h.writeError(c, err, "Failed to record funnel event")
		return
	}

	c.JSON(http.StatusOK, result)
}

// AnalyzeFunnel returns the full funnel report for the requested window.
func (h *FunnelHandlers) AnalyzeFunnel(c *gin.Context) {
	opts := funnel.AnalyzeOptions{
		TimeRange:    c.DefaultQuery("timeRange", funnel.DefaultTimeRange),
		Segmentation: c.Query("segmentation"),
		CohortPeriod: c.DefaultQuery("cohortPeriod", string(funnel.CohortWeekly)),
	}
	if opts.Segmentation != "" && !utils.IsValidFieldName(opts.Segmentation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'segmentation' parameter. Use a metadata field name such as 'device'."})
		return
	}

	cacheKey := store.ReportCacheKey(opts.TimeRange, opts.CohortPeriod, opts.Segmentation)
	if cached, ok := h.Cache.Get(c.Request.Context(), cacheKey); ok {
		c.Header("X-Cache", "HIT")
		c.Data(http.StatusOK, "application/json; charset=utf-8", cached)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.AnalysisTimeout)
	defer cancel()

	report, err := h.Engine.AnalyzeFunnel(ctx, opts)
	if err != nil {
		h.writeError(c, err, "Failed to analyze funnel")
		return
	}

	payload, err := json.Marshal(report)
	if err != nil {
		h.logger.Error("Failed to encode funnel report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze funnel"})
		return
	}
	if len(report.Metadata.Unavailable) == 0 {
		h.Cache.SetAsync(cacheKey, payload)
	}

	c.Header("X-Cache", "MISS")
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

// MapUserJourney returns one visitor's journey.
func (h *FunnelHandlers) MapUserJourney(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.AnalysisTimeout)
	defer cancel()

	journey, err := h.Engine.MapUserJourney(ctx, c.Param("userId"))
	if err != nil {
		h.writeError(c, err, "Failed to map user journey")
		return
	}
	c.JSON(http.StatusOK, journey)
}

// ListSteps returns the funnel catalog.
func (h *FunnelHandlers) ListSteps(c *gin.Context) {
	reg := h.Engine.Registry()
	c.JSON(http.StatusOK, gin.H{
		"steps":       reg.Steps(),
		"primaryGoal": reg.PrimaryGoal(),
		"goals":       reg.Goals(),
	})
}

func (h *FunnelHandlers) writeError(c *gin.Context, err error, fallback string) {
	var stepErr *funnel.InvalidStepError
	switch {
	case errors.As(err, &stepErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown funnel step", "details": err.Error()})
	case errors.Is(err, funnel.ErrMissingUserID),
		errors.Is(err, funnel.ErrMissingStep),
		errors.Is(err, funnel.ErrInvalidMetadata),
		errors.Is(err, funnel.ErrInvalidTimeRange),
		errors.Is(err, funnel.ErrInvalidCohortPeriod):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
	case errors.Is(err, funnel.ErrNoJourney):
		c.JSON(http.StatusNotFound, gin.H{"error": "No journey found for user"})
	default:
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
