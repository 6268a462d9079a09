package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/skin-analysis/internal/codec"
	"github.com/example/skin-analysis/internal/collector"
	"github.com/example/skin-analysis/internal/correction"
	"github.com/example/skin-analysis/internal/demographics"
	"github.com/example/skin-analysis/internal/pipeline"
	"github.com/example/skin-analysis/internal/session"
)

// MaxUploadSize is the default limit for gallery uploads.
const MaxUploadSize = codec.DefaultMaxBytes

// Options configures Handler.
type Options struct {
	Orchestrator *pipeline.Orchestrator
	Issuer       *session.Issuer
	Collector    collector.Sender
	MaxBytes     int
	// Metrics, when set, is served on GET /metrics.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Handler serves the session API used by the capture screens.
type Handler struct {
	orchestrator *pipeline.Orchestrator
	issuer       *session.Issuer
	collector    collector.Sender
	maxBytes     int
	metrics      http.Handler
	logger       *zap.Logger
}

// New builds a Handler.
func New(opts Options) *Handler {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = MaxUploadSize
	}
	return &Handler{
		orchestrator: opts.Orchestrator,
		issuer:       opts.Issuer,
		collector:    opts.Collector,
		maxBytes:     opts.MaxBytes,
		metrics:      opts.Metrics,
		logger:       opts.Logger.Named("handlers"),
	}
}

type profileRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

type cameraRequest struct {
	Image string `json:"image" binding:"required"`
}

type selectRequest struct {
	Category string `json:"category" binding:"required"`
	Value    string `json:"value" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handler, sessionMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}
	router.GET("/metrics/summary", h.metricsSummary)
	router.POST("/session", h.createSession)

	scoped := router.Group("/", sessionMiddleware)
	scoped.GET("/profile", h.getProfile)
	scoped.PUT("/profile", h.updateProfile)
	scoped.POST("/profile/submit", h.submitProfile)
	scoped.POST("/capture/camera", h.captureCamera)
	scoped.POST("/capture/gallery", h.captureGallery)
	scoped.DELETE("/capture", h.retake)
	scoped.GET("/analysis", h.getAnalysis)
	scoped.GET("/correction", h.getCorrection)
	scoped.POST("/correction/select", h.selectCorrection)
	scoped.POST("/correction/reset", h.resetCorrection)
	scoped.POST("/correction/confirm", h.confirmCorrection)
}

func (h *Handler) createSession(c *gin.Context) {
	token, id, err := h.issuer.Issue()
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start session"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "session_id": id})
}

func (h *Handler) getProfile(c *gin.Context) {
	sess := mustSession(c)
	profile, _ := sess.Store.LoadProfile(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"profile": profile, "locked": sess.ProfileLocked()})
}

// updateProfile persists partial input so a reload restores it.
func (h *Handler) updateProfile(c *gin.Context) {
	sess := mustSession(c)
	if sess.ProfileLocked() {
		c.JSON(http.StatusConflict, gin.H{"error": "profile already submitted"})
		return
	}
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile"})
		return
	}
	profile := demographics.Profile{Name: req.Name, Location: req.Location}
	sess.Store.SaveProfile(c.Request.Context(), profile)
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (h *Handler) submitProfile(c *gin.Context) {
	sess := mustSession(c)
	if sess.ProfileLocked() {
		c.JSON(http.StatusConflict, gin.H{"error": "profile already submitted"})
		return
	}
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile"})
		return
	}
	profile := demographics.Profile{Name: req.Name, Location: req.Location}.Trimmed()
	if err := profile.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and location are required"})
		return
	}
	profile.CapturedAt = time.Now().UTC()

	sess.Store.SaveProfile(c.Request.Context(), profile)
	sess.LockProfile()
	if h.collector != nil {
		h.collector.Send(profile, collector.TypeUserInfo, "")
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile, "locked": true})
}

func (h *Handler) captureCamera(c *gin.Context) {
	// base64 inflates by 4/3; leave room for the data URI header and JSON.
	limit := int64(h.maxBytes)/3*4 + 4096
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
		return
	}

	src, err := codec.ParseDataURI(req.Image, codec.OriginCamera)
	if err != nil {
		h.writeCaptureError(c, err)
		return
	}
	h.analyze(c, src)
}

func (h *Handler) captureGallery(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > int64(h.maxBytes) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	h.analyze(c, codec.Source{
		Data:      data,
		MediaType: file.Header.Get("Content-Type"),
		Origin:    codec.OriginGallery,
	})
}

func (h *Handler) analyze(c *gin.Context, src codec.Source) {
	sess := mustSession(c)
	ctx := c.Request.Context()

	capture := pipeline.Capture{
		SessionID: sess.ID,
		Source:    src,
		Store:     sess.Store,
		Trigger:   sess.Trigger,
	}
	if profile, ok := sess.Store.LoadProfile(ctx); ok {
		capture.Profile = &profile
	}

	result, err := h.orchestrator.Analyze(ctx, capture)
	if err != nil {
		h.writeCaptureError(c, err)
		return
	}
	sess.Correction.InitFrom(result.Record)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) writeCaptureError(c *gin.Context, err error) {
	var (
		oversize  *codec.OversizeError
		media     *codec.UnsupportedMediaError
		malformed *codec.MalformedDataURIError
	)
	switch {
	case errors.As(err, &oversize):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.As(err, &media):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
	case errors.As(err, &malformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrCancelled):
		// The client is gone; there is nobody to answer.
		h.logger.Info("capture abandoned by client")
		c.Abort()
	default:
		h.logger.Error("analysis failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
	}
}

func (h *Handler) retake(c *gin.Context) {
	sess := mustSession(c)
	sess.Store.ClearAnalysis(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// getAnalysis returns the persisted pair. A session that reaches the
// analysis screen without a capture gets a synthesized record.
func (h *Handler) getAnalysis(c *gin.Context) {
	sess := mustSession(c)
	ctx := c.Request.Context()

	if rec, photo, ok := sess.Store.LoadAnalysis(ctx); ok {
		c.JSON(http.StatusOK, gin.H{"demographics": rec, "photo": photo})
		return
	}
	if rec, ok := sess.Store.LoadDemographics(ctx); ok {
		c.JSON(http.StatusOK, gin.H{"demographics": rec, "photo": ""})
		return
	}

	rec, err := h.orchestrator.Mocks().Generate(demographics.SourceMock)
	if err != nil {
		h.logger.Error("failed to synthesize record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis unavailable"})
		return
	}
	if err := sess.Store.SaveDemographics(ctx, rec); err != nil {
		h.logger.Error("failed to persist synthesized record", zap.Error(err))
	}
	sess.Correction.InitFrom(rec)
	c.JSON(http.StatusOK, gin.H{"demographics": rec, "photo": ""})
}

func (h *Handler) getCorrection(c *gin.Context) {
	sess := mustSession(c)
	rec, ok := sess.Store.LoadDemographics(c.Request.Context())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "nothing analysed yet"})
		return
	}
	if !sess.Correction.Seeded() {
		sess.Correction.InitFrom(rec)
	}
	c.JSON(http.StatusOK, gin.H{
		"selection": sess.Correction.Current(),
		"options":   correction.OptionsFor(rec),
	})
}

func (h *Handler) selectCorrection(c *gin.Context) {
	sess := mustSession(c)
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category and value are required"})
		return
	}
	selection, err := sess.Correction.Select(req.Category, req.Value)
	if errors.Is(err, correction.ErrUnknownCategory) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selection": selection})
}

func (h *Handler) resetCorrection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"selection": mustSession(c).Correction.Reset()})
}

func (h *Handler) confirmCorrection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"selection": mustSession(c).Correction.Confirm(), "confirmed": true})
}

func (h *Handler) metricsSummary(c *gin.Context) {
	summary, err := h.orchestrator.GetMetricsSummary(c.Request.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrMetricsUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to aggregate metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func mustSession(c *gin.Context) *session.Session {
	sess, ok := session.FromContext(c.Request.Context())
	if !ok {
		panic("handlers: session middleware not installed")
	}
	return sess
}
