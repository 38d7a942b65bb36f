package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"cheonkimoon/internal/config"
	"cheonkimoon/internal/freesaju"
	"cheonkimoon/internal/metrics"
	"cheonkimoon/internal/prompt"
	"cheonkimoon/internal/provider"
	"cheonkimoon/internal/reading"
	"cheonkimoon/internal/session"
	"cheonkimoon/internal/stats"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	serviceMessage = "천기문 사주풀이 API"
	Version        = "1.0.0"
)

// Handler serves every HTTP route of the gateway.
type Handler struct {
	cfg      *config.Config
	reading  *reading.Service
	sessions *session.Store
	freeSaju *freesaju.Service
	stats    *stats.Manager
	limiter  *RateLimiter
	logger   *zap.Logger
}

func NewHandler(cfg *config.Config, rs *reading.Service, sessions *session.Store, fs *freesaju.Service, sm *stats.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		cfg:      cfg,
		reading:  rs,
		sessions: sessions,
		freeSaju: fs,
		stats:    sm,
		logger:   logger,
	}
	if cfg.RateLimit.Enabled {
		h.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
	}
	return h
}

// Limiter is nil when rate limiting is disabled.
func (h *Handler) Limiter() *RateLimiter { return h.limiter }

// NewRouter builds the engine with the ambient middleware and all routes.
func (h *Handler) NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.logger), metrics.Middleware())

	corsCfg := cors.DefaultConfig()
	if len(h.cfg.Server.AllowedOrigins) == 0 || contains(h.cfg.Server.AllowedOrigins, "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = h.cfg.Server.AllowedOrigins
		corsCfg.AllowCredentials = true
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Cache-Control", requestIDHeader}
	corsCfg.ExposeHeaders = []string{requestIDHeader}
	r.Use(cors.New(corsCfg))

	h.RegisterRoutes(r)
	return r
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.RootHandler)
	r.GET("/health", h.HealthHandler)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	llm := r.Group("/")
	if h.limiter != nil {
		llm.Use(h.limiter.Middleware())
	}
	{
		llm.POST("/full-reading-stream", h.variantStream(reading.VariantFullReading))
		llm.POST("/first-impression-stream", h.variantStream(reading.VariantFirstImpression))
		llm.POST("/step-stream", h.variantStream(reading.VariantStep))
		llm.POST("/section-stream", h.variantStream(reading.VariantSection))

		llm.POST("/full-reading", h.FullReadingHandler)
		llm.POST("/sections", h.SectionsHandler)

		llm.POST("/sessions", h.CreateSessionHandler)
		llm.GET("/sessions/:id/stream", h.SessionStreamHandler)
	}

	freeSaju := r.Group("/api/v1/free-saju")
	{
		freeSaju.POST("/create", h.CreateFreeSajuHandler)
		freeSaju.GET("/:id", h.GetFreeSajuHandler)
	}

	if h.cfg.Admin.Token != "" {
		admin := r.Group("/admin")
		admin.Use(AdminAuthMiddleware(h.cfg.Admin.Token))
		{
			admin.GET("/usage", h.UsageHandler)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

func (h *Handler) RootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": serviceMessage,
		"version": Version,
		"model":   h.reading.Model(),
	})
}

func (h *Handler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":              "ok",
		"provider":            h.reading.ProviderName(),
		"model":               h.reading.Model(),
		"prompts_loaded":      h.reading.PromptsLoaded(),
		"default_data_loaded": h.reading.DefaultLoaded(),
	})
}

func abortWithError(c *gin.Context, status int, err error) {
	c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

// variantStream binds the common request body and forces the route's variant.
func (h *Handler) variantStream(v reading.Variant) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reading.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		req.Variant = v
		if err := requireTarget(req); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		h.streamReading(c, req)
	}
}

func requireTarget(req reading.Request) error {
	switch {
	case req.Variant == reading.VariantStep && strings.TrimSpace(req.StepName) == "":
		return errors.New("step_name is required")
	case req.Variant == reading.VariantSection && strings.TrimSpace(req.SectionName) == "":
		return errors.New("section_name is required")
	}
	return nil
}

// streamReading prepares req and relays the LLM output as SSE. Errors
// before the first byte are plain JSON responses; later ones become an
// "error" event.
func (h *Handler) streamReading(c *gin.Context, req reading.Request) {
	prepared, err := h.reading.Prepare(req)
	if err != nil {
		abortWithError(c, reading.StatusOf(err), err)
		return
	}

	ctx := c.Request.Context()
	outputChan := make(chan provider.StreamChunk)
	errChan := make(chan error, 1)

	go func() {
		defer close(outputChan)
		errChan <- h.reading.Stream(ctx, prepared, outputChan)
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// edge proxies hold the response until a few KB have arrived
	if n := h.cfg.SSE.PaddingBytes; n > 0 {
		c.Writer.WriteString(": " + strings.Repeat(" ", n) + "\n\n")
		c.Writer.Flush()
	}

	var splitter *prompt.PartSplitter
	if req.SplitParts {
		splitter = &prompt.PartSplitter{}
	}

	start := time.Now()
	outcome := "ok"
	c.Stream(func(w io.Writer) bool {
		select {
		case chunk, ok := <-outputChan:
			if !ok {
				if err := <-errChan; err != nil {
					outcome = "error"
					if ctx.Err() != nil {
						outcome = "cancelled"
						return false
					}
					c.SSEvent("error", gin.H{"error": err.Error()})
					return false
				}
				if splitter != nil {
					if tail := splitter.Flush(); tail != "" {
						c.SSEvent("message", gin.H{"part": prompt.PartBubbles(tail)})
					}
				}
				c.SSEvent("message", gin.H{"done": true})
				return false
			}
			if chunk.Text == "" {
				return true
			}
			c.SSEvent("message", gin.H{"token": chunk.Text})
			if splitter != nil {
				for _, part := range splitter.Write(chunk.Text) {
					c.SSEvent("message", gin.H{"part": prompt.PartBubbles(part)})
				}
			}
			return true
		case <-ctx.Done():
			outcome = "cancelled"
			return false
		}
	})

	metrics.RecordReading(string(req.Variant), "stream", outcome)
	h.logger.Info("stream finished",
		zap.String("variant", string(req.Variant)),
		zap.String("target", prepared.Target),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// FullReadingHandler is the non-streaming full reading.
func (h *Handler) FullReadingHandler(c *gin.Context) {
	var req reading.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	req.Variant = reading.VariantFullReading

	res, err := h.reading.Generate(c.Request.Context(), req)
	if err != nil {
		metrics.RecordReading(string(req.Variant), "complete", "error")
		abortWithError(c, reading.StatusOf(err), err)
		return
	}
	metrics.RecordReading(string(req.Variant), "complete", "ok")

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"messages":      res.Messages,
		"raw_text":      res.RawText,
		"model":         res.Model,
		"response_time": res.ResponseTime,
	})
}

type sectionsRequest struct {
	Sections []string `json:"sections" binding:"required,min=1"`
	reading.Request
}

// SectionsHandler generates several sections in parallel.
func (h *Handler) SectionsHandler(c *gin.Context) {
	var req sectionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	results, err := h.reading.GenerateSections(c.Request.Context(), req.Sections, req.Request)
	if err != nil {
		metrics.RecordReading(string(reading.VariantSection), "complete", "error")
		abortWithError(c, reading.StatusOf(err), err)
		return
	}
	metrics.RecordReading(string(reading.VariantSection), "complete", "ok")

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"sections":      results,
		"model":         h.reading.Model(),
		"response_time": time.Since(start).Seconds(),
	})
}
