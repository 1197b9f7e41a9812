package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/face-compare/internal/auth"
	"github.com/example/face-compare/internal/preview"
	"github.com/example/face-compare/internal/repository"
	"github.com/example/face-compare/internal/session"
	"github.com/example/face-compare/internal/usecase"
)

// MaxUploadSize is the largest accepted image, in bytes.
const MaxUploadSize = 10 << 20

// multipartOverhead is the slack allowed on top of MaxUploadSize for form framing.
const multipartOverhead = 1 << 20

// ComparisonService is the use case surface the HTTP layer drives.
type ComparisonService interface {
	SelectImage(ctx context.Context, ownerID string, slot session.Slot, file preview.File) (*usecase.SessionView, error)
	Submit(ctx context.Context, ownerID string) (*usecase.Attempt, error)
	Activate(ctx context.Context, ownerID string) (session.Action, *usecase.Attempt, error)
	Reset(ownerID string) *usecase.SessionView
	Snapshot(ownerID string) *usecase.SessionView
	GetAttempt(ctx context.Context, ownerID, attemptID string) (*repository.ComparisonLog, error)
	ListAttempts(ctx context.Context, ownerID string, limit int) ([]*repository.ComparisonLog, error)
	GetMetricsSummary(ctx context.Context, ownerID string) (*usecase.MetricsSummary, error)
}

type slotURI struct {
	Slot string `uri:"slot" binding:"required,oneof=first second 1 2"`
}

type attemptURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type historyQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=0"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc ComparisonService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/", authMiddleware)

	protected.GET("/session", func(c *gin.Context) {
		owner := ownerID(c)
		c.JSON(http.StatusOK, svc.Snapshot(owner))
	})

	protected.PUT("/session/images/:slot", func(c *gin.Context) {
		var uri slotURI
		if err := c.ShouldBindUri(&uri); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "slot must be first or second"})
			return
		}
		slot, err := session.ParseSlot(uri.Slot)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		file, ok := readUpload(c)
		if !ok {
			return
		}

		view, err := svc.SelectImage(c.Request.Context(), ownerID(c), slot, file)
		if err != nil {
			writeSelectError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	protected.POST("/session/submit", func(c *gin.Context) {
		owner := ownerID(c)
		attempt, err := svc.Submit(c.Request.Context(), owner)
		if err != nil {
			writeGuardError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"attempt_id": attempt.ID,
			"superseded": attempt.Superseded,
			"session":    svc.Snapshot(owner),
		})
	})

	protected.POST("/session/reset", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Reset(ownerID(c)))
	})

	protected.POST("/session/action", func(c *gin.Context) {
		owner := ownerID(c)
		action, attempt, err := svc.Activate(c.Request.Context(), owner)
		if err != nil {
			writeGuardError(c, err)
			return
		}
		body := gin.H{"performed": action.Kind, "session": svc.Snapshot(owner)}
		if attempt != nil {
			body["attempt_id"] = attempt.ID
			body["superseded"] = attempt.Superseded
		}
		c.JSON(http.StatusOK, body)
	})

	protected.GET("/history", func(c *gin.Context) {
		var query historyQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		logs, err := svc.ListAttempts(c.Request.Context(), ownerID(c), query.Limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		items := make([]gin.H, 0, len(logs))
		for _, log := range logs {
			items = append(items, attemptJSON(log))
		}
		c.JSON(http.StatusOK, gin.H{"attempts": items})
	})

	protected.GET("/history/:id", func(c *gin.Context) {
		var uri attemptURI
		if err := c.ShouldBindUri(&uri); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a uuid"})
			return
		}
		log, err := svc.GetAttempt(c.Request.Context(), ownerID(c), uri.ID)
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attempt"})
			return
		}
		c.JSON(http.StatusOK, attemptJSON(log))
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context(), ownerID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func ownerID(c *gin.Context) string {
	owner, _ := auth.OwnerID(c.Request.Context())
	return owner
}

// readUpload extracts the "image" part, writing the error response itself when it fails.
func readUpload(c *gin.Context) (preview.File, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	header, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return preview.File{}, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return preview.File{}, false
	}
	if header.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return preview.File{}, false
	}
	if !acceptableContentType(header.Header.Get("Content-Type")) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image uploads are supported"})
		return preview.File{}, false
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return preview.File{}, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return preview.File{}, false
	}
	return preview.File{Filename: header.Filename, Data: data}, true
}

// acceptableContentType allows image/* and unlabelled parts; content is sniffed later.
func acceptableContentType(value string) bool {
	if value == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}

func writeSelectError(c *gin.Context, err error) {
	var decodeErr *preview.DecodeError
	switch {
	case errors.Is(err, preview.ErrEmptyFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is empty"})
	case errors.As(err, &decodeErr):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": decodeErr.Error()})
	case errors.Is(err, session.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": "selection superseded by a newer change"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to select image"})
	}
}

func writeGuardError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrActionDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": "select two images first"})
	case errors.Is(err, session.ErrInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "a comparison is already running"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func attemptJSON(log *repository.ComparisonLog) gin.H {
	return gin.H{
		"attempt_id":       log.AttemptID,
		"outcome":          log.Outcome,
		"failure_kind":     log.FailureKind,
		"similarity_score": log.Score,
		"message":          log.Message,
		"first_filename":   log.FirstFilename,
		"second_filename":  log.SecondFilename,
		"latency_ms":       log.LatencyMs,
		"created_at":       log.CreatedAt,
	}
}
