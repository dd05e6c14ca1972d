package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"medihelp/internal/conversation"
	"medihelp/internal/datastream"
	"medihelp/internal/media"
	"medihelp/internal/models"
	"medihelp/internal/service/ai"
	"medihelp/internal/worker"
)

type WorkerManager interface {
	Extract(worker.ExtractRequest) (string, error)
	Chat(worker.ChatRequest) error
}

const (
	requestIDHeader = "X-Request-ID"
	// base64 grows payloads by a third; leave room for the JSON envelope
	envelopeSlack = 4 << 10
)

// Handler wires HTTP routes to the extraction and chat workers.
type Handler struct {
	workers        WorkerManager
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewHandler constructs a Handler instance. maxUploadBytes bounds the decoded
// file size; zero disables the limit.
func NewHandler(workers WorkerManager, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		workers:        workers,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.requestLogger())
	router.GET("/healthz", h.healthz)
	api := router.Group("/api")
	api.POST("/listgeminireport", h.extractReport)
	api.POST("/resumechat", h.resumeChat)
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)
		c.Next()
		h.logger.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("client", c.ClientIP()),
		)
	}
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sessionKey identifies the client for fair queueing and the in-flight guard.
func sessionKey(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(conversation.SessionHeader)); id != "" {
		return id
	}
	return c.ClientIP()
}

type extractRequest struct {
	Base64 string `json:"base64" binding:"required"`
}

func (h *Handler) extractReport(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes*4/3+envelopeSlack)
	}
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	mimeType, data, err := media.DecodeDataURL(req.Base64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := media.PickerFor(mimeType); !ok {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported file type: " + mimeType})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty upload"})
		return
	}

	text, err := h.workers.Extract(worker.ExtractRequest{
		Context:    c.Request.Context(),
		SessionKey: sessionKey(c),
		MimeType:   mimeType,
		Data:       data,
	})
	if err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		h.logger.Warn("extraction failed", zap.String("mime", mimeType), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "extraction failed"})
		return
	}
	c.String(http.StatusOK, text)
}

type chatRequest struct {
	Messages []models.Message `json:"messages" binding:"required,min=1"`
	Data     models.ChatData  `json:"data"`
}

func (h *Handler) resumeChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	key := sessionKey(c)

	dw := datastream.NewWriter(c.Writer)
	started := false
	start := func() error {
		if started {
			return nil
		}
		started = true
		datastream.SetHeaders(c.Writer.Header())
		c.Status(http.StatusOK)
		return dw.Start("msg-" + uuid.NewString())
	}

	err := h.workers.Chat(worker.ChatRequest{
		Context:    ai.WithToolSession(c.Request.Context(), key),
		SessionKey: key,
		Messages:   req.Messages,
		ReportData: req.Data.ReportData,
		ChunkFn: func(chunk string) error {
			if err := start(); err != nil {
				return err
			}
			return dw.Text(chunk)
		},
	})
	if err != nil && !started {
		switch {
		case errors.Is(err, worker.ErrChatInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "a chat request is already in progress for this session"})
			return
		case errors.Is(err, worker.ErrDispatcherBusy):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
	}
	if startErr := start(); startErr != nil {
		return
	}
	if err != nil {
		h.logger.Warn("chat failed", zap.String("session", key), zap.Error(err))
		_ = dw.Error("the assistant could not answer, please try again")
		return
	}
	_ = dw.Finish("stop")
}
