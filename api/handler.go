package api

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"talkpip/config"
	"talkpip/talk"
	"talkpip/task"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
	}
}

type BatchRequest struct {
	URLs []string `json:"urls" binding:"required,min=1"`
}

// handleCreateBatch queues one talk per valid URL.
func (h *Handler) handleCreateBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, skipped := talk.ParseURLs(req.URLs)
	for _, s := range skipped {
		log.Warn().Str("entry", s.Raw).Str("reason", s.Reason).Msg("skipping malformed talk URL")
	}
	if len(entries) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No valid talk URLs", "skipped": skipped})
		return
	}

	b, err := h.taskManager.Submit(entries)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to create batch", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"batchId": b.ID, "talks": len(entries), "skipped": skipped})
}

// handleListBatches lists all batches.
func (h *Handler) handleListBatches(c *gin.Context) {
	batches := h.taskManager.List()
	for i := range batches {
		h.buildDownloadURLs(c, batches[i].Results)
	}
	c.JSON(http.StatusOK, batches)
}

// buildDownloadURLs fills in the download link of every finished talk.
func (h *Handler) buildDownloadURLs(c *gin.Context, results []task.JobResult) {
	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	for i := range results {
		if results[i].OK && results[i].OutputPath != "" {
			results[i].DownloadURL = fmt.Sprintf("%s/api/v1/files/%s", baseURL, results[i].Key)
		}
	}
}

// handleGetBatch retrieves the status of a single batch.
func (h *Handler) handleGetBatch(c *gin.Context) {
	batchID := c.Param("batchId")
	b, found := h.taskManager.Get(batchID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}

	h.buildDownloadURLs(c, b.Results)
	c.JSON(http.StatusOK, b)
}

// handleGetFile serves the composite of a finished talk, addressed by its
// directory key.
func (h *Handler) handleGetFile(c *gin.Context) {
	key := c.Param("key")
	if talk.Slug(key) != key {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid talk key"})
		return
	}
	filePath, err := h.taskManager.OutputFor(key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if _, err := os.Stat(filePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.FileAttachment(filePath, key+".mp4")
}
