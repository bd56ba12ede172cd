package server

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mediaingest/internal/content"
	"mediaingest/internal/ingest"
	"mediaingest/internal/models"
	"mediaingest/internal/storage"
)

type importRequest struct {
	URLs       []string `json:"urls"`
	VariantID  int64    `json:"variant_id"`
	StartOrder int      `json:"start_order"`
}

type productRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func idParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", c.Param("id"))
	}
	return id, nil
}

// enqueueStatus maps a producer error to a response code.
func enqueueStatus(err error) int {
	if errors.Is(err, models.ErrInvalidTask) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func (s *Server) handleCreateTask(c *gin.Context) {
	const op = "server.handleCreateTask"

	var task models.ImageTask
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	task.ID = uuid.Nil

	tasks, err := s.producer.Enqueue(c.Request.Context(), task)
	if err != nil {
		c.JSON(enqueueStatus(err), gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": tasks[0].ID.String()})
}

// handleImportImages enqueues one task per url, ordered from start_order.
func (s *Server) handleImportImages(c *gin.Context) {
	const op = "server.handleImportImages"

	productID, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	if len(req.URLs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: urls must not be empty", op)})
		return
	}

	tasks := make([]models.ImageTask, len(req.URLs))
	for i, u := range req.URLs {
		order := req.StartOrder + i
		if req.VariantID != 0 {
			tasks[i] = models.NewVariantImageTask(u, req.VariantID, productID, order)
		} else {
			tasks[i] = models.NewProductImageTask(u, productID, order)
		}
	}

	queued, err := s.producer.Enqueue(c.Request.Context(), tasks...)
	if err != nil {
		c.JSON(enqueueStatus(err), gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	ids := make([]string, len(queued))
	for i, t := range queued {
		ids[i] = t.ID.String()
	}
	c.JSON(http.StatusAccepted, gin.H{"ids": ids})
}

func (s *Server) handlePutProduct(c *gin.Context) {
	const op = "server.handlePutProduct"

	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: name is required", op)})
		return
	}
	slug := ingest.Slugify(req.Slug)
	if slug == "" {
		slug = ingest.Slugify(req.Name)
	}

	p := &models.Product{ID: id, Name: strings.TrimSpace(req.Name), Slug: slug}
	if err := s.db.UpsertProduct(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	stored, err := s.db.GetProduct(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusOK, stored)
}

func (s *Server) handleListProductMedia(c *gin.Context) {
	const op = "server.handleListProductMedia"

	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	records, err := s.db.ListMedia(c.Request.Context(), models.OwnerProduct, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": records})
}

func (s *Server) handleListVariantImages(c *gin.Context) {
	const op = "server.handleListVariantImages"

	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	images, err := s.db.ListVariantImages(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": images})
}

func (s *Server) handleGetMedia(c *gin.Context) {
	const op = "server.handleGetMedia"

	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	rec, err := s.db.GetMedia(c.Request.Context(), id)
	if err != nil {
		c.JSON(lookupStatus(err), gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// handleDeleteMedia drops the record, its variant links and its thumbnail.
// Source files stay: they are the fetch cache and may back other records.
func (s *Server) handleDeleteMedia(c *gin.Context) {
	const op = "server.handleDeleteMedia"

	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	rec, err := s.db.DeleteMedia(c.Request.Context(), id)
	if err != nil {
		c.JSON(lookupStatus(err), gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	if rec.ThumbnailPath != "" {
		if err := s.store.Delete(c.Request.Context(), rec.ThumbnailPath); err != nil && !errors.Is(err, content.ErrNotFound) {
			s.log.Warn().Err(err).Int64("media_id", id).Str("path", rec.ThumbnailPath).Msg("thumbnail not removed")
		}
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetFile(c *gin.Context) {
	const op = "server.handleGetFile"

	key, err := content.CleanKey(strings.TrimPrefix(c.Param("key"), "/"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	r, err := s.store.Open(c.Request.Context(), key)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, content.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	defer r.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, r, nil)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{"database": "ok", "content": "ok"}
	status := http.StatusOK

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := s.store.Health(ctx); err != nil {
		checks["content"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, checks)
}

func lookupStatus(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
