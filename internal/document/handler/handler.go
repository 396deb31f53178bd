package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/collabdocs/internal/document"
	"github.com/gogotex/collabdocs/internal/document/service"
	"github.com/gogotex/collabdocs/pkg/logger"
	"github.com/gogotex/collabdocs/pkg/middleware"
)

// SocketIDHeader carries the realtime connection id of the caller so the
// update it causes is not echoed back to that connection.
const SocketIDHeader = "X-Socket-ID"

// ObjectStore receives document exports.
type ObjectStore interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	GetPresignedURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

type createRequest struct {
	Title   string `json:"title" binding:"required,max=255"`
	Content string `json:"content"`
}

type updateRequest struct {
	Title   *string `json:"title" binding:"omitempty,max=255"`
	Content *string `json:"content"`
}

type handler struct {
	svc       *service.Service
	exports   ObjectStore
	urlExpiry time.Duration
}

// RegisterDocumentRoutes mounts the document API on r. r is expected to run
// behind middleware.AuthMiddleware. exports may be nil, which disables the
// export endpoint.
func RegisterDocumentRoutes(r gin.IRouter, svc *service.Service, exports ObjectStore, urlExpiry time.Duration) {
	h := &handler{svc: svc, exports: exports, urlExpiry: urlExpiry}
	if h.urlExpiry <= 0 {
		h.urlExpiry = 15 * time.Minute
	}
	r.GET("/documents", h.list)
	r.POST("/documents", h.create)
	r.GET("/documents/:id", h.get)
	r.PUT("/documents/:id", h.update)
	r.DELETE("/documents/:id", h.delete)
	r.GET("/documents/:id/versions", h.versions)
	if exports != nil {
		r.POST("/documents/:id/export", h.export)
	}
}

func (h *handler) list(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "message": err.Error()})
		return
	}
	d, err := h.svc.Create(c.Request.Context(), req.Title, req.Content)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handler) get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handler) update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "message": err.Error()})
		return
	}
	id, _ := middleware.IdentityFrom(c)
	actor := document.Actor{ID: id.ID, Name: id.Name}
	fields := document.Fields{Title: req.Title, Content: req.Content}

	d, err := h.svc.Update(c.Request.Context(), c.Param("id"), fields, actor, c.GetHeader(SocketIDHeader))
	if err != nil {
		writeError(c, err, d)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) versions(c *gin.Context) {
	vs, err := h.svc.Versions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, vs)
}

func (h *handler) export(c *gin.Context) {
	ctx := c.Request.Context()
	d, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	key := fmt.Sprintf("documents/%s/%d.txt", d.ID, time.Now().UTC().UnixNano())
	if err := h.exports.UploadFile(ctx, key, strings.NewReader(d.Content), int64(len(d.Content)), "text/plain; charset=utf-8"); err != nil {
		logger.Errorf("export %s: upload: %v", d.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	url, err := h.exports.GetPresignedURL(ctx, key, h.urlExpiry)
	if err != nil {
		logger.Errorf("export %s: presign: %v", d.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "url": url})
}

// writeError maps service errors to responses. A failed update reports the
// document as it was before the request.
func writeError(c *gin.Context, err error, d *document.Document) {
	var se *document.StorageError
	switch {
	case errors.Is(err, document.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "message": err.Error()})
	case errors.Is(err, document.ErrNotFound) && !errors.As(err, &se):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &se):
		body := gin.H{"error": "storage failure"}
		if d != nil {
			body["document"] = d
		}
		c.JSON(http.StatusInternalServerError, body)
	default:
		logger.Errorf("document request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
