package documents

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"disclosure-backend/internal/shared/apperr"
	"disclosure-backend/internal/shared/server/middleware"
	"disclosure-backend/internal/shared/server/respond"
)

// Handler exposes the document endpoints.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes attaches document routes to the group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	docs := rg.Group("/documents")
	docs.POST("/upload", h.upload)
	docs.GET("", h.list)
	docs.GET("/:id", h.get)
	docs.GET("/:id/status", h.status)
	docs.PATCH("/:id", h.setType)
	docs.DELETE("/:id", h.remove)
}

func (h *Handler) upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "multipart form required", nil)
		return
	}
	files := form.File["files"]

	result, err := h.svc.Upload(c.Request.Context(), files, middleware.RequestIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}

	summaries := make([]gin.H, 0, len(result.Documents))
	for _, doc := range result.Documents {
		summaries = append(summaries, summarize(doc))
	}
	respond.Created(c, gin.H{
		"batch_id":  result.BatchID,
		"documents": summaries,
	})
}

func (h *Handler) list(c *gin.Context) {
	docs, err := h.svc.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	summaries := make([]gin.H, 0, len(docs))
	for _, doc := range docs {
		summaries = append(summaries, summarize(doc))
	}
	respond.OK(c, gin.H{"documents": summaries})
}

func (h *Handler) get(c *gin.Context) {
	doc, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, doc)
}

func (h *Handler) status(c *gin.Context) {
	rec, err := h.svc.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, rec)
}

// setTypeRequest carries the manual override. A null or absent
// document_type clears it.
type setTypeRequest struct {
	DocumentType *string `json:"document_type"`
}

func (h *Handler) setType(c *gin.Context) {
	var req setTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "malformed request body", nil)
		return
	}
	doc, err := h.svc.SetType(c.Request.Context(), c.Param("id"), req.DocumentType, middleware.RequestIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, summarize(doc))
}

func (h *Handler) remove(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"deleted": true})
}

// summarize is the listing view: no structured payload.
func summarize(doc Document) gin.H {
	return gin.H{
		"document_id":          doc.ID,
		"filename":             doc.Filename,
		"size_bytes":           doc.SizeBytes,
		"document_type":        doc.EffectiveType(),
		"document_type_label":  typeLabel(doc),
		"detection_confidence": doc.DetectionConfidence,
		"processing_status":    doc.Status,
		"uploaded_at":          doc.UploadedAt,
		"retention_deadline":   doc.RetentionDeadline,
	}
}

func typeLabel(doc Document) string {
	if doc.ManualTypeLabel != "" {
		return doc.ManualTypeLabel
	}
	return doc.DetectedTypeLabel
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case apperr.Is(err, apperr.KindRetentionExpired):
		respond.Error(c, http.StatusGone, "retention_expired", err.Error(), nil)
	case errors.Is(err, ErrInvalidInput), apperr.Is(err, apperr.KindInput):
		respond.Error(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected error", nil)
	}
}
