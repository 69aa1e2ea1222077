package comparisons

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"disclosure-backend/internal/shared/apperr"
	"disclosure-backend/internal/shared/server/middleware"
	"disclosure-backend/internal/shared/server/respond"
)

// Handler exposes the comparison endpoints.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes attaches comparison routes to the group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	cmps := rg.Group("/comparisons")
	cmps.POST("", h.create)
	cmps.GET("", h.list)
	cmps.GET("/:id", h.get)
	cmps.GET("/:id/status", h.status)
}

type createRequest struct {
	DocumentIDs         []string `json:"document_ids" binding:"required"`
	IterativeSearchMode string   `json:"iterative_search_mode"`
}

func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "document_ids is required", nil)
		return
	}

	cmp, err := h.svc.Create(c.Request.Context(), req.DocumentIDs, IterativeMode(req.IterativeSearchMode), middleware.RequestIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.Accepted(c, gin.H{
		"comparison_id": cmp.ComparisonID,
		"status":        cmp.Status,
	})
}

func (h *Handler) list(c *gin.Context) {
	descriptors, err := h.svc.Repo.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"comparisons": descriptors})
}

func (h *Handler) get(c *gin.Context) {
	cmp, err := h.svc.Repo.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, cmp)
}

func (h *Handler) status(c *gin.Context) {
	rec, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, rec)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "comparison not found", nil)
	case apperr.Is(err, apperr.KindRetentionExpired):
		respond.Error(c, http.StatusGone, "retention_expired", err.Error(), nil)
	case apperr.Is(err, apperr.KindInput):
		respond.Error(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected error", nil)
	}
}
