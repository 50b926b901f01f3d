package event

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gamecore-backend/pkg/errutil"
	"gamecore-backend/pkg/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/events")
	g.POST("", h.append)
	g.GET("", h.list)
	g.GET("/stats", h.stats)
}

func (h *Handler) append(c *gin.Context) {
	var params AppendParams
	if err := c.ShouldBindJSON(&params); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	evt, err := h.svc.Append(c.Request.Context(), middleware.TenantID(c), params)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, evt)
}

func (h *Handler) list(c *gin.Context) {
	var params ListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query parameters", err))
		return
	}

	events, pageInfo, err := h.svc.List(c.Request.Context(), middleware.TenantID(c), params)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "page_info": pageInfo})
}

func (h *Handler) stats(c *gin.Context) {
	days := 7
	if v, err := time.ParseDuration(c.Query("window")); err == nil && v > 0 {
		days = int(v.Hours() / 24)
		if days < 1 {
			days = 1
		}
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	buckets, err := h.svc.CountByTypeSince(c.Request.Context(), middleware.TenantID(c), since)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": buckets})
}
