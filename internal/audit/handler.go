package audit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	recorder *GormRecorder
}

func NewHandler(recorder *GormRecorder) *Handler {
	return &Handler{recorder: recorder}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("/documents/:ref", h.ListByDocument)
	}
}

func (h *Handler) ListByDocument(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.recorder.ListByDocument(c.Request.Context(), c.Param("ref"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}
