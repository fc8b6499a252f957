package documents

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Dnhatsave/alfresco-cloud-sign/internal/auth"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/signing"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	docs := rg.Group("/documents")
	{
		docs.GET("/home", h.Home)
		docs.POST("/folders", h.CreateFolder)
		docs.POST("/upload", h.Upload)
		docs.GET("/:id", h.Download)
		docs.GET("/:id/metadata", h.GetMetadata)
		docs.GET("/:id/children", h.ListChildren)
		docs.GET("/:id/versions", h.ListVersions)
		docs.GET("/:id/links", h.ListLinks)
		docs.PUT("/:id/properties", h.SetProperties)
		docs.POST("/:id/markers", h.AddMarker)
	}
}

func (h *Handler) Home(c *gin.Context) {
	principal, ok := auth.PrincipalFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated principal"})
		return
	}
	home, err := h.service.EnsureHome(c.Request.Context(), principal)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, home)
}

type createFolderRequest struct {
	ParentID string `json:"parent_id" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

func (h *Handler) CreateFolder(c *gin.Context) {
	var req createFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	parentID, err := uuid.Parse(req.ParentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parent_id"})
		return
	}

	folder, err := h.service.CreateFolder(c.Request.Context(), &parentID, req.Name)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, folder)
}

func (h *Handler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	parentID, err := uuid.Parse(c.PostForm("parent_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parent_id"})
		return
	}

	mediaType := c.PostForm("media_type")
	if mediaType == "" {
		mediaType = file.Header.Get("Content-Type")
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	node, err := h.service.Upload(c.Request.Context(), UploadRequest{
		ParentID:  parentID,
		Name:      file.Filename,
		MediaType: mediaType,
		Content:   f,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, node)
}

func (h *Handler) Download(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	node, reader, err := h.service.Download(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, node.FileSize, node.MediaType, reader, map[string]string{
		"Content-Disposition": `attachment; filename="` + node.Name + `"`,
	})
}

func (h *Handler) GetMetadata(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	meta, err := h.service.GetMetadata(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if meta == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}

	c.JSON(http.StatusOK, meta)
}

func (h *Handler) ListChildren(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	refs, err := h.service.Children(c.Request.Context(), signing.Ref(id.String()))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, refs)
}

func (h *Handler) ListVersions(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	versions, err := h.service.ListVersions(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, versions)
}

func (h *Handler) ListLinks(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	links, err := h.service.ListLinks(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, links)
}

func (h *Handler) SetProperties(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var props map[string]string
	if err := c.ShouldBindJSON(&props); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref := signing.Ref(id.String())
	for k, v := range props {
		if err := h.service.SetProperty(c.Request.Context(), ref, k, v); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type markerRequest struct {
	Marker string `json:"marker" binding:"required"`
}

func (h *Handler) AddMarker(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req markerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.AddMarker(c.Request.Context(), signing.Ref(id.String()), req.Marker); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, signing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateName):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
