package signing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// API is the operation surface exposed over HTTP.
type API interface {
	Sign(ctx context.Context, req SigningRequest) ([]SignedDocumentResult, error)
	Verify(ctx context.Context, req VerificationRequest) ([]VerificationResult, error)
}

type Handler struct {
	service API
	logger  *zap.Logger
}

func NewHandler(service API, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	sig := rg.Group("/signing")
	{
		sig.POST("/sign", h.Sign)
		sig.POST("/verify", h.Verify)
	}
}

type signPayload struct {
	KeyFile     string          `json:"keyFile"`
	KeyPassword string          `json:"keyPassword"`
	Document    json.RawMessage `json:"document"`
	Destination string          `json:"destination"`
	PDFA        bool            `json:"pdfa"`
	Stamp       *StampSpec      `json:"stamp"`
}

type verifyPayload struct {
	KeyFile     string `json:"keyFile"`
	KeyPassword string `json:"keyPassword"`
	Document    string `json:"document"`
}

func (h *Handler) Sign(c *gin.Context) {
	var p signPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "error", "error": err.Error()})
		return
	}

	docs, err := parseDocumentList(p.Document)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "error", "error": err.Error()})
		return
	}

	results, err := h.service.Sign(c.Request.Context(), SigningRequest{
		KeyRef:      Ref(p.KeyFile),
		KeyPassword: p.KeyPassword,
		Destination: Ref(p.Destination),
		Documents:   docs,
		Stamp:       p.Stamp,
		PDFA:        p.PDFA,
	})
	if results == nil {
		results = []SignedDocumentResult{}
	}
	if err != nil {
		var batch *BatchError
		if errors.As(err, &batch) {
			h.logger.Warn("Signing request partially failed",
				zap.Int("signed", len(results)),
				zap.Int("failed", len(batch.Failures)),
			)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"result": "error", "error": err.Error(), "documents": results})
			return
		}
		h.respondError(c, "Signing request failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "success", "documents": results})
}

func (h *Handler) Verify(c *gin.Context) {
	var p verifyPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "error", "error": err.Error()})
		return
	}

	results, err := h.service.Verify(c.Request.Context(), VerificationRequest{
		KeyRef:      Ref(p.KeyFile),
		KeyPassword: p.KeyPassword,
		Document:    Ref(strings.TrimSpace(p.Document)),
	})
	if err != nil {
		h.respondError(c, "Verification request failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "success", "signatures": results})
}

// respondError logs server-side failures; client errors are only echoed back.
func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"result": "error", "error": err.Error()})
}

// parseDocumentList accepts a JSON array of references or a single string
// holding a comma separated list.
func parseDocumentList(raw json.RawMessage) ([]Ref, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var joined string
		if err := json.Unmarshal(raw, &joined); err != nil {
			return nil, errors.New("document must be a string or an array of strings")
		}
		list = strings.Split(joined, ",")
	}

	refs := make([]Ref, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			refs = append(refs, Ref(s))
		}
	}
	return refs, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, ErrKeyResolution), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrKeyMaterial), errors.Is(err, ErrVerification), errors.Is(err, ErrDocumentAccess):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
