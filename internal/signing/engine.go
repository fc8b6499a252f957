package signing

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Dnhatsave/alfresco-cloud-sign/pkg/pdf"
)

const (
	DefaultHeadline   = "Digitally signed document at %s"
	DefaultSignerLine = "Signed by %s on %s"
	DefaultDateLayout = "02 Jan 2006 15:04"
)

// DefaultTempDir is the workspace root used when none is configured.
func DefaultTempDir() string {
	return filepath.Join(os.TempDir(), "alfresco-cloud-sign")
}

type EngineConfig struct {
	TempDir    string
	ServiceID  string
	Headline   string
	SignerLine string
	DateLayout string
	FontFamily string
	FontSize   float64
	Reason     string
	Location   string
	Digest     crypto.Hash
}

// DocumentInput is one document of a batch as read from the repository.
type DocumentInput struct {
	Ref     Ref
	Name    string
	Content *Content
}

type SignParams struct {
	Principal  string
	Stamp      *StampSpec
	StampImage *Content
	PDFA       bool
}

// SignedArtifact is the output of the engine for one document.
type SignedArtifact struct {
	Data     []byte
	Name     string
	Renamed  bool
	SignedAt time.Time
}

type Engine struct {
	cfg         EngineConfig
	stamper     pdf.Stamper
	signer      pdf.Signer
	normalizer  *pdf.Normalizer
	transformer Transformer
	logger      *zap.Logger
	now         func() time.Time
}

type EngineOption func(*Engine)

func WithStamper(s pdf.Stamper) EngineOption {
	return func(e *Engine) { e.stamper = s }
}

func WithPDFSigner(s pdf.Signer) EngineOption {
	return func(e *Engine) { e.signer = s }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine performs the one-time setup shared by all signing calls.
func NewEngine(cfg EngineConfig, transformer Transformer, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = DefaultTempDir()
	}
	if err := os.MkdirAll(cfg.TempDir, 0o700); err != nil {
		return nil, newError(ErrConfiguration, "unable to create temp directory", err)
	}
	if cfg.Headline == "" {
		cfg.Headline = DefaultHeadline
	}
	if cfg.SignerLine == "" {
		cfg.SignerLine = DefaultSignerLine
	}
	if cfg.DateLayout == "" {
		cfg.DateLayout = DefaultDateLayout
	}
	if cfg.Digest == 0 {
		cfg.Digest = crypto.SHA256
	}
	if !cfg.Digest.Available() {
		return nil, newError(ErrConfiguration, fmt.Sprintf("digest %s is not available", cfg.Digest), nil)
	}

	e := &Engine{
		cfg:         cfg,
		stamper:     pdf.NewStamper(),
		signer:      pdf.NewSigner(),
		normalizer:  pdf.NewNormalizer(cfg.TempDir, ""),
		transformer: transformer,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SignDocument converts, stamps, optionally normalizes and signs one
// document. All intermediate files live in a workspace removed on return.
func (e *Engine) SignDocument(ctx context.Context, in DocumentInput, km *KeyMaterial, p SignParams) (*SignedArtifact, error) {
	if in.Content == nil || len(in.Content.Data) == 0 {
		return nil, newError(ErrDocumentAccess, "the document has no content", nil)
	}

	ws, err := NewWorkspace(e.cfg.TempDir, in.Ref)
	if err != nil {
		return nil, newError(ErrSigning, "unable to create workspace", err)
	}
	defer func() {
		if err := ws.Close(); err != nil {
			e.logger.Warn("Failed to remove workspace", zap.String("dir", ws.Dir()), zap.Error(err))
		}
	}()

	data, name, renamed := in.Content.Data, in.Name, false
	if !isPDF(in.Content.MediaType) {
		if e.transformer == nil || !e.transformer.CanTransform(in.Content.MediaType, MediaTypePDF) {
			return nil, newError(ErrDocumentAccess, "no suitable converter found to convert the document in PDF", nil)
		}
		data, err = e.transformer.Transform(ctx, in.Content.MediaType, data, MediaTypePDF)
		if err != nil {
			return nil, newError(ErrDocumentAccess, "unable to convert the document in PDF", err)
		}
		name, renamed = pdfName(name), true
		e.logger.Debug("Converted document to PDF",
			zap.String("document", string(in.Ref)),
			zap.String("media_type", in.Content.MediaType),
		)
	}

	src := ws.Path("source.pdf")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return nil, newError(ErrSigning, "unable to write document to workspace", err)
	}

	signedAt := e.now()
	stamped := ws.Path("stamped.pdf")
	if _, err := e.stamper.Stamp(ctx, src, stamped, e.stampOptions(p, signedAt)); err != nil {
		if errors.Is(err, pdf.ErrNotPDF) || errors.Is(err, pdf.ErrMalformed) {
			return nil, newError(ErrDocumentAccess, "the document is not a readable PDF", err)
		}
		return nil, newError(ErrSigning, "unable to create PDF signature", err)
	}

	toSign := stamped
	if p.PDFA {
		normalized := ws.Path("pdfa.pdf")
		if err := e.normalizer.NormalizeFile(ctx, stamped, normalized); err != nil {
			return nil, newError(ErrDocumentAccess, "unable to convert the document to PDF/A", err)
		}
		toSign = normalized
	}

	signed := ws.Path("signed.pdf")
	err = e.signer.Sign(ctx, toSign, signed, pdf.SignOptions{
		Signer:      km.Signer,
		Certificate: km.Certificate,
		Chain:       km.Chain,
		Digest:      e.cfg.Digest,
		Name:        p.Principal,
		Reason:      e.cfg.Reason,
		Location:    e.cfg.Location,
		Date:        signedAt,
	})
	if err != nil {
		return nil, newError(ErrSigning, "unable to create PDF signature", err)
	}

	out, err := os.ReadFile(signed)
	if err != nil {
		return nil, newError(ErrSigning, "unable to read signed document", err)
	}
	return &SignedArtifact{Data: out, Name: name, Renamed: renamed, SignedAt: signedAt}, nil
}

func (e *Engine) stampLines(principal string, at time.Time) []string {
	headline := e.cfg.Headline
	if strings.Contains(headline, "%s") {
		headline = fmt.Sprintf(headline, e.cfg.ServiceID)
	}
	return []string{
		headline,
		fmt.Sprintf(e.cfg.SignerLine, principal, at.Format(e.cfg.DateLayout)),
	}
}

func (e *Engine) stampOptions(p SignParams, at time.Time) pdf.StampOptions {
	opts := pdf.StampOptions{
		Lines:      e.stampLines(p.Principal, at),
		FontFamily: e.cfg.FontFamily,
		FontSize:   e.cfg.FontSize,
	}
	if s := p.Stamp; s != nil {
		opts.Pages = pdf.PageSelection(s.Pages)
		opts.PageNumber = s.PageNumber
		opts.Depth = pdf.Depth(s.Depth)
		opts.MarginX = s.MarginX
		opts.MarginY = s.MarginY
	}
	if img := p.StampImage; img != nil && len(img.Data) > 0 {
		opts.Image = img.Data
		opts.ImageType = imageType(img.MediaType)
	}
	return opts
}

func isPDF(mediaType string) bool {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = strings.TrimSpace(strings.ToLower(mediaType))
	}
	return mt == MediaTypePDF
}

func pdfName(name string) string {
	ext := filepath.Ext(name)
	if strings.EqualFold(ext, ".pdf") {
		return name
	}
	return strings.TrimSuffix(name, ext) + ".pdf"
}

func imageType(mediaType string) string {
	switch strings.ToLower(mediaType) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/gif":
		return "gif"
	}
	return ""
}
