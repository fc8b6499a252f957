package signing

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Dnhatsave/alfresco-cloud-sign/pkg/security"
)

const (
	AuditKindSign   = "sign"
	AuditKindVerify = "verify"
)

// Service runs signing batches and verification requests.
type Service struct {
	repo         Repository
	keys         *KeyLoader
	engine       *Engine
	materializer *Materializer
	validator    security.Validator
	identity     Identity
	auditor      Auditor
	docTimeout   time.Duration
	pdfa         bool
	logger       *zap.Logger
}

type ServiceOption func(*Service)

func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) { s.auditor = a }
}

// WithDocumentTimeout bounds the work on each document. The deadline is checked
// between stages; a stage already running is not interrupted.
func WithDocumentTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.docTimeout = d }
}

// WithDefaultPDFA normalizes every signed document to PDF/A, whatever the
// request asks for.
func WithDefaultPDFA(on bool) ServiceOption {
	return func(s *Service) { s.pdfa = on }
}

func WithValidator(v security.Validator) ServiceOption {
	return func(s *Service) { s.validator = v }
}

func NewService(repo Repository, keys *KeyLoader, engine *Engine, identity Identity, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:         repo,
		keys:         keys,
		engine:       engine,
		materializer: NewMaterializer(repo, logger),
		validator:    security.NewValidator(),
		identity:     identity,
		auditor:      nopAuditor{},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type outcome struct {
	ref    Ref
	name   string
	result *SignedDocumentResult
	err    error
}

// Sign processes every document of the request independently. Results of
// successful documents are returned even when others fail; the failures are
// reported together as a *BatchError.
func (s *Service) Sign(ctx context.Context, req SigningRequest) ([]SignedDocumentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	principal, err := s.identity.CurrentPrincipal(ctx)
	if err != nil {
		return nil, newError(ErrConfiguration, "unable to determine the current user", err)
	}

	keyRef, err := s.keys.Resolve(ctx, req.KeyRef, principal)
	if err != nil {
		return nil, err
	}
	km, err := s.keys.Load(ctx, keyRef, req.KeyPassword)
	if err != nil {
		return nil, err
	}
	if km == nil {
		return nil, nil
	}
	defer km.Destroy()

	params := SignParams{Principal: principal, Stamp: req.Stamp, PDFA: req.PDFA || s.pdfa}
	if req.Stamp != nil && req.Stamp.Image != "" {
		img, err := s.repo.ReadContent(ctx, req.Stamp.Image)
		if err != nil {
			return nil, newError(ErrConfiguration, "unable to read stamp image", err)
		}
		params.StampImage = img
	}

	s.logger.Info("Signing batch started",
		zap.String("principal", principal),
		zap.String("key", string(keyRef)),
		zap.Int("documents", len(req.Documents)),
		zap.Bool("in_place", req.Destination == ""),
	)

	outcomes := make([]outcome, 0, len(req.Documents))
	for _, ref := range req.Documents {
		outcomes = append(outcomes, s.signOne(ctx, ref, req.Destination, km, params))
	}

	results := make([]SignedDocumentResult, 0, len(outcomes))
	var failures []*DocumentError
	for _, o := range outcomes {
		if o.err != nil {
			failures = append(failures, &DocumentError{Ref: o.ref, Name: o.name, Err: o.err})
			continue
		}
		results = append(results, *o.result)
	}

	s.logger.Info("Signing batch finished",
		zap.String("principal", principal),
		zap.Int("signed", len(results)),
		zap.Int("failed", len(failures)),
	)

	if len(failures) > 0 {
		return results, &BatchError{Failures: failures}
	}
	return results, nil
}

func (s *Service) signOne(ctx context.Context, ref, destination Ref, km *KeyMaterial, p SignParams) (o outcome) {
	o.ref, o.name = ref, string(ref)

	defer func() {
		if r := recover(); r != nil {
			o.result = nil
			o.err = newError(ErrSigning, "unexpected failure while signing", fmt.Errorf("%v", r))
		}
		s.audit(ctx, AuditKindSign, p.Principal, o)
	}()

	if s.docTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.docTimeout)
		defer cancel()
	}

	if name, err := s.repo.DisplayName(ctx, ref); err == nil && name != "" {
		o.name = name
	}

	content, err := s.repo.ReadContent(ctx, ref)
	if err != nil {
		o.err = newError(ErrDocumentAccess, "unable to get document to sign content", err)
		return o
	}

	art, err := s.engine.SignDocument(ctx, DocumentInput{Ref: ref, Name: o.name, Content: content}, km, p)
	if err != nil {
		o.err = err
		return o
	}

	o.result, o.err = s.materializer.Materialize(ctx, ref, destination, art, p.Principal)
	return o
}

func (s *Service) audit(ctx context.Context, kind, principal string, o outcome) {
	ev := AuditEvent{
		Kind:       kind,
		Principal:  principal,
		Document:   o.ref,
		Err:        o.err,
		OccurredAt: time.Now(),
		Details:    map[string]any{"name": o.name},
	}
	if o.result != nil {
		ev.Produced = o.result.Produced
		ev.Details["renamed"] = o.result.Renamed
		ev.Details["linked"] = o.result.Linked
	}
	if err := s.auditor.Record(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("Failed to record audit event", zap.String("document", string(o.ref)), zap.Error(err))
	}
	if o.err != nil {
		s.logger.Error("Document failed",
			zap.String("document", string(o.ref)),
			zap.String("name", o.name),
			zap.Error(o.err),
		)
	}
}

// Verify reports every signature found in the document. The key only gates
// access; signatures are not required to be made with it.
func (s *Service) Verify(ctx context.Context, req VerificationRequest) ([]VerificationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	principal, err := s.identity.CurrentPrincipal(ctx)
	if err != nil {
		return nil, newError(ErrConfiguration, "unable to determine the current user", err)
	}

	keyRef, err := s.keys.Resolve(ctx, req.KeyRef, principal)
	if err != nil {
		return nil, err
	}
	km, err := s.keys.Load(ctx, keyRef, req.KeyPassword)
	if err != nil {
		return nil, err
	}
	if km == nil {
		return nil, newError(ErrKeyResolution, "key type is not supported for verification", nil)
	}
	defer km.Destroy()

	o := outcome{ref: req.Document, name: string(req.Document)}
	defer func() { s.audit(ctx, AuditKindVerify, principal, o) }()

	content, err := s.repo.ReadContent(ctx, req.Document)
	if err != nil {
		o.err = newError(ErrVerification, "unable to get document to verify content", err)
		return nil, o.err
	}
	if content.Name != "" {
		o.name = content.Name
	}

	infos, err := s.validator.ValidatePDF(ctx, bytes.NewReader(content.Data))
	if err != nil {
		o.err = newError(ErrVerification, "unable to verify document signatures", err)
		return nil, o.err
	}

	results := make([]VerificationResult, 0, len(infos))
	for _, info := range infos {
		results = append(results, VerificationResult{
			Name:                info.Name,
			Revision:            info.Revision,
			TotalRevisions:      info.TotalRevisions,
			CoversWholeDocument: info.CoversWholeDocument,
			Subject:             info.SignerName,
			SignedAt:            info.SigningTime,
			IsSignValid:         info.IsValid,
			IsDocumentModified:  info.IsModified,
			SerialNumber:        info.SerialNumber,
			Issuer:              info.CertificateIssuer,
			NotAfter:            info.NotAfter,
			Details:             details(info, km),
		})
	}

	s.logger.Info("Document verified",
		zap.String("document", string(req.Document)),
		zap.Int("signatures", len(results)),
	)
	return results, nil
}

func details(info security.SignatureInfo, km *KeyMaterial) string {
	parts := []string{
		"Date=" + info.SigningTime.Format(time.RFC3339),
		"Principal=" + info.Subject,
		"SerialNumber=" + info.SerialNumber,
		"CertificateNotAfter=" + info.NotAfter.Format(time.RFC3339),
		"Issuer=" + info.CertificateIssuer,
		fmt.Sprintf("Version=%d/%d", info.Revision, info.TotalRevisions),
	}
	if info.SignedName != "" {
		parts = append(parts, "Name="+info.SignedName)
	}
	if info.Reason != "" {
		parts = append(parts, "Reason="+info.Reason)
	}
	if km != nil && km.Certificate != nil {
		parts = append(parts, fmt.Sprintf("SignedWithLoadedKey=%t", km.Certificate.SerialNumber.String() == info.SerialNumber))
	}
	return strings.Join(parts, ", ")
}
