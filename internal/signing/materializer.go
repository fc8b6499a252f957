package signing

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Materializer records a signed artifact in the repository, either as a new
// version of the source or as a linked copy in a destination folder.
type Materializer struct {
	repo   Repository
	logger *zap.Logger
}

func NewMaterializer(repo Repository, logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{repo: repo, logger: logger}
}

func (m *Materializer) Materialize(ctx context.Context, source, destination Ref, art *SignedArtifact, principal string) (*SignedDocumentResult, error) {
	result := &SignedDocumentResult{
		Source:   source,
		Name:     art.Name,
		SignedBy: principal,
		SignedAt: art.SignedAt,
		Renamed:  art.Renamed,
	}

	if destination == "" {
		if err := m.repo.AddMarker(ctx, source, MarkerVersionable); err != nil {
			return nil, newError(ErrPersistence, "unable to make document versionable", err)
		}
		if err := m.repo.WriteContent(ctx, source, art.Data, MediaTypePDF); err != nil {
			return nil, newError(ErrPersistence, "unable to store signed version", err)
		}
		if err := m.markSigned(ctx, source, principal, art.SignedAt); err != nil {
			return nil, err
		}
		if art.Renamed {
			if err := m.repo.Rename(ctx, source, art.Name); err != nil {
				return nil, newError(ErrPersistence, "unable to rename converted document", err)
			}
		}
		result.Produced = source
		return result, nil
	}

	produced, err := m.repo.CreateChild(ctx, destination, art.Name)
	if err != nil {
		return nil, newError(ErrPersistence, "unable to create signed document in destination", err)
	}
	if err := m.repo.WriteContent(ctx, produced, art.Data, MediaTypePDF); err != nil {
		m.discard(ctx, source, produced)
		return nil, newError(ErrPersistence, "unable to store signed document", err)
	}
	if err := m.markSigned(ctx, produced, principal, art.SignedAt); err != nil {
		m.discard(ctx, source, produced)
		return nil, err
	}

	original, err := m.repo.HasMarker(ctx, source, MarkerOriginalDoc)
	if err != nil {
		return nil, newError(ErrPersistence, "unable to inspect source document", err)
	}
	if !original {
		if err := m.repo.AddMarker(ctx, source, MarkerOriginalDoc); err != nil {
			return nil, newError(ErrPersistence, "unable to mark source document", err)
		}
	}
	if err := m.repo.AddLink(ctx, source, produced, RelRelatedDoc); err != nil {
		return nil, newError(ErrPersistence, "unable to link signed document", err)
	}
	if err := m.repo.AddLink(ctx, produced, source, RelOriginalDoc); err != nil {
		return nil, newError(ErrPersistence, "unable to link source document", err)
	}

	result.Produced = produced
	result.Linked = true
	return result, nil
}

// discard removes a half-written copy so the document can be signed into the
// same destination again.
func (m *Materializer) discard(ctx context.Context, source, produced Ref) {
	if err := m.repo.DeleteNode(ctx, produced); err != nil {
		m.logger.Warn("Failed to remove incomplete signed copy",
			zap.String("document", string(source)),
			zap.String("produced", string(produced)),
			zap.Error(err),
		)
	}
}

func (m *Materializer) markSigned(ctx context.Context, ref Ref, principal string, at time.Time) error {
	if err := m.repo.AddMarker(ctx, ref, MarkerSigned); err != nil {
		return newError(ErrPersistence, "unable to mark document as signed", err)
	}
	if err := m.repo.SetProperty(ctx, ref, PropSignatureDate, at.UTC().Format(time.RFC3339)); err != nil {
		return newError(ErrPersistence, "unable to record signature date", err)
	}
	if err := m.repo.SetProperty(ctx, ref, PropSignedBy, principal); err != nil {
		return newError(ErrPersistence, "unable to record signer", err)
	}
	return nil
}
