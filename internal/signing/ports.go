package signing

import (
	"context"
	"time"
)

// Content is a node's primary content stream.
type Content struct {
	Name      string
	MediaType string
	Data      []byte
}

type ContentStore interface {
	ReadContent(ctx context.Context, ref Ref) (*Content, error)
	// WriteContent replaces the content; versionable nodes keep the prior
	// content as a new version.
	WriteContent(ctx context.Context, ref Ref, data []byte, mediaType string) error
}

type MetadataStore interface {
	DisplayName(ctx context.Context, ref Ref) (string, error)
	Rename(ctx context.Context, ref Ref, name string) error
	Property(ctx context.Context, ref Ref, key string) (string, bool, error)
	SetProperty(ctx context.Context, ref Ref, key, value string) error
	HasMarker(ctx context.Context, ref Ref, marker string) (bool, error)
	AddMarker(ctx context.Context, ref Ref, marker string) error
	AddLink(ctx context.Context, from, to Ref, relation string) error
}

type FolderBrowser interface {
	// HomeFolder returns "" when the principal has no home folder.
	HomeFolder(ctx context.Context, principal string) (Ref, error)
	// ChildByName returns "" when no child has the name.
	ChildByName(ctx context.Context, parent Ref, name string) (Ref, error)
	Children(ctx context.Context, parent Ref) ([]Ref, error)
	CreateChild(ctx context.Context, parent Ref, name string) (Ref, error)
	// DeleteNode removes a node created by CreateChild, content included.
	DeleteNode(ctx context.Context, ref Ref) error
}

// Repository is everything the signing flows need from the content
// repository.
type Repository interface {
	ContentStore
	MetadataStore
	FolderBrowser
}

// Transformer converts content between media types.
type Transformer interface {
	CanTransform(sourceMediaType, targetMediaType string) bool
	Transform(ctx context.Context, sourceMediaType string, data []byte, targetMediaType string) ([]byte, error)
}

// Identity resolves the principal behind a request.
type Identity interface {
	CurrentPrincipal(ctx context.Context) (string, error)
}

type AuditEvent struct {
	Kind       string
	Principal  string
	Document   Ref
	Produced   Ref
	Err        error
	Details    map[string]any
	OccurredAt time.Time
}

type Auditor interface {
	Record(ctx context.Context, event AuditEvent) error
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, AuditEvent) error { return nil }
