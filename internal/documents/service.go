package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Dnhatsave/alfresco-cloud-sign/internal/auth"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/signing"
)

var ErrDuplicateName = errors.New("a node with this name already exists")

// Service is the content repository. Besides its own operations it
// implements every port the signing flows depend on.
type Service interface {
	signing.Repository

	Upload(ctx context.Context, req UploadRequest) (*Node, error)
	CreateFolder(ctx context.Context, parentID *uuid.UUID, name string) (*Node, error)
	GetNode(ctx context.Context, id uuid.UUID) (*Node, error)
	GetMetadata(ctx context.Context, id uuid.UUID) (*NodeMetadata, error)
	Download(ctx context.Context, id uuid.UUID) (*Node, io.ReadCloser, error)
	ListVersions(ctx context.Context, id uuid.UUID) ([]NodeVersion, error)
	ListLinks(ctx context.Context, id uuid.UUID) ([]NodeAssociation, error)
	EnsureHome(ctx context.Context, userName string) (*Node, error)
}

type UploadRequest struct {
	ParentID  uuid.UUID
	Name      string
	MediaType string
	Content   io.Reader
}

type documentService struct {
	repo    Repository
	storage *StorageProvider
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(repo Repository, storage *StorageProvider, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &documentService{
		repo:    repo,
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *documentService) Upload(ctx context.Context, req UploadRequest) (*Node, error) {
	data, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	node, err := s.createNode(ctx, &req.ParentID, req.Name, KindContent)
	if err != nil {
		return nil, err
	}
	if err := s.putContent(ctx, node, data, req.MediaType, true); err != nil {
		return nil, err
	}

	s.logger.Info("Uploaded document",
		zap.String("node_id", node.ID.String()),
		zap.String("name", node.Name),
		zap.Int("size", len(data)),
	)
	return node, nil
}

func (s *documentService) CreateFolder(ctx context.Context, parentID *uuid.UUID, name string) (*Node, error) {
	return s.createNode(ctx, parentID, name, KindFolder)
}

func (s *documentService) GetNode(ctx context.Context, id uuid.UUID) (*Node, error) {
	return s.repo.GetNode(ctx, id)
}

func (s *documentService) GetMetadata(ctx context.Context, id uuid.UUID) (*NodeMetadata, error) {
	node, err := s.repo.GetNode(ctx, id)
	if err != nil || node == nil {
		return nil, err
	}
	props, err := s.repo.ListProperties(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	markers, err := s.repo.ListMarkers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list markers: %w", err)
	}

	meta := &NodeMetadata{Node: node, Properties: make(map[string]string, len(props)), Markers: []string{}}
	for _, p := range props {
		meta.Properties[p.Key] = p.Value
	}
	for _, m := range markers {
		meta.Markers = append(meta.Markers, m.Marker)
	}
	return meta, nil
}

func (s *documentService) Download(ctx context.Context, id uuid.UUID) (*Node, io.ReadCloser, error) {
	node, err := s.contentNode(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.storage.DownloadFromS3(ctx, node.S3Bucket, node.S3Key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download content: %w", err)
	}
	return node, rc, nil
}

func (s *documentService) ListVersions(ctx context.Context, id uuid.UUID) ([]NodeVersion, error) {
	return s.repo.ListVersions(ctx, id)
}

func (s *documentService) ListLinks(ctx context.Context, id uuid.UUID) ([]NodeAssociation, error) {
	return s.repo.ListAssociations(ctx, id)
}

// EnsureHome returns the user's home folder, creating it and the person
// record on first use.
func (s *documentService) EnsureHome(ctx context.Context, userName string) (*Node, error) {
	p, err := s.repo.GetPerson(ctx, userName)
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	if p != nil && p.HomeFolderID != nil {
		return s.repo.GetNode(ctx, *p.HomeFolderID)
	}

	home, err := s.createNode(ctx, nil, userName, KindFolder)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpsertPerson(ctx, &Person{UserName: userName, HomeFolderID: &home.ID, CreatedAt: s.now()}); err != nil {
		return nil, fmt.Errorf("failed to save person: %w", err)
	}
	s.logger.Info("Created home folder", zap.String("principal", userName), zap.String("node_id", home.ID.String()))
	return home, nil
}

// signing.ContentStore

func (s *documentService) ReadContent(ctx context.Context, ref signing.Ref) (*signing.Content, error) {
	id, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	node, rc, err := s.Download(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return &signing.Content{Name: node.Name, MediaType: node.MediaType, Data: data}, nil
}

func (s *documentService) WriteContent(ctx context.Context, ref signing.Ref, data []byte, mediaType string) error {
	node, err := s.lookup(ctx, ref)
	if err != nil {
		return err
	}
	if node.Kind != KindContent {
		return fmt.Errorf("node %s is a folder", node.ID)
	}
	versionable, err := s.repo.HasMarker(ctx, node.ID, signing.MarkerVersionable)
	if err != nil {
		return fmt.Errorf("failed to check versioning: %w", err)
	}
	return s.putContent(ctx, node, data, mediaType, versionable || node.CurrentVersion == 0)
}

// signing.MetadataStore

func (s *documentService) DisplayName(ctx context.Context, ref signing.Ref) (string, error) {
	node, err := s.lookup(ctx, ref)
	if err != nil {
		return "", err
	}
	return node.Name, nil
}

func (s *documentService) Rename(ctx context.Context, ref signing.Ref, name string) error {
	node, err := s.lookup(ctx, ref)
	if err != nil {
		return err
	}
	if node.Name == name {
		return nil
	}
	if node.ParentID != nil {
		existing, err := s.repo.GetChildByName(ctx, *node.ParentID, name)
		if err != nil {
			return fmt.Errorf("failed to check name: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
	}
	node.Name = name
	node.UpdatedAt = s.now()
	return s.repo.UpdateNode(ctx, node)
}

func (s *documentService) Property(ctx context.Context, ref signing.Ref, key string) (string, bool, error) {
	id, err := s.existing(ctx, ref)
	if err != nil {
		return "", false, err
	}
	prop, err := s.repo.GetProperty(ctx, id, key)
	if err != nil {
		return "", false, err
	}
	if prop == nil {
		return "", false, nil
	}
	return prop.Value, true, nil
}

func (s *documentService) SetProperty(ctx context.Context, ref signing.Ref, key, value string) error {
	id, err := s.existing(ctx, ref)
	if err != nil {
		return err
	}
	return s.repo.SetProperty(ctx, &NodeProperty{NodeID: id, Key: key, Value: value})
}

func (s *documentService) HasMarker(ctx context.Context, ref signing.Ref, marker string) (bool, error) {
	id, err := s.existing(ctx, ref)
	if err != nil {
		return false, err
	}
	return s.repo.HasMarker(ctx, id, marker)
}

func (s *documentService) AddMarker(ctx context.Context, ref signing.Ref, marker string) error {
	id, err := s.existing(ctx, ref)
	if err != nil {
		return err
	}
	return s.repo.AddMarker(ctx, &NodeMarker{NodeID: id, Marker: marker, AddedAt: s.now()})
}

func (s *documentService) AddLink(ctx context.Context, from, to signing.Ref, relation string) error {
	src, err := s.existing(ctx, from)
	if err != nil {
		return err
	}
	dst, err := s.existing(ctx, to)
	if err != nil {
		return err
	}
	return s.repo.CreateAssociation(ctx, &NodeAssociation{
		ID:        uuid.New(),
		SourceID:  src,
		TargetID:  dst,
		Relation:  relation,
		CreatedAt: s.now(),
	})
}

// signing.FolderBrowser

func (s *documentService) HomeFolder(ctx context.Context, principal string) (signing.Ref, error) {
	p, err := s.repo.GetPerson(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("failed to get person: %w", err)
	}
	if p == nil || p.HomeFolderID == nil {
		return "", nil
	}
	return signing.Ref(p.HomeFolderID.String()), nil
}

func (s *documentService) ChildByName(ctx context.Context, parent signing.Ref, name string) (signing.Ref, error) {
	id, err := s.existing(ctx, parent)
	if err != nil {
		return "", err
	}
	child, err := s.repo.GetChildByName(ctx, id, name)
	if err != nil || child == nil {
		return "", err
	}
	return signing.Ref(child.ID.String()), nil
}

func (s *documentService) Children(ctx context.Context, parent signing.Ref) ([]signing.Ref, error) {
	id, err := s.existing(ctx, parent)
	if err != nil {
		return nil, err
	}
	nodes, err := s.repo.ListChildren(ctx, id)
	if err != nil {
		return nil, err
	}
	refs := make([]signing.Ref, 0, len(nodes))
	for _, n := range nodes {
		refs = append(refs, signing.Ref(n.ID.String()))
	}
	return refs, nil
}

func (s *documentService) CreateChild(ctx context.Context, parent signing.Ref, name string) (signing.Ref, error) {
	id, err := s.existing(ctx, parent)
	if err != nil {
		return "", err
	}
	node, err := s.createNode(ctx, &id, name, KindContent)
	if err != nil {
		return "", err
	}
	return signing.Ref(node.ID.String()), nil
}

func (s *documentService) DeleteNode(ctx context.Context, ref signing.Ref) error {
	node, err := s.lookup(ctx, ref)
	if err != nil {
		return err
	}
	versions, err := s.repo.ListVersions(ctx, node.ID)
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}
	if err := s.repo.DeleteNode(ctx, node.ID); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	keys := map[string]struct{}{}
	if node.S3Key != "" {
		keys[node.S3Key] = struct{}{}
	}
	for _, v := range versions {
		keys[v.S3Key] = struct{}{}
	}
	for key := range keys {
		if err := s.storage.DeleteFromS3(ctx, node.S3Bucket, key); err != nil {
			s.logger.Warn("Failed to delete content object",
				zap.String("node_id", node.ID.String()),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *documentService) createNode(ctx context.Context, parentID *uuid.UUID, name string, kind NodeKind) (*Node, error) {
	if name == "" {
		return nil, errors.New("name is required")
	}
	if parentID != nil {
		parent, err := s.repo.GetNode(ctx, *parentID)
		if err != nil {
			return nil, fmt.Errorf("failed to get parent: %w", err)
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: parent %s", signing.ErrNotFound, parentID)
		}
		if parent.Kind != KindFolder {
			return nil, fmt.Errorf("parent %s is not a folder", parentID)
		}
		existing, err := s.repo.GetChildByName(ctx, *parentID, name)
		if err != nil {
			return nil, fmt.Errorf("failed to check name: %w", err)
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
	}

	owner, _ := auth.PrincipalFromContext(ctx)
	now := s.now()
	node := &Node{
		ID:        uuid.New(),
		ParentID:  parentID,
		Name:      name,
		Kind:      kind,
		S3Bucket:  s.storage.Bucket(),
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateNode(ctx, node); err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}
	return node, nil
}

// putContent stores data either as a new version or over the current one.
func (s *documentService) putContent(ctx context.Context, node *Node, data []byte, mediaType string, newVersion bool) error {
	version := node.CurrentVersion
	if newVersion {
		version++
	}
	key := s.storage.GenerateS3Key(node.ID, version, node.Name)
	if err := s.storage.UploadToS3(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload content: %w", err)
	}

	if newVersion {
		createdBy, _ := auth.PrincipalFromContext(ctx)
		err := s.repo.CreateVersion(ctx, &NodeVersion{
			ID:            uuid.New(),
			NodeID:        node.ID,
			VersionNumber: version,
			S3Key:         key,
			MediaType:     mediaType,
			FileSize:      int64(len(data)),
			CreatedBy:     createdBy,
			CreatedAt:     s.now(),
		})
		if err != nil {
			return fmt.Errorf("failed to create version: %w", err)
		}
	}

	node.CurrentVersion = version
	node.S3Key = key
	node.S3Bucket = s.storage.Bucket()
	node.MediaType = mediaType
	node.FileSize = int64(len(data))
	node.UpdatedAt = s.now()
	if err := s.repo.UpdateNode(ctx, node); err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	return nil
}

func (s *documentService) contentNode(ctx context.Context, id uuid.UUID) (*Node, error) {
	node, err := s.repo.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	if node == nil {
		return nil, fmt.Errorf("%w: %s", signing.ErrNotFound, id)
	}
	if node.Kind != KindContent || node.S3Key == "" {
		return nil, fmt.Errorf("node %s has no content", id)
	}
	return node, nil
}

func (s *documentService) lookup(ctx context.Context, ref signing.Ref) (*Node, error) {
	id, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	node, err := s.repo.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	if node == nil {
		return nil, fmt.Errorf("%w: %s", signing.ErrNotFound, ref)
	}
	return node, nil
}

func (s *documentService) existing(ctx context.Context, ref signing.Ref) (uuid.UUID, error) {
	node, err := s.lookup(ctx, ref)
	if err != nil {
		return uuid.Nil, err
	}
	return node.ID, nil
}

func parseRef(ref signing.Ref) (uuid.UUID, error) {
	id, err := uuid.Parse(string(ref))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", signing.ErrNotFound, ref)
	}
	return id, nil
}
