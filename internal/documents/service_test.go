package documents

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Dnhatsave/alfresco-cloud-sign/internal/auth"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/signing"
	"github.com/Dnhatsave/alfresco-cloud-sign/pkg/storage"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateNode(ctx context.Context, node *Node) error {
	args := m.Called(ctx, node)
	return args.Error(0)
}

func (m *MockRepository) GetNode(ctx context.Context, id uuid.UUID) (*Node, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Node), args.Error(1)
}

func (m *MockRepository) UpdateNode(ctx context.Context, node *Node) error {
	args := m.Called(ctx, node)
	return args.Error(0)
}

func (m *MockRepository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]Node, error) {
	args := m.Called(ctx, parentID)
	return args.Get(0).([]Node), args.Error(1)
}

func (m *MockRepository) GetChildByName(ctx context.Context, parentID uuid.UUID, name string) (*Node, error) {
	args := m.Called(ctx, parentID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Node), args.Error(1)
}

func (m *MockRepository) DeleteNode(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) CreateVersion(ctx context.Context, version *NodeVersion) error {
	args := m.Called(ctx, version)
	return args.Error(0)
}

func (m *MockRepository) ListVersions(ctx context.Context, nodeID uuid.UUID) ([]NodeVersion, error) {
	args := m.Called(ctx, nodeID)
	return args.Get(0).([]NodeVersion), args.Error(1)
}

func (m *MockRepository) GetProperty(ctx context.Context, nodeID uuid.UUID, key string) (*NodeProperty, error) {
	args := m.Called(ctx, nodeID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*NodeProperty), args.Error(1)
}

func (m *MockRepository) SetProperty(ctx context.Context, prop *NodeProperty) error {
	args := m.Called(ctx, prop)
	return args.Error(0)
}

func (m *MockRepository) ListProperties(ctx context.Context, nodeID uuid.UUID) ([]NodeProperty, error) {
	args := m.Called(ctx, nodeID)
	return args.Get(0).([]NodeProperty), args.Error(1)
}

func (m *MockRepository) HasMarker(ctx context.Context, nodeID uuid.UUID, marker string) (bool, error) {
	args := m.Called(ctx, nodeID, marker)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) AddMarker(ctx context.Context, marker *NodeMarker) error {
	args := m.Called(ctx, marker)
	return args.Error(0)
}

func (m *MockRepository) ListMarkers(ctx context.Context, nodeID uuid.UUID) ([]NodeMarker, error) {
	args := m.Called(ctx, nodeID)
	return args.Get(0).([]NodeMarker), args.Error(1)
}

func (m *MockRepository) CreateAssociation(ctx context.Context, assoc *NodeAssociation) error {
	args := m.Called(ctx, assoc)
	return args.Error(0)
}

func (m *MockRepository) ListAssociations(ctx context.Context, nodeID uuid.UUID) ([]NodeAssociation, error) {
	args := m.Called(ctx, nodeID)
	return args.Get(0).([]NodeAssociation), args.Error(1)
}

func (m *MockRepository) GetPerson(ctx context.Context, userName string) (*Person, error) {
	args := m.Called(ctx, userName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Person), args.Error(1)
}

func (m *MockRepository) UpsertPerson(ctx context.Context, p *Person) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func newMockService(repo Repository) Service {
	return NewService(repo, NewStorageProvider(storage.NewMemoryClient(), "docs"), zap.NewNop())
}

func TestHomeFolder_NoPerson(t *testing.T) {
	repo := new(MockRepository)
	repo.On("GetPerson", mock.Anything, "bob").Return(nil, nil)

	ref, err := newMockService(repo).HomeFolder(context.Background(), "bob")

	require.NoError(t, err)
	assert.Empty(t, ref)
	repo.AssertExpectations(t)
}

func TestRename_DuplicateName(t *testing.T) {
	repo := new(MockRepository)
	parentID := uuid.New()
	node := &Node{ID: uuid.New(), ParentID: &parentID, Name: "a.txt", Kind: KindContent}

	repo.On("GetNode", mock.Anything, node.ID).Return(node, nil)
	repo.On("GetChildByName", mock.Anything, parentID, "a.pdf").Return(&Node{ID: uuid.New(), Name: "a.pdf"}, nil)

	err := newMockService(repo).Rename(context.Background(), signing.Ref(node.ID.String()), "a.pdf")

	assert.ErrorIs(t, err, ErrDuplicateName)
	repo.AssertNotCalled(t, "UpdateNode", mock.Anything, mock.Anything)
}

func TestProperty_UnknownReference(t *testing.T) {
	repo := new(MockRepository)
	id := uuid.New()
	repo.On("GetNode", mock.Anything, id).Return(nil, nil)

	svc := newMockService(repo)
	_, _, err := svc.Property(context.Background(), signing.Ref(id.String()), "sign:keyType")
	assert.ErrorIs(t, err, signing.ErrNotFound)

	_, _, err = svc.Property(context.Background(), "not-a-uuid", "sign:keyType")
	assert.ErrorIs(t, err, signing.ErrNotFound)
}

func TestAddMarker_Delegates(t *testing.T) {
	repo := new(MockRepository)
	node := &Node{ID: uuid.New(), Name: "doc.pdf", Kind: KindContent}
	repo.On("GetNode", mock.Anything, node.ID).Return(node, nil)
	repo.On("AddMarker", mock.Anything, mock.MatchedBy(func(m *NodeMarker) bool {
		return m.NodeID == node.ID && m.Marker == signing.MarkerSigned
	})).Return(nil)

	err := newMockService(repo).AddMarker(context.Background(), signing.Ref(node.ID.String()), signing.MarkerSigned)

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

type memoryEnv struct {
	svc  Service
	repo *MemoryRepository
	s3   *storage.MemoryClient
	home *Node
	ctx  context.Context
}

func newMemoryEnv(t *testing.T) *memoryEnv {
	t.Helper()
	env := &memoryEnv{
		repo: NewMemoryRepository(),
		s3:   storage.NewMemoryClient(),
		ctx:  auth.WithPrincipal(context.Background(), "alice"),
	}
	env.svc = NewService(env.repo, NewStorageProvider(env.s3, "docs"), zap.NewNop())

	home, err := env.svc.EnsureHome(env.ctx, "alice")
	require.NoError(t, err)
	env.home = home
	return env
}

func (e *memoryEnv) upload(t *testing.T, parent uuid.UUID, name, mediaType, body string) *Node {
	t.Helper()
	node, err := e.svc.Upload(e.ctx, UploadRequest{ParentID: parent, Name: name, MediaType: mediaType, Content: strings.NewReader(body)})
	require.NoError(t, err)
	return node
}

func TestEnsureHome_Idempotent(t *testing.T) {
	env := newMemoryEnv(t)

	again, err := env.svc.EnsureHome(env.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, env.home.ID, again.ID)

	ref, err := env.svc.HomeFolder(env.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, signing.Ref(env.home.ID.String()), ref)
}

func TestUploadAndReadContent(t *testing.T) {
	env := newMemoryEnv(t)
	node := env.upload(t, env.home.ID, "notes.txt", "text/plain", "hello")

	assert.Equal(t, 1, node.CurrentVersion)
	assert.Equal(t, "alice", node.Owner)
	assert.Equal(t, "nodes/"+node.ID.String()+"/v1/notes.txt", node.S3Key)

	content, err := env.svc.ReadContent(env.ctx, signing.Ref(node.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", content.Name)
	assert.Equal(t, "text/plain", content.MediaType)
	assert.Equal(t, "hello", string(content.Data))

	_, rc, err := env.svc.Download(env.ctx, node.ID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestWriteContent_Versioning(t *testing.T) {
	env := newMemoryEnv(t)
	plain := env.upload(t, env.home.ID, "plain.txt", "text/plain", "v1")
	versioned := env.upload(t, env.home.ID, "versioned.txt", "text/plain", "v1")
	plainRef, versionedRef := signing.Ref(plain.ID.String()), signing.Ref(versioned.ID.String())

	require.NoError(t, env.svc.AddMarker(env.ctx, versionedRef, signing.MarkerVersionable))
	require.NoError(t, env.svc.WriteContent(env.ctx, plainRef, []byte("v2"), signing.MediaTypePDF))
	require.NoError(t, env.svc.WriteContent(env.ctx, versionedRef, []byte("v2"), signing.MediaTypePDF))

	plainVersions, err := env.svc.ListVersions(env.ctx, plain.ID)
	require.NoError(t, err)
	assert.Len(t, plainVersions, 1)

	versions, err := env.svc.ListVersions(env.ctx, versioned.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].VersionNumber)

	for _, ref := range []signing.Ref{plainRef, versionedRef} {
		content, err := env.svc.ReadContent(env.ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(content.Data))
		assert.Equal(t, signing.MediaTypePDF, content.MediaType)
	}

	// the first version of the versioned node is still retrievable
	rc, err := env.s3.Download(env.ctx, "docs", versions[1].S3Key)
	require.NoError(t, err)
	defer rc.Close()
	old, _ := io.ReadAll(rc)
	assert.Equal(t, "v1", string(old))
}

func TestCreateChild_DuplicateName(t *testing.T) {
	env := newMemoryEnv(t)
	env.upload(t, env.home.ID, "a.pdf", signing.MediaTypePDF, "%PDF")

	_, err := env.svc.CreateChild(env.ctx, signing.Ref(env.home.ID.String()), "a.pdf")
	assert.ErrorIs(t, err, ErrDuplicateName)

	ref, err := env.svc.CreateChild(env.ctx, signing.Ref(env.home.ID.String()), "b.pdf")
	require.NoError(t, err)
	found, err := env.svc.ChildByName(env.ctx, signing.Ref(env.home.ID.String()), "b.pdf")
	require.NoError(t, err)
	assert.Equal(t, ref, found)
}

func TestDeleteNode(t *testing.T) {
	env := newMemoryEnv(t)
	node := env.upload(t, env.home.ID, "a.pdf", signing.MediaTypePDF, "v1")
	ref := signing.Ref(node.ID.String())
	require.NoError(t, env.svc.AddMarker(env.ctx, ref, signing.MarkerVersionable))
	require.NoError(t, env.svc.WriteContent(env.ctx, ref, []byte("v2"), signing.MediaTypePDF))
	require.Equal(t, 2, env.s3.Len())

	err := env.svc.DeleteNode(env.ctx, signing.Ref(env.home.ID.String()))
	assert.Error(t, err)

	require.NoError(t, env.svc.DeleteNode(env.ctx, ref))
	assert.Equal(t, 0, env.s3.Len())
	_, err = env.svc.ReadContent(env.ctx, ref)
	assert.ErrorIs(t, err, signing.ErrNotFound)

	_, err = env.svc.CreateChild(env.ctx, signing.Ref(env.home.ID.String()), "a.pdf")
	assert.NoError(t, err)
}

func TestUpload_IntoContentNodeFails(t *testing.T) {
	env := newMemoryEnv(t)
	file := env.upload(t, env.home.ID, "a.txt", "text/plain", "x")

	_, err := env.svc.Upload(env.ctx, UploadRequest{ParentID: file.ID, Name: "b.txt", MediaType: "text/plain", Content: strings.NewReader("y")})
	assert.Error(t, err)
}

func TestMetadataAndLinks(t *testing.T) {
	env := newMemoryEnv(t)
	a := env.upload(t, env.home.ID, "a.pdf", signing.MediaTypePDF, "%PDF-a")
	b := env.upload(t, env.home.ID, "b.pdf", signing.MediaTypePDF, "%PDF-b")
	aRef, bRef := signing.Ref(a.ID.String()), signing.Ref(b.ID.String())

	require.NoError(t, env.svc.SetProperty(env.ctx, aRef, signing.PropSignedBy, "alice"))
	require.NoError(t, env.svc.AddMarker(env.ctx, aRef, signing.MarkerSigned))
	require.NoError(t, env.svc.AddMarker(env.ctx, aRef, signing.MarkerSigned))
	require.NoError(t, env.svc.AddLink(env.ctx, aRef, bRef, signing.RelRelatedDoc))

	meta, err := env.svc.GetMetadata(env.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", meta.Properties[signing.PropSignedBy])
	assert.Equal(t, []string{signing.MarkerSigned}, meta.Markers)

	links, err := env.svc.ListLinks(env.ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, b.ID, links[0].TargetID)
	assert.Equal(t, signing.RelRelatedDoc, links[0].Relation)

	err = env.svc.AddLink(env.ctx, aRef, signing.Ref(uuid.NewString()), signing.RelRelatedDoc)
	assert.True(t, errors.Is(err, signing.ErrNotFound))
}

func TestRename(t *testing.T) {
	env := newMemoryEnv(t)
	node := env.upload(t, env.home.ID, "report.txt", "text/plain", "x")
	ref := signing.Ref(node.ID.String())

	require.NoError(t, env.svc.Rename(env.ctx, ref, "report.pdf"))
	name, err := env.svc.DisplayName(env.ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", name)
}
