package signing

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/Dnhatsave/alfresco-cloud-sign/pkg/security"
)

type memNode struct {
	name      string
	mediaType string
	data      []byte
	versions  int
	parent    Ref
	children  []Ref
	props     map[string]string
	markers   map[string]bool
}

type memLink struct {
	from, to Ref
	relation string
}

// memRepo is an in-memory Repository used by the tests of this package.
type memRepo struct {
	mu     sync.Mutex
	nodes  map[Ref]*memNode
	homes  map[string]Ref
	links  []memLink
	reads  int
	nextID int
}

func newMemRepo() *memRepo {
	return &memRepo{nodes: map[Ref]*memNode{}, homes: map[string]Ref{}}
}

func (r *memRepo) add(parent Ref, name, mediaType string, data []byte) Ref {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ref := Ref(fmt.Sprintf("node-%d", r.nextID))
	r.nodes[ref] = &memNode{
		name: name, mediaType: mediaType, data: data, parent: parent,
		props: map[string]string{}, markers: map[string]bool{},
	}
	if p, ok := r.nodes[parent]; ok {
		p.children = append(p.children, ref)
	}
	return ref
}

func (r *memRepo) node(ref Ref) (*memNode, error) {
	n, ok := r.nodes[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return n, nil
}

func (r *memRepo) ReadContent(ctx context.Context, ref Ref) (*Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	n, err := r.node(ref)
	if err != nil {
		return nil, err
	}
	return &Content{Name: n.name, MediaType: n.mediaType, Data: bytes.Clone(n.data)}, nil
}

func (r *memRepo) WriteContent(ctx context.Context, ref Ref, data []byte, mediaType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.node(ref)
	if err != nil {
		return err
	}
	if n.markers[MarkerVersionable] {
		n.versions++
	}
	n.data, n.mediaType = bytes.Clone(data), mediaType
	return nil
}

func (r *memRepo) DisplayName(ctx context.Context, ref Ref) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.node(ref)
	if err != nil {
		return "", err
	}
	return n.name, nil
}

func (r *memRepo) Rename(ctx context.Context, ref Ref, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.node(ref)
	if err != nil {
		return err
	}
	n.name = name
	return nil
}

func (r *memRepo) Property(ctx context.Context, ref Ref, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.node(ref)
	if err != nil {
		return "", false, err
	}
	v, ok := n.props[key]
	return v, ok, nil
}

func (r *memRepo) SetProperty(ctx context.Context, ref Ref, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.node(ref)
	if err != nil {
		return err
	}
	n.props[key] = value
	return nil
}

func (r *memRepo) HasMarker(ctx context.Context, ref Ref, marker string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.node(ref)
	if err != nil {
		return false, err
	}
	return n.markers[marker], nil
}

func (r *memRepo) AddMarker(ctx context.Context, ref Ref, marker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.node(ref)
	if err != nil {
		return err
	}
	n.markers[marker] = true
	return nil
}

func (r *memRepo) AddLink(ctx context.Context, from, to Ref, relation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, memLink{from: from, to: to, relation: relation})
	return nil
}

func (r *memRepo) HomeFolder(ctx context.Context, principal string) (Ref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.homes[principal], nil
}

func (r *memRepo) ChildByName(ctx context.Context, parent Ref, name string) (Ref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.node(parent)
	if err != nil {
		return "", err
	}
	for _, c := range p.children {
		if r.nodes[c].name == name {
			return c, nil
		}
	}
	return "", nil
}

func (r *memRepo) Children(ctx context.Context, parent Ref) ([]Ref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.node(parent)
	if err != nil {
		return nil, err
	}
	return append([]Ref(nil), p.children...), nil
}

func (r *memRepo) CreateChild(ctx context.Context, parent Ref, name string) (Ref, error) {
	if _, err := r.ChildByName(ctx, parent, name); err != nil {
		return "", err
	}
	return r.add(parent, name, "", nil), nil
}

func (r *memRepo) DeleteNode(ctx context.Context, ref Ref) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.node(ref)
	if err != nil {
		return err
	}
	if p, ok := r.nodes[n.parent]; ok {
		kept := p.children[:0]
		for _, c := range p.children {
			if c != ref {
				kept = append(kept, c)
			}
		}
		p.children = kept
	}
	delete(r.nodes, ref)
	return nil
}

type staticIdentity string

func (s staticIdentity) CurrentPrincipal(context.Context) (string, error) {
	return string(s), nil
}

const (
	testPrincipal = "alice"
	testPassword  = "changeit"
	testSecret    = "wrap-secret"
)

var testMasterKey = bytes.Repeat([]byte{0x42}, 32)

type fixture struct {
	repo      *memRepo
	home      Ref
	keyFolder Ref
	key       Ref
	cert      *x509.Certificate
	service   *Service
	tempDir   string
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	f := &fixture{repo: newMemRepo(), tempDir: t.TempDir()}

	f.home = f.repo.add("", "alice", "", nil)
	f.repo.homes[testPrincipal] = f.home
	f.keyFolder = f.repo.add(f.home, DefaultKeyFolder, "", nil)

	var pfx []byte
	pfx, f.cert = testKeystore(t)
	envelope, err := security.SealEnvelope(testSecret, pfx)
	require.NoError(t, err)

	decryptor, err := security.NewAESMetadataDecryptor(testMasterKey)
	require.NoError(t, err)
	encSecret, err := decryptor.EncryptSecret(testSecret)
	require.NoError(t, err)

	f.key = f.repo.add(f.keyFolder, "alice.p12", "application/x-pkcs12", envelope)
	ctx := context.Background()
	require.NoError(t, f.repo.AddMarker(ctx, f.key, MarkerKey))
	require.NoError(t, f.repo.SetProperty(ctx, f.key, PropKeyType, string(KeyTypeX509)))
	require.NoError(t, f.repo.SetProperty(ctx, f.key, PropKeyAlias, "alice"))
	require.NoError(t, f.repo.SetProperty(ctx, f.key, PropKeyCryptSecret, encSecret))

	logger := zap.NewNop()
	engine, err := NewEngine(EngineConfig{TempDir: f.tempDir, ServiceID: "https://sign.example.org"}, textTransformer{}, logger, opts...)
	require.NoError(t, err)

	f.service = NewService(f.repo, NewKeyLoader(f.repo, decryptor, "", logger), engine, staticIdentity(testPrincipal), logger)
	return f
}

func testKeystore(t *testing.T) ([]byte, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(777),
		Subject:      pkix.Name{CommonName: "Alice Signer"},
		Issuer:       pkix.Name{CommonName: "Alice Signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pfx, err := pkcs12.LegacyDES.Encode(key, cert, nil, testPassword)
	require.NoError(t, err)
	return pfx, cert
}

func samplePDF(t *testing.T, text string) []byte {
	t.Helper()
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.AddPage()
	doc.SetFont("Helvetica", "", 12)
	doc.Text(20, 20, text)
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

// textTransformer renders text/plain into a one page PDF.
type textTransformer struct{}

func (textTransformer) CanTransform(src, target string) bool {
	return src == "text/plain" && target == MediaTypePDF
}

func (textTransformer) Transform(ctx context.Context, src string, data []byte, target string) ([]byte, error) {
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.AddPage()
	doc.SetFont("Courier", "", 10)
	doc.MultiCell(0, 5, string(data), "", "L", false)
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
