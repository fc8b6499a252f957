package signing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	pdflib "github.com/digitorus/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dnhatsave/alfresco-cloud-sign/pkg/pdf"
	"github.com/Dnhatsave/alfresco-cloud-sign/pkg/security"
)

func TestSign_RejectsEmptyDocumentList(t *testing.T) {
	f := newFixture(t)

	results, err := f.service.Sign(context.Background(), SigningRequest{KeyPassword: testPassword})

	assert.Nil(t, results)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Zero(t, f.repo.reads, "no content may be read for an invalid request")
}

func TestSign_MissingPasswordFailsBeforeKeyResolution(t *testing.T) {
	f := newFixture(t)
	delete(f.repo.homes, testPrincipal)

	doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))
	_, err := f.service.Sign(context.Background(), SigningRequest{Documents: []Ref{doc}})

	assert.ErrorIs(t, err, ErrConfiguration)
	assert.NotErrorIs(t, err, ErrKeyResolution)
}

func TestSign_RejectsDuplicateDocuments(t *testing.T) {
	f := newFixture(t)
	doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))

	_, err := f.service.Sign(context.Background(), SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc, doc}})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestKeyResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("no home folder", func(t *testing.T) {
		f := newFixture(t)
		delete(f.repo.homes, testPrincipal)
		doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))

		_, err := f.service.Sign(ctx, SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc}})
		require.ErrorIs(t, err, ErrKeyResolution)
		assert.Contains(t, err.Error(), "user 'alice' has no home folder")
	})

	t.Run("no key folder", func(t *testing.T) {
		f := newFixture(t)
		f.repo.nodes[f.keyFolder].name = "Something else"
		doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))

		_, err := f.service.Sign(ctx, SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc}})
		require.ErrorIs(t, err, ErrKeyResolution)
		assert.Contains(t, err.Error(), "no key file uploaded for user 'alice'")
	})

	t.Run("folder without key marker", func(t *testing.T) {
		f := newFixture(t)
		delete(f.repo.nodes[f.key].markers, MarkerKey)
		doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))

		_, err := f.service.Sign(ctx, SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc}})
		require.ErrorIs(t, err, ErrKeyResolution)
		assert.Contains(t, err.Error(), "no key file uploaded for user 'alice'")
	})

	t.Run("explicit key that does not exist", func(t *testing.T) {
		f := newFixture(t)
		doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))

		_, err := f.service.Sign(ctx, SigningRequest{KeyRef: "missing", KeyPassword: testPassword, Documents: []Ref{doc}})
		assert.ErrorIs(t, err, ErrKeyResolution)
	})
}

func TestKeyMaterialErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong password", func(t *testing.T) {
		f := newFixture(t)
		doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))

		_, err := f.service.Sign(ctx, SigningRequest{KeyPassword: "wrong", Documents: []Ref{doc}})
		assert.ErrorIs(t, err, ErrKeyMaterial)
		assert.Zero(t, f.repo.nodes[doc].versions)
	})

	t.Run("corrupt envelope", func(t *testing.T) {
		f := newFixture(t)
		f.repo.nodes[f.key].data = []byte("garbage")
		doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))

		_, err := f.service.Sign(ctx, SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc}})
		assert.ErrorIs(t, err, ErrKeyMaterial)
	})

	t.Run("missing wrapping secret", func(t *testing.T) {
		f := newFixture(t)
		delete(f.repo.nodes[f.key].props, PropKeyCryptSecret)
		doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))

		_, err := f.service.Sign(ctx, SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc}})
		assert.ErrorIs(t, err, ErrKeyMaterial)
	})
}

func TestSign_UnsupportedKeyTypeIsANoOp(t *testing.T) {
	f := newFixture(t)
	f.repo.nodes[f.key].props[PropKeyType] = "pgp"
	doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))
	before := f.repo.reads

	results, err := f.service.Sign(context.Background(), SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc}})

	assert.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, before, f.repo.reads, "neither the key nor any document may be read")
	assert.False(t, f.repo.nodes[doc].markers[MarkerSigned])
}

func TestSign_NilLoggers(t *testing.T) {
	f := newFixture(t)
	f.repo.nodes[f.key].props[PropKeyType] = "pgp"
	doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))

	decryptor, err := security.NewAESMetadataDecryptor(testMasterKey)
	require.NoError(t, err)
	engine, err := NewEngine(EngineConfig{TempDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)
	svc := NewService(f.repo, NewKeyLoader(f.repo, decryptor, "", nil), engine, staticIdentity(testPrincipal), nil)

	var results []SignedDocumentResult
	require.NotPanics(t, func() {
		results, err = svc.Sign(context.Background(), SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc}})
	})
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestSign_InPlaceThenVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.repo.add(f.home, "contract.pdf", MediaTypePDF, samplePDF(t, "contract"))

	results, err := f.service.Sign(ctx, SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, doc, res.Source)
	assert.Equal(t, doc, res.Produced)
	assert.Equal(t, testPrincipal, res.SignedBy)
	assert.False(t, res.Linked)
	assert.False(t, res.Renamed)

	node := f.repo.nodes[doc]
	assert.True(t, node.markers[MarkerVersionable])
	assert.True(t, node.markers[MarkerSigned])
	assert.Equal(t, 1, node.versions)
	assert.Equal(t, testPrincipal, node.props[PropSignedBy])
	_, err = time.Parse(time.RFC3339, node.props[PropSignatureDate])
	assert.NoError(t, err)
	assert.Empty(t, f.repo.links)

	verified, err := f.service.Verify(ctx, VerificationRequest{KeyPassword: testPassword, Document: doc})
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.True(t, verified[0].IsSignValid)
	assert.False(t, verified[0].IsDocumentModified)
	assert.True(t, verified[0].CoversWholeDocument)
	assert.Equal(t, "Alice Signer", verified[0].Subject)
	assert.Equal(t, "777", verified[0].SerialNumber)
	assert.Contains(t, verified[0].Details, "SignedWithLoadedKey=true")
	assert.Contains(t, verified[0].Details, "Name="+testPrincipal)
	assert.Contains(t, verified[0].Details, fmt.Sprintf("Version=%d/%d", verified[0].Revision, verified[0].TotalRevisions))

	t.Run("tampering is reported", func(t *testing.T) {
		node.data[7] ^= 0x01
		verified, err := f.service.Verify(ctx, VerificationRequest{KeyPassword: testPassword, Document: doc})
		require.NoError(t, err)
		require.Len(t, verified, 1)
		assert.True(t, verified[0].IsDocumentModified)
		assert.False(t, verified[0].IsSignValid)
	})
}

func TestSign_IntoDestinationLinksCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := samplePDF(t, "invoice")
	doc := f.repo.add(f.home, "invoice.pdf", MediaTypePDF, original)
	dest := f.repo.add(f.home, "Signed", "", nil)

	results, err := f.service.Sign(ctx, SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc}, Destination: dest})
	require.NoError(t, err)
	require.Len(t, results, 1)

	produced := results[0].Produced
	assert.NotEqual(t, doc, produced)
	assert.True(t, results[0].Linked)

	copyNode := f.repo.nodes[produced]
	assert.Equal(t, "invoice.pdf", copyNode.name)
	assert.Equal(t, MediaTypePDF, copyNode.mediaType)
	assert.True(t, copyNode.markers[MarkerSigned])
	assert.Contains(t, f.repo.nodes[dest].children, produced)

	src := f.repo.nodes[doc]
	assert.Equal(t, original, src.data, "source content must be untouched")
	assert.True(t, src.markers[MarkerOriginalDoc])
	assert.False(t, src.markers[MarkerSigned])

	assert.ElementsMatch(t, []memLink{
		{from: doc, to: produced, relation: RelRelatedDoc},
		{from: produced, to: doc, relation: RelOriginalDoc},
	}, f.repo.links)
}

func TestSign_BatchIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	one := f.repo.add(f.home, "one.pdf", MediaTypePDF, samplePDF(t, "one"))
	two := f.repo.add(f.home, "two.bin", "application/octet-stream", []byte{0x00, 0x01})
	three := f.repo.add(f.home, "three.pdf", MediaTypePDF, samplePDF(t, "three"))

	results, err := f.service.Sign(ctx, SigningRequest{KeyPassword: testPassword, Documents: []Ref{one, two, three}})

	require.Error(t, err)
	var batch *BatchError
	require.True(t, errors.As(err, &batch))
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, two, batch.Failures[0].Ref)
	assert.ErrorIs(t, err, ErrDocumentAccess)

	assert.Contains(t, err.Error(), "[two.bin]")
	assert.Contains(t, err.Error(), "no suitable converter found")
	assert.NotContains(t, err.Error(), "one.pdf")
	assert.NotContains(t, err.Error(), "three.pdf")

	require.Len(t, results, 2)
	assert.Equal(t, one, results[0].Source)
	assert.Equal(t, three, results[1].Source)
	assert.True(t, f.repo.nodes[one].markers[MarkerSigned])
	assert.True(t, f.repo.nodes[three].markers[MarkerSigned])
	assert.False(t, f.repo.nodes[two].markers[MarkerSigned])
}

func TestSign_ConvertsAndRenames(t *testing.T) {
	f := newFixture(t)
	doc := f.repo.add(f.home, "notes.txt", "text/plain", []byte("meeting notes"))

	results, err := f.service.Sign(context.Background(), SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Renamed)
	assert.Equal(t, "notes.pdf", results[0].Name)
	assert.Equal(t, "notes.pdf", f.repo.nodes[doc].name)
	assert.Equal(t, MediaTypePDF, f.repo.nodes[doc].mediaType)
}

// failingWrites rejects every content write.
type failingWrites struct {
	*memRepo
}

func (failingWrites) WriteContent(context.Context, Ref, []byte, string) error {
	return errors.New("storage unavailable")
}

func TestMaterialize_FailedWriteRemovesCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))
	dest := f.repo.add(f.home, "Signed", "", nil)
	art := &SignedArtifact{Data: samplePDF(t, "signed"), Name: "a.pdf", SignedAt: time.Now()}
	nodes := len(f.repo.nodes)

	_, err := NewMaterializer(failingWrites{f.repo}, nil).Materialize(ctx, doc, dest, art, testPrincipal)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, f.repo.nodes[dest].children)
	assert.Len(t, f.repo.nodes, nodes)
	assert.False(t, f.repo.nodes[doc].markers[MarkerOriginalDoc])

	res, err := NewMaterializer(f.repo, nil).Materialize(ctx, doc, dest, art, testPrincipal)
	require.NoError(t, err)
	assert.Equal(t, []Ref{res.Produced}, f.repo.nodes[dest].children)
}

func TestSign_WithPDFA(t *testing.T) {
	f := newFixture(t)
	doc := f.repo.add(f.home, "archive.pdf", MediaTypePDF, samplePDF(t, "archive"))

	results, err := f.service.Sign(context.Background(), SigningRequest{
		KeyPassword: testPassword,
		Documents:   []Ref{doc},
		PDFA:        true,
		Stamp:       &StampSpec{Pages: "first"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	signed := f.repo.nodes[doc].data
	rdr, err := pdflib.NewReader(bytes.NewReader(signed), int64(len(signed)))
	require.NoError(t, err)
	root := rdr.Trailer().Key("Root")
	require.Equal(t, 1, root.Key("OutputIntents").Len())
	assert.Equal(t, pdflib.Stream, root.Key("Metadata").Kind())

	verified, err := f.service.Verify(context.Background(), VerificationRequest{KeyPassword: testPassword, Document: doc})
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.True(t, verified[0].IsSignValid)
	assert.True(t, verified[0].CoversWholeDocument)
}

func TestSign_WorkspaceIsRemoved(t *testing.T) {
	f := newFixture(t)
	ok := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))
	bad := f.repo.add(f.home, "b.pdf", MediaTypePDF, []byte("not really a pdf"))

	_, err := f.service.Sign(context.Background(), SigningRequest{KeyPassword: testPassword, Documents: []Ref{ok, bad}})
	require.Error(t, err)

	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type panickingStamper struct{}

func (panickingStamper) Stamp(context.Context, string, string, pdf.StampOptions) (int, error) {
	panic("boom")
}

func TestSign_PanicBecomesDocumentFailure(t *testing.T) {
	f := newFixture(t, WithStamper(panickingStamper{}))
	doc := f.repo.add(f.home, "a.pdf", MediaTypePDF, samplePDF(t, "a"))

	results, err := f.service.Sign(context.Background(), SigningRequest{KeyPassword: testPassword, Documents: []Ref{doc}})
	assert.Empty(t, results)
	assert.ErrorIs(t, err, ErrSigning)
	assert.Contains(t, err.Error(), "[a.pdf]")
}

func TestVerify_NoSignatures(t *testing.T) {
	f := newFixture(t)
	doc := f.repo.add(f.home, "plain.pdf", MediaTypePDF, samplePDF(t, "plain"))

	_, err := f.service.Verify(context.Background(), VerificationRequest{KeyPassword: testPassword, Document: doc})
	assert.ErrorIs(t, err, ErrVerification)
}

func TestVerify_RequiresKeyMaterial(t *testing.T) {
	f := newFixture(t)
	doc := f.repo.add(f.home, "plain.pdf", MediaTypePDF, samplePDF(t, "plain"))

	_, err := f.service.Verify(context.Background(), VerificationRequest{KeyPassword: "wrong", Document: doc})
	assert.ErrorIs(t, err, ErrKeyMaterial)

	_, err = f.service.Verify(context.Background(), VerificationRequest{KeyPassword: testPassword})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestBatchErrorMessage(t *testing.T) {
	err := &BatchError{Failures: []*DocumentError{
		{Ref: "1", Name: "a.pdf", Err: newError(ErrSigning, "unable to create PDF signature", nil)},
		{Ref: "2", Name: "b.pdf", Err: newError(ErrPersistence, "unable to store signed version", errors.New("disk full"))},
	}}

	assert.Equal(t, "[a.pdf] unable to create PDF signature\n[b.pdf] unable to store signed version: disk full", err.Error())
	assert.ErrorIs(t, err, ErrSigning)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.NotErrorIs(t, err, ErrConfiguration)
}

func TestPDFName(t *testing.T) {
	assert.Equal(t, "notes.pdf", pdfName("notes.txt"))
	assert.Equal(t, "archive.tar.pdf", pdfName("archive.tar.gz"))
	assert.Equal(t, "report.pdf", pdfName("report"))
	assert.Equal(t, "scan.PDF", pdfName("scan.PDF"))
}
