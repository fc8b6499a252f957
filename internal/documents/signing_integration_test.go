package documents

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/Dnhatsave/alfresco-cloud-sign/internal/auth"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/signing"
	"github.com/Dnhatsave/alfresco-cloud-sign/pkg/security"
)

// uploadKey stores a sealed keystore in the principal's key folder the way
// the key upload side does.
func uploadKey(t *testing.T, env *memoryEnv, decryptor *security.AESMetadataDecryptor, password string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(99),
		Subject:      pkix.Name{CommonName: "Alice Repository"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pfx, err := pkcs12.LegacyDES.Encode(key, cert, nil, password)
	require.NoError(t, err)

	sealed, err := security.SealEnvelope("unwrap", pfx)
	require.NoError(t, err)
	encSecret, err := decryptor.EncryptSecret("unwrap")
	require.NoError(t, err)

	folder, err := env.svc.CreateFolder(env.ctx, &env.home.ID, signing.DefaultKeyFolder)
	require.NoError(t, err)
	node, err := env.svc.Upload(env.ctx, UploadRequest{
		ParentID: folder.ID, Name: "alice.p12", MediaType: "application/x-pkcs12", Content: bytes.NewReader(sealed),
	})
	require.NoError(t, err)

	ref := signing.Ref(node.ID.String())
	require.NoError(t, env.svc.AddMarker(env.ctx, ref, signing.MarkerKey))
	require.NoError(t, env.svc.SetProperty(env.ctx, ref, signing.PropKeyType, string(signing.KeyTypeX509)))
	require.NoError(t, env.svc.SetProperty(env.ctx, ref, signing.PropKeyCryptSecret, encSecret))
}

func pdfBytes(t *testing.T) []byte {
	t.Helper()
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.AddPage()
	doc.SetFont("Helvetica", "", 12)
	doc.Text(20, 20, "contract")
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func TestSigningAgainstRepository(t *testing.T) {
	env := newMemoryEnv(t)
	decryptor, err := security.NewAESMetadataDecryptor(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	uploadKey(t, env, decryptor, "secret")

	doc, err := env.svc.Upload(env.ctx, UploadRequest{
		ParentID: env.home.ID, Name: "contract.pdf", MediaType: signing.MediaTypePDF, Content: bytes.NewReader(pdfBytes(t)),
	})
	require.NoError(t, err)
	out, err := env.svc.CreateFolder(env.ctx, &env.home.ID, "Signed")
	require.NoError(t, err)

	logger := zap.NewNop()
	engine, err := signing.NewEngine(signing.EngineConfig{TempDir: t.TempDir(), ServiceID: "https://sign.example.org"}, nil, logger)
	require.NoError(t, err)
	svc := signing.NewService(env.svc, signing.NewKeyLoader(env.svc, decryptor, "", logger), engine, auth.ContextIdentity{}, logger)

	results, err := svc.Sign(env.ctx, signing.SigningRequest{
		KeyPassword: "secret",
		Destination: signing.Ref(out.ID.String()),
		Documents:   []signing.Ref{signing.Ref(doc.ID.String())},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Linked)
	assert.NotEqual(t, results[0].Source, results[0].Produced)

	links, err := env.svc.ListLinks(env.ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, string(results[0].Produced), links[0].TargetID.String())

	verified, err := svc.Verify(env.ctx, signing.VerificationRequest{KeyPassword: "secret", Document: results[0].Produced})
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.True(t, verified[0].IsSignValid)
	assert.False(t, verified[0].IsDocumentModified)
	assert.Contains(t, verified[0].Subject, "Alice Repository")
}

func TestSigningWithoutPrincipal(t *testing.T) {
	env := newMemoryEnv(t)
	logger := zap.NewNop()
	engine, err := signing.NewEngine(signing.EngineConfig{TempDir: t.TempDir()}, nil, logger)
	require.NoError(t, err)
	decryptor, err := security.NewAESMetadataDecryptor(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	svc := signing.NewService(env.svc, signing.NewKeyLoader(env.svc, decryptor, "", logger), engine, auth.ContextIdentity{}, logger)

	_, err = svc.Sign(context.Background(), signing.SigningRequest{KeyPassword: "x", Documents: []signing.Ref{"a"}})
	assert.Error(t, err)
}
