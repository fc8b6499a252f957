package pdf

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/digitorus/pdfsign/sign"
)

// SignOptions carries the key material and the descriptive fields of a
// signature dictionary.
type SignOptions struct {
	Signer      crypto.Signer
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	Digest      crypto.Hash

	Name        string
	Reason      string
	Location    string
	ContactInfo string
	Date        time.Time
}

type Signer interface {
	// Sign appends a detached CMS signature over src as an incremental
	// update and writes the result to dst.
	Sign(ctx context.Context, src, dst string, opts SignOptions) error
}

type pdfSigner struct{}

func NewSigner() Signer {
	return &pdfSigner{}
}

func (s *pdfSigner) Sign(ctx context.Context, src, dst string, opts SignOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.Signer == nil || opts.Certificate == nil {
		return errors.New("signing key and certificate are required")
	}

	digest := opts.Digest
	if digest == 0 || !digest.Available() {
		digest = crypto.SHA256
	}
	date := opts.Date
	if date.IsZero() {
		date = time.Now()
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	// pdfsign writes a catalog without /Metadata and /OutputIntents, which
	// would strip PDF/A identification from the signed revision.
	if hasArchivalCatalog(data) {
		signed, err := signArchival(data, opts, digest, date)
		if err != nil {
			return fmt.Errorf("failed to sign PDF: %w", err)
		}
		return os.WriteFile(dst, signed, 0o600)
	}

	chain := append([]*x509.Certificate{opts.Certificate}, opts.Chain...)
	err = sign.SignFile(src, dst, sign.SignData{
		Signature: sign.SignDataSignature{
			Info: sign.SignDataSignatureInfo{
				Name:        opts.Name,
				Location:    opts.Location,
				Reason:      opts.Reason,
				ContactInfo: opts.ContactInfo,
				Date:        date,
			},
			CertType:   sign.ApprovalSignature,
			DocMDPPerm: sign.AllowFillingExistingFormFieldsAndSignaturesPerms,
		},
		Signer:            opts.Signer,
		DigestAlgorithm:   digest,
		Certificate:       opts.Certificate,
		CertificateChains: [][]*x509.Certificate{chain},
	})
	if err != nil {
		return fmt.Errorf("failed to sign PDF: %w", err)
	}
	return nil
}
