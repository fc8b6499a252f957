package security

import (
	"bytes"
	"context"
	"crypto"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	pdflib "github.com/digitorus/pdf"
	"github.com/digitorus/pkcs7"
)

var (
	ErrNoSignatures      = errors.New("document contains no signatures")
	ErrMalformedDocument = errors.New("malformed PDF document")
)

// SignatureInfo describes one signature field found in a PDF.
type SignatureInfo struct {
	Name                string
	Revision            int
	TotalRevisions      int
	CoversWholeDocument bool
	SignerName          string
	SignedName          string
	Subject             string
	CertificateIssuer   string
	SerialNumber        string
	NotAfter            time.Time
	SigningTime         time.Time
	IsValid             bool
	IsModified          bool
	Reason              string
	Location            string
	Details             map[string]interface{}
}

type Validator interface {
	ValidatePDF(ctx context.Context, pdf io.Reader) ([]SignatureInfo, error)
}

type pdfValidator struct{}

func NewValidator() Validator {
	return &pdfValidator{}
}

func (v *pdfValidator) ValidatePDF(ctx context.Context, pdf io.Reader) (infos []SignatureInfo, err error) {
	data, err := io.ReadAll(pdf)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	// The PDF reader panics on some malformed object graphs.
	defer func() {
		if r := recover(); r != nil {
			infos, err = nil, fmt.Errorf("%w: %v", ErrMalformedDocument, r)
		}
	}()

	rdr, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	var fields []signatureField
	collectSignatureFields(rdr.Trailer().Key("Root").Key("AcroForm").Key("Fields"), "", "", &fields)
	if len(fields) == 0 {
		return nil, ErrNoSignatures
	}

	eofs := eofOffsets(data)
	for i, f := range fields {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := inspectSignature(data, eofs, f, i+1)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

type signatureField struct {
	name  string
	value pdflib.Value
}

// collectSignatureFields walks the field tree; field type and names are
// inherited from parents.
func collectSignatureFields(fields pdflib.Value, parentName, parentType string, out *[]signatureField) {
	if fields.Kind() != pdflib.Array {
		return
	}
	for i := 0; i < fields.Len(); i++ {
		field := fields.Index(i)
		if field.Kind() != pdflib.Dict {
			continue
		}

		name := field.Key("T").Text()
		if parentName != "" && name != "" {
			name = parentName + "." + name
		} else if name == "" {
			name = parentName
		}

		ft := field.Key("FT").Name()
		if ft == "" {
			ft = parentType
		}

		if kids := field.Key("Kids"); kids.Kind() == pdflib.Array && kids.Len() > 0 {
			collectSignatureFields(kids, name, ft, out)
			continue
		}

		if ft != "Sig" {
			continue
		}
		if v := field.Key("V"); v.Kind() == pdflib.Dict {
			*out = append(*out, signatureField{name: name, value: v})
		}
	}
}

func inspectSignature(data []byte, eofs []int, f signatureField, ordinal int) (SignatureInfo, error) {
	info := SignatureInfo{
		Name:           f.name,
		TotalRevisions: len(eofs),
		SignedName:     f.value.Key("Name").Text(),
		Reason:         f.value.Key("Reason").Text(),
		Location:       f.value.Key("Location").Text(),
		Details:        map[string]interface{}{},
	}
	if info.Name == "" {
		info.Name = "Signature" + strconv.Itoa(ordinal)
	}

	ranges, err := byteRange(f.value.Key("ByteRange"), len(data))
	if err != nil {
		return info, fmt.Errorf("%w: signature %q: %v", ErrMalformedDocument, info.Name, err)
	}
	coveredEnd := ranges[2] + ranges[3]
	info.CoversWholeDocument = coveredEnd == len(data)
	for _, off := range eofs {
		if off < coveredEnd {
			info.Revision++
		}
	}

	covered := make([]byte, 0, ranges[1]+ranges[3])
	covered = append(covered, data[ranges[0]:ranges[0]+ranges[1]]...)
	covered = append(covered, data[ranges[2]:coveredEnd]...)

	p7, err := pkcs7.Parse(trimDER([]byte(f.value.Key("Contents").RawString())))
	if err != nil {
		return info, fmt.Errorf("%w: signature %q: %v", ErrMalformedDocument, info.Name, err)
	}
	p7.Content = covered

	if signer := p7.GetOnlySigner(); signer != nil {
		info.SignerName = signer.Subject.CommonName
		if info.SignerName == "" {
			info.SignerName = signer.Subject.String()
		}
		info.Subject = signer.Subject.String()
		info.CertificateIssuer = signer.Issuer.String()
		info.SerialNumber = signer.SerialNumber.String()
		info.NotAfter = signer.NotAfter
		info.Details["algorithm"] = signer.SignatureAlgorithm.String()
	}

	var signingTime time.Time
	if err := p7.UnmarshalSignedAttribute(pkcs7.OIDAttributeSigningTime, &signingTime); err == nil {
		info.SigningTime = signingTime
	} else if t, ok := parsePDFDate(f.value.Key("M").Text()); ok {
		info.SigningTime = t
	}

	verifyErr := p7.Verify()
	info.IsModified = digestMismatch(p7, covered, verifyErr)
	info.IsValid = verifyErr == nil && !info.IsModified
	if verifyErr != nil {
		info.Details["error"] = verifyErr.Error()
	}
	return info, nil
}

// digestMismatch compares the message digest attribute against the covered
// bytes. Containers without signed attributes fall back to the verify result.
func digestMismatch(p7 *pkcs7.PKCS7, covered []byte, verifyErr error) bool {
	if len(p7.Signers) == 0 {
		return true
	}
	var expected []byte
	if err := p7.UnmarshalSignedAttribute(pkcs7.OIDAttributeMessageDigest, &expected); err != nil {
		return verifyErr != nil
	}
	hash, ok := digestForOID(p7.Signers[0].DigestAlgorithm.Algorithm)
	if !ok || !hash.Available() {
		return verifyErr != nil
	}
	h := hash.New()
	h.Write(covered)
	return !bytes.Equal(h.Sum(nil), expected)
}

func digestForOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	switch {
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA1):
		return crypto.SHA1, true
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA256):
		return crypto.SHA256, true
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA384):
		return crypto.SHA384, true
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA512):
		return crypto.SHA512, true
	}
	return 0, false
}

func byteRange(v pdflib.Value, size int) ([4]int, error) {
	var r [4]int
	if v.Kind() != pdflib.Array || v.Len() != 4 {
		return r, errors.New("missing or invalid /ByteRange")
	}
	for i := 0; i < 4; i++ {
		r[i] = int(v.Index(i).Int64())
		if r[i] < 0 {
			return r, errors.New("negative /ByteRange entry")
		}
	}
	if r[0]+r[1] > r[2] || r[2]+r[3] > size {
		return r, errors.New("/ByteRange outside document")
	}
	return r, nil
}

// eofOffsets lists the offsets of every end-of-file marker, one per revision.
func eofOffsets(data []byte) []int {
	marker := []byte("%%EOF")
	var offsets []int
	for i := 0; ; {
		j := bytes.Index(data[i:], marker)
		if j < 0 {
			return offsets
		}
		offsets = append(offsets, i+j)
		i += j + len(marker)
	}
}

// trimDER cuts the zero padding of a /Contents placeholder down to the
// length announced by the outer DER header.
func trimDER(b []byte) []byte {
	if len(b) < 2 || b[0] != 0x30 {
		return b
	}
	length, header := int(b[1]), 2
	if length&0x80 != 0 {
		n := length & 0x7f
		if n == 0 || n > 4 || len(b) < 2+n {
			return b
		}
		length = 0
		for i := 0; i < n; i++ {
			length = length<<8 | int(b[2+i])
		}
		header += n
	}
	if header+length > len(b) {
		return b
	}
	return b[:header+length]
}

// parsePDFDate handles the D:YYYYMMDDHHmmSSOHH'mm' form; trailing parts are optional.
func parsePDFDate(s string) (time.Time, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	if len(s) < 4 {
		return time.Time{}, false
	}
	s = strings.ReplaceAll(s, "'", "")
	layouts := []string{"20060102150405-0700", "20060102150405Z0700", "20060102150405Z", "20060102150405", "200601021504", "2006010215", "20060102", "200601", "2006"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
