package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"time"
)

// Ref is an opaque handle to a repository node.
type Ref string

type KeyType string

const KeyTypeX509 KeyType = "x509"

const MediaTypePDF = "application/pdf"

// Repository vocabulary used by the signing flows.
const (
	MarkerKey         = "sign:key"
	MarkerSigned      = "sign:signed"
	MarkerOriginalDoc = "sign:originalDoc"
	MarkerVersionable = "cm:versionable"

	PropKeyType        = "sign:keyType"
	PropKeyAlias       = "sign:keyAlias"
	PropKeyCryptSecret = "sign:keyCryptSecret"
	PropSignedBy       = "sign:signedBy"
	PropSignatureDate  = "sign:signatureDate"

	RelRelatedDoc  = "sign:relatedDoc"
	RelOriginalDoc = "sign:originalDoc"
)

// SigningRequest asks for a batch of documents to be signed with one key.
// An empty Destination signs every document in place as a new version.
type SigningRequest struct {
	KeyRef      Ref
	KeyPassword string
	Destination Ref
	Documents   []Ref
	Stamp       *StampSpec
	PDFA        bool
}

func (r SigningRequest) Validate() error {
	if r.KeyPassword == "" {
		return newError(ErrConfiguration, "key password is required", nil)
	}
	if len(r.Documents) == 0 {
		return newError(ErrConfiguration, "at least one document is required", nil)
	}
	seen := make(map[Ref]struct{}, len(r.Documents))
	for _, d := range r.Documents {
		if d == "" {
			return newError(ErrConfiguration, "document reference must not be empty", nil)
		}
		if _, dup := seen[d]; dup {
			return newError(ErrConfiguration, fmt.Sprintf("document %s is listed more than once", d), nil)
		}
		seen[d] = struct{}{}
	}
	if r.Stamp != nil {
		if err := r.Stamp.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type VerificationRequest struct {
	KeyRef      Ref
	KeyPassword string
	Document    Ref
}

func (r VerificationRequest) Validate() error {
	if r.KeyPassword == "" {
		return newError(ErrConfiguration, "key password is required", nil)
	}
	if r.Document == "" {
		return newError(ErrConfiguration, "a document is required", nil)
	}
	return nil
}

// StampSpec overrides the default placement of the visible mark.
type StampSpec struct {
	Pages      string  `json:"pages"`
	PageNumber int     `json:"pageNumber"`
	Position   string  `json:"position"`
	MarginX    float64 `json:"marginX"`
	MarginY    float64 `json:"marginY"`
	Depth      string  `json:"depth"`
	Image      Ref     `json:"image"`
}

func (s StampSpec) Validate() error {
	switch s.Pages {
	case "", "all", "first", "last":
	case "specific":
		if s.PageNumber < 1 {
			return newError(ErrConfiguration, "stamp page number must be positive", nil)
		}
	default:
		return newError(ErrConfiguration, fmt.Sprintf("unknown stamp page selection %q", s.Pages), nil)
	}
	switch s.Position {
	case "", "right":
	default:
		return newError(ErrConfiguration, fmt.Sprintf("unsupported stamp position %q", s.Position), nil)
	}
	switch s.Depth {
	case "", "over", "under":
	default:
		return newError(ErrConfiguration, fmt.Sprintf("unknown stamp depth %q", s.Depth), nil)
	}
	if s.MarginX < 0 || s.MarginY < 0 {
		return newError(ErrConfiguration, "stamp margins must not be negative", nil)
	}
	return nil
}

// KeyMaterial is the decoded signing identity. It lives for one request and
// must be released with Destroy.
type KeyMaterial struct {
	Alias       string
	Type        KeyType
	Signer      crypto.Signer
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// Destroy zeroes the private key in place.
func (k *KeyMaterial) Destroy() {
	if k == nil {
		return
	}
	switch key := k.Signer.(type) {
	case *rsa.PrivateKey:
		if key.D != nil {
			key.D.SetInt64(0)
		}
		for _, p := range key.Primes {
			p.SetInt64(0)
		}
		key.Precomputed = rsa.PrecomputedValues{}
	case *ecdsa.PrivateKey:
		if key.D != nil {
			key.D.SetInt64(0)
		}
	case ed25519.PrivateKey:
		clear(key)
	}
	k.Signer = nil
}

type SignedDocumentResult struct {
	Source   Ref       `json:"source"`
	Produced Ref       `json:"produced"`
	Name     string    `json:"name"`
	SignedBy string    `json:"signedBy"`
	SignedAt time.Time `json:"signedAt"`
	Linked   bool      `json:"linked"`
	Renamed  bool      `json:"renamed"`
}

type VerificationResult struct {
	Name                string    `json:"name"`
	Revision            int       `json:"revision"`
	TotalRevisions      int       `json:"totalRevisions"`
	CoversWholeDocument bool      `json:"signatureCoversWholeDocument"`
	Subject             string    `json:"subject"`
	SignedAt            time.Time `json:"signDate"`
	IsSignValid         bool      `json:"signValid"`
	IsDocumentModified  bool      `json:"documentModified"`
	SerialNumber        string    `json:"serialNumber"`
	Issuer              string    `json:"issuer"`
	NotAfter            time.Time `json:"certificateNotAfter"`
	Details             string    `json:"details"`
}
