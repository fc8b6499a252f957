package security

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"software.sslmate.com/src/go-pkcs12"
)

var (
	ErrBadPassword   = errors.New("keystore password is incorrect")
	ErrNoPrivateKey  = errors.New("keystore holds no usable private key")
	ErrNoCertificate = errors.New("keystore holds no certificate for the private key")
)

// Keystore is the decoded content of a PKCS#12 file.
type Keystore struct {
	Alias       string
	Signer      crypto.Signer
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

type keyEntry struct {
	alias  string
	signer crypto.Signer
}

// DecodeKeystore opens a PKCS#12 keystore. When alias is set the entry with that
// friendly name is preferred; otherwise, or when no entry carries it, the first
// private key is used.
func DecodeKeystore(data []byte, password, alias string) (*Keystore, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrBadPassword
		}
		return nil, fmt.Errorf("failed to decode keystore: %w", err)
	}

	var (
		keys  []keyEntry
		certs []*x509.Certificate
	)
	for _, block := range blocks {
		switch block.Type {
		case "PRIVATE KEY":
			signer, err := parsePrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			keys = append(keys, keyEntry{alias: block.Headers["friendlyName"], signer: signer})
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse keystore certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	}

	if len(keys) == 0 {
		return nil, ErrNoPrivateKey
	}

	entry := keys[0]
	if alias != "" {
		for _, k := range keys {
			if strings.EqualFold(k.alias, alias) {
				entry = k
				break
			}
		}
	}

	ks := &Keystore{Alias: entry.alias, Signer: entry.signer}
	if ks.Alias == "" {
		ks.Alias = alias
	}
	for _, c := range certs {
		if ks.Certificate == nil && samePublicKey(c.PublicKey, entry.signer.Public()) {
			ks.Certificate = c
			continue
		}
		ks.Chain = append(ks.Chain, c)
	}
	if ks.Certificate == nil {
		return nil, ErrNoCertificate
	}
	return ks, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPrivateKey, err)
	}
	signer, ok := k.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrNoPrivateKey, k)
	}
	return signer, nil
}

func samePublicKey(a, b crypto.PublicKey) bool {
	eq, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && eq.Equal(b)
}
