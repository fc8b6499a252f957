package signing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Dnhatsave/alfresco-cloud-sign/pkg/security"
)

const DefaultKeyFolder = "Digital Signing"

// KeyLoader finds a principal's signing key in the repository and opens it.
type KeyLoader struct {
	repo      Repository
	decryptor security.MetadataDecryptor
	keyFolder string
	logger    *zap.Logger
}

func NewKeyLoader(repo Repository, decryptor security.MetadataDecryptor, keyFolder string, logger *zap.Logger) *KeyLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyFolder == "" {
		keyFolder = DefaultKeyFolder
	}
	return &KeyLoader{repo: repo, decryptor: decryptor, keyFolder: keyFolder, logger: logger}
}

// Resolve returns explicit when set, otherwise the first key-marked child of
// the key folder under the principal's home folder.
func (l *KeyLoader) Resolve(ctx context.Context, explicit Ref, principal string) (Ref, error) {
	if explicit != "" {
		return explicit, nil
	}

	home, err := l.repo.HomeFolder(ctx, principal)
	if err != nil {
		return "", newError(ErrKeyResolution, fmt.Sprintf("unable to get home folder of user '%s'", principal), err)
	}
	if home == "" {
		return "", newError(ErrKeyResolution, fmt.Sprintf("user '%s' has no home folder", principal), nil)
	}

	noKey := newError(ErrKeyResolution, fmt.Sprintf("no key file uploaded for user '%s'", principal), nil)

	folder, err := l.repo.ChildByName(ctx, home, l.keyFolder)
	if err != nil {
		return "", newError(ErrKeyResolution, "unable to open key folder", err)
	}
	if folder == "" {
		return "", noKey
	}

	children, err := l.repo.Children(ctx, folder)
	if err != nil {
		return "", newError(ErrKeyResolution, "unable to list key folder", err)
	}
	for _, child := range children {
		ok, err := l.repo.HasMarker(ctx, child, MarkerKey)
		if err != nil {
			return "", newError(ErrKeyResolution, "unable to inspect key folder", err)
		}
		if ok {
			return child, nil
		}
	}
	return "", noKey
}

// Load opens the key stored at ref. Keys of a type other than x509 are not
// an error: Load returns nil material and the caller does nothing.
func (l *KeyLoader) Load(ctx context.Context, ref Ref, password string) (*KeyMaterial, error) {
	keyType, _, err := l.repo.Property(ctx, ref, PropKeyType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(ErrKeyResolution, fmt.Sprintf("key %s does not exist", ref), err)
		}
		return nil, newError(ErrKeyResolution, "unable to read key type", err)
	}
	if KeyType(keyType) != KeyTypeX509 {
		l.logger.Warn("Unsupported key type, nothing to do",
			zap.String("key", string(ref)),
			zap.String("key_type", keyType),
		)
		return nil, nil
	}

	content, err := l.repo.ReadContent(ctx, ref)
	if err != nil {
		return nil, newError(ErrKeyMaterial, "unable to read key content", err)
	}

	encrypted, ok, err := l.repo.Property(ctx, ref, PropKeyCryptSecret)
	if err != nil {
		return nil, newError(ErrKeyMaterial, "unable to read key secret", err)
	}
	if !ok || encrypted == "" {
		return nil, newError(ErrKeyMaterial, "key has no wrapping secret", nil)
	}

	secret, err := l.decryptor.DecryptSecret(ctx, encrypted)
	if err != nil {
		return nil, newError(ErrKeyMaterial, "unable to decrypt key secret", err)
	}

	plain, err := security.OpenEnvelope(secret, content.Data)
	if err != nil {
		return nil, newError(ErrKeyMaterial, "unable to decrypt key", err)
	}
	defer clear(plain)

	alias, _, err := l.repo.Property(ctx, ref, PropKeyAlias)
	if err != nil {
		return nil, newError(ErrKeyMaterial, "unable to read key alias", err)
	}

	ks, err := security.DecodeKeystore(plain, password, alias)
	if err != nil {
		if errors.Is(err, security.ErrBadPassword) {
			return nil, newError(ErrKeyMaterial, "wrong key password", err)
		}
		return nil, newError(ErrKeyMaterial, "unable to open keystore", err)
	}

	return &KeyMaterial{
		Alias:       ks.Alias,
		Type:        KeyTypeX509,
		Signer:      ks.Signer,
		Certificate: ks.Certificate,
		Chain:       ks.Chain,
	}, nil
}
