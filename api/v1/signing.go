package v1

import (
	"context"
	"crypto"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Dnhatsave/alfresco-cloud-sign/internal/audit"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/auth"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/config"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/convert"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/documents"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/signing"
	"github.com/Dnhatsave/alfresco-cloud-sign/pkg/security"
	"github.com/Dnhatsave/alfresco-cloud-sign/pkg/storage"
)

// SigningAPI holds the signing API dependencies
type SigningAPI struct {
	Documents  documents.Service
	Signing    *signing.Service
	Verifier   *auth.TokenVerifier
	Recorder   *audit.GormRecorder
	docHandler *documents.Handler
	sigHandler *signing.Handler
}

// Deps are the connections opened by the binary. SQL and Gorm are nil with
// the memory storage driver.
type Deps struct {
	SQL  *sqlx.DB
	Gorm *gorm.DB
}

// SetupSigningAPI wires repositories, storage, converters and the signing
// service from configuration.
func SetupSigningAPI(ctx context.Context, cfg *config.Config, deps Deps, logger *zap.Logger) (*SigningAPI, error) {
	var (
		repo     documents.Repository
		s3Client storage.S3Client
	)
	switch cfg.Storage.Driver {
	case "s3":
		if deps.SQL == nil {
			return nil, fmt.Errorf("the s3 storage driver requires a database")
		}
		if err := documents.Migrate(ctx, deps.SQL); err != nil {
			return nil, fmt.Errorf("failed to migrate documents schema: %w", err)
		}
		repo = documents.NewRepository(deps.SQL)
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UsePathStyle:    cfg.Storage.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		s3Client = client
	default:
		repo = documents.NewMemoryRepository()
		s3Client = storage.NewMemoryClient()
	}

	docService := documents.NewService(repo, documents.NewStorageProvider(s3Client, cfg.Storage.Bucket), logger)

	masterKey, err := cfg.Signing.MasterKeyBytes()
	if err != nil {
		return nil, err
	}
	decryptor, err := security.NewAESMetadataDecryptor(masterKey)
	if err != nil {
		return nil, err
	}

	engine, err := signing.NewEngine(signing.EngineConfig{
		TempDir:    cfg.Signing.TempDir,
		ServiceID:  cfg.Signing.ServiceID,
		Headline:   cfg.Signing.HeadlineFormat,
		SignerLine: cfg.Signing.SignerLineFormat,
		DateLayout: cfg.Signing.DateLayout,
		FontSize:   cfg.Signing.FontSize,
		Reason:     cfg.Signing.Reason,
		Location:   cfg.Signing.Location,
		Digest:     digestFor(cfg.Signing.Digest),
	}, convert.NewDefaultRegistry(convert.DefaultPDFOptions()), logger)
	if err != nil {
		return nil, err
	}

	opts := []signing.ServiceOption{
		signing.WithDocumentTimeout(cfg.Signing.DocumentTimeout.Std()),
		signing.WithDefaultPDFA(cfg.Signing.PDFA),
	}
	var recorder *audit.GormRecorder
	if deps.Gorm != nil {
		recorder, err = audit.NewGormRecorder(deps.Gorm, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, signing.WithAuditor(recorder))
	}

	keys := signing.NewKeyLoader(docService, decryptor, cfg.Signing.KeyFolder, logger)
	service := signing.NewService(docService, keys, engine, auth.ContextIdentity{}, logger, opts...)

	return &SigningAPI{
		Documents:  docService,
		Signing:    service,
		Verifier:   auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.PrincipalClaim),
		Recorder:   recorder,
		docHandler: documents.NewHandler(docService),
		sigHandler: signing.NewHandler(service, logger),
	}, nil
}

// RegisterSigningRoutes registers every authenticated route on the group.
func RegisterSigningRoutes(router *gin.RouterGroup, api *SigningAPI) {
	secured := router.Group("", auth.Middleware(api.Verifier))
	auth.NewHandler().RegisterRoutes(secured)
	api.docHandler.RegisterRoutes(secured)
	api.sigHandler.RegisterRoutes(secured)
	if api.Recorder != nil {
		audit.NewHandler(api.Recorder).RegisterRoutes(secured)
	}
}

func digestFor(name string) crypto.Hash {
	switch strings.ToLower(name) {
	case "sha384":
		return crypto.SHA384
	case "sha512":
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}
