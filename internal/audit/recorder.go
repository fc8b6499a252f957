package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Dnhatsave/alfresco-cloud-sign/internal/signing"
)

// GormRecorder persists signing audit events.
type GormRecorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormRecorder(db *gorm.DB, logger *zap.Logger) (*GormRecorder, error) {
	if err := db.AutoMigrate(&SigningEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormRecorder{db: db, logger: logger}, nil
}

func (r *GormRecorder) Record(ctx context.Context, event signing.AuditEvent) error {
	rec, err := toSigningEvent(event)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	r.logger.Debug("Recorded audit event",
		zap.String("kind", rec.Kind),
		zap.String("document_ref", rec.DocumentRef),
		zap.String("status", string(rec.Status)),
	)
	return nil
}

func (r *GormRecorder) ListByDocument(ctx context.Context, ref string, limit int) ([]SigningEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []SigningEvent
	err := r.db.WithContext(ctx).
		Where("document_ref = ? OR produced_ref = ?", ref, ref).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}

// Purge deletes events older than the retention period.
func (r *GormRecorder) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	res := r.db.WithContext(ctx).Where("occurred_at < ?", time.Now().Add(-retention)).Delete(&SigningEvent{})
	return res.RowsAffected, res.Error
}

func toSigningEvent(e signing.AuditEvent) (*SigningEvent, error) {
	rec := &SigningEvent{
		ID:          uuid.New(),
		Kind:        e.Kind,
		Principal:   e.Principal,
		DocumentRef: string(e.Document),
		ProducedRef: string(e.Produced),
		Status:      StatusSucceeded,
		OccurredAt:  e.OccurredAt,
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	if e.Err != nil {
		rec.Status = StatusFailed
		rec.Error = e.Err.Error()
	}
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode audit details: %w", err)
		}
		rec.Details = datatypes.JSON(raw)
	}
	return rec, nil
}
