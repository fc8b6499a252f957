package janitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger drops audit records older than a retention period.
type Purger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

type Config struct {
	TempDir         string
	Schedule        string
	WorkspaceMaxAge time.Duration
	AuditRetention  time.Duration
}

// Janitor periodically removes signing workspaces left behind by crashed
// processes and expires old audit records.
type Janitor struct {
	cfg     Config
	purger  Purger
	cron    *cron.Cron
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
	running bool
}

func New(cfg Config, purger Purger, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 10m"
	}
	if cfg.WorkspaceMaxAge <= 0 {
		cfg.WorkspaceMaxAge = time.Hour
	}
	return &Janitor{
		cfg:    cfg,
		purger: purger,
		cron:   cron.New(),
		logger: logger,
		now:    time.Now,
	}
}

func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return fmt.Errorf("janitor already running")
	}

	_, err := j.cron.AddFunc(j.cfg.Schedule, func() { j.run(ctx) })
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.cfg.Schedule, err)
	}
	j.logger.Info("Starting janitor",
		zap.String("schedule", j.cfg.Schedule),
		zap.String("temp_dir", j.cfg.TempDir),
		zap.Duration("workspace_max_age", j.cfg.WorkspaceMaxAge),
	)
	j.cron.Start()
	j.running = true
	return nil
}

func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	j.logger.Info("Stopping janitor")
	<-j.cron.Stop().Done()
	j.running = false
}

func (j *Janitor) run(ctx context.Context) {
	removed, err := j.Sweep(ctx)
	if err != nil {
		j.logger.Error("Workspace sweep failed", zap.Error(err))
	} else if removed > 0 {
		j.logger.Info("Removed stale workspaces", zap.Int("count", removed))
	}

	if j.purger != nil && j.cfg.AuditRetention > 0 {
		n, err := j.purger.Purge(ctx, j.cfg.AuditRetention)
		if err != nil {
			j.logger.Error("Audit purge failed", zap.Error(err))
		} else if n > 0 {
			j.logger.Info("Purged audit events", zap.Int64("count", n))
		}
	}
}

// Sweep deletes every entry of the temp directory last modified before the
// maximum workspace age. It returns the number of removed entries.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.cfg.TempDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list temp dir: %w", err)
	}

	cutoff := j.now().Add(-j.cfg.WorkspaceMaxAge)
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.cfg.TempDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("Failed to remove workspace", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
