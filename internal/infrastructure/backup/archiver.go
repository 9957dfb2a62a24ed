package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
	"dualgate/pkg/backup"
)

// Archiver periodically writes the history registry to backup storage and
// deletes archives past their retention.
type Archiver struct {
	backupService *backup.BackupService
	history       ports.HistoryRegistry
	instanceID    string
	interval      time.Duration
	retention     time.Duration
	logger        *zap.SugaredLogger
	pruneLock     Locker
	now           func() time.Time
	lastCount     int
}

// Locker serializes pruning between instances sharing one archive directory.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

type Config struct {
	Interval time.Duration
	// Retention of zero keeps every archive.
	Retention  time.Duration
	InstanceID string
	// PruneLock is optional.
	PruneLock Locker
}

func NewArchiver(
	backupService *backup.BackupService,
	history ports.HistoryRegistry,
	cfg Config,
	logger *zap.SugaredLogger,
) *Archiver {
	return &Archiver{
		backupService: backupService,
		history:       history,
		instanceID:    cfg.InstanceID,
		interval:      cfg.Interval,
		retention:     cfg.Retention,
		pruneLock:     cfg.PruneLock,
		logger:        logger,
		now:           time.Now,
		lastCount:     -1,
	}
}

// Start archives on every tick until ctx ends, then writes one final archive.
func (a *Archiver) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.run(ctx)
		case <-ctx.Done():
			a.run(context.WithoutCancel(ctx))
			return
		}
	}
}

func (a *Archiver) run(ctx context.Context) {
	name, err := a.Archive(ctx)
	if err != nil {
		a.logger.Errorw("failed to archive history", "error", err)
		return
	}
	if name != "" {
		a.logger.Infow("history archived", "backup_name", name, "entries", a.lastCount)
	}

	if err := a.Prune(ctx); err != nil {
		a.logger.Warnw("failed to prune history archives", "error", err)
	}
}

// Archive writes the current history. It returns "" without writing when
// nothing changed since the previous archive.
func (a *Archiver) Archive(ctx context.Context) (string, error) {
	entries := a.history.List()
	if len(entries) == a.lastCount {
		return "", nil
	}

	records, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to marshal history: %w", err)
	}

	name, err := a.backupService.CreateBackup(ctx, &backup.BackupData{
		InstanceID: a.instanceID,
		Records:    records,
		Metadata: map[string]interface{}{
			"entries":     len(entries),
			"backup_type": "scheduled",
		},
	})
	if err != nil {
		return "", err
	}
	a.lastCount = len(entries)
	return name, nil
}

// Load reads an archive back into history entries.
func (a *Archiver) Load(ctx context.Context, name string) ([]domain.HistoryEntry, error) {
	data, err := a.backupService.RestoreBackup(ctx, name)
	if err != nil {
		return nil, err
	}

	var entries []domain.HistoryEntry
	if len(data.Records) > 0 {
		if err := json.Unmarshal(data.Records, &entries); err != nil {
			return nil, fmt.Errorf("failed to decode archived history: %w", err)
		}
	}
	return entries, nil
}

// Prune deletes archives older than the retention period. With a PruneLock
// it does nothing while another instance holds the lock.
func (a *Archiver) Prune(ctx context.Context) error {
	if a.retention <= 0 {
		return nil
	}

	if a.pruneLock != nil {
		acquired, err := a.pruneLock.TryLock(ctx)
		if err != nil {
			return err
		}
		if !acquired {
			a.logger.Debugw("archive prune skipped, lock held elsewhere")
			return nil
		}
		defer func() {
			if err := a.pruneLock.Unlock(ctx); err != nil {
				a.logger.Warnw("failed to release prune lock", "error", err)
			}
		}()
	}

	backups, err := a.backupService.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	cutoff := a.now().Add(-a.retention)
	for _, name := range backups {
		created, err := a.backupService.BackupTime(name)
		if err != nil {
			a.logger.Warnw("failed to parse backup timestamp", "backup_name", name, "error", err)
			continue
		}
		if !created.Before(cutoff) {
			continue
		}
		if err := a.backupService.DeleteBackup(ctx, name); err != nil {
			a.logger.Warnw("failed to delete old backup", "backup_name", name, "error", err)
			continue
		}
		a.logger.Infow("deleted old backup", "backup_name", name, "age", a.now().Sub(created))
	}

	return nil
}
