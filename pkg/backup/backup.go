package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// timestampLayout is embedded in every backup name.
const timestampLayout = "20060102-150405.000"

// BackupData is one archived snapshot.
type BackupData struct {
	Version    string                 `json:"version"`
	Timestamp  time.Time              `json:"timestamp"`
	InstanceID string                 `json:"instance_id,omitempty"`
	Records    json.RawMessage        `json:"records,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Storage defines interface for backup storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// BackupService writes and reads snapshots named "<prefix>-<timestamp>.json".
type BackupService struct {
	storage Storage
	version string
	prefix  string
	now     func() time.Time
}

func NewBackupService(storage Storage, version, prefix string) *BackupService {
	if prefix == "" {
		prefix = "backup"
	}
	return &BackupService{
		storage: storage,
		version: version,
		prefix:  prefix,
		now:     time.Now,
	}
}

// CreateBackup stamps data and saves it, returning the backup name.
func (bs *BackupService) CreateBackup(ctx context.Context, data *BackupData) (string, error) {
	data.Version = bs.version
	data.Timestamp = bs.now().UTC()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup data: %w", err)
	}

	backupName := fmt.Sprintf("%s-%s.json", bs.prefix, data.Timestamp.Format(timestampLayout))
	if err := bs.storage.Save(ctx, backupName, bytes.NewReader(jsonData)); err != nil {
		return "", fmt.Errorf("failed to save backup: %w", err)
	}

	return backupName, nil
}

// RestoreBackup loads a snapshot by name.
func (bs *BackupService) RestoreBackup(ctx context.Context, name string) (*BackupData, error) {
	reader, err := bs.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}
	defer reader.Close()

	var backupData BackupData
	if err := json.NewDecoder(reader).Decode(&backupData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backup data: %w", err)
	}

	return &backupData, nil
}

// ListBackups lists the backups written with this service's prefix.
func (bs *BackupService) ListBackups(ctx context.Context) ([]string, error) {
	return bs.storage.List(ctx, bs.prefix+"-")
}

func (bs *BackupService) DeleteBackup(ctx context.Context, name string) error {
	return bs.storage.Delete(ctx, name)
}

// BackupTime extracts the creation time from a backup name.
func (bs *BackupService) BackupTime(name string) (time.Time, error) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, bs.prefix+"-"), ".json")
	t, err := time.Parse(timestampLayout, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("backup %q has no timestamp: %w", name, err)
	}
	return t, nil
}
