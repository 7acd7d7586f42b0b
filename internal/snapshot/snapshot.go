// Package snapshot writes and reads the JSON run artifact and exports
// persisted venues to XLSX.
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
)

const (
	// FileName is the snapshot file inside the data directory.
	FileName = "venues.json"
	// BackupDir is the backup subdirectory inside the data directory.
	BackupDir = "backups"

	backupLayout = "20060102T150405Z"
)

// Metadata describes a snapshot.
type Metadata struct {
	TotalCount  int       `json:"totalCount"`
	LastUpdated time.Time `json:"lastUpdated"`
	Source      string    `json:"source"`
	Version     string    `json:"version"`
	Config      any       `json:"config,omitempty"`
}

// Snapshot is the on-disk run artifact.
type Snapshot struct {
	Metadata Metadata             `json:"metadata"`
	Records  []model.MergedRecord `json:"records"`
}

// Writer writes snapshots into a data directory.
type Writer struct {
	dir     string
	source  string
	version string
	now     func() time.Time
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir, source, version string) *Writer {
	return &Writer{dir: dir, source: source, version: version, now: time.Now}
}

// Dir returns the data directory.
func (w *Writer) Dir() string { return w.dir }

// Write stores records as <dir>/venues.json and a timestamped copy under
// <dir>/backups. It returns the backup path. The main file is replaced
// atomically.
func (w *Writer) Write(records []model.MergedRecord, cfg any) (string, error) {
	if records == nil {
		records = []model.MergedRecord{}
	}
	now := w.now().UTC()
	snap := Snapshot{
		Metadata: Metadata{
			TotalCount:  len(records),
			LastUpdated: now,
			Source:      w.source,
			Version:     w.version,
			Config:      cfg,
		},
		Records: records,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "snapshot: marshal")
	}

	backups := filepath.Join(w.dir, BackupDir)
	if err := os.MkdirAll(backups, 0o755); err != nil {
		return "", eris.Wrapf(err, "snapshot: create %s", backups)
	}

	if err := writeAtomic(filepath.Join(w.dir, FileName), data); err != nil {
		return "", err
	}

	backup := filepath.Join(backups, "venues-"+now.Format(backupLayout)+".json")
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "snapshot: write backup %s", backup)
	}

	zap.L().Info("snapshot: written",
		zap.String("dir", w.dir),
		zap.String("backup", backup),
		zap.Int("records", len(records)),
	)
	return backup, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".venues-*.json")
	if err != nil {
		return eris.Wrapf(err, "snapshot: create temp for %s", path)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "snapshot: write temp")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "snapshot: close temp")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "snapshot: replace %s", path)
	}
	return nil
}

// Read loads a snapshot from path.
func Read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: read %s", path)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrapf(err, "snapshot: parse %s", path)
	}
	if snap.Metadata.TotalCount != len(snap.Records) {
		zap.L().Warn("snapshot: record count does not match metadata",
			zap.String("path", path),
			zap.Int("metadata", snap.Metadata.TotalCount),
			zap.Int("records", len(snap.Records)),
		)
	}
	return &snap, nil
}
