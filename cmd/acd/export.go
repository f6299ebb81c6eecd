package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rexliu/acrpc/pkg/config"
	"github.com/rexliu/acrpc/pkg/storage/sqlite"
)

const snapshotFile = "export.json"

type snapshot struct {
	Profile    string         `json:"profile"`
	Schema     string         `json:"schema"`
	ExportedAt int64          `json:"exportedAt"`
	Entries    []sqlite.Entry `json:"entries"`
}

func (d *daemon) snapshot(ctx context.Context) (snapshot, error) {
	version, err := d.db.SchemaVersion(ctx)
	if err != nil {
		return snapshot{}, err
	}
	entries, err := d.db.Entries(ctx)
	if err != nil {
		return snapshot{}, err
	}
	if entries == nil {
		entries = []sqlite.Entry{}
	}
	return snapshot{
		Profile:    d.cfg.ProfileName,
		Schema:     version,
		ExportedAt: time.Now().UnixMilli(),
		Entries:    entries,
	}, nil
}

// writeSnapshot writes snap to path, or to the profile directory when path
// is empty, and returns where it went.
func writeSnapshot(profileDir, path string, snap snapshot) (string, error) {
	if path == "" {
		path = snapshotFile
	}
	path = config.ResolvePath(profileDir, path)
	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}
