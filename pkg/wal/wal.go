// Package wal implements the per-shard write-ahead log: append-and-fsync,
// replay, and truncate. A WAL entry is durable only once fsync returns,
// mirroring the teacher's tmpFile.Write-then-Sync pattern in
// pkg/storage/chunk (storage/local).
package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fileMode = 0o600

// WAL manages the write-ahead log files for all shards rooted at dataDir.
type WAL struct {
	dataDir string
}

// New returns a WAL rooted at dataDir.
func New(dataDir string) (*WAL, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("wal: creating data dir %q: %w", dataDir, err)
	}

	return &WAL{dataDir: dataDir}, nil
}

// Path returns the path of the shard's WAL file.
func (w *WAL) Path(shard string) string {
	return filepath.Join(w.dataDir, fmt.Sprintf("wal_shard_%s.log", shard))
}

// Log appends record to the shard's WAL and fsyncs before returning. The
// caller may only treat the write as durable once this returns nil.
func (w *WAL) Log(shard, record string) error {
	f, err := os.OpenFile(w.Path(shard), os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("wal: opening wal for shard %s: %w", shard, err)
	}
	defer f.Close()

	if !strings.HasSuffix(record, "\n") {
		record += "\n"
	}

	if _, err := f.WriteString(record); err != nil {
		return fmt.Errorf("wal: appending to wal for shard %s: %w", shard, err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("wal: fsyncing wal for shard %s: %w", shard, err)
	}

	return nil
}

// Replay returns every nonempty, trimmed line from the shard's WAL, in
// order. Returns an empty slice if the WAL does not exist.
func (w *WAL) Replay(shard string) ([]string, error) {
	f, err := os.Open(w.Path(shard))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("wal: opening wal for shard %s: %w", shard, err)
	}
	defer f.Close()

	var records []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			records = append(records, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("wal: scanning wal for shard %s: %w", shard, err)
	}

	return records, nil
}

// Clear deletes the shard's WAL file, if present.
func (w *WAL) Clear(shard string) error {
	err := os.Remove(w.Path(shard))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wal: removing wal for shard %s: %w", shard, err)
	}

	return nil
}
