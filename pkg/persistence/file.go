// Package persistence implements the per-shard data file: a human-readable,
// line-oriented LTTLV text file with append-or-update-in-place semantics and
// crash-safe rewrites (temp file + atomic rename), the same pattern the
// teacher uses for NAR/file writes (storage/local: os.CreateTemp + os.Rename).
package persistence

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// Store manages the on-disk data files for all shards rooted at dataDir.
type Store struct {
	dataDir string
}

// New returns a Store rooted at dataDir, creating the directory if needed.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, dirMode); err != nil {
		return nil, fmt.Errorf("persistence: creating data dir %q: %w", dataDir, err)
	}

	return &Store{dataDir: dataDir}, nil
}

// DataPath returns the path of the shard's data file.
func (s *Store) DataPath(shard string) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("shard_%s_data.txt", shard))
}

// Exists reports whether the shard's data file exists.
func (s *Store) Exists(shard string) bool {
	_, err := os.Stat(s.DataPath(shard))

	return err == nil
}

// Write appends record verbatim to the shard's data file, creating it if
// necessary. It is the WAL-less fast path; the primary write path is
// UpdateOrAppend.
func (s *Store) Write(shard string, record string) error {
	f, err := os.OpenFile(s.DataPath(shard), os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("persistence: opening data file for shard %s: %w", shard, err)
	}
	defer f.Close()

	if !strings.HasSuffix(record, "\n") {
		record += "\n"
	}

	if _, err := f.WriteString(record); err != nil {
		return fmt.Errorf("persistence: appending to shard %s: %w", shard, err)
	}

	return nil
}

// UpdateOrAppend is the only operation that may rewrite the data file. If
// the file does not exist it is created with record. Otherwise the file is
// scanned once: the first line starting with keyPrefix is replaced with
// record (trimmed); absent that, record is appended. The result always ends
// with "\n", and the rewrite is crash-safe: the new content is written to a
// sibling temp file, then renamed over the original.
func (s *Store) UpdateOrAppend(shard, record, keyPrefix string) error {
	record = strings.TrimSuffix(record, "\n")
	path := s.DataPath(shard)

	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.writeAtomic(path, record+"\n")
		}

		return fmt.Errorf("persistence: reading shard %s: %w", shard, err)
	}

	lines := splitLines(existing)

	replaced := false

	for i, line := range lines {
		if !replaced && strings.HasPrefix(line, keyPrefix) {
			lines[i] = record
			replaced = true

			break
		}
	}

	if !replaced {
		lines = append(lines, record)
	}

	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	return s.writeAtomic(path, sb.String())
}

func (s *Store) writeAtomic(path, content string) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("persistence: creating temp file for %q: %w", path, err)
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err == nil {
		err = tmp.Sync()
	}

	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("persistence: writing temp file for %q: %w", path, err)
	}

	if err := os.Chmod(tmp.Name(), fileMode); err != nil {
		return fmt.Errorf("persistence: chmod temp file for %q: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("persistence: renaming temp file onto %q: %w", path, err)
	}

	return nil
}

// ReadLineByPrefix scans the shard's data file and returns the last line
// starting with prefix, trimmed of its trailing newline. Returns ("", false)
// if the file is absent or no line matches.
func (s *Store) ReadLineByPrefix(shard, prefix string) (string, bool, error) {
	f, err := os.Open(s.DataPath(shard))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("persistence: opening shard %s: %w", shard, err)
	}
	defer f.Close()

	var (
		found string
		ok    bool
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, prefix) {
			found = line
			ok = true
		}
	}

	if err := scanner.Err(); err != nil {
		return "", false, fmt.Errorf("persistence: scanning shard %s: %w", shard, err)
	}

	return found, ok, nil
}

// StreamLines calls fn for every line in the shard's data file, in order.
// It is a no-op if the file does not exist. Used for Bloom filter warm-up.
func (s *Store) StreamLines(shard string, fn func(line string) error) error {
	f, err := os.Open(s.DataPath(shard))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("persistence: opening shard %s: %w", shard, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("persistence: scanning shard %s: %w", shard, err)
	}

	return nil
}

func splitLines(b []byte) []string {
	s := string(b)
	s = strings.TrimSuffix(s, "\n")

	if s == "" {
		return nil
	}

	return strings.Split(s, "\n")
}
