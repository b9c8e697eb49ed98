// Package cache implements the content-addressed store for stage
// results. Entries are keyed by a fingerprint of (unit ID, stage name,
// stage config version), so a content or configuration change produces
// a new key rather than a stale hit. Files are written via a temp file
// and an atomic rename; readers never observe a partial entry.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skillpress/skillpress/internal/stage"
)

// Store persists stage results as JSON files under root/<stage>/<key>.json.
// The JSON payloads are intentionally human-inspectable.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache root is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &stage.PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Key computes the cache key for a (unit, stage, config version) triple.
func Key(unitID string, st stage.Stage, configVersion string) string {
	sum := sha256.Sum256([]byte(unitID + "\x00" + string(st) + "\x00" + configVersion))
	return hex.EncodeToString(sum[:])
}

func (s *Store) entryPath(unitID string, st stage.Stage, configVersion string) string {
	return filepath.Join(s.root, string(st), Key(unitID, st, configVersion)+".json")
}

// Get returns the cached result for the triple, or (nil, nil) when absent.
// A corrupt entry is reported as an error, never silently treated as a miss.
func (s *Store) Get(unitID string, st stage.Stage, configVersion string) (*stage.Result, error) {
	path := s.entryPath(unitID, st, configVersion)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &stage.PersistenceError{Op: "read", Path: path, Err: err}
	}

	var res stage.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, &stage.PersistenceError{Op: "decode", Path: path, Err: err}
	}
	if res.UnitID != unitID || res.Stage != st {
		return nil, &stage.PersistenceError{
			Op:   "verify",
			Path: path,
			Err:  fmt.Errorf("entry claims unit %s stage %s", res.UnitID, res.Stage),
		}
	}
	return &res, nil
}

// Put writes a result for the triple. Overwrites are idempotent: the
// key is content-addressed, so concurrent writers of the same triple
// write identical content and last-writer-wins is safe.
func (s *Store) Put(res *stage.Result, configVersion string) error {
	if res == nil {
		return fmt.Errorf("result is required")
	}
	path := s.entryPath(res.UnitID, res.Stage, configVersion)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &stage.PersistenceError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return &stage.PersistenceError{Op: "encode", Path: path, Err: err}
	}

	// Write-to-temp-then-rename keeps a partially written entry from
	// ever being visible under the final name.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".entry-*.tmp")
	if err != nil {
		return &stage.PersistenceError{Op: "tempfile", Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &stage.PersistenceError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &stage.PersistenceError{Op: "close", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &stage.PersistenceError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// Exists reports whether an entry exists for the triple.
func (s *Store) Exists(unitID string, st stage.Stage, configVersion string) bool {
	_, err := os.Stat(s.entryPath(unitID, st, configVersion))
	return err == nil
}

// Delete removes the entry for the triple. Deleting an absent entry is a no-op.
func (s *Store) Delete(unitID string, st stage.Stage, configVersion string) error {
	path := s.entryPath(unitID, st, configVersion)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &stage.PersistenceError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

// Entries loads every stored result for a stage, regardless of config
// version. Used by the consistency checker's orphan scan; entries carry
// their unit ID in the payload, so the one-way key is not a problem.
func (s *Store) Entries(st stage.Stage) ([]stage.Result, error) {
	dir := filepath.Join(s.root, string(st))
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &stage.PersistenceError{Op: "readdir", Path: dir, Err: err}
	}

	var out []stage.Result
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &stage.PersistenceError{Op: "read", Path: path, Err: err}
		}
		var res stage.Result
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, &stage.PersistenceError{Op: "decode", Path: path, Err: err}
		}
		out = append(out, res)
	}
	return out, nil
}
