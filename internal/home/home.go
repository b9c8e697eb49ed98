// Package home manages the skillpress home directory layout.
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the skillpress home directory.
	DefaultDirName = ".skillpress"

	// CacheDirName holds content-addressed stage results.
	CacheDirName = "cache"

	// SourcesDirName holds ingested source documents.
	SourcesDirName = "sources"

	// SkillsDirName holds rendered skill documents.
	SkillsDirName = "skills"

	// LedgerFileName is the per-source progress ledger file.
	LedgerFileName = "ledger.yaml"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the skillpress home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.skillpress).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// SourcesPath returns the directory holding all ingested sources.
func (d *Dir) SourcesPath() string {
	return filepath.Join(d.path, SourcesDirName)
}

// SourceDir returns the directory for one ingested source document.
func (d *Dir) SourceDir(sourceID string) string {
	return filepath.Join(d.SourcesPath(), sourceID)
}

// SourceTextPath returns the extracted text file for a source.
func (d *Dir) SourceTextPath(sourceID string) string {
	return filepath.Join(d.SourceDir(sourceID), "document.txt")
}

// SourceManifestPath returns the manifest file for a source.
func (d *Dir) SourceManifestPath(sourceID string) string {
	return filepath.Join(d.SourceDir(sourceID), "manifest.yaml")
}

// CacheDir returns the cache store root for a source.
func (d *Dir) CacheDir(sourceID string) string {
	return filepath.Join(d.SourceDir(sourceID), CacheDirName)
}

// LedgerPath returns the progress ledger file for a source.
func (d *Dir) LedgerPath(sourceID string) string {
	return filepath.Join(d.SourceDir(sourceID), LedgerFileName)
}

// SkillsPath returns the directory for rendered skill documents.
func (d *Dir) SkillsPath() string {
	return filepath.Join(d.path, SkillsDirName)
}

// SkillPath returns the rendered skill document for a source.
func (d *Dir) SkillPath(sourceID string) string {
	return filepath.Join(d.SkillsPath(), sourceID+".md")
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.SourcesPath(), d.SkillsPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureSourceDir creates the directory tree for one source.
func (d *Dir) EnsureSourceDir(sourceID string) error {
	if err := os.MkdirAll(d.CacheDir(sourceID), 0o755); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// SourceExists returns true if a source has been ingested.
func (d *Dir) SourceExists(sourceID string) bool {
	_, err := os.Stat(d.SourceManifestPath(sourceID))
	return err == nil
}

// ListSources returns the IDs of all ingested sources.
func (d *Dir) ListSources() ([]string, error) {
	entries, err := os.ReadDir(d.SourcesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sources directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
