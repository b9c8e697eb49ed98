package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skillpress/skillpress/internal/home"
	"github.com/skillpress/skillpress/internal/stage"
	"github.com/skillpress/skillpress/internal/unit"
)

// Manifest records what was ingested for one source. It lives next to
// the extracted text and is the marker that ingestion completed.
type Manifest struct {
	SourceID   string    `yaml:"source_id"`
	Title      string    `yaml:"title"`
	SourceHash string    `yaml:"source_hash"`
	Pages      int       `yaml:"pages,omitempty"`
	Files      []string  `yaml:"files"`
	UnitCount  int       `yaml:"unit_count"`
	ChunkRunes int       `yaml:"chunk_runes"`
	IngestedAt time.Time `yaml:"ingested_at"`
}

// Ingest persists an extracted document into the home directory:
// the normalized text, then the manifest. The manifest is written last
// so a half-finished ingest is never mistaken for a complete one.
func Ingest(homeDir *home.Dir, doc *Document, files []string, chunkRunes int) (*Manifest, error) {
	units := unit.Split(doc.Hash, doc.Text, chunkRunes)
	if len(units) == 0 {
		return nil, fmt.Errorf("source produced no content units")
	}

	if err := homeDir.EnsureSourceDir(doc.SourceID); err != nil {
		return nil, err
	}

	if err := writeAtomic(homeDir.SourceTextPath(doc.SourceID), []byte(doc.Text)); err != nil {
		return nil, err
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}

	m := &Manifest{
		SourceID:   doc.SourceID,
		Title:      doc.Title,
		SourceHash: doc.Hash,
		Pages:      doc.Pages,
		Files:      names,
		UnitCount:  len(units),
		ChunkRunes: chunkRunes,
		IngestedAt: time.Now().UTC(),
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writeAtomic(homeDir.SourceManifestPath(doc.SourceID), data); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadManifest reads the manifest for an ingested source.
func LoadManifest(homeDir *home.Dir, sourceID string) (*Manifest, error) {
	path := homeDir.SourceManifestPath(sourceID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &stage.PersistenceError{Op: "load", Path: path, Err: err}
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &stage.PersistenceError{Op: "decode", Path: path, Err: err}
	}
	return &m, nil
}

// LoadUnits re-splits the stored text for a source into units,
// verifying the text still matches the manifest's hash.
func LoadUnits(homeDir *home.Dir, sourceID string) ([]unit.Unit, *Manifest, error) {
	m, err := LoadManifest(homeDir, sourceID)
	if err != nil {
		return nil, nil, err
	}

	path := homeDir.SourceTextPath(sourceID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &stage.PersistenceError{Op: "load", Path: path, Err: err}
	}

	text := string(data)
	if hash := unit.HashText(text); hash != m.SourceHash {
		return nil, nil, fmt.Errorf("source %s text does not match manifest hash (got %s, want %s)",
			sourceID, hash, m.SourceHash)
	}

	return unit.Split(m.SourceHash, text, m.ChunkRunes), m, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".extract-*.tmp")
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
