// Package render assembles the final skill document from cached stage
// results: YAML front matter followed by every unit's final-stage
// output in source order.
package render

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skillpress/skillpress/internal/cache"
	"github.com/skillpress/skillpress/internal/classify"
	"github.com/skillpress/skillpress/internal/extract"
	"github.com/skillpress/skillpress/internal/ledger"
	"github.com/skillpress/skillpress/internal/stage"
	"github.com/skillpress/skillpress/internal/unit"
)

// FrontMatter is the metadata block at the top of a skill document.
type FrontMatter struct {
	Title       string    `yaml:"title"`
	SourceID    string    `yaml:"source_id"`
	SourceHash  string    `yaml:"source_hash"`
	Topics      []string  `yaml:"topics,omitempty"`
	Units       int       `yaml:"units"`
	Pages       int       `yaml:"pages,omitempty"`
	GeneratedAt time.Time `yaml:"generated_at"`
}

// Renderer reads stage results back out of the cache store.
type Renderer struct {
	cache  *cache.Store
	ledger *ledger.Ledger
	logger *slog.Logger
}

// New creates a renderer over the given cache store and ledger.
func New(store *cache.Store, led *ledger.Ledger, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{cache: store, ledger: led, logger: logger}
}

// Render assembles the skill document and writes it to path. Every
// unit must have either a cached final-stage success or a skipped
// record; a gap means the document would silently drop source content,
// so it is an error instead.
func (r *Renderer) Render(path string, m *extract.Manifest, units []unit.Unit, cfgs []stage.Config) error {
	if len(cfgs) == 0 {
		return fmt.Errorf("no stages configured")
	}
	final := cfgs[len(cfgs)-1]

	ordered := make([]unit.Unit, len(units))
	copy(ordered, units)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Ordinal < ordered[j].Ordinal })

	var sections []string
	for _, u := range ordered {
		res, err := r.cache.Get(u.ID, final.Stage, final.Version)
		if err != nil {
			return fmt.Errorf("failed to load result for unit %s: %w", u.ID, err)
		}
		if res == nil || res.Status != stage.StatusSuccess {
			if r.ledger.StatusOf(u.ID, final.Stage) == stage.StatusSkipped {
				continue
			}
			return fmt.Errorf("unit %s (ordinal %d) has no %s result; document is incomplete",
				u.ID, u.Ordinal, final.Stage)
		}
		if out := strings.TrimSpace(res.Output); out != "" {
			sections = append(sections, out)
		}
	}
	if len(sections) == 0 {
		return fmt.Errorf("no sections to render")
	}

	fm := FrontMatter{
		Title:       m.Title,
		SourceID:    m.SourceID,
		SourceHash:  m.SourceHash,
		Topics:      r.collectTopics(ordered, cfgs),
		Units:       len(ordered),
		Pages:       m.Pages,
		GeneratedAt: time.Now().UTC(),
	}
	fmData, err := yaml.Marshal(&fm)
	if err != nil {
		return fmt.Errorf("failed to encode front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fmData)
	b.WriteString("---\n\n")
	b.WriteString(strings.Join(sections, "\n\n"))
	b.WriteString("\n")

	if err := writeAtomic(path, []byte(b.String())); err != nil {
		return err
	}
	r.logger.Info("skill document rendered", "path", path, "sections", len(sections), "topics", len(fm.Topics))
	return nil
}

// collectTopics unions the classify-stage labels across all units.
// Topics are best-effort metadata: a missing or unreadable label entry
// never fails the render.
func (r *Renderer) collectTopics(units []unit.Unit, cfgs []stage.Config) []string {
	var classifyCfg *stage.Config
	for i := range cfgs {
		if cfgs[i].Stage == stage.StageClassify {
			classifyCfg = &cfgs[i]
			break
		}
	}
	if classifyCfg == nil {
		return nil
	}

	seen := make(map[string]struct{})
	for _, u := range units {
		res, err := r.cache.Get(u.ID, classifyCfg.Stage, classifyCfg.Version)
		if err != nil || res == nil || res.Status != stage.StatusSuccess {
			continue
		}
		labels, err := classify.DecodeLabels(res.Output)
		if err != nil {
			r.logger.Warn("unreadable classification labels", "unit_id", u.ID, "error", err)
			continue
		}
		for _, l := range labels {
			seen[l] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &stage.PersistenceError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".skill-*.tmp")
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
