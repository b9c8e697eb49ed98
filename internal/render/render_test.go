package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skillpress/skillpress/internal/cache"
	"github.com/skillpress/skillpress/internal/extract"
	"github.com/skillpress/skillpress/internal/ledger"
	"github.com/skillpress/skillpress/internal/stage"
	"github.com/skillpress/skillpress/internal/unit"
)

var renderCfgs = []stage.Config{
	{Stage: stage.StageClassify, Version: "v1", Timeout: time.Minute, MaxAttempts: 1},
	{Stage: stage.StageGenerate, Version: "v1", Timeout: time.Minute, MaxAttempts: 1},
}

type renderEnv struct {
	store    *cache.Store
	ledger   *ledger.Ledger
	renderer *Renderer
	units    []unit.Unit
	manifest *extract.Manifest
	out      string
}

func newRenderEnv(t *testing.T, n int) *renderEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := cache.NewStore(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	led, err := ledger.Open(filepath.Join(dir, "ledger.yaml"),
		[]stage.Stage{stage.StageClassify, stage.StageGenerate})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	units := make([]unit.Unit, n)
	for i := range units {
		units[i] = unit.New("srchash", i, "text")
	}
	if err := led.Register(units); err != nil {
		t.Fatalf("Register: %v", err)
	}

	return &renderEnv{
		store:    store,
		ledger:   led,
		renderer: New(store, led, nil),
		units:    units,
		manifest: &extract.Manifest{
			SourceID:   "src123",
			Title:      "Test Manual",
			SourceHash: "srchash",
			UnitCount:  n,
		},
		out: filepath.Join(dir, "skill.md"),
	}
}

func (e *renderEnv) complete(t *testing.T, u unit.Unit, st stage.Stage, output string) {
	t.Helper()
	err := e.store.Put(&stage.Result{
		UnitID: u.ID, SourceHash: u.SourceHash, Ordinal: u.Ordinal,
		Stage: st, Status: stage.StatusSuccess, Output: output,
		CompletedAt: time.Now().UTC(),
	}, "v1")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := e.ledger.MarkSuccess(u.ID, st, 1, stage.Metrics{}); err != nil {
		t.Fatalf("MarkSuccess: %v", err)
	}
}

func TestRenderAssemblesInOrder(t *testing.T) {
	e := newRenderEnv(t, 3)
	for _, u := range e.units {
		e.complete(t, u, stage.StageClassify, `{"labels":["credits"]}`)
	}
	// Complete the final stage out of order; output must follow ordinals.
	e.complete(t, e.units[2], stage.StageGenerate, "## Section C")
	e.complete(t, e.units[0], stage.StageGenerate, "## Section A")
	e.complete(t, e.units[1], stage.StageGenerate, "## Section B")

	if err := e.renderer.Render(e.out, e.manifest, e.units, renderCfgs); err != nil {
		t.Fatalf("Render: %v", err)
	}

	data, err := os.ReadFile(e.out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	doc := string(data)

	a := strings.Index(doc, "## Section A")
	b := strings.Index(doc, "## Section B")
	c := strings.Index(doc, "## Section C")
	if a < 0 || b < 0 || c < 0 || !(a < b && b < c) {
		t.Errorf("sections out of order: a=%d b=%d c=%d", a, b, c)
	}
}

func TestRenderFrontMatter(t *testing.T) {
	e := newRenderEnv(t, 1)
	e.complete(t, e.units[0], stage.StageClassify, `{"labels":["credits","filing"]}`)
	e.complete(t, e.units[0], stage.StageGenerate, "## Credits")

	if err := e.renderer.Render(e.out, e.manifest, e.units, renderCfgs); err != nil {
		t.Fatalf("Render: %v", err)
	}

	data, err := os.ReadFile(e.out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	doc := string(data)
	if !strings.HasPrefix(doc, "---\n") {
		t.Fatal("document does not start with front matter")
	}
	parts := strings.SplitN(doc, "---\n", 3)
	if len(parts) != 3 {
		t.Fatal("front matter is not delimited")
	}

	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		t.Fatalf("front matter is not valid YAML: %v", err)
	}
	if fm.Title != "Test Manual" || fm.SourceHash != "srchash" {
		t.Errorf("front matter = %+v", fm)
	}
	if len(fm.Topics) != 2 || fm.Topics[0] != "credits" || fm.Topics[1] != "filing" {
		t.Errorf("topics = %v", fm.Topics)
	}
}

func TestRenderFailsOnGap(t *testing.T) {
	e := newRenderEnv(t, 2)
	e.complete(t, e.units[0], stage.StageClassify, `{"labels":[]}`)
	e.complete(t, e.units[1], stage.StageClassify, `{"labels":[]}`)
	// Only one of two units completed the final stage.
	e.complete(t, e.units[0], stage.StageGenerate, "## Only Section")

	if err := e.renderer.Render(e.out, e.manifest, e.units, renderCfgs); err == nil {
		t.Fatal("render with a missing unit should fail")
	}
	if _, err := os.Stat(e.out); !os.IsNotExist(err) {
		t.Error("incomplete document was written")
	}
}

func TestRenderToleratesSkippedUnits(t *testing.T) {
	e := newRenderEnv(t, 2)
	e.complete(t, e.units[0], stage.StageClassify, `{"labels":[]}`)
	e.complete(t, e.units[0], stage.StageGenerate, "## Section")
	if err := e.ledger.MarkSkipped(e.units[1].ID, stage.StageClassify); err != nil {
		t.Fatalf("MarkSkipped: %v", err)
	}
	if err := e.ledger.MarkSkipped(e.units[1].ID, stage.StageGenerate); err != nil {
		t.Fatalf("MarkSkipped: %v", err)
	}

	if err := e.renderer.Render(e.out, e.manifest, e.units, renderCfgs); err != nil {
		t.Fatalf("Render with skipped unit: %v", err)
	}
}
