// Package extract turns source files (PDF tax manuals, plain text,
// markdown) into a single extracted document ready for unit splitting.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/skillpress/skillpress/internal/unit"
)

// Document is the extracted form of one source.
type Document struct {
	SourceID string
	Title    string
	Hash     string
	Pages    int
	Text     string
}

// Request contains the parameters for extracting a source document.
type Request struct {
	Paths  []string     // source files (multi-part PDFs are sorted by numeric suffix)
	Title  string       // optional, derived from the first filename if empty
	Logger *slog.Logger // optional logger for progress updates
}

// sourceIDLen is the hash prefix length used as the source identifier.
const sourceIDLen = 12

// FromPaths extracts all request paths into one document. PDF and text
// inputs may not be mixed; multi-part PDFs are concatenated in numeric
// order.
func FromPaths(ctx context.Context, req Request) (*Document, error) {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}

	if len(req.Paths) == 0 {
		return nil, fmt.Errorf("no source paths provided")
	}
	for _, p := range req.Paths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("source not found: %s", p)
		}
	}

	pdf, err := allPDF(req.Paths)
	if err != nil {
		return nil, err
	}

	var (
		text  string
		pages int
	)
	if pdf {
		sorted := sortPDFsByNumber(req.Paths)
		log.Info("extracting PDF text", "files", len(sorted))
		text, pages, err = fromPDFs(ctx, sorted, log)
	} else {
		text, err = fromTextFiles(req.Paths)
	}
	if err != nil {
		return nil, err
	}

	text = normalize(text)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text extracted from source")
	}

	title := req.Title
	if title == "" {
		title = deriveTitle(req.Paths[0])
	}

	hash := unit.HashText(text)
	doc := &Document{
		SourceID: hash[:sourceIDLen],
		Title:    title,
		Hash:     hash,
		Pages:    pages,
		Text:     text,
	}
	log.Info("extraction complete", "source_id", doc.SourceID, "pages", pages, "runes", len([]rune(text)))
	return doc, nil
}

func allPDF(paths []string) (bool, error) {
	pdfs := 0
	for _, p := range paths {
		switch strings.ToLower(filepath.Ext(p)) {
		case ".pdf":
			pdfs++
		case ".txt", ".md", ".markdown":
		default:
			return false, fmt.Errorf("unsupported source type: %s", p)
		}
	}
	if pdfs > 0 && pdfs != len(paths) {
		return false, fmt.Errorf("cannot mix PDF and text sources")
	}
	return pdfs > 0, nil
}

// fromPDFs extracts page text from each PDF concurrently, preserving
// page order in the combined output.
func fromPDFs(ctx context.Context, paths []string, log *slog.Logger) (string, int, error) {
	var parts []string
	total := 0

	for i, pdfPath := range paths {
		log.Debug("extracting PDF", "file", filepath.Base(pdfPath), "part", i+1, "of", len(paths))
		pageTexts, err := extractPDF(ctx, pdfPath)
		if err != nil {
			return "", 0, fmt.Errorf("failed to extract %s: %w", pdfPath, err)
		}
		parts = append(parts, pageTexts...)
		total += len(pageTexts)
	}
	return strings.Join(parts, "\n\n"), total, nil
}

// extractPDF returns the text of every page in order, extracting pages
// concurrently with a CPU-bounded worker pool.
func extractPDF(ctx context.Context, pdfPath string) ([]string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	pageCount, err := api.PageCount(f, nil)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}

	type result struct {
		page int
		text string
		err  error
	}

	results := make(chan result, pageCount)
	sem := make(chan struct{}, runtime.NumCPU())

	for page := 1; page <= pageCount; page++ {
		sem <- struct{}{} // acquire
		go func(page int) {
			defer func() { <-sem }() // release

			text, err := extractPageText(ctx, pdfPath, page)
			results <- result{page: page, text: text, err: err}
		}(page)
	}

	texts := make([]string, pageCount)
	for i := 0; i < pageCount; i++ {
		r := <-results
		if r.err != nil {
			return nil, fmt.Errorf("failed to extract page %d: %w", r.page, r.err)
		}
		texts[r.page-1] = r.text
	}
	return texts, nil
}

// extractPageText extracts a single page using pdftotext (poppler-utils).
func extractPageText(ctx context.Context, pdfPath string, page int) (string, error) {
	pageStr := strconv.Itoa(page)

	// -layout preserves column structure, which matters for tax tables.
	// "-" writes to stdout.
	cmd := exec.CommandContext(ctx, "pdftotext",
		"-f", pageStr,
		"-l", pageStr,
		"-layout",
		pdfPath,
		"-",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext failed: %w (output: %s)", err, stderr.String())
	}
	return stdout.String(), nil
}

func fromTextFiles(paths []string) (string, error) {
	var parts []string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", p, err)
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, "\n\n"), nil
}

// normalize collapses line endings and strips trailing whitespace so
// the source hash is stable across platforms.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// sortPDFsByNumber sorts PDF paths by their numeric suffix.
// e.g., ["pub-2.pdf", "pub-1.pdf", "pub-10.pdf"] -> ["pub-1.pdf", "pub-2.pdf", "pub-10.pdf"]
func sortPDFsByNumber(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)

	re := regexp.MustCompile(`-(\d+)\.pdf$`)

	sort.Slice(sorted, func(i, j int) bool {
		mi := re.FindStringSubmatch(sorted[i])
		mj := re.FindStringSubmatch(sorted[j])

		if len(mi) > 1 && len(mj) > 1 {
			ni, _ := strconv.Atoi(mi[1])
			nj, _ := strconv.Atoi(mj[1])
			return ni < nj
		}

		// Files without numbers come first
		if len(mi) > 1 {
			return false
		}
		if len(mj) > 1 {
			return true
		}

		return sorted[i] < sorted[j]
	})

	return sorted
}

// deriveTitle extracts a title from a source filename.
// e.g., "pub17-2025.pdf" -> "pub17-2025"; "my-manual-1.pdf" -> "my-manual"
func deriveTitle(path string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	re := regexp.MustCompile(`-\d+$`)
	return re.ReplaceAllString(name, "")
}
