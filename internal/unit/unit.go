// Package unit defines the content unit, the cacheable item of pipeline
// work, and the chunker that derives units from extracted document text.
package unit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// idLen is the number of hex characters kept from the derivation hash.
const idLen = 16

// Unit is one chunk of source material. Units are created once during
// chunking and never mutated; later stages reference them by ID.
type Unit struct {
	ID         string `json:"unit_id" yaml:"unit_id"`
	SourceHash string `json:"source_hash" yaml:"source_hash"`
	Ordinal    int    `json:"ordinal" yaml:"ordinal"`
	RawText    string `json:"raw_text" yaml:"raw_text"`
}

// DeriveID computes the stable unit identifier from the source document
// hash and the unit's position. The same source and ordinal always
// produce the same ID, which is what makes cache keys reproducible
// across runs.
func DeriveID(sourceHash string, ordinal int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sourceHash, ordinal)))
	return hex.EncodeToString(sum[:])[:idLen]
}

// New creates a unit with its derived ID.
func New(sourceHash string, ordinal int, rawText string) Unit {
	return Unit{
		ID:         DeriveID(sourceHash, ordinal),
		SourceHash: sourceHash,
		Ordinal:    ordinal,
		RawText:    rawText,
	}
}

// HashText returns the hex sha256 of text, used as the source fingerprint.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Split chunks document text into units on paragraph boundaries.
// Paragraphs are packed greedily up to maxRunes per unit; a single
// paragraph larger than maxRunes becomes its own oversized unit rather
// than being cut mid-sentence. Empty input yields no units.
func Split(sourceHash, text string, maxRunes int) []Unit {
	if maxRunes <= 0 {
		maxRunes = 4000
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var units []Unit
	var buf strings.Builder
	bufRunes := 0

	flush := func() {
		if bufRunes == 0 {
			return
		}
		units = append(units, New(sourceHash, len(units), buf.String()))
		buf.Reset()
		bufRunes = 0
	}

	for _, p := range paragraphs {
		pRunes := len([]rune(p))
		sepRunes := 0
		if bufRunes > 0 {
			sepRunes = 2 // the "\n\n" joiner counts against the budget
		}
		if bufRunes > 0 && bufRunes+sepRunes+pRunes > maxRunes {
			flush()
			sepRunes = 0
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p)
		bufRunes += sepRunes + pRunes
	}
	flush()

	return units
}

// splitParagraphs splits on blank lines and drops empty segments.
func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
