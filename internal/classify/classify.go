// Package classify assigns topic labels to content units. The pipeline
// core is oblivious to which strategy produced the labels: both the
// keyword and LLM classifiers sit behind the same Classifier interface,
// and the Processor adapter exposes either as a pipeline stage.
package classify

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// Classifier assigns topic labels to a chunk of text.
type Classifier interface {
	// Classify returns zero or more topic labels for text.
	Classify(ctx context.Context, text string) ([]string, error)
}

// KeywordClassifier labels text by scanning for topic keywords. It is
// the zero-cost fallback when no LLM provider is configured.
type KeywordClassifier struct {
	// Topics maps a label to the keywords that indicate it.
	Topics map[string][]string
}

// DefaultTopics is the built-in tax-manual lexicon.
func DefaultTopics() map[string][]string {
	return map[string][]string{
		"income-tax":      {"income tax", "taxable income", "gross income", "adjusted gross"},
		"deductions":      {"deduction", "deductible", "itemized", "standard deduction", "write-off"},
		"credits":         {"tax credit", "credit for", "refundable credit", "nonrefundable"},
		"filing":          {"filing status", "file a return", "due date", "extension", "form 10"},
		"withholding":     {"withholding", "withheld", "estimated tax", "w-2", "w-4"},
		"capital-gains":   {"capital gain", "capital loss", "cost basis", "holding period"},
		"self-employment": {"self-employment", "schedule c", "sole proprietor", "1099"},
		"retirement":      {"ira", "401(k)", "pension", "retirement plan", "required minimum"},
		"penalties":       {"penalty", "interest charge", "underpayment", "late filing"},
		"business":        {"business expense", "depreciation", "amortization", "section 179"},
	}
}

// NewKeywordClassifier creates a classifier over the given lexicon,
// defaulting to the built-in tax topics.
func NewKeywordClassifier(topics map[string][]string) *KeywordClassifier {
	if len(topics) == 0 {
		topics = DefaultTopics()
	}
	return &KeywordClassifier{Topics: topics}
}

// Classify returns the labels whose keywords appear in text, sorted
// for deterministic output.
func (c *KeywordClassifier) Classify(_ context.Context, text string) ([]string, error) {
	lower := strings.ToLower(text)

	var labels []string
	for label, keywords := range c.Topics {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				labels = append(labels, label)
				break
			}
		}
	}
	sort.Strings(labels)
	return labels, nil
}

// EncodeLabels renders labels as the canonical JSON payload stored as
// the classify stage output.
func EncodeLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	data, err := json.Marshal(map[string][]string{"labels": labels})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeLabels parses a classify stage output payload back into labels.
func DecodeLabels(payload string) ([]string, error) {
	var doc struct {
		Labels []string `json:"labels"`
	}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, err
	}
	return doc.Labels, nil
}

// Verify interface
var _ Classifier = (*KeywordClassifier)(nil)
