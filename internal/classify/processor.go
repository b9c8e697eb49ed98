package classify

import (
	"context"

	"github.com/skillpress/skillpress/internal/stage"
	"github.com/skillpress/skillpress/internal/unit"
)

// Processor exposes a Classifier as a pipeline stage: the stage output
// payload is the canonical JSON label encoding.
type Processor struct {
	Classifier Classifier
}

// NewProcessor wraps a classifier for use by the stage executor.
func NewProcessor(c Classifier) *Processor {
	return &Processor{Classifier: c}
}

// Process classifies the unit text and encodes the labels.
func (p *Processor) Process(ctx context.Context, u unit.Unit, _ stage.Config) (string, error) {
	labels, err := p.Classifier.Classify(ctx, u.RawText)
	if err != nil {
		return "", err
	}
	return EncodeLabels(labels)
}
