// Package providers holds the LLM provider abstraction consumed by the
// stage executor, plus concrete implementations. The pipeline core only
// sees the narrow Provider interface; transient vs permanent failure is
// communicated through the stage error taxonomy.
package providers

import (
	"context"
	"time"
)

// Request is a single completion request to a provider.
type Request struct {
	System      string
	Prompt      string
	Model       string // provider default if empty
	MaxTokens   int
	Temperature float64
	RequestID   string
}

// Response is the provider's raw output plus accounting.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// Provider processes a completion request. Implementations wrap
// failures as stage.Transient or stage.Permanent so the executor's
// retry policy can distinguish them.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "mock").
	Name() string

	// Process sends the request. It must respect ctx cancellation and
	// deadlines; a deadline hit surfaces as a transient error upstream.
	Process(ctx context.Context, req *Request) (*Response, error)
}
