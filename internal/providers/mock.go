package providers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/skillpress/skillpress/internal/stage"
)

const MockName = "mock"

// MockProvider is a scriptable Provider for testing.
type MockProvider struct {
	// Configurable behavior
	Latency      time.Duration
	ResponseText string
	// ResponseFunc, if set, overrides ResponseText.
	ResponseFunc func(req *Request) string

	// TransientFailures makes the first N calls fail with a transient
	// error before succeeding.
	TransientFailures int
	// AlwaysTransient makes every call fail with a transient error.
	AlwaysTransient bool
	// AlwaysPermanent makes every call fail with a permanent error.
	AlwaysPermanent bool

	requestCount atomic.Int64
}

// NewMockProvider creates a mock with sensible defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		ResponseText: "mock response",
	}
}

// Name returns the provider identifier.
func (p *MockProvider) Name() string {
	return MockName
}

// Process returns the scripted response or failure.
func (p *MockProvider) Process(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	count := p.requestCount.Add(1)

	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return nil, stage.Transient(ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, stage.Transient(err)
	}

	if p.AlwaysPermanent {
		return nil, stage.Permanent(fmt.Errorf("mock permanent failure (call %d)", count))
	}
	if p.AlwaysTransient {
		return nil, stage.Transient(fmt.Errorf("mock transient failure (call %d)", count))
	}
	if int(count) <= p.TransientFailures {
		return nil, stage.Transient(fmt.Errorf("mock transient failure %d of %d", count, p.TransientFailures))
	}

	content := p.ResponseText
	if p.ResponseFunc != nil {
		content = p.ResponseFunc(req)
	}

	return &Response{
		Content:          content,
		Model:            "mock-model",
		PromptTokens:     len(req.Prompt) / 4,
		CompletionTokens: len(content) / 4,
		Duration:         time.Since(start),
	}, nil
}

// RequestCount returns the number of requests made.
func (p *MockProvider) RequestCount() int64 {
	return p.requestCount.Load()
}

// Reset resets the request counter.
func (p *MockProvider) Reset() {
	p.requestCount.Store(0)
}

// Verify interface
var _ Provider = (*MockProvider)(nil)
