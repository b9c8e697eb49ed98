package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skillpress/skillpress/internal/stage"
)

func healthCheckServer(t *testing.T, status int, body string) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	return NewOpenAIProvider(OpenAIConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
}

func TestOpenAIHealthCheck(t *testing.T) {
	t.Run("reachable API passes", func(t *testing.T) {
		p := healthCheckServer(t, http.StatusOK,
			`{"object":"list","data":[{"id":"gpt-4o","object":"model","created":0,"owned_by":"openai"}]}`)
		if err := p.HealthCheck(context.Background()); err != nil {
			t.Fatalf("HealthCheck: %v", err)
		}
	})

	t.Run("bad credentials are permanent", func(t *testing.T) {
		p := healthCheckServer(t, http.StatusUnauthorized,
			`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
		err := p.HealthCheck(context.Background())
		if err == nil {
			t.Fatal("expected error")
		}
		if !stage.IsPermanent(err) {
			t.Errorf("auth failure should be permanent, got %v", err)
		}
	})

	t.Run("server error is transient", func(t *testing.T) {
		p := healthCheckServer(t, http.StatusInternalServerError,
			`{"error":{"message":"upstream unavailable","type":"server_error"}}`)
		err := p.HealthCheck(context.Background())
		if err == nil {
			t.Fatal("expected error")
		}
		if !stage.IsTransient(err) {
			t.Errorf("server error should be transient, got %v", err)
		}
	})
}
