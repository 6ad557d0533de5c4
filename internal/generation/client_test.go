package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiTestClient(url string) *GeminiClient {
	return NewGeminiClientWithConfig(Config{
		Provider:   ProviderGemini,
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "gemini-2.0-flash",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	})
}

func geminiBody(text string) string {
	return `{"candidates": [{"content": {"parts": [{"text": ` + mustQuote(text) + `}], "role": "model"}}]}`
}

func mustQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestGeminiComplete(t *testing.T) {
	var gotReq geminiRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(geminiBody("hello back")))
	}))
	defer ts.Close()

	c := geminiTestClient(ts.URL)
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello back", out)
	require.Len(t, gotReq.Contents, 1)
	assert.Equal(t, "hello", gotReq.Contents[0].Parts[0].Text)
	assert.Nil(t, gotReq.SystemInstruction)
}

func TestGeminiSchemaRequest(t *testing.T) {
	var gotReq geminiRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(geminiBody(`{"task_type": "new_query"}`)))
	}))
	defer ts.Close()

	c := geminiTestClient(ts.URL)
	schema := map[string]interface{}{"type": "object"}
	out, err := c.CompleteWithSchema(context.Background(), "system", "user", schema)
	require.NoError(t, err)
	assert.Contains(t, out, "new_query")

	require.NotNil(t, gotReq.SystemInstruction)
	assert.Equal(t, "application/json", gotReq.GenerationConfig.ResponseMimeType)
	assert.NotNil(t, gotReq.GenerationConfig.ResponseSchema)
}

func TestGeminiRetriesRateLimit(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(geminiBody("recovered")))
	}))
	defer ts.Close()

	c := geminiTestClient(ts.URL)
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 2, attempts)
}

func TestGeminiSchemaRejectionFallsBack(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.GenerationConfig.ResponseSchema != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "response_schema is not supported"}}`))
			return
		}
		w.Write([]byte(geminiBody(`{"ok": true}`)))
	}))
	defer ts.Close()

	c := geminiTestClient(ts.URL)
	out, err := c.CompleteWithSchema(context.Background(), "", "user", map[string]interface{}{"type": "object"})
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Equal(t, 2, attempts)
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	c := NewGeminiClientWithConfig(Config{Provider: ProviderGemini})
	_, err := c.Complete(context.Background(), "hello")
	assert.Error(t, err)
}

func TestOpenAIComplete(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "hi there"}}]}`))
	}))
	defer ts.Close()

	c := NewOpenAIClientWithConfig(Config{
		Provider:   ProviderOpenAI,
		APIKey:     "sk-test",
		BaseURL:    ts.URL,
		Model:      "gpt-4o-mini",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	})
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestNewClientProviderSelection(t *testing.T) {
	c, err := NewClient(Config{Provider: ProviderGemini, APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &GeminiClient{}, c)

	c, err = NewClient(Config{Provider: ProviderOpenAI, APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	_, err = NewClient(Config{Provider: "smoke-signals"})
	assert.Error(t, err)
}
