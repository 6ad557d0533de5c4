package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/onion-salad/persona-lens-sub000/internal/orchestrator"
	"github.com/onion-salad/persona-lens-sub000/internal/store"
)

// scriptedClient implements generation.Client with canned replies.
type scriptedClient struct {
	classification string
	reply          string
}

func (c *scriptedClient) Complete(_ context.Context, _ string) (string, error) {
	return c.reply, nil
}

func (c *scriptedClient) CompleteWithSystem(_ context.Context, _, _ string) (string, error) {
	return c.reply, nil
}

func (c *scriptedClient) CompleteWithSchema(_ context.Context, _, _ string, _ map[string]interface{}) (string, error) {
	return c.classification, nil
}

func newTestServer(t *testing.T, gen *scriptedClient) *httptest.Server {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "personas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	retriever := orchestrator.NewRetriever(st, nil)
	controller := orchestrator.NewController(
		gen,
		orchestrator.NewClassifier(gen),
		orchestrator.NewEstimator(gen),
		retriever,
		orchestrator.NewSynthesizer(gen, st),
		orchestrator.NewUpdater(gen, st),
		orchestrator.NewResponder(gen, st),
	)

	s := New(DefaultConfig(), controller, zap.NewNop())
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/generate-expert-proposal", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func jsonDecode(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func TestGenerateRejectsMalformedJSON(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{})
	resp := postJSON(t, ts, "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateRejectsEmptyMessages(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{})
	resp := postJSON(t, ts, `{"messages": []}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateRejectsUnknownRole(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{})
	resp := postJSON(t, ts, `{"messages": [{"role": "wizard", "content": "hi"}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateRequiresUserMessage(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{})
	resp := postJSON(t, ts, `{"messages": [{"role": "assistant", "content": "hello"}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateGeneralConversation(t *testing.T) {
	gen := &scriptedClient{
		classification: `{"task_type": "general_conversation"}`,
		reply:          "Hello! How can I help?",
	}
	ts := newTestServer(t, gen)

	resp := postJSON(t, ts, `{"messages": [{"role": "user", "content": "good morning"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result orchestrator.Result
	require.NoError(t, jsonDecode(resp, &result))
	assert.Equal(t, orchestrator.ResultGeneralConversation, result.Type)
	assert.Equal(t, "Hello! How can I help?", result.Message)
}

func TestGenerateUsesLastUserMessage(t *testing.T) {
	gen := &scriptedClient{
		classification: `{"task_type": "general_conversation"}`,
		reply:          "ok",
	}
	ts := newTestServer(t, gen)

	resp := postJSON(t, ts, `{"messages": [
		{"role": "user", "content": "first"},
		{"role": "assistant", "content": "noted"},
		{"role": "user", "content": "second"}
	]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGenerateClassificationFailureIs500(t *testing.T) {
	gen := &scriptedClient{classification: "not a json object"}
	ts := newTestServer(t, gen)

	resp := postJSON(t, ts, `{"messages": [{"role": "user", "content": "hi"}]}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestGenerateMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{})
	resp, err := http.Get(ts.URL + "/generate-expert-proposal")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{})
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "fixed-id")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "fixed-id", resp2.Header.Get("X-Request-Id"))
}
