package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoyal88/docgen/pkg/ai"
)

func newTestClient(t *testing.T, h http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := Config{APIKey: "sk-test", BaseURL: srv.URL, Timeout: 2 * time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)

	_, err = NewClient(Config{APIKey: "k", BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	c, err := NewClient(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "api.openai.com", c.baseURL.Host)
	assert.Equal(t, "closed", c.State())
}

func TestFactory_UsesExecutorCredential(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"id":"vs_1","object":"vector_store"}`))
	}))
	defer srv.Close()

	f := Factory(Config{APIKey: "ignored", BaseURL: srv.URL})
	p, err := f("sk-live", time.Second)
	require.NoError(t, err)

	_, err = p.RetrieveVectorStore(context.Background(), "vs_1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-live", auth)

	_, err = Factory(Config{})("", time.Second)
	assert.Error(t, err)
}

func TestChatCompletion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("OpenAI-Beta"))

		var body ai.ChatCompletionParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body.Model)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "json_object", body.ResponseFormat.Type)

		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-abc",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"ok\":true}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	})

	res, err := c.ChatCompletion(context.Background(), ai.ChatCompletionParams{
		Model:          "gpt-4o",
		Messages:       []ai.Message{{Role: "user", Content: "hi"}},
		ResponseFormat: &ai.ResponseFormat{Type: "json_object"},
	})
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-abc", res.ID)
	assert.Equal(t, `{"ok":true}`, res.Content())
	assert.Equal(t, 15, res.TotalTokens())
}

func TestVectorStoreRoutes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/vector_stores":
			var p ai.VectorStoreParams
			require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			assert.Equal(t, []string{"file-1"}, p.FileIDs)
			assert.Equal(t, 1, p.ExpiresAfter.Days)
			_, _ = w.Write([]byte(`{"id":"vs_new","name":"refs","status":"in_progress"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/vector_stores/vs_new/file_batches":
			_, _ = w.Write([]byte(`{"id":"vsfb_1","vector_store_id":"vs_new","status":"in_progress"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/vector_stores/vs_new":
			_, _ = w.Write([]byte(`{"id":"vs_new","status":"completed","file_counts":{"completed":1,"total":1}}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/vector_stores/vs_new":
			_, _ = w.Write([]byte(`{"id":"vs_new","object":"vector_store.deleted","deleted":true}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	vs, err := c.CreateVectorStore(ctx, ai.VectorStoreParams{
		Name:         "refs",
		FileIDs:      []string{"file-1"},
		ExpiresAfter: &ai.ExpiresAfter{Anchor: "last_active_at", Days: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "vs_new", vs.ID)

	batch, err := c.CreateFileBatch(ctx, vs.ID, ai.FileBatchParams{FileIDs: []string{"file-1"}})
	require.NoError(t, err)
	assert.Equal(t, "vsfb_1", batch.ID)

	got, err := c.RetrieveVectorStore(ctx, vs.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FileCounts.Completed)

	del, err := c.DeleteVectorStore(ctx, vs.ID)
	require.NoError(t, err)
	assert.True(t, del.Deleted)
}

func TestCreateFile_Multipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "assistants", r.FormValue("purpose"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "notes.txt", hdr.Filename)
		assert.Equal(t, "text/plain", hdr.Header.Get("Content-Type"))
		assert.Equal(t, "hello", string(data))

		_, _ = w.Write([]byte(`{"id":"file-9","filename":"notes.txt","purpose":"assistants","bytes":5}`))
	})

	f, err := c.CreateFile(context.Background(), ai.FileParams{
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Data:        []byte("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "file-9", f.ID)
	assert.EqualValues(t, 5, f.Bytes)
}

func TestAPIErrorParsing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded","param":null}}`))
	})

	_, err := c.ChatCompletion(context.Background(), ai.ChatCompletionParams{Model: "gpt-4o"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.Status)
	assert.Equal(t, "rate_limit_exceeded", apiErr.Code)
	assert.Equal(t, "Rate limit reached", apiErr.Message)

	f := ai.Inspect(err)
	assert.Equal(t, 429, f.Status)
	assert.True(t, f.Retryable())
	assert.Equal(t, ai.MsgRateLimited, f.UserMessage())
}

func TestParseAPIError_Fallbacks(t *testing.T) {
	e := parseAPIError(502, []byte("<html>Bad Gateway</html>"))
	assert.Equal(t, "<html>Bad Gateway</html>", e.Message)
	assert.Empty(t, e.Code)

	e = parseAPIError(503, nil)
	assert.Equal(t, "Service Unavailable", e.Message)

	e = parseAPIError(400, []byte(`{"error":{"message":"too long","code":"context_length_exceeded"}}`))
	assert.Equal(t, ai.MsgContextLength, ai.Inspect(e).UserMessage())
}

func TestCircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, func(cfg *Config) {
		cfg.BreakerFailures = 2
		cfg.BreakerTimeout = time.Minute
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.RetrieveVectorStore(ctx, "vs_1")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 500, apiErr.Status)
	}

	_, err := c.RetrieveVectorStore(ctx, "vs_1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.Status)
	assert.Equal(t, CodeCircuitOpen, apiErr.Code)
	assert.True(t, ai.IsRetryable(err))
	assert.EqualValues(t, 2, hits.Load(), "open breaker short-circuits the request")
	assert.Equal(t, "open", c.State())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"No vector store found","type":"invalid_request_error"}}`))
	}, func(cfg *Config) { cfg.BreakerFailures = 1 })

	for i := 0; i < 3; i++ {
		_, err := c.DeleteVectorStore(context.Background(), "vs_missing")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 404, apiErr.Status)
	}
	assert.Equal(t, "closed", c.State())
}

func TestTimeoutIsClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	_, err := c.ChatCompletion(context.Background(), ai.ChatCompletionParams{Model: "gpt-4o"})
	require.Error(t, err)
	assert.Equal(t, ai.CodeTimeout, ai.Inspect(err).Code)
	assert.True(t, ai.IsRetryable(err))
}

func TestCancelledContextIsNotRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.RetrieveVectorStore(ctx, "vs_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, ai.IsRetryable(err))
}
