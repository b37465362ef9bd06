package suggest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSuggestions(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "plain lines",
			input: "Read the tour\nWrite a CLI\n",
			want:  []string{"Read the tour", "Write a CLI"},
		},
		{
			name:  "markers and blanks stripped",
			input: "1. Read the tour\n\n  - Write a CLI  \n* Learn channels\n2) Profile code\n•  Ship it",
			want:  []string{"Read the tour", "Write a CLI", "Learn channels", "Profile code", "Ship it"},
		},
		{
			name:  "capped at five",
			input: "a\nb\nc\nd\ne\nf\ng",
			want:  []string{"a", "b", "c", "d", "e"},
		},
		{
			name:  "only whitespace",
			input: " \n\t\n",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSuggestions(tt.input))
		})
	}
}

func geminiReply(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	}
}

// generateRequest is the part of a generateContent body the tests inspect.
type generateRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

func TestGeminiClientSuggest(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		status  int
		payload any
		want    struct {
			tasks []string
			error bool
		}
	}{
		{
			name:    "successful generation",
			apiKey:  "key",
			status:  http.StatusOK,
			payload: geminiReply("Learn syntax\nBuild a project\nRead docs"),
			want: struct {
				tasks []string
				error bool
			}{tasks: []string{"Learn syntax", "Build a project", "Read docs"}},
		},
		{
			name:    "upstream error",
			apiKey:  "key",
			status:  http.StatusBadRequest,
			payload: map[string]any{"error": map[string]any{"code": 400, "message": "bad prompt", "status": "INVALID_ARGUMENT"}},
			want: struct {
				tasks []string
				error bool
			}{error: true},
		},
		{
			name:    "no candidates",
			apiKey:  "key",
			status:  http.StatusOK,
			payload: map[string]any{"candidates": []any{}},
			want: struct {
				tasks []string
				error bool
			}{error: true},
		},
		{
			name:   "missing api key",
			apiKey: "",
			want: struct {
				tasks []string
				error bool
			}{error: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotQuery, gotKey, gotPrompt string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotQuery = r.URL.RawQuery
				gotKey = r.Header.Get("x-goog-api-key")
				var req generateRequest
				_ = json.NewDecoder(r.Body).Decode(&req)
				if len(req.Contents) > 0 && len(req.Contents[0].Parts) > 0 {
					gotPrompt = req.Contents[0].Parts[0].Text
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(tt.payload)
			}))
			defer srv.Close()

			c, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: tt.apiKey, BaseURL: srv.URL})
			require.NoError(t, err)
			tasks, err := c.Suggest(context.Background(), "Go")

			if tt.want.error {
				assert.Error(t, err)
				if tt.apiKey == "" {
					assert.ErrorIs(t, err, ErrNotConfigured)
				} else {
					assert.NotContains(t, err.Error(), "key=")
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.tasks, tasks)
			assert.Equal(t, "/"+DefaultAPIVersion+"/models/"+DefaultModel+":generateContent", gotPath)
			assert.Equal(t, "key", gotKey)
			assert.NotContains(t, gotQuery, "key=")
			assert.Contains(t, gotPrompt, "learn about Go")
		})
	}
}

func TestGeminiClientErrorsDoNotExposeAPIKey(t *testing.T) {
	const secret = "gemini-secret-0123456789"

	t.Run("connection refused", func(t *testing.T) {
		c, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: secret, BaseURL: "http://127.0.0.1:1"})
		require.NoError(t, err)

		_, err = c.Suggest(context.Background(), "Go")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), secret)
	})

	t.Run("upstream rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
		}))
		defer srv.Close()

		c, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: secret, BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = c.Suggest(context.Background(), "Go")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), secret)
	})
}

func TestGeminiClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: "key", BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Suggest(context.Background(), "Go")
	assert.Error(t, err)
}

type countingSuggester struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *countingSuggester) Suggest(ctx context.Context, topic string) ([]string, error) {
	s.calls.Add(1)
	<-s.release
	return []string{"learn " + topic}, nil
}

func TestCoalescingSharesInflightCalls(t *testing.T) {
	upstream := &countingSuggester{release: make(chan struct{})}
	c := NewCoalescing(upstream)

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := "Rust"
			if i%2 == 1 {
				topic = "  rust "
			}
			results[i], _ = c.Suggest(context.Background(), topic)
		}(i)
	}

	assert.Eventually(t, func() bool { return upstream.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(upstream.release)
	wg.Wait()

	assert.Equal(t, int32(1), upstream.calls.Load())
	for _, r := range results {
		assert.Len(t, r, 1)
	}
	results[0][0] = "mutated"
	assert.NotEqual(t, "mutated", results[1][0])
}

type ctxRecordingSuggester struct {
	release chan struct{}
	ctxErr  chan error
}

func (s *ctxRecordingSuggester) Suggest(ctx context.Context, topic string) ([]string, error) {
	<-s.release
	s.ctxErr <- ctx.Err()
	return []string{"learn " + topic}, nil
}

func TestCoalescingOutlivesCallerCancellation(t *testing.T) {
	upstream := &ctxRecordingSuggester{release: make(chan struct{}), ctxErr: make(chan error, 1)}
	c := NewCoalescing(upstream)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []string, 1)
	go func() {
		out, _ := c.Suggest(ctx, "Go")
		done <- out
	}()

	cancel()
	close(upstream.release)

	assert.NoError(t, <-upstream.ctxErr)
	assert.Equal(t, []string{"learn Go"}, <-done)
}
