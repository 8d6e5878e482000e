// ABOUTME: Tests for JSON location, the scripted mock, pacing, and the OpenAI-compatible client.
// ABOUTME: Uses an httptest server to stand in for the Groq endpoint.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare object", input: `{"a":1}`, want: `{"a":1}`},
		{name: "surrounding prose", input: "Sure! Here you go:\n{\"a\":1}\nHope that helps.", want: `{"a":1}`},
		{name: "nested braces", input: `x {"a":{"b":2}} y`, want: `{"a":{"b":2}}`},
		{name: "first open to last close", input: `{"a":1} and {"b":2}`, want: `{"a":1} and {"b":2}`},
		{name: "no object", input: "no json here", wantErr: true},
		{name: "close before open", input: "} oops {", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Emotion string `json:"emotion"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"emotion\":\"happy\"}\n```", &out))
	assert.Equal(t, "happy", out.Emotion)

	err := DecodeJSON(`{"emotion": }`, &out)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoJSON)
}

func TestMock(t *testing.T) {
	m := NewMock().
		On("classify", `{"emotion":"happy"}`).
		FailOn("explode", errors.New("provider down")).
		Default("fallback")

	out, err := m.Complete(context.Background(), "please classify this", "")
	require.NoError(t, err)
	assert.Equal(t, `{"emotion":"happy"}`, out)

	_, err = m.Complete(context.Background(), "explode now", "")
	var serr *ServiceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "mock", serr.Provider)

	out, err = m.Complete(context.Background(), "anything", "system")
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)

	assert.Len(t, m.Calls(), 3)
	assert.Equal(t, "system", m.Calls()[2].System)
}

func TestMock_EmptyPrompt(t *testing.T) {
	m := NewMock().Default("ok")
	_, err := m.Complete(context.Background(), "", "instructions only")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestGeminiClient(t *testing.T) {
	var got struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Contains(t, r.URL.Path, ":generateContent")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hi there"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "Still need to know the price", "")
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 1)
	assert.Equal(t, "Still need to know the price", got.Contents[0].Parts[0].Text)

	_, err = c.Complete(context.Background(), "", "system only")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Equal(t, 1, hits)
}

func TestMock_Unscripted(t *testing.T) {
	_, err := NewMock().Complete(context.Background(), "hello", "")
	assert.ErrorIs(t, err, ErrUnscripted)
}

func TestLimited(t *testing.T) {
	t.Run("paces calls", func(t *testing.T) {
		l := NewLimited("test", NewMock().Default("ok"), 20, 0)

		start := time.Now()
		for i := 0; i < 3; i++ {
			_, err := l.Complete(context.Background(), "p", "")
			require.NoError(t, err)
		}
		// Burst of one: the second and third calls each wait ~50ms.
		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	})

	t.Run("wraps plain errors", func(t *testing.T) {
		l := NewLimited("wrapped", completerFunc(func(context.Context, string, string) (string, error) {
			return "", errors.New("boom")
		}), 0, 0)

		_, err := l.Complete(context.Background(), "p", "")
		var serr *ServiceError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "wrapped", serr.Provider)
	})

	t.Run("bounds each call", func(t *testing.T) {
		l := NewLimited("slow", completerFunc(func(ctx context.Context, _, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}), 0, 20*time.Millisecond)

		_, err := l.Complete(context.Background(), "p", "")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

type completerFunc func(ctx context.Context, prompt, system string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt, system string) (string, error) {
	return f(ctx, prompt, system)
}

func TestOpenAIClient(t *testing.T) {
	t.Run("sends system and user messages", func(t *testing.T) {
		var got struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello back"},"finish_reason":"stop"}]}`))
		}))
		defer srv.Close()

		c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
		out, err := c.Complete(context.Background(), "hello", "be nice")
		require.NoError(t, err)

		assert.Equal(t, "hello back", out)
		assert.Equal(t, DefaultGroqModel, got.Model)
		require.Len(t, got.Messages, 2)
		assert.Equal(t, "system", got.Messages[0].Role)
		assert.Equal(t, "be nice", got.Messages[0].Content)
		assert.Equal(t, "user", got.Messages[1].Role)
		assert.Equal(t, "hello", got.Messages[1].Content)
	})

	t.Run("prompt without system is a single user message", func(t *testing.T) {
		var raw struct {
			Messages []map[string]any `json:"messages"`
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
		}))
		defer srv.Close()

		c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
		_, err := c.Complete(context.Background(), "Generate a personalized explanation", "")
		require.NoError(t, err)

		require.Len(t, raw.Messages, 1)
		assert.Equal(t, "user", raw.Messages[0]["role"])
		assert.Equal(t, "Generate a personalized explanation", raw.Messages[0]["content"])
	})

	t.Run("empty prompt is refused before sending", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
		}))
		defer srv.Close()

		c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
		_, err := c.Complete(context.Background(), "  ", "a long system prompt")
		assert.ErrorIs(t, err, ErrEmptyPrompt)
		assert.Zero(t, hits)
	})

	t.Run("non-2xx becomes ServiceError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
		}))
		defer srv.Close()

		c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
		_, err := c.Complete(context.Background(), "hello", "")

		var serr *ServiceError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, http.StatusTooManyRequests, serr.Status)
	})

	t.Run("empty choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"1","choices":[]}`))
		}))
		defer srv.Close()

		c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
		_, err := c.Complete(context.Background(), "hello", "")
		var serr *ServiceError
		assert.ErrorAs(t, err, &serr)
	})
}
