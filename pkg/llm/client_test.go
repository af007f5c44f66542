package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-sync-go/internal/config"
)

type bufferWriter struct{ chunks []string }

func (b *bufferWriter) WriteMessage(_ int, data []byte) error {
	b.chunks = append(b.chunks, string(data))
	return nil
}

func TestStreamChatMessages_ForwardsDeltas(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"你好", "", "，世界"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Generation: config.LLMGenerationConfig{Temperature: 0.3}})
	w := &bufferWriter{}
	err := c.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, w)
	require.NoError(t, err)

	assert.Equal(t, []string{"你好", "，世界"}, w.chunks)
	assert.True(t, got.Stream)
	assert.Equal(t, "m", got.Model)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
	assert.Nil(t, got.MaxTokens)
}

func TestStreamChatMessages_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{BaseURL: srv.URL})
	err := c.StreamChatMessages(context.Background(), nil, nil, &bufferWriter{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "429"))
}

func TestParamsFromConfig(t *testing.T) {
	assert.Nil(t, ParamsFromConfig(config.LLMGenerationConfig{}))
	gp := ParamsFromConfig(config.LLMGenerationConfig{MaxTokens: 100})
	require.NotNil(t, gp)
	assert.Equal(t, 100, *gp.MaxTokens)
	assert.Nil(t, gp.TopP)
}
