package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"cheonkimoon/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		fmt.Fprint(w, `data: {"id":"c1","choices":[{"index":0,"delta":{"role":"assistant"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"c1","choices":[{"index":0,"delta":{"content":"갑"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"c1","choices":[{"index":0,"delta":{"content":"자"},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"c1","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	out := make(chan provider.StreamChunk, 10)
	err := NewOpenAIProvider(srv.URL+"/", "k").Stream(context.Background(), provider.UserRequest("gpt", "sys", "hi", 50, 0.7), out)
	require.NoError(t, err)
	close(out)

	var chunks []provider.StreamChunk
	for c := range out {
		chunks = append(chunks, c)
	}

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.True(t, got.Stream)
	require.NotNil(t, got.StreamOptions)

	require.Len(t, chunks, 3)
	assert.Equal(t, "갑", chunks[0].Text)
	assert.Equal(t, "자", chunks[1].Text)
	assert.Equal(t, "stop", chunks[2].FinishReason)
	assert.Equal(t, provider.Usage{InputTokens: 5, OutputTokens: 2}, *chunks[2].Usage)
}

func TestStream_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"a"}}]}`+"\n\n")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// unbuffered and never read: only cancellation can end Stream
	out := make(chan provider.StreamChunk)
	err := NewOpenAIProvider(srv.URL, "k").Stream(ctx, provider.UserRequest("gpt", "", "hi", 50, 0), out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"c2","choices":[{"index":0,"message":{"role":"assistant","content":"풀이"},"finish_reason":"length"}],"usage":{"prompt_tokens":1,"completion_tokens":9}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIProvider(srv.URL, "k").Complete(context.Background(), provider.UserRequest("gpt", "", "hi", 50, 0))
	require.NoError(t, err)
	assert.Equal(t, "풀이", c.Text)
	assert.Equal(t, "length", c.FinishReason)
	assert.Equal(t, 9, c.Usage.OutputTokens)
}
