package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cheonkimoon/internal/freesaju"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEvents(t *testing.T) {
	body := ": " + strings.Repeat(" ", 32) + "\n\n" +
		"event:message\ndata:{\"token\":\"안녕\"}\n\n" +
		"event:message\ndata:{\"token\":\"하세요\"}\n\n" +
		"event:message\ndata:{\"part\":[\"a\",\"b\"]}\n\n" +
		"event:message\ndata:{\"done\":true}\n\n"

	var tokens []string
	var parts [][]string
	err := readEvents(strings.NewReader(body),
		func(tok string) { tokens = append(tokens, tok) },
		func(p []string) { parts = append(parts, p) })
	require.NoError(t, err)
	assert.Equal(t, []string{"안녕", "하세요"}, tokens)
	assert.Equal(t, [][]string{{"a", "b"}}, parts)
}

func TestReadEvents_Error(t *testing.T) {
	body := "event:message\ndata:{\"token\":\"x\"}\n\nevent:error\ndata:{\"error\":\"upstream failed\"}\n\n"
	err := readEvents(strings.NewReader(body), nil, nil)
	require.Error(t, err)
	assert.Equal(t, "upstream failed", err.Error())
}

func TestReadEvents_Truncated(t *testing.T) {
	err := readEvents(strings.NewReader("event:message\ndata:{\"token\":\"x\"}\n\n"), nil, nil)
	assert.Error(t, err)
}

func TestStream(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/step-stream", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event:message\ndata:{\"token\":\"ok\"}\n\nevent:message\ndata:{\"done\":true}\n\n"))
	}))
	defer srv.Close()

	var out strings.Builder
	err := NewClient(srv.URL).Stream(context.Background(), "step", map[string]any{"step_name": "step_1"},
		func(tok string) { out.WriteString(tok) }, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.String())
	assert.Equal(t, "step_1", got["step_name"])
}

func TestStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Step 'nope'을 찾을 수 없습니다."}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Stream(context.Background(), "step", map[string]any{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "nope")
}

func TestFreeSajuCreateAndPoll(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/free-saju/create":
			var req freesaju.CreateRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "홍길동", req.Name)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":7,"status":"processing","redirect_url":"http://x/free-saju/7"}`))
		case r.URL.Path == "/api/v1/free-saju/7":
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"id":7,"status":"processing"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":7,"status":"completed","saju_data":{"year":"갑자"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()
	created, err := client.CreateFreeSaju(ctx, freesaju.CreateRequest{
		Name: "홍길동", BirthYear: 1990, BirthMonth: 5, BirthDay: 15, Gender: "male",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), created.ID)

	view, err := client.PollFreeSaju(ctx, created.ID, 5, time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", view.Status)
	assert.JSONEq(t, `{"year":"갑자"}`, string(view.SajuData))
	assert.Equal(t, int32(3), polls.Load())
}

func TestPollFreeSaju_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1,"status":"processing"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).PollFreeSaju(context.Background(), 1, 2, time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrStillProcessing)
}

func TestFreeSaju_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"free saju record not found"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FreeSaju(context.Background(), 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStreamBody(t *testing.T) {
	streamStep, streamName, streamSplit = "step_1", "민수", true
	defer func() { streamStep, streamName, streamSplit = "", "", false }()

	body, err := streamBody("step")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"step_name": "step_1", "user_name": "민수", "split_parts": true}, body)

	_, err = streamBody("section")
	assert.Error(t, err)
}
