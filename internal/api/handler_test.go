package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cheonkimoon/internal/config"
	"cheonkimoon/internal/db"
	"cheonkimoon/internal/freesaju"
	"cheonkimoon/internal/manseryuk"
	"cheonkimoon/internal/prompt"
	"cheonkimoon/internal/provider"
	"cheonkimoon/internal/provider/fake"
	"cheonkimoon/internal/reading"
	"cheonkimoon/internal/session"
	"cheonkimoon/internal/stats"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testReadingYAML = `
unified_prompt:
  system: "reader"
  user_template: "{name} {ilju}"
step_prompts:
  step_2_first_impression:
    system: "first"
    user_template: "hi {name}"
`

const testSectionYAML = `
section_prompts:
  강점:
    system: "{common_system}"
    user_template: "{common_data_template}"
common_system: "S"
common_data_template: "D {name}"
`

type calcFunc func(ctx context.Context, info manseryuk.BirthInfo) (json.RawMessage, error)

func (f calcFunc) Calculate(ctx context.Context, info manseryuk.BirthInfo) (json.RawMessage, error) {
	return f(ctx, info)
}

type fixture struct {
	handler  *Handler
	router   *gin.Engine
	provider *fake.Provider
	stats    *stats.Manager
	freeSaju *freesaju.Service
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	readingPath := filepath.Join(dir, "v8.yaml")
	sectionPath := filepath.Join(dir, "v10.yaml")
	require.NoError(t, os.WriteFile(readingPath, []byte(testReadingYAML), 0o644))
	require.NoError(t, os.WriteFile(sectionPath, []byte(testSectionYAML), 0o644))

	cfg := config.Default()
	cfg.SSE.PaddingBytes = 16
	cfg.RateLimit.Enabled = false
	cfg.LLM.Model = "test-model"
	if mutate != nil {
		mutate(cfg)
	}

	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	sm := stats.NewManager(gdb, nil)

	fp := &fake.Provider{Chunks: []string{"안녕\n", "---\n", "[BUTTON: 다음]"}, Usage: provider.Usage{InputTokens: 4, OutputTokens: 3}}
	rs := reading.NewService(fp,
		prompt.NewLoader(readingPath, "v8", nil),
		prompt.NewLoader(sectionPath, "v10.0", nil),
		reading.Options{Model: cfg.LLM.Model, MaxTokens: 100, MaxParallel: 2, DefaultSaju: []byte(`{"meta":{"이름":"홍길동"},"핵심요소":{"일주":"갑자"}}`)},
		sm, nil)

	calc := calcFunc(func(ctx context.Context, info manseryuk.BirthInfo) (json.RawMessage, error) {
		return json.RawMessage(`{"meta":{"이름":"` + info.Name + `"}}`), nil
	})
	fs := freesaju.NewService(gdb, calc, freesaju.Options{RedirectBaseURL: "https://app.example.com"}, nil)
	t.Cleanup(func() { fs.Shutdown(context.Background()) })

	store := session.NewStore(time.Minute, 0)
	t.Cleanup(store.Close)

	h := NewHandler(cfg, rs, store, fs, sm, nil)
	return &fixture{handler: h, router: h.NewRouter(), provider: fp, stats: sm, freeSaju: fs}
}

func (f *fixture) do(method, path string, body any, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type sseEvent struct {
	Event string
	Data  map[string]any
}

// readEvents POSTs (or GETs when body is nil) against a real server so
// that gin's streaming path is exercised end to end.
func readEvents(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, []sseEvent, string) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw strings.Builder
	var events []sseEvent
	cur := sseEvent{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		raw.WriteString(line + "\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &cur.Data))
		case line == "" && cur.Data != nil:
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	return resp, events, raw.String()
}

func tokens(events []sseEvent) string {
	var sb strings.Builder
	for _, e := range events {
		if tok, ok := e.Data["token"].(string); ok {
			sb.WriteString(tok)
		}
	}
	return sb.String()
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","message":"천기문 사주풀이 API","version":"1.0.0","model":"test-model"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, true, health["prompts_loaded"])
	assert.Equal(t, true, health["default_data_loaded"])
	assert.Equal(t, "fake", health["provider"])
}

func TestFullReadingStream(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	resp, events, raw := readEvents(t, srv, http.MethodPost, "/full-reading-stream", gin.H{"user_name": "사용자"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	assert.True(t, strings.HasPrefix(raw, ": "+strings.Repeat(" ", 16)+"\n"))

	assert.Equal(t, "안녕\n---\n[BUTTON: 다음]", tokens(events))
	last := events[len(events)-1]
	assert.Equal(t, true, last.Data["done"])

	reqs := f.provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "홍길동 갑자", reqs[0].Messages[0].Content)
	assert.True(t, strings.HasPrefix(reqs[0].System, "reader\n\n[Internal timestamp: "))
}

func TestSectionStream_SplitParts(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	_, events, _ := readEvents(t, srv, http.MethodPost, "/section-stream", gin.H{"section_name": "강점", "split_parts": true})

	var parts [][]any
	for _, e := range events {
		if p, ok := e.Data["part"].([]any); ok {
			parts = append(parts, p)
		}
	}
	require.Len(t, parts, 2)
	assert.Equal(t, []any{"안녕"}, parts[0])
	assert.Equal(t, []any{"[BUTTON]다음"}, parts[1])
	assert.Equal(t, "D 홍길동", f.provider.Requests()[0].Messages[0].Content)
}

func TestStream_UpstreamError(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.Err = assert.AnError
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	resp, events, _ := readEvents(t, srv, http.MethodPost, "/first-impression-stream", gin.H{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	last := events[len(events)-1]
	assert.Equal(t, "error", last.Event)
	assert.Equal(t, assert.AnError.Error(), last.Data["error"])
}

func TestStream_Errors(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/step-stream", gin.H{"step_name": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"step not found: missing"}`, w.Body.String())

	w = f.do(http.MethodPost, "/section-stream", gin.H{"section_name": "없음"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"section not found: 없음"}`, w.Body.String())

	w = f.do(http.MethodPost, "/step-stream", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/full-reading-stream", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFullReading_NonStream(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/full-reading", gin.H{"user_name": "김철수"})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success  bool     `json:"success"`
		Messages []string `json:"messages"`
		RawText  string   `json:"raw_text"`
		Model    string   `json:"model"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, []string{"안녕", "[BUTTON]다음"}, body.Messages)
	assert.Equal(t, "test-model", body.Model)

	daily, err := f.stats.Today(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, daily.Summary["full-reading"].Requests)
	assert.Equal(t, 3, daily.Summary["full-reading"].TokensOut)
}

func TestSections(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/sections", gin.H{"sections": []string{"강점"}, "user_name": "A"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"강점"`)

	w = f.do(http.MethodPost, "/sections", gin.H{"sections": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/sections", gin.H{"sections": []string{"없음"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	w := f.do(http.MethodPost, "/sessions", gin.H{"variant": "section", "section_name": "강점"})
	require.Equal(t, http.StatusOK, w.Code)
	var created struct {
		SessionID string `json:"session_id"`
		StreamURL string `json:"stream_url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "/sessions/"+created.SessionID+"/stream", created.StreamURL)

	resp, events, _ := readEvents(t, srv, http.MethodGet, created.StreamURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, events[len(events)-1].Data["done"])

	// single use
	w = f.do(http.MethodGet, created.StreamURL, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/sessions", gin.H{"variant": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/sessions", gin.H{"variant": "step", "step_name": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFreeSaju(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/free-saju/create", gin.H{
		"name": "테스트사용자", "birth_year": 1995, "birth_month": 9, "birth_day": 28,
		"birth_hour": 12, "birth_minute": 18, "gender": "male", "is_lunar": false, "mbti": "INTJ", "birth_place": "서울",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var created freesaju.CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "processing", created.Status)
	assert.Equal(t, "https://app.example.com/free-saju/1", created.RedirectURL)

	require.Eventually(t, func() bool {
		w := f.do(http.MethodGet, "/api/v1/free-saju/1", nil)
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"status":"completed"`)
	}, 2*time.Second, 10*time.Millisecond)

	w = f.do(http.MethodGet, "/api/v1/free-saju/1", nil)
	var view map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "테스트사용자", view["user_name"])
	assert.Equal(t, map[string]any{"meta": map[string]any{"이름": "테스트사용자"}}, view["saju_data"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/free-saju/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/free-saju/abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/free-saju/create", gin.H{"name": "x", "gender": "other"}).Code)
}

func TestAdminUsage(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Admin.Token = "s3cret" })

	f.do(http.MethodPost, "/full-reading", gin.H{})

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/admin/usage", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/admin/usage", nil, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/admin/usage?date=yesterday", nil, "Authorization", "Bearer s3cret").Code)

	w := f.do(http.MethodGet, "/admin/usage", nil, "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	var daily stats.DailyStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &daily))
	assert.Equal(t, 1, daily.TotalReq)

	disabled := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, disabled.do(http.MethodGet, "/admin/usage", nil, "Authorization", "Bearer s3cret").Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	})

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/full-reading", gin.H{}).Code)
	w := f.do(http.MethodPost, "/full-reading", gin.H{})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())

	// unlimited routes stay reachable
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", nil).Code)
	assert.Equal(t, 0, f.handler.Limiter().Cleanup(time.Hour))
}
