package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"pickofgods/internal/audit"
	"pickofgods/internal/auth"
	"pickofgods/internal/capability"
	"pickofgods/internal/config"
	"pickofgods/internal/deploy"
	"pickofgods/internal/gateway"
	"pickofgods/internal/kv"
	"pickofgods/internal/logger"
	"pickofgods/internal/models"
	"pickofgods/internal/objectstore"
	"pickofgods/internal/service/ai"
	"pickofgods/internal/signal"
)

type stubClassifier struct {
	mu      sync.Mutex
	verdict models.IntentVerdict
	err     error
	calls   int
}

func (s *stubClassifier) Classify(_ context.Context, _ string) (models.IntentVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.verdict, s.err
}

type stubImageModel struct {
	mu      sync.Mutex
	prompts []string
}

func (s *stubImageModel) GenerateImage(_ context.Context, prompt, _ string) (*ai.GeneratedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return &ai.GeneratedImage{Bytes: []byte("\x89PNG-puppy"), MIMEType: "image/png"}, nil
}

type stubChat struct {
	calls int
}

func (s *stubChat) Chat(_ context.Context, _ []models.ChatMessage, _ ai.Options) (models.CapabilityResult, error) {
	s.calls++
	return models.CapabilityResult{Success: true, Message: "hello friend"}, nil
}

type stubStreamer struct {
	chunks []string
}

func (s *stubStreamer) Stream(_ context.Context, _ []models.ChatMessage, _ ai.Options, onChunk func(string) error) (string, error) {
	var full strings.Builder
	for _, c := range s.chunks {
		full.WriteString(c)
		if err := onChunk(c); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

type testServer struct {
	router     *gin.Engine
	classifier *stubClassifier
	images     *stubImageModel
	chat       *stubChat
	audit      *audit.Logger
	authSvc    *auth.Service
}

func newTestServer(t *testing.T, routing bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bucket, err := objectstore.NewBucket(t.TempDir(), "/api/objects")
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	store := kv.NewMemory(100)
	l := logger.NewNop()

	ts := &testServer{
		classifier: &stubClassifier{},
		images:     &stubImageModel{},
		chat:       &stubChat{},
		audit:      audit.New(store, time.Hour, l),
		authSvc:    auth.NewService(store, nil, time.Hour),
	}
	router := capability.NewRouter(capability.Callers{
		Image: capability.NewImageCaller(ts.images, bucket),
		Chat:  ts.chat,
	}, l)
	gw := gateway.New(gateway.Config{WithIntentRouting: routing}, ts.classifier, router, ts.audit,
		&stubStreamer{chunks: []string{"Hel", "lo"}}, l)

	staticDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>widget</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	h := NewHandler(Deps{
		Gateway:   gw,
		Auth:      ts.authSvc,
		Deploy:    deploy.NewPublisher(config.DeployConfig{ReadOnly: "true"}, store, l),
		Signal:    signal.New(config.SignalConfig{}, "", l),
		Objects:   bucket,
		Audit:     ts.audit,
		StaticDir: staticDir,
		Logger:    l,
	})
	ts.router = NewRouter(h)
	ts.router.GET("/api/boom", func(*gin.Context) { panic("kaboom") })
	return ts
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v (%s)", err, string(data))
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func verdict(intent models.Intent, safe bool) models.IntentVerdict {
	return models.IntentVerdict{Intent: intent, IsSafe: &safe}
}

func puppyRequest() map[string]any {
	return map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "Generate an image of a puppy"}},
	}
}

func TestChatMissingMessages(t *testing.T) {
	ts := newTestServer(t, true)
	for _, body := range []string{`{}`, `{"messages":[]}`, `not json`} {
		rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/chat", body, nil)
		assertStatus(t, rec, http.StatusBadRequest)
	}
	if ts.classifier.calls != 0 || len(ts.images.prompts) != 0 || ts.chat.calls != 0 {
		t.Fatalf("invalid requests must not reach upstream")
	}
}

func TestChatPuppyImage(t *testing.T) {
	ts := newTestServer(t, true)
	ts.classifier.verdict = verdict(models.IntentImageGeneration, true)

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/chat", puppyRequest(), nil)
	assertStatus(t, rec, http.StatusOK)

	if len(ts.images.prompts) != 1 {
		t.Fatalf("expected one image call, got %d", len(ts.images.prompts))
	}
	want := "A kid-friendly, safe, and appropriate image of Generate an image of a puppy"
	if ts.images.prompts[0] != want {
		t.Fatalf("unexpected image prompt %q", ts.images.prompts[0])
	}

	var resp models.ChatResponse
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if !resp.Success || len(resp.Messages) != 1 || resp.Messages[0].Role != models.RoleAI {
		t.Fatalf("unexpected envelope %#v", resp)
	}
	ref := resp.Messages[0].Content
	if !strings.HasPrefix(ref, "/api/objects/images/") {
		t.Fatalf("expected image reference, got %q", ref)
	}

	img := doJSONRequest(t, ts.router, http.MethodGet, ref, nil, nil)
	assertStatus(t, img, http.StatusOK)
	if img.Body.String() != "\x89PNG-puppy" {
		t.Fatalf("stored image mismatch: %q", img.Body.String())
	}

	records, err := ts.audit.Recent(context.Background(), 10)
	if err != nil || len(records) != 1 || records[0].Status != models.AuditSuccess {
		t.Fatalf("expected one SUCCESS audit record: %#v %v", records, err)
	}
}

func TestChatBlocked(t *testing.T) {
	ts := newTestServer(t, true)
	ts.classifier.verdict = verdict(models.IntentImageGeneration, false)

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/chat", puppyRequest(), nil)
	assertStatus(t, rec, http.StatusForbidden)
	if !strings.Contains(rec.Body.String(), "blocked") {
		t.Fatalf("expected blocked body, got %s", rec.Body.String())
	}
	if len(ts.images.prompts) != 0 || ts.chat.calls != 0 {
		t.Fatalf("router must not run for unsafe content")
	}
	records, _ := ts.audit.Recent(context.Background(), 10)
	if len(records) != 1 || records[0].Status != models.AuditBlocked {
		t.Fatalf("expected one BLOCKED audit record: %#v", records)
	}
}

func TestChatClassifierFailure(t *testing.T) {
	ts := newTestServer(t, true)
	ts.classifier.err = errors.New("dial tcp: connection refused")

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/chat", puppyRequest(), nil)
	assertStatus(t, rec, http.StatusInternalServerError)
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
	if len(ts.images.prompts) != 0 || ts.chat.calls != 0 {
		t.Fatalf("router must not run after classifier failure")
	}
	if records, _ := ts.audit.Recent(context.Background(), 10); len(records) != 0 {
		t.Fatalf("audit must not be written after classifier failure: %#v", records)
	}
}

func TestChatStreamingMode(t *testing.T) {
	ts := newTestServer(t, false)

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected event stream, got %q", ct)
	}
	events := parseSSE(t, rec.Body.String())
	if len(events) != 3 || events[0].event != "stream" || events[2].event != "done" {
		t.Fatalf("unexpected events %#v", events)
	}
	var done models.ChatResponse
	decodeJSON(t, []byte(events[2].data), &done)
	if done.Messages[0].Content != "Hello" {
		t.Fatalf("unexpected final content %q", done.Messages[0].Content)
	}
	if ts.classifier.calls != 0 {
		t.Fatalf("streaming mode must skip classification")
	}
}

func TestMethodAndRouteFallbacks(t *testing.T) {
	ts := newTestServer(t, true)

	assertStatus(t, doJSONRequest(t, ts.router, http.MethodGet, "/api/chat", nil, nil), http.StatusMethodNotAllowed)
	assertStatus(t, doJSONRequest(t, ts.router, http.MethodGet, "/api/nope", nil, nil), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, ts.router, http.MethodGet, "/missing.js", nil, nil), http.StatusNotFound)

	page := doJSONRequest(t, ts.router, http.MethodGet, "/", nil, nil)
	assertStatus(t, page, http.StatusOK)
	if !strings.Contains(page.Body.String(), "widget") {
		t.Fatalf("expected static index, got %s", page.Body.String())
	}

	boom := doJSONRequest(t, ts.router, http.MethodGet, "/api/boom", nil, nil)
	assertStatus(t, boom, http.StatusInternalServerError)
	if strings.TrimSpace(boom.Body.String()) != `{"error":"Internal Server Error"}` {
		t.Fatalf("unexpected panic body %s", boom.Body.String())
	}
}

func TestAuthEndpoints(t *testing.T) {
	ts := newTestServer(t, true)

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/auth", map[string]string{}, nil)
	assertStatus(t, rec, http.StatusBadRequest)
	if !strings.Contains(rec.Body.String(), "Email required") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = doJSONRequest(t, ts.router, http.MethodPost, "/api/auth", map[string]string{"email": "kid@example.com"}, nil)
	assertStatus(t, rec, http.StatusOK)
	var created struct {
		Success bool           `json:"success"`
		Session models.Session `json:"session"`
	}
	decodeJSON(t, rec.Body.Bytes(), &created)
	if !created.Success || created.Session.SessionID == "" {
		t.Fatalf("unexpected session body %s", rec.Body.String())
	}
	bearer := map[string]string{"Authorization": "Bearer " + created.Session.SessionID}

	assertStatus(t, doJSONRequest(t, ts.router, http.MethodGet, "/api/auth", nil, bearer), http.StatusOK)
	assertStatus(t, doJSONRequest(t, ts.router, http.MethodGet, "/api/auth", nil, map[string]string{"Authorization": "Bearer nope"}), http.StatusUnauthorized)
	assertStatus(t, doJSONRequest(t, ts.router, http.MethodGet, "/api/audit", nil, bearer), http.StatusOK)
	assertStatus(t, doJSONRequest(t, ts.router, http.MethodGet, "/api/audit", nil, nil), http.StatusUnauthorized)

	assertStatus(t, doJSONRequest(t, ts.router, http.MethodDelete, "/api/auth", nil, bearer), http.StatusNoContent)
	assertStatus(t, doJSONRequest(t, ts.router, http.MethodGet, "/api/auth", nil, bearer), http.StatusUnauthorized)
}

func TestDeployReadOnlyAndSignal(t *testing.T) {
	ts := newTestServer(t, true)

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/deploy", map[string]string{"scriptName": "a", "code": "x"}, nil)
	assertStatus(t, rec, http.StatusForbidden)

	rec = doJSONRequest(t, ts.router, http.MethodPost, "/api/signal", `{"ping":true}`, nil)
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Success  bool           `json:"success"`
		Received map[string]any `json:"received"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if !body.Success || body.Received["ping"] != true {
		t.Fatalf("unexpected signal body %s", rec.Body.String())
	}

	assertStatus(t, doJSONRequest(t, ts.router, http.MethodPost, "/api/signal", `{broken`, nil), http.StatusBadRequest)

	health := doJSONRequest(t, ts.router, http.MethodGet, "/api/health", nil, nil)
	assertStatus(t, health, http.StatusOK)
}

type sseEvent struct {
	event string
	data  string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(payload, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		events = append(events, ev)
	}
	return events
}

func TestChatWithoutModelAnswersNotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := logger.NewNop()
	store := kv.NewMemory(100)
	auditLog := audit.New(store, time.Hour, l)

	for _, routing := range []bool{true, false} {
		gw := gateway.New(gateway.Config{WithIntentRouting: routing}, nil,
			capability.NewRouter(capability.Callers{}, l), auditLog, nil, l)
		router := NewRouter(NewHandler(Deps{
			Gateway: gw,
			Auth:    auth.NewService(store, nil, time.Hour),
			Audit:   auditLog,
			Logger:  l,
		}))

		rec := doJSONRequest(t, router, http.MethodPost, "/api/chat", puppyRequest(), nil)
		assertStatus(t, rec, http.StatusNotImplemented)
		var body map[string]any
		decodeJSON(t, rec.Body.Bytes(), &body)
		if body["error"] != "ConfigurationMissing" {
			t.Fatalf("routing=%t: unexpected body %v", routing, body)
		}

		rec = doJSONRequest(t, router, http.MethodGet, "/api/health", nil, nil)
		assertStatus(t, rec, http.StatusOK)
		decodeJSON(t, rec.Body.Bytes(), &body)
		if body["chatReady"] != false {
			t.Fatalf("routing=%t: health should report chat not ready: %v", routing, body)
		}

		rec = doJSONRequest(t, router, http.MethodPost, "/api/auth", map[string]string{"email": "kid@example.com"}, nil)
		assertStatus(t, rec, http.StatusOK)
	}
	if keys, _ := store.List(context.Background(), audit.KeyPrefix); len(keys) != 0 {
		t.Fatalf("unconfigured chat must not be audited, got %d records", len(keys))
	}
}
