package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"pickofgods/internal/logger"
)

type fakeSearch struct {
	result string
	err    error
	calls  int
}

func (f *fakeSearch) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: "fake"}, nil
}

func (f *fakeSearch) InvokableRun(_ context.Context, _ string, _ ...tool.Option) (string, error) {
	f.calls++
	return f.result, f.err
}

func newTestSearch(google, duck *fakeSearch) *webSearchTool {
	ws := &webSearchTool{
		httpClient: &http.Client{Timeout: WebSearchHTTPTimeout},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		l:          logger.NewNop(),
	}
	if google != nil {
		ws.google = google
	}
	if duck != nil {
		ws.duck = duck
	}
	return ws
}

func TestWebSearchFallsBackToDuckDuckGo(t *testing.T) {
	google := &fakeSearch{err: errors.New("quota")}
	duck := &fakeSearch{result: "duck result"}
	ws := newTestSearch(google, duck)

	out, err := ws.run(context.Background(), &webSearchParams{Query: "gods"})
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if out != "duck result" {
		t.Fatalf("unexpected result %q", out)
	}
	if google.calls != 1 || duck.calls != 1 {
		t.Fatalf("expected one call each, got google=%d duck=%d", google.calls, duck.calls)
	}
}

func TestWebSearchFetchesURLQueries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page body"))
	}))
	defer srv.Close()

	duck := &fakeSearch{result: "unused"}
	ws := newTestSearch(nil, duck)

	out, err := ws.run(context.Background(), &webSearchParams{Query: srv.URL})
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if out != "page body" {
		t.Fatalf("unexpected body %q", out)
	}
	if duck.calls != 0 {
		t.Fatalf("search provider should not be called for a fetched url")
	}
}

func TestWebSearchRejectsEmptyAndRateLimited(t *testing.T) {
	ws := newTestSearch(nil, &fakeSearch{result: "ok"})
	if _, err := ws.run(context.Background(), &webSearchParams{Query: "  "}); err == nil {
		t.Fatalf("expected error for empty query")
	}

	ws.limiter = rate.NewLimiter(0, 0)
	if _, err := ws.run(context.Background(), &webSearchParams{Query: "gods"}); err == nil {
		t.Fatalf("expected rate limit error")
	}
}

func TestWebSearchAllProvidersFail(t *testing.T) {
	ws := newTestSearch(&fakeSearch{err: errors.New("a")}, &fakeSearch{err: errors.New("b")})
	if _, err := ws.run(context.Background(), &webSearchParams{Query: "gods"}); err == nil {
		t.Fatalf("expected error when every provider fails")
	}
}
