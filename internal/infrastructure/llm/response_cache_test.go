package llm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/architect-cli/architect/internal/domain/service"
)

type fakeProvider struct {
	name    string
	calls   int
	resp    *service.LLMResponse
	err     error
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Models() []string { return nil }
func (f *fakeProvider) SupportsModel(string) bool { return true }
func (f *fakeProvider) IsAvailable(context.Context) bool { return true }

func (f *fakeProvider) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeProvider) GenerateStream(ctx context.Context, req *service.LLMRequest, deltaCh chan<- service.StreamChunk) (*service.LLMResponse, error) {
	f.calls++
	return f.resp, f.err
}

func testRequest() *service.LLMRequest {
	return &service.LLMRequest{
		Messages: []service.LLMMessage{{Role: "user", Content: "hello"}},
		Model:    "test-model",
	}
}

func TestCachingProvider_MissThenHit(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeProvider{name: "fake", resp: &service.LLMResponse{Content: "hi there"}}
	c := NewCachingProvider(inner, dir, time.Hour, zap.NewNop())

	req := testRequest()
	resp1, err := c.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp1.Content != "hi there" {
		t.Fatalf("unexpected content: %q", resp1.Content)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", inner.calls)
	}

	resp2, err := c.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp2.Content != "hi there" {
		t.Fatalf("unexpected cached content: %q", resp2.Content)
	}
	if inner.calls != 1 {
		t.Fatalf("expected cache hit to skip provider call, got %d total calls", inner.calls)
	}
}

func TestCachingProvider_DifferentRequestsMiss(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeProvider{name: "fake", resp: &service.LLMResponse{Content: "x"}}
	c := NewCachingProvider(inner, dir, time.Hour, zap.NewNop())

	req1 := testRequest()
	req2 := testRequest()
	req2.Messages[0].Content = "goodbye"

	if _, err := c.Generate(context.Background(), req1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Generate(context.Background(), req2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 provider calls for distinct requests, got %d", inner.calls)
	}
}

func TestCachingProvider_TTLExpiry(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeProvider{name: "fake", resp: &service.LLMResponse{Content: "fresh"}}
	c := NewCachingProvider(inner, dir, 10*time.Millisecond, zap.NewNop())

	req := testRequest()
	if _, err := c.Generate(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 call, got %d", inner.calls)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := c.Generate(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected expired entry to trigger a second provider call, got %d", inner.calls)
	}
}

func TestCachingProvider_ProviderErrorNotCached(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeProvider{name: "fake", err: context.DeadlineExceeded}
	c := NewCachingProvider(inner, dir, time.Hour, zap.NewNop())

	req := testRequest()
	if _, err := c.Generate(context.Background(), req); err == nil {
		t.Fatal("expected error to propagate")
	}
	if _, err := c.Generate(context.Background(), req); err == nil {
		t.Fatal("expected error to propagate again, not a cached success")
	}
	if inner.calls != 2 {
		t.Fatalf("expected errors to never populate the cache, got %d calls", inner.calls)
	}
}

func TestCachingProvider_CorruptCacheFileFailsOpen(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeProvider{name: "fake", resp: &service.LLMResponse{Content: "ok"}}
	c := NewCachingProvider(inner, dir, time.Hour, zap.NewNop())

	req := testRequest()
	key := cacheKey(req)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("setup mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, key+".json"), []byte("not json"), 0o644); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}

	resp, err := c.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("expected corrupt cache to degrade silently, got error: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("expected fresh provider response, got %q", resp.Content)
	}
	if inner.calls != 1 {
		t.Fatalf("expected provider to be called after cache read failure, got %d", inner.calls)
	}
}

func TestCachingProvider_GenerateStreamBypassesCache(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeProvider{name: "fake", resp: &service.LLMResponse{Content: "streamed"}}
	c := NewCachingProvider(inner, dir, time.Hour, zap.NewNop())

	ch := make(chan service.StreamChunk, 1)
	req := testRequest()
	if _, err := c.GenerateStream(context.Background(), req, ch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.GenerateStream(context.Background(), req, ch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected streaming to always call the provider, got %d calls", inner.calls)
	}
}
