package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/architect-cli/architect/internal/domain/service"
)

// CachingProvider wraps a Provider with an opt-in, file-backed response
// cache for development use: identical (messages, tools_schema) pairs
// within TTL are served without a network round trip. Cache I/O errors are
// swallowed — a broken cache degrades to "always call the provider", never
// to a hard failure.
type CachingProvider struct {
	Provider
	dir    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachingProvider wraps inner with a cache rooted at dir. dir is created
// lazily on first write.
func NewCachingProvider(inner Provider, dir string, ttl time.Duration, logger *zap.Logger) *CachingProvider {
	return &CachingProvider{Provider: inner, dir: dir, ttl: ttl, logger: logger}
}

type cacheKeyPayload struct {
	Messages []service.LLMMessage       `json:"messages"`
	Tools    []interface{}              `json:"tools"`
	Model    string                     `json:"model"`
}

func cacheKey(req *service.LLMRequest) string {
	tools := make([]interface{}, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = t
	}
	payload := cacheKeyPayload{Messages: req.Messages, Tools: tools, Model: req.Model}
	// Canonical JSON: Go's json.Marshal sorts map keys already; the request
	// shapes here carry no maps at the top level, so field order (fixed by
	// the struct) is the only determinism we need.
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *CachingProvider) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *CachingProvider) load(key string) (*service.LLMResponse, bool) {
	if key == "" {
		return nil, false
	}
	info, err := os.Stat(c.path(key))
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) > c.ttl {
		return nil, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var resp service.LLMResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (c *CachingProvider) store(key string, resp *service.LLMResponse) {
	if key == "" || resp == nil {
		return
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logger.Debug("response cache: mkdir failed, skipping write", zap.Error(err))
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := os.WriteFile(c.path(key), data, 0o644); err != nil {
		c.logger.Debug("response cache: write failed, skipping", zap.Error(err))
	}
}

// Generate checks the cache before delegating to the wrapped provider.
func (c *CachingProvider) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	key := cacheKey(req)
	if resp, ok := c.load(key); ok {
		c.logger.Debug("response cache hit", zap.String("key", key))
		return resp, nil
	}
	resp, err := c.Provider.Generate(ctx, req)
	if err == nil {
		c.store(key, resp)
	}
	return resp, err
}

// GenerateStream is not cached — a cached reply has no chunks to replay
// through deltaCh, so streaming always goes to the wrapped provider.
func (c *CachingProvider) GenerateStream(ctx context.Context, req *service.LLMRequest, deltaCh chan<- service.StreamChunk) (*service.LLMResponse, error) {
	return c.Provider.GenerateStream(ctx, req, deltaCh)
}
