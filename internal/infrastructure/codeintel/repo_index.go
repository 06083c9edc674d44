package codeintel

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/architect-cli/architect/internal/domain/entity"
)

const repoIndexTTL = 5 * time.Minute

// RepoIndexBuilder builds entity.RepoIndex snapshots from a SymbolIndexer's
// symbol table, caching one snapshot per workspace path for repoIndexTTL
// so repeated build requests within a run (context assembly, repo map
// refresh, CLI inspection) don't re-walk the tree each time.
type RepoIndexBuilder struct {
	indexer *SymbolIndexer
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedIndex
}

type cachedIndex struct {
	index   *entity.RepoIndex
	builtAt time.Time
}

// NewRepoIndexBuilder creates a builder over an already-populated SymbolIndexer.
func NewRepoIndexBuilder(indexer *SymbolIndexer, logger *zap.Logger) *RepoIndexBuilder {
	return &RepoIndexBuilder{
		indexer: indexer,
		logger:  logger.With(zap.String("component", "repo-index")),
		cache:   make(map[string]cachedIndex),
	}
}

// Build returns the cached RepoIndex for workspaceRoot if it's younger
// than repoIndexTTL, otherwise walks workspaceRoot, indexes it, and
// caches the result.
func (b *RepoIndexBuilder) Build(workspaceRoot string, excludes []string) (*entity.RepoIndex, error) {
	key := hashPath(workspaceRoot)

	b.mu.Lock()
	if cached, ok := b.cache[key]; ok && time.Since(cached.builtAt) < repoIndexTTL {
		b.mu.Unlock()
		return cached.index, nil
	}
	b.mu.Unlock()

	if _, err := b.indexer.IndexDirectory(workspaceRoot, excludes); err != nil {
		return nil, err
	}

	index := b.snapshot()

	b.mu.Lock()
	b.cache[key] = cachedIndex{index: index, builtAt: index.BuiltAt}
	b.mu.Unlock()

	b.logger.Info("repo index built",
		zap.String("workspace", workspaceRoot),
		zap.Int("files", index.TotalFiles),
		zap.Int("lines", index.TotalLines),
	)
	return index, nil
}

// Invalidate drops the cached entry for workspaceRoot, forcing the next
// Build to re-walk the tree.
func (b *RepoIndexBuilder) Invalidate(workspaceRoot string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, hashPath(workspaceRoot))
}

func (b *RepoIndexBuilder) snapshot() *entity.RepoIndex {
	b.indexer.mu.Lock()
	defer b.indexer.mu.Unlock()

	files := make(map[string]entity.RepoFileStat, len(b.indexer.index))
	languages := make(map[string]int)
	totalLines := 0

	for path, fi := range b.indexer.index {
		files[path] = entity.RepoFileStat{
			Size:     fi.Size,
			Language: fi.Language,
			Lines:    fi.Lines,
		}
		languages[fi.Language]++
		totalLines += fi.Lines
	}

	return &entity.RepoIndex{
		Files:       files,
		TreeSummary: buildTreeSummary(files),
		TotalFiles:  len(files),
		TotalLines:  totalLines,
		Languages:   languages,
		BuiltAt:     time.Now(),
	}
}

func buildTreeSummary(files map[string]entity.RepoFileStat) string {
	counts := make(map[string]int)
	for _, stat := range files {
		counts[stat.Language]++
	}

	summary := ""
	for lang, n := range counts {
		if summary != "" {
			summary += ", "
		}
		summary += lang + ": " + strconv.Itoa(n)
	}
	if summary == "" {
		summary = "(empty)"
	}
	return summary
}

func hashPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}
