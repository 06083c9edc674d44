package codeintel

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRepoIndexBuilder_BuildsSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")
	writeTestFile(t, dir, "util.py", "def helper():\n    pass\n")

	indexer := NewSymbolIndexer(zap.NewNop())
	builder := NewRepoIndexBuilder(indexer, zap.NewNop())

	index, err := builder.Build(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if index.TotalFiles != 2 {
		t.Fatalf("expected 2 files indexed, got %d", index.TotalFiles)
	}
	if index.Languages["go"] != 1 || index.Languages["python"] != 1 {
		t.Errorf("expected one go and one python file, got %+v", index.Languages)
	}
	if index.BuiltAt.IsZero() {
		t.Error("expected BuiltAt to be set")
	}
}

func TestRepoIndexBuilder_CachesWithinTTL(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")

	indexer := NewSymbolIndexer(zap.NewNop())
	builder := NewRepoIndexBuilder(indexer, zap.NewNop())

	first, err := builder.Build(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeTestFile(t, dir, "second.go", "package main\n\nfunc second() {}\n")

	second, err := builder.Build(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.BuiltAt != first.BuiltAt {
		t.Error("expected cached index to be returned within TTL")
	}
	if second.TotalFiles != first.TotalFiles {
		t.Error("expected file count unchanged since the cache was served instead of a re-walk")
	}
}

func TestRepoIndexBuilder_InvalidateForcesRebuild(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")

	indexer := NewSymbolIndexer(zap.NewNop())
	builder := NewRepoIndexBuilder(indexer, zap.NewNop())

	first, err := builder.Build(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeTestFile(t, dir, "second.go", "package main\n\nfunc second() {}\n")
	builder.Invalidate(dir)

	second, err := builder.Build(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.TotalFiles != 2 {
		t.Fatalf("expected rebuild to pick up the new file, got %d files", second.TotalFiles)
	}
	_ = first
}
