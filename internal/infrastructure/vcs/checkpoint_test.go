package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v: %s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("initial\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial commit")
	return dir
}

func TestCheckpointManager_CreateAndList(t *testing.T) {
	dir := initTestRepo(t)
	mgr := NewManager(dir, zap.NewNop())
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	id1, err := mgr.Create(ctx, "step-one", "did step one")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected a commit id")
	}

	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("two\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	id2, err := mgr.Create(ctx, "step-two", "did step two")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	checkpoints, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(checkpoints) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(checkpoints))
	}
	if checkpoints[0].CommitID != id1 || checkpoints[1].CommitID != id2 {
		t.Fatalf("expected oldest-first ordering, got %+v", checkpoints)
	}
}

func TestCheckpointManager_CreateNoChangesReturnsEmpty(t *testing.T) {
	dir := initTestRepo(t)
	mgr := NewManager(dir, zap.NewNop())
	id, err := mgr.Create(context.Background(), "noop", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty commit id when nothing changed, got %q", id)
	}
}

func TestCheckpointManager_Rollback(t *testing.T) {
	dir := initTestRepo(t)
	mgr := NewManager(dir, zap.NewNop())
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	id1, err := mgr.Create(ctx, "step-one", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("two\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Create(ctx, "step-two", ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := mgr.Rollback(ctx, id1); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "b.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected b.txt to be gone after rollback, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatalf("expected a.txt to still exist after rollback: %v", err)
	}
}

func TestCheckpointManager_RollbackByStepName(t *testing.T) {
	dir := initTestRepo(t)
	mgr := NewManager(dir, zap.NewNop())
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Create(ctx, "my-step", ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("two\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Rollback(ctx, "my-step"); err != nil {
		t.Fatalf("rollback by name failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected b.txt to be gone: %v", err)
	}
}

func TestCheckpointManager_HasChangesSince(t *testing.T) {
	dir := initTestRepo(t)
	mgr := NewManager(dir, zap.NewNop())
	ctx := context.Background()

	head, _, err := mgr.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		t.Fatalf("rev-parse failed: %v", err)
	}
	head = trimNL(head)

	changed, err := mgr.HasChangesSince(ctx, head)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatal("expected no changes right after commit")
	}

	if err := os.WriteFile(filepath.Join(dir, "c.txt"), []byte("three\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed, err = mgr.HasChangesSince(ctx, head)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected changes to be detected")
	}
}

func trimNL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
