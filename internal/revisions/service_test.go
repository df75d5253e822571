package revisions

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestProposalRevisionLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{Title: "Budget 2027", Body: "First draft of the budget."}
	if err := svc.Ensure("prp-1", initial, "Avery"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "prp-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Ensure is idempotent.
	if err := svc.Ensure("prp-1", Content{Title: "Other"}, "Avery"); err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	head, rev, err := svc.Head("prp-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.Title != "Budget 2027" {
		t.Fatalf("second Ensure overwrote content: %+v", head)
	}
	if rev.Author != "Avery" {
		t.Errorf("author = %q", rev.Author)
	}

	updated := Content{Title: "Budget 2027", Body: "Second draft with revised numbers."}
	commit, err := svc.Commit("prp-1", updated, "Avery", "Revise numbers")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("prp-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Message != "Revise numbers" {
		t.Errorf("newest message = %q", history[0].Message)
	}

	old, err := svc.GetByHash("prp-1", history[1].Hash)
	if err != nil {
		t.Fatalf("GetByHash() error = %v", err)
	}
	if old.Body != "First draft of the budget." {
		t.Fatalf("unexpected old content: %+v", old)
	}
}

func TestHasChanges(t *testing.T) {
	a := Content{Title: "T", Body: "B"}
	if HasChanges(a, a) {
		t.Error("identical content reported as changed")
	}
	if !HasChanges(a, Content{Title: "T", Body: "B2"}) {
		t.Error("body change not detected")
	}
	if !HasChanges(a, Content{Title: "T2", Body: "B"}) {
		t.Error("title change not detected")
	}
}

func TestConcurrentCommitsSerialize(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.Ensure("prp-1", Content{Title: "T", Body: "v0"}, "Avery"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			content := Content{Title: "T", Body: string(rune('a' + n))}
			if _, err := svc.Commit("prp-1", content, "Avery", "edit"); err != nil {
				t.Errorf("Commit() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.History("prp-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 5 {
		t.Errorf("history length = %d, want 5", len(history))
	}
}
