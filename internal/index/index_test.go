package index

import (
	"context"
	"testing"
)

func TestInsertListClear(t *testing.T) {
	ctx := context.Background()
	idx, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	if err := idx.Insert(ctx, "GET", "http://slow.coreyja.com/a"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Insert(ctx, "GET", "http://slow.coreyja.com/a"); err != nil {
		t.Fatalf("Insert (duplicate): %v", err)
	}

	rows, err := idx.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("List() = %d rows, want 2 (no uniqueness enforced)", len(rows))
	}

	if err := idx.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	rows, err = idx.List(ctx)
	if err != nil {
		t.Fatalf("List after Clear: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("List() after Clear = %d rows, want 0", len(rows))
	}
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	idx, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	ok, err := idx.HasSession(ctx, "nope")
	if err != nil {
		t.Fatalf("HasSession: %v", err)
	}
	if ok {
		t.Fatalf("HasSession(unknown) = true, want false")
	}

	if err := idx.CreateSession(ctx, "tok-1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	ok, err = idx.HasSession(ctx, "tok-1")
	if err != nil {
		t.Fatalf("HasSession: %v", err)
	}
	if !ok {
		t.Errorf("HasSession(tok-1) = false, want true")
	}
}
