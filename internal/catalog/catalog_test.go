package catalog

import (
	"context"
	"errors"
	"testing"
	"time"
)

// openTestCatalog opens an in-memory SQLiteCatalog for use in tests.
func openTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory catalog: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func Test_Catalog_RecordAndGet(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)
	ctx := context.Background()

	in := Entry{
		DocumentID: "doc-a",
		Name:       "discharge_summary.pdf",
		Format:     "pdf",
		Chunks:     12,
		Pages:      4,
		IngestedAt: time.Unix(1700000000, 0),
	}
	if err := c.Record(ctx, in); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := c.Get(ctx, "doc-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != in.Name || got.Format != in.Format || got.Chunks != in.Chunks || got.Pages != in.Pages {
		t.Errorf("get: want %+v, got %+v", in, got)
	}
	if !got.IngestedAt.Equal(in.IngestedAt) {
		t.Errorf("ingested_at: want %v, got %v", in.IngestedAt, got.IngestedAt)
	}
}

func Test_Catalog_RecordReplacesOnReingest(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)
	ctx := context.Background()

	first := Entry{DocumentID: "doc-b", Name: "notes.txt", Format: "text", Chunks: 3}
	if err := c.Record(ctx, first); err != nil {
		t.Fatalf("record first: %v", err)
	}
	// Re-ingesting the same document replaces the row rather than duplicating it.
	second := Entry{DocumentID: "doc-b", Name: "notes.txt", Format: "text", Chunks: 5}
	if err := c.Record(ctx, second); err != nil {
		t.Fatalf("record second: %v", err)
	}

	entries, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 entry after re-ingest, got %d", len(entries))
	}
	if entries[0].Chunks != 5 {
		t.Errorf("chunks: want 5 after re-ingest, got %d", entries[0].Chunks)
	}
}

func Test_Catalog_ListNewestFirst(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	docs := []Entry{
		{DocumentID: "old", Name: "old.txt", Format: "text", Chunks: 1, IngestedAt: base},
		{DocumentID: "new", Name: "new.txt", Format: "text", Chunks: 1, IngestedAt: base.Add(time.Hour)},
		{DocumentID: "mid", Name: "mid.txt", Format: "text", Chunks: 1, IngestedAt: base.Add(time.Minute)},
	}
	for _, d := range docs {
		if err := c.Record(ctx, d); err != nil {
			t.Fatalf("record %s: %v", d.DocumentID, err)
		}
	}

	entries, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"new", "mid", "old"}
	if len(entries) != len(want) {
		t.Fatalf("want %d entries, got %d", len(want), len(entries))
	}
	for i, id := range want {
		if entries[i].DocumentID != id {
			t.Errorf("entries[%d]: want %s, got %s", i, id, entries[i].DocumentID)
		}
	}
}

func Test_Catalog_GetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)

	_, err := c.Get(context.Background(), "no-such-doc")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func Test_Catalog_Remove(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)
	ctx := context.Background()

	if err := c.Record(ctx, Entry{DocumentID: "doc-c", Name: "a.txt", Format: "text", Chunks: 1}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := c.Remove(ctx, "doc-c"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := c.Get(ctx, "doc-c"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after remove: want ErrNotFound, got %v", err)
	}
	if err := c.Remove(ctx, "doc-c"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove: want ErrNotFound, got %v", err)
	}
}

func Test_Catalog_EmptyListReturnsNil(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)

	entries, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("want 0 entries, got %d", len(entries))
	}
}

func Test_Catalog_RejectsUnknownFormat(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)

	err := c.Record(context.Background(), Entry{DocumentID: "doc-d", Name: "x.doc", Format: "docx", Chunks: 1})
	if err == nil {
		t.Fatal("want CHECK constraint error for unknown format, got nil")
	}
}

func Test_Catalog_Ping(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}
