package registry

import (
	"context"
	"testing"
	"time"
)

// openTestRegistry opens an in-memory Registry for use in tests.
func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory registry: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func Test_Registry_RecordAndHistory(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	records := []Record{
		{Source: "a.txt", DocHash: "h1", Event: EventStored, Chunks: 3, CreatedAt: base},
		{Source: "a.txt", DocHash: "h1", Event: EventSkipped, Reason: "unchanged", CreatedAt: base.Add(time.Minute)},
		{Source: "a.txt", DocHash: "h2", Event: EventStored, Chunks: 4, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := r.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := r.History(ctx, "a.txt", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 records, got %d", len(got))
	}
	// Newest first.
	if got[0].DocHash != "h2" || got[0].Event != EventStored || got[0].Chunks != 4 {
		t.Errorf("latest record = %+v", got[0])
	}
	if got[1].Event != EventSkipped || got[1].Reason != "unchanged" {
		t.Errorf("middle record = %+v", got[1])
	}
}

func Test_Registry_HistoryLimitRespected(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		rec := Record{Source: "b.txt", DocHash: "h", Event: EventStored, Chunks: 1}
		if err := r.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := r.History(ctx, "b.txt", 4)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("want 4 records, got %d", len(got))
	}
}

func Test_Registry_SourceIsolation(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)
	ctx := context.Background()

	if err := r.Record(ctx, Record{Source: "x.txt", DocHash: "hx", Event: EventStored, Chunks: 1}); err != nil {
		t.Fatalf("record x: %v", err)
	}
	if err := r.Record(ctx, Record{Source: "y.txt", DocHash: "hy", Event: EventStored, Chunks: 1}); err != nil {
		t.Fatalf("record y: %v", err)
	}

	got, err := r.History(ctx, "x.txt", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 1 || got[0].DocHash != "hx" {
		t.Errorf("history for x.txt = %+v", got)
	}
}

func Test_Registry_DocumentsLatestPerSource(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	records := []Record{
		{Source: "a.txt", DocHash: "h1", Event: EventStored, Chunks: 3, CreatedAt: base},
		{Source: "a.txt", DocHash: "h2", Event: EventStored, Chunks: 5, CreatedAt: base.Add(time.Minute)},
		{Source: "b.txt", DocHash: "h3", Event: EventStored, Chunks: 2, CreatedAt: base.Add(2 * time.Minute)},
		{Source: "c.txt", DocHash: "h4", Event: EventStored, Chunks: 1, CreatedAt: base.Add(3 * time.Minute)},
		{Source: "c.txt", Event: EventRemoved, Chunks: 1, CreatedAt: base.Add(4 * time.Minute)},
	}
	for _, rec := range records {
		if err := r.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	docs, err := r.Documents(ctx)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("want 2 documents, got %d: %+v", len(docs), docs)
	}
	// Newest first: b.txt then a.txt; c.txt is removed.
	if docs[0].Source != "b.txt" || docs[1].Source != "a.txt" {
		t.Errorf("documents order = [%s %s]", docs[0].Source, docs[1].Source)
	}
	if docs[1].DocHash != "h2" || docs[1].Chunks != 5 {
		t.Errorf("a.txt latest record = %+v, want h2/5", docs[1])
	}
}
