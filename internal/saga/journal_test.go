package saga

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileJournal_RecordAndReplay(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "saga.journal")
	journal, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	entries := []JournalEntry{
		{SagaID: "order-j1", Definition: DefinitionOrder, Lane: "main", Stage: StageReceiving, At: time.Now().UTC()},
		{SagaID: "order-j1", Definition: DefinitionOrder, Lane: "main", Stage: StageValidating, At: time.Now().UTC()},
		{
			SagaID: "order-j1", Definition: DefinitionOrder, Lane: "main",
			Stage: StageCompleted, Status: StatusCompleted,
			Result: &Result{Status: StatusCompleted, Payment: &PaymentResult{Status: "charged", Amount: 2, PaymentID: "p1"}},
			At:     time.Now().UTC(),
		},
	}
	for _, e := range entries {
		if err := journal.Record(context.Background(), e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	replayed, err := ReplayJournal(path)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(replayed) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(replayed))
	}
	for i, e := range replayed {
		if e.SagaID != entries[i].SagaID || e.Stage != entries[i].Stage {
			t.Fatalf("entry %d mismatch: %+v vs %+v", i, e, entries[i])
		}
	}
	last := replayed[len(replayed)-1]
	if last.Result == nil || last.Result.Payment == nil || last.Result.Payment.Amount != 2 {
		t.Fatalf("terminal entry lost its result: %+v", last)
	}
}

func TestReplayJournal_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	entries, err := ReplayJournal(filepath.Join(t.TempDir(), "absent.journal"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestReplayJournal_CorruptEntryFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.journal")
	if err := os.WriteFile(path, []byte("{\"saga_id\":\"order-x\"}\nnot json\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReplayJournal(path); err == nil {
		t.Fatalf("expected an error for a corrupt journal")
	}
}

func TestFileJournal_CancelledContext(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "saga.journal")
	journal, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := journal.Record(ctx, JournalEntry{SagaID: "order-j2"}); err == nil {
		t.Fatalf("expected context error")
	}
}
