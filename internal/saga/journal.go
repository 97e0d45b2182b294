package saga

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// JournalEntry records one durable saga transition: a stage entry or a
// terminal outcome. Replaying the journal restores enough state to answer
// queries for finished sagas and to name the sagas a restart interrupted.
type JournalEntry struct {
	SagaID     string     `json:"saga_id"`
	Definition Definition `json:"definition"`
	Lane       string     `json:"lane,omitempty"`
	Stage      Stage      `json:"stage,omitempty"`
	Status     Status     `json:"status,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	At         time.Time  `json:"at"`
}

// Journal persists saga transitions.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}

// FileJournal appends JSON entries to a file, one per line, fsyncing each
// write so a crash cannot lose an acknowledged transition.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileJournal opens (or creates) the journal file for appending.
func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

// Record appends the entry to the journal.
func (j *FileJournal) Record(ctx context.Context, entry JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	n, err := j.f.Write(append(data, '\n'))
	if err != nil {
		return err
	}
	if n != len(data)+1 {
		return fmt.Errorf("partial journal write: wrote %d of %d bytes", n, len(data)+1)
	}

	return j.f.Sync()
}

// Close releases the underlying file handle.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// ReplayJournal reads every entry from the journal file in write order.
// A missing file is an empty journal.
func ReplayJournal(path string) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("corrupt journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
