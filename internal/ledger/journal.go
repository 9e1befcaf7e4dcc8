package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Journal is the append-only trades.jsonl writer/reader for one tenant.
// Rows are never rewritten in place; ordering is write order.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal opens (creating if absent) the journal file at path.
func NewJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	f.Close()
	return &Journal{path: path}, nil
}

// Append writes one entry as a single JSON line.
func (j *Journal) Append(entry TradeJournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal for append: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// ReadAll replays every row of the journal in write order. Used at startup
// to reconstruct daily_pnl and today-stats, and by the learning pass to
// pair BUY/SELL rows.
func (j *Journal) ReadAll() ([]TradeJournalEntry, error) {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal for read: %w", err)
	}
	defer f.Close()

	var out []TradeJournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry TradeJournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A single malformed row never aborts a replay; skip it.
			continue
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scan journal: %w", err)
	}
	return out, nil
}
