package core

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

const StatusOK = "ok"

// Record is one finished request. Credentials are never recorded.
type Record struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	Protocol   string    `json:"protocol,omitempty"`
	Host       string    `json:"host,omitempty"`
	Path       string    `json:"path,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Bytes      int64     `json:"bytes"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
}

// HistoryManager keeps the most recent records in memory and persists them
// as JSON. It is only ever appended to by requests, never read by them.
type HistoryManager struct {
	Path       string
	MaxRecords int
	records    []Record
	mu         sync.RWMutex
}

func NewHistoryManager(path string, maxRecords int) *HistoryManager {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &HistoryManager{
		Path:       path,
		MaxRecords: maxRecords,
	}
}

func (hm *HistoryManager) Load() error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	data, err := os.ReadFile(hm.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	hm.records = trimOldest(records, hm.MaxRecords)
	return nil
}

func (hm *HistoryManager) Save() error {
	hm.mu.RLock()
	data, err := json.MarshalIndent(hm.records, "", "  ")
	hm.mu.RUnlock()
	if err != nil {
		return err
	}

	tmp := hm.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, hm.Path)
}

func (hm *HistoryManager) Add(rec Record) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.records = trimOldest(append(hm.records, rec), hm.MaxRecords)
}

// Recent returns up to n records, newest first. n <= 0 returns all of them.
func (hm *HistoryManager) Recent(n int) []Record {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	if n <= 0 || n > len(hm.records) {
		n = len(hm.records)
	}
	out := make([]Record, 0, n)
	for i := len(hm.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, hm.records[i])
	}
	return out
}

// Prune drops records started before cutoff and reports how many went.
func (hm *HistoryManager) Prune(cutoff time.Time) int {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	kept := hm.records[:0]
	for _, rec := range hm.records {
		if !rec.StartedAt.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	removed := len(hm.records) - len(kept)
	clear(hm.records[len(kept):])
	hm.records = kept
	return removed
}

func (hm *HistoryManager) Len() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.records)
}

func trimOldest(records []Record, limit int) []Record {
	if len(records) <= limit {
		return records
	}
	return append([]Record(nil), records[len(records)-limit:]...)
}
