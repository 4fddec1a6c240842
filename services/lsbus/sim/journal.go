// services/lsbus/sim/journal.go
package sim

import (
	"fmt"
	"strings"
	"sync"
)

// Journal records acquire/release events from every simulated resource in
// global order. Tests compare it against the expected rollback sequence.
// A nil *Journal discards records.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) Record(format string, args ...any) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

// Entries returns a copy of the journal.
func (j *Journal) Entries() []string {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// Since returns the entries recorded after the first n.
func (j *Journal) Since(n int) []string {
	all := j.Entries()
	if n >= len(all) {
		return nil
	}
	return all[n:]
}

// Filter returns entries that start with prefix.
func (j *Journal) Filter(prefix string) []string {
	var out []string
	for _, e := range j.Entries() {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func (j *Journal) Reset() {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = nil
	j.mu.Unlock()
}
