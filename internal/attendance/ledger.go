package attendance

import (
	"context"
	"errors"
	"sync"
)

// ErrDuplicate is returned by Append when the student already has a record
// for the session.
var ErrDuplicate = errors.New("attendance already recorded")

// Ledger is the append-only store of check-ins. Get returns nil, nil when
// no record exists. Listings are in insertion order.
type Ledger interface {
	Append(ctx context.Context, r Record) error
	Get(ctx context.Context, sessionID, studentID string) (*Record, error)
	BySession(ctx context.Context, sessionID string) ([]Record, error)
	ByStudent(ctx context.Context, studentID string) ([]Record, error)
	All(ctx context.Context) ([]Record, error)
}

type recordKey struct {
	session string
	student string
}

// MemoryLedger keeps records in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []Record
	index   map[recordKey]int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{index: make(map[recordKey]int)}
}

func (l *MemoryLedger) Append(_ context.Context, r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := recordKey{r.SessionID, r.StudentID}
	if _, ok := l.index[key]; ok {
		return ErrDuplicate
	}
	l.index[key] = len(l.records)
	l.records = append(l.records, r)
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, sessionID, studentID string) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[recordKey{sessionID, studentID}]
	if !ok {
		return nil, nil
	}
	r := l.records[i]
	return &r, nil
}

func (l *MemoryLedger) BySession(_ context.Context, sessionID string) ([]Record, error) {
	return l.filter(func(r Record) bool { return r.SessionID == sessionID }), nil
}

func (l *MemoryLedger) ByStudent(_ context.Context, studentID string) ([]Record, error) {
	return l.filter(func(r Record) bool { return r.StudentID == studentID }), nil
}

func (l *MemoryLedger) All(_ context.Context) ([]Record, error) {
	return l.filter(func(Record) bool { return true }), nil
}

func (l *MemoryLedger) filter(keep func(Record) bool) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []Record{}
	for _, r := range l.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
