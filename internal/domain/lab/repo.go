package lab

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JournalEntry records one settled status transition attempt.
type JournalEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	OrderKey   string    `db:"order_key" json:"order_key"`
	Variant    string    `db:"variant" json:"variant"`
	FromStatus string    `db:"from_status" json:"from_status"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	Outcome    string    `db:"outcome" json:"outcome"` // committed, rolled_back
	Error      *string   `db:"error" json:"error,omitempty"`
	ChangedBy  string    `db:"changed_by" json:"changed_by"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}

const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

type JournalRepository interface {
	Create(ctx context.Context, e *JournalEntry) error
	ListByOrder(ctx context.Context, orderKey string, limit, offset int) ([]*JournalEntry, int, error)
}

// MemoryJournal keeps the journal in process memory. It is used when no
// database is configured.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []*JournalEntry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (m *MemoryJournal) Create(_ context.Context, e *JournalEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ChangedAt.IsZero() {
		e.ChangedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

// ListByOrder returns entries newest first.
func (m *MemoryJournal) ListByOrder(_ context.Context, orderKey string, limit, offset int) ([]*JournalEntry, int, error) {
	m.mu.RLock()
	var filtered []*JournalEntry
	for _, e := range m.entries {
		if e.OrderKey == orderKey {
			filtered = append(filtered, e)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ChangedAt.After(filtered[j].ChangedAt)
	})
	total := len(filtered)
	if offset >= total {
		return []*JournalEntry{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func journalEntryOf(t Transition, changedBy string) *JournalEntry {
	e := &JournalEntry{
		ID:         uuid.New(),
		OrderKey:   t.Key.String(),
		Variant:    t.Variant.Kind.String(),
		FromStatus: string(t.From),
		ToStatus:   string(t.To),
		Outcome:    OutcomeCommitted,
		ChangedBy:  changedBy,
		ChangedAt:  t.At,
	}
	if t.Err != nil {
		msg := t.Err.Error()
		e.Error = &msg
		e.Outcome = OutcomeRolledBack
	}
	return e
}
