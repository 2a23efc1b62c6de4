package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/rental-checkout/internal/adapter"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record), now: time.Now}
}

func (m *MemoryRepository) Create(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[r.MerchantReference]; exists {
		return ErrDuplicateReference
	}
	now := m.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = adapter.StatusPending
	}
	m.records[r.MerchantReference] = r
	return nil
}

func (m *MemoryRepository) Update(_ context.Context, ref string, upd StatusUpdate) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[ref]
	if !ok {
		return Record{}, ErrNotFound
	}
	apply(&r, upd, m.now().UTC())
	m.records[ref] = r
	return r, nil
}

func (m *MemoryRepository) GetByReference(_ context.Context, ref string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[ref]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryRepository) GetByTrackingID(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id == "" {
		return Record{}, ErrNotFound
	}
	for _, r := range m.records {
		if r.OrderTrackingID == id {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

// List returns matching records, oldest first.
func (m *MemoryRepository) List(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if f.match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].MerchantReference < out[j].MerchantReference
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
