package store

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/Iron-Ham/formrunner/internal/errors"
)

// MemoryStore keeps items in memory. It backs the "memory" store kind and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	targets map[string]map[int]Item
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{targets: make(map[string]map[int]Item)}
}

// LoadItems implements Store.
func (m *MemoryStore) LoadItems(ctx context.Context, targetID string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]Item, 0, len(m.targets[targetID]))
	for _, it := range m.targets[targetID] {
		it.Payload = slices.Clone(it.Payload)
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b Item) int { return a.Index - b.Index })
	return items, nil
}

// SaveItemState implements Store.
func (m *MemoryStore) SaveItemState(ctx context.Context, targetID string, index int, state SubmitState) error {
	return m.update(ctx, targetID, index, func(it *Item) { it.SubmitState = state })
}

// SaveExternalID implements Store.
func (m *MemoryStore) SaveExternalID(ctx context.Context, targetID string, index int, externalID string) error {
	return m.update(ctx, targetID, index, func(it *Item) { it.ExternalID = externalID })
}

func (m *MemoryStore) update(ctx context.Context, targetID string, index int, fn func(*Item)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.targets[targetID][index]
	if !ok {
		return errors.NewNotFoundError("item", targetID+"/"+strconv.Itoa(index))
	}
	fn(&it)
	m.targets[targetID][index] = it
	return nil
}

// PutItems implements Store.
func (m *MemoryStore) PutItems(ctx context.Context, targetID string, items []Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	byIndex, ok := m.targets[targetID]
	if !ok {
		byIndex = make(map[int]Item, len(items))
		m.targets[targetID] = byIndex
	}
	for _, it := range items {
		it.SubmitState = ParseSubmitState(string(it.SubmitState))
		it.Payload = slices.Clone(it.Payload)
		byIndex[it.Index] = it
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
