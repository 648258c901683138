package compile

import (
	"container/list"
	"sync"
)

// memo is a bounded LRU of compiled artifacts keyed by source hash.
type memo struct {
	mu      sync.Mutex
	max     int
	entries map[string]*list.Element
	order   *list.List
	hits    uint64
	misses  uint64
}

type memoEntry struct {
	key string
	art *Artifact
}

func newMemo(max int) *memo {
	return &memo{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (m *memo) get(key string) (*Artifact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, false
	}
	m.order.MoveToFront(el)
	m.hits++
	return el.Value.(*memoEntry).art, true
}

func (m *memo) put(key string, art *Artifact) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		el.Value.(*memoEntry).art = art
		m.order.MoveToFront(el)
		return
	}
	m.entries[key] = m.order.PushFront(&memoEntry{key: key, art: art})
	for m.order.Len() > m.max {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoEntry).key)
	}
}

// Stats reports memo effectiveness.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

func (m *memo) stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Entries: m.order.Len(), Hits: m.hits, Misses: m.misses}
}
