package wire

import "sync"

// exportTable is a session's map from local integer export position to the
// capability object exposed at that position. Positions are allocated
// monotonically and never reused, per spec §3 ("an export table: mapping
// from a per-session integer position to a local capability object").
type exportTable struct {
	mu      sync.RWMutex
	next    uint64
	objects map[uint64]Capability
}

func newExportTable() *exportTable {
	return &exportTable{objects: make(map[uint64]Capability)}
}

// add allocates a fresh position for cap and returns it.
func (t *exportTable) add(cap Capability) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := t.next
	t.next++
	t.objects[pos] = cap
	return pos
}

func (t *exportTable) get(pos uint64) (Capability, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.objects[pos]
	return c, ok
}
