package variant

// ExploredSet is the deduplication ledger of one exploration session. It
// only grows; the position a snapshot was added at is its variant number.
// It is not safe for concurrent use.
type ExploredSet struct {
	order []Snapshot
	index map[Snapshot]int
}

// NewExploredSet returns an empty set.
func NewExploredSet() *ExploredSet {
	return &ExploredSet{index: make(map[Snapshot]int)}
}

// Contains reports whether snap was already emitted.
func (s *ExploredSet) Contains(snap Snapshot) bool {
	_, ok := s.index[snap]
	return ok
}

// Add records snap and returns its sequence number. If snap is already
// present the existing number is returned with added=false.
func (s *ExploredSet) Add(snap Snapshot) (seq int, added bool) {
	if seq, ok := s.index[snap]; ok {
		return seq, false
	}
	seq = len(s.order)
	s.order = append(s.order, snap)
	s.index[snap] = seq
	return seq, true
}

// Len returns the number of emitted snapshots.
func (s *ExploredSet) Len() int {
	return len(s.order)
}

// Snapshots returns the snapshots in emission order.
func (s *ExploredSet) Snapshots() []Snapshot {
	out := make([]Snapshot, len(s.order))
	copy(out, s.order)
	return out
}
