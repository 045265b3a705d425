package crdt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ID identifies one inserted character: a Lamport clock paired with the
// originating client id. The zero ID is the sentinel origin for inserts at
// the head of the document.
type ID struct {
	Clock  int64 `json:"clock"`
	Client int   `json:"client"`
}

func (a ID) IsZero() bool { return a.Clock == 0 && a.Client == 0 }

// Less orders ids by (clock, client). Used as the deterministic tie-break
// for concurrent inserts at the same origin.
func (a ID) Less(b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock < b.Clock
	}
	return a.Client < b.Client
}

type Action string

const (
	Insert Action = "insert"
	Delete Action = "delete"
)

// Op is one replicated operation. Inserts carry the origin id of the
// character they were inserted after; deletes carry only the target id.
// Applying the same op twice is a no-op.
type Op struct {
	Action Action `json:"action"`
	ID     ID     `json:"id"`
	Origin ID     `json:"origin,omitzero"`
	Value  string `json:"value,omitempty"`
}

// Applied reports an op that took visible effect, with the visible rune
// index at the moment it was applied. Index is -1 for effects on already
// hidden characters.
type Applied struct {
	Op    Op
	Index int
}

type item struct {
	id       ID
	origin   ID
	value    rune
	deleted  bool
	children []*item // sorted by descending ID
}

// Sequence is a tombstone RGA: a tree of characters keyed by the id of the
// character each was inserted after. Document order is a depth-first walk
// with siblings ordered by descending id, which makes the merge commutative
// for any arrival order of the same op set.
type Sequence struct {
	clock   int64
	root    *item
	items   map[ID]*item
	pending []Op // ops whose origin or target has not arrived yet
}

func NewSequence() *Sequence {
	return &Sequence{
		root:  &item{},
		items: make(map[ID]*item),
	}
}

// LocalInsert inserts text at the visible rune position pos, tagging every
// character with client. Returns the ops to broadcast, in causal order.
func (s *Sequence) LocalInsert(client int, pos int, text string) []Op {
	origin := ID{}
	if pos > 0 {
		if it := s.itemAtVisible(pos - 1); it != nil {
			origin = it.id
		} else if last := s.lastVisible(); last != nil {
			// Past-end insert clamps to the tail.
			origin = last.id
		}
	}

	ops := make([]Op, 0, len(text))
	for _, r := range text {
		s.clock++
		id := ID{Clock: s.clock, Client: client}
		s.integrate(id, origin, r)
		ops = append(ops, Op{Action: Insert, ID: id, Origin: origin, Value: string(r)})
		origin = id
	}
	return ops
}

// LocalDelete tombstones up to n visible runes starting at pos.
func (s *Sequence) LocalDelete(pos, n int) []Op {
	var ops []Op
	targets := s.visibleSlice(pos, n)
	for _, it := range targets {
		it.deleted = true
		ops = append(ops, Op{Action: Delete, ID: it.id})
	}
	return ops
}

// Apply integrates remote ops. Ops whose dependency is unknown are parked
// and replayed once it arrives, so any delivery order converges. Duplicates
// are dropped.
func (s *Sequence) Apply(ops ...Op) []Applied {
	var out []Applied
	for _, op := range ops {
		if s.applyOne(op, &out) {
			s.drainPending(&out)
		}
	}
	return out
}

func (s *Sequence) applyOne(op Op, out *[]Applied) bool {
	switch op.Action {
	case Insert:
		if _, dup := s.items[op.ID]; dup {
			return false
		}
		if !op.Origin.IsZero() {
			if _, ok := s.items[op.Origin]; !ok {
				s.pending = append(s.pending, op)
				return false
			}
		}
		if op.ID.Clock > s.clock {
			s.clock = op.ID.Clock
		}
		var r rune
		for _, c := range op.Value {
			r = c
			break
		}
		it := s.integrate(op.ID, op.Origin, r)
		*out = append(*out, Applied{Op: op, Index: s.visibleIndexOf(it)})
		return true

	case Delete:
		it, ok := s.items[op.ID]
		if !ok {
			s.pending = append(s.pending, op)
			return false
		}
		if it.deleted {
			return false
		}
		idx := s.visibleIndexOf(it)
		it.deleted = true
		*out = append(*out, Applied{Op: op, Index: idx})
		return true
	}
	return false
}

// drainPending replays parked ops until no more progress is made. applyOne
// re-parks anything still unsatisfied and drops duplicates.
func (s *Sequence) drainPending(out *[]Applied) {
	for {
		progressed := false
		queue := s.pending
		s.pending = nil
		for _, op := range queue {
			if s.applyOne(op, out) {
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

func (s *Sequence) integrate(id, origin ID, value rune) *item {
	parent := s.root
	if !origin.IsZero() {
		parent = s.items[origin]
	}
	it := &item{id: id, origin: origin, value: value}
	// Insert keeping children sorted by descending id.
	i := 0
	for i < len(parent.children) && id.Less(parent.children[i].id) {
		i++
	}
	parent.children = append(parent.children, nil)
	copy(parent.children[i+1:], parent.children[i:])
	parent.children[i] = it
	s.items[id] = it
	return it
}

// walk visits every non-root item in document order. Returning false stops
// the walk.
func (s *Sequence) walk(fn func(*item) bool) {
	var visit func(*item) bool
	visit = func(it *item) bool {
		if it != s.root {
			if !fn(it) {
				return false
			}
		}
		for _, c := range it.children {
			if !visit(c) {
				return false
			}
		}
		return true
	}
	visit(s.root)
}

func (s *Sequence) itemAtVisible(pos int) *item {
	var found *item
	i := 0
	s.walk(func(it *item) bool {
		if it.deleted {
			return true
		}
		if i == pos {
			found = it
			return false
		}
		i++
		return true
	})
	return found
}

func (s *Sequence) lastVisible() *item {
	var last *item
	s.walk(func(it *item) bool {
		if !it.deleted {
			last = it
		}
		return true
	})
	return last
}

func (s *Sequence) visibleSlice(pos, n int) []*item {
	var out []*item
	i := 0
	s.walk(func(it *item) bool {
		if it.deleted {
			return true
		}
		if i >= pos && len(out) < n {
			out = append(out, it)
		}
		i++
		return len(out) < n
	})
	return out
}

func (s *Sequence) visibleIndexOf(target *item) int {
	if target.deleted {
		return -1
	}
	idx := -1
	i := 0
	s.walk(func(it *item) bool {
		if it == target {
			idx = i
			return false
		}
		if !it.deleted {
			i++
		}
		return true
	})
	return idx
}

// Text materializes the converged visible string.
func (s *Sequence) Text() string {
	var b strings.Builder
	s.walk(func(it *item) bool {
		if !it.deleted {
			b.WriteRune(it.value)
		}
		return true
	})
	return b.String()
}

// Len returns the visible rune count.
func (s *Sequence) Len() int {
	n := 0
	s.walk(func(it *item) bool {
		if !it.deleted {
			n++
		}
		return true
	})
	return n
}

type stateItem struct {
	ID      ID     `json:"id"`
	Origin  ID     `json:"origin,omitzero"`
	Value   string `json:"value"`
	Deleted bool   `json:"deleted,omitempty"`
}

// EncodeState serializes the full sequence, tombstones included, in
// document order (origins always precede their children). The blob is only
// meaningful to ApplyState.
func (s *Sequence) EncodeState() ([]byte, error) {
	items := make([]stateItem, 0, len(s.items))
	s.walk(func(it *item) bool {
		items = append(items, stateItem{
			ID:      it.id,
			Origin:  it.origin,
			Value:   string(it.value),
			Deleted: it.deleted,
		})
		return true
	})
	return json.Marshal(items)
}

// ApplyState merges an encoded state into this sequence: unknown characters
// are integrated, tombstones are unioned. Merging the same state twice, or
// crossing state exchanges between two peers, is harmless.
func (s *Sequence) ApplyState(blob []byte) ([]Applied, error) {
	var items []stateItem
	if err := json.Unmarshal(blob, &items); err != nil {
		return nil, fmt.Errorf("decode crdt state: %w", err)
	}
	var ops []Op
	for _, st := range items {
		ops = append(ops, Op{Action: Insert, ID: st.ID, Origin: st.Origin, Value: st.Value})
		if st.Deleted {
			ops = append(ops, Op{Action: Delete, ID: st.ID})
		}
	}
	return s.Apply(ops...), nil
}
