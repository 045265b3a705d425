package crdt

import (
	"sync"
	"unicode/utf8"
)

// TextChange is one structural edit expressed against visible rune
// positions, the shape every transaction boundary reports.
type TextChange struct {
	Position      int    `json:"position"`
	DeletedLength int    `json:"deleted_length"`
	InsertedText  string `json:"inserted_text"`
}

// Observer receives the fan-out for one transaction. clientID is the origin
// tag; local distinguishes this process's own edits from remote ones.
type Observer func(clientID int, local bool, changes []TextChange, ops []Op)

// Doc wraps one replicated text sequence behind atomic position-based
// transactions. Reads never block on remote convergence; remote ops are
// merged as they arrive.
type Doc struct {
	mu        sync.Mutex
	path      string
	seq       *Sequence
	observers []Observer
}

func NewDoc(path string) *Doc {
	return &Doc{path: path, seq: NewSequence()}
}

func (d *Doc) Path() string { return d.path }

// Observe registers a change observer. Observers run outside the document
// lock, in registration order.
func (d *Doc) Observe(fn Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, fn)
	d.mu.Unlock()
}

// ApplyChange runs one atomic (position, deletedLength, insertedText)
// transaction tagged with clientID and returns the ops to broadcast.
func (d *Doc) ApplyChange(clientID int, pos, deletedLength int, insertedText string) []Op {
	d.mu.Lock()
	if pos < 0 {
		pos = 0
	}
	if l := d.seq.Len(); pos > l {
		pos = l
	}
	var ops []Op
	if deletedLength > 0 {
		ops = append(ops, d.seq.LocalDelete(pos, deletedLength)...)
	}
	if insertedText != "" {
		ops = append(ops, d.seq.LocalInsert(clientID, pos, insertedText)...)
	}
	observers := d.observers
	d.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}
	changes := []TextChange{{Position: pos, DeletedLength: deletedLength, InsertedText: insertedText}}
	for _, fn := range observers {
		fn(clientID, true, changes, ops)
	}
	return ops
}

// SetText replaces the whole document: delete all, then insert. Full-content
// sync path; intentionally not a minimal diff.
func (d *Doc) SetText(clientID int, content string) []Op {
	d.mu.Lock()
	oldLen := d.seq.Len()
	var ops []Op
	if oldLen > 0 {
		ops = append(ops, d.seq.LocalDelete(0, oldLen)...)
	}
	if content != "" {
		ops = append(ops, d.seq.LocalInsert(clientID, 0, content)...)
	}
	observers := d.observers
	d.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}
	changes := []TextChange{{Position: 0, DeletedLength: oldLen, InsertedText: content}}
	for _, fn := range observers {
		fn(clientID, true, changes, ops)
	}
	return ops
}

// ApplyRemote merges ops received from clientID. Ops already seen, or still
// waiting on a dependency, produce no change fan-out.
func (d *Doc) ApplyRemote(clientID int, ops []Op) {
	d.mu.Lock()
	applied := d.seq.Apply(ops...)
	observers := d.observers
	d.mu.Unlock()

	changes := changesFromApplied(applied)
	if len(changes) == 0 {
		return
	}
	for _, fn := range observers {
		fn(clientID, false, changes, ops)
	}
}

// ApplyState merges a full encoded peer state (initial sync, cache restore,
// reconnect resync). The fan-out reports a single whole-document change when
// anything became visible.
func (d *Doc) ApplyState(clientID int, blob []byte) error {
	d.mu.Lock()
	before := d.seq.Text()
	_, err := d.seq.ApplyState(blob)
	after := d.seq.Text()
	observers := d.observers
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if before == after {
		return nil
	}
	changes := []TextChange{{Position: 0, DeletedLength: utf8.RuneCountInString(before), InsertedText: after}}
	for _, fn := range observers {
		fn(clientID, false, changes, nil)
	}
	return nil
}

func (d *Doc) EncodeState() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq.EncodeState()
}

func (d *Doc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq.Text()
}

func (d *Doc) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq.Len()
}

func changesFromApplied(applied []Applied) []TextChange {
	var changes []TextChange
	for _, a := range applied {
		if a.Index < 0 {
			continue
		}
		switch a.Op.Action {
		case Insert:
			changes = append(changes, TextChange{Position: a.Index, InsertedText: a.Op.Value})
		case Delete:
			changes = append(changes, TextChange{Position: a.Index, DeletedLength: 1})
		}
	}
	return changes
}
