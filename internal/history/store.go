// Package history records and restores shallow/deep history snapshots for
// <history> pseudostates, generalizing the teacher's string-keyed
// HistoryManager to operate on *model.StateNode identity and to record
// whole ordered leaf configurations (needed for deep history under parallel
// regions, which a single active-child string cannot represent).
package history

import (
	"sync"

	"github.com/comalice/scxmlrt/model"
)

// Store holds the recorded configuration for every history pseudostate a
// session has exited at least once. One Store belongs to exactly one
// session; it holds no cross-session state, unlike a persistence layer.
type Store struct {
	mu      sync.RWMutex
	shallow map[*model.StateNode][]*model.StateNode
	deep    map[*model.StateNode][]*model.StateNode
}

// New creates an empty history Store.
func New() *Store {
	return &Store{
		shallow: make(map[*model.StateNode][]*model.StateNode),
		deep:    make(map[*model.StateNode][]*model.StateNode),
	}
}

// Record stores the configuration to restore when history is next entered.
// For a ShallowHistory node, active should be the direct children of the
// history's parent that were active. For a DeepHistory node, active should
// be every atomic descendant of the parent that was active.
func (s *Store) Record(history *model.StateNode, active []*model.StateNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := append([]*model.StateNode(nil), active...)
	if history.Type == model.DeepHistory {
		s.deep[history] = snapshot
	} else {
		s.shallow[history] = snapshot
	}
}

// Lookup returns the recorded configuration for history, or ok=false if
// history has never been exited (so its default transition should be used
// instead).
func (s *Store) Lookup(history *model.StateNode) (recorded []*model.StateNode, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var m map[*model.StateNode][]*model.StateNode
	if history.Type == model.DeepHistory {
		m = s.deep
	} else {
		m = s.shallow
	}
	recorded, ok = m[history]
	return
}

// Clear discards every recorded snapshot, used when a session restarts its
// machine from scratch (not on ordinary re-entry, which should see prior
// history).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shallow = make(map[*model.StateNode][]*model.StateNode)
	s.deep = make(map[*model.StateNode][]*model.StateNode)
}

// RecordOnExit records history for every history-type child of each exited
// state, matching W3C SCXML 3.6: whenever a compound state with
// history children is exited, each such history child records either the
// exited state's direct active child (shallow) or every active atomic
// descendant (deep).
func RecordOnExit(store *Store, exiting []*model.StateNode, configurationBeforeExit []*model.StateNode) {
	for _, s := range exiting {
		for _, child := range s.Children {
			if !child.IsHistory() {
				continue
			}
			if child.Type == model.DeepHistory {
				store.Record(child, atomicDescendantsActive(s, configurationBeforeExit))
			} else {
				store.Record(child, directChildrenActive(s, configurationBeforeExit))
			}
		}
	}
}

func directChildrenActive(parent *model.StateNode, configuration []*model.StateNode) []*model.StateNode {
	var out []*model.StateNode
	for _, c := range parent.Children {
		for _, active := range configuration {
			if active == c || active.IsDescendantOf(c) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func atomicDescendantsActive(parent *model.StateNode, configuration []*model.StateNode) []*model.StateNode {
	var out []*model.StateNode
	for _, active := range configuration {
		if active.IsAtomic() && active.IsDescendantOf(parent) {
			out = append(out, active)
		}
	}
	return out
}
