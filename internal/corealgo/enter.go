package corealgo

import (
	"sort"

	"github.com/comalice/scxmlrt/model"
)

// HistoryLookup resolves the recorded configuration for a history
// pseudostate, returning ok=false if nothing has been recorded yet (in
// which case the history node's own default transition should be used).
// Implemented by internal/history so this package stays free of a storage
// dependency.
type HistoryLookup func(history *model.StateNode) (recorded []*model.StateNode, ok bool)

// ComputeEntrySet expands the raw target set of a batch of transitions into
// the full ordered list of states to enter: ancestors up to each
// transition's domain, each target itself, and — recursively — the default
// initial descendants of any compound/parallel state entered without a more
// specific descendant already in the set. Returned in document order, the
// order OnEntry actions and done.state generation must observe.
func ComputeEntrySet(transitions []*model.TransitionNode, targets map[*model.TransitionNode][]*model.StateNode, domains map[*model.TransitionNode]*model.StateNode, history HistoryLookup) []*model.StateNode {
	set := map[*model.StateNode]bool{}
	var order []*model.StateNode
	add := func(s *model.StateNode) {
		if s != nil && !set[s] {
			set[s] = true
			order = append(order, s)
		}
	}

	for _, t := range transitions {
		domain := domains[t]
		for _, target := range targets[t] {
			addAncestorsInDomain(target, domain, add)
			addDescendants(target, add, history)
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i].DocOrder < order[j].DocOrder })
	return order
}

// addAncestorsInDomain adds target and every proper ancestor of target up
// to (but not including) domain.
func addAncestorsInDomain(target, domain *model.StateNode, add func(*model.StateNode)) {
	add(target)
	for p := target.Parent; p != nil && p != domain; p = p.Parent {
		add(p)
	}
}

// addDescendants adds the default-initial (or history-recorded) descendants
// of target, recursively, so that entering a compound or parallel state
// always yields a full path down to one or more atomic states.
func addDescendants(target *model.StateNode, add func(*model.StateNode), history HistoryLookup) {
	switch {
	case target.IsHistory():
		if recorded, ok := history(target); ok {
			for _, s := range recorded {
				add(s)
				addAncestorsBetween(s, target.Parent, add)
				addDescendants(s, add, history)
			}
			return
		}
		// No recorded configuration: the caller is expected to have already
		// substituted the history node's default transition target into the
		// transitions/targets maps before invoking ComputeEntrySet, per
		// model.Document's validation that every history state carries
		// exactly one default transition.
	case target.IsParallel():
		for _, region := range target.Children {
			add(region)
			addDescendants(region, add, history)
		}
	case target.IsCompound():
		child := target.InitialChild()
		if child != nil {
			add(child)
			addDescendants(child, add, history)
		}
	}
}

// addAncestorsBetween adds every ancestor of s strictly between s and stop
// (exclusive of stop, inclusive of s's direct parents up to stop).
func addAncestorsBetween(s, stop *model.StateNode, add func(*model.StateNode)) {
	for p := s.Parent; p != nil && p != stop; p = p.Parent {
		add(p)
	}
}

// IsInFinalConfiguration reports whether every child region of parallel has
// at least one active Final descendant in configuration, the condition that
// triggers done.state.<parallel.ID> generation (W3C SCXML 3.7, extended to
// parallel per the runtime's semantics).
func IsInFinalConfiguration(parallel *model.StateNode, configuration []*model.StateNode) bool {
	active := map[*model.StateNode]bool{}
	for _, s := range configuration {
		active[s] = true
	}
	for _, region := range parallel.Children {
		if !regionDone(region, active) {
			return false
		}
	}
	return true
}

func regionDone(region *model.StateNode, active map[*model.StateNode]bool) bool {
	for s := range active {
		if s.IsFinal() && s.IsDescendantOf(region) {
			return true
		}
	}
	return false
}
