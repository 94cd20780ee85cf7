package corealgo

import (
	"sort"
	"strings"

	"github.com/comalice/scxmlrt/model"
)

// MatchEvent reports whether eventName is matched by descriptor, per W3C
// SCXML event-name matching: a descriptor is a dot-separated prefix of the
// event name, optionally ending in ".*" or the bare wildcard "*" which
// matches everything. "error" as a descriptor matches "error" and
// "error.execution" etc. but not "errorish".
func MatchEvent(descriptor, eventName string) bool {
	if descriptor == "*" {
		return true
	}
	descriptor = strings.TrimSuffix(descriptor, ".*")
	if descriptor == eventName {
		return true
	}
	return strings.HasPrefix(eventName, descriptor+".")
}

// MatchesAny reports whether eventName matches any of descriptors.
func MatchesAny(descriptors []string, eventName string) bool {
	for _, d := range descriptors {
		if MatchEvent(d, eventName) {
			return true
		}
	}
	return false
}

// GuardEval evaluates a transition's guard expression against the session's
// datamodel. Supplied by the caller (internal/microstep) so this package
// stays free of a script-host dependency, matching the teacher's
// GuardEvaluator indirection.
type GuardEval func(expr string) (bool, error)

// SelectTransitions returns the set of transitions enabled in configuration
// for eventName (empty string means the eventless/NULL selection pass),
// applying W3C SCXML Appendix D.2 conflict resolution: for each atomic state
// in the configuration, in document order, walk up from the atomic state to
// its ancestors taking the first transition whose guard passes; a state
// already claimed by a transition selected for one of its descendants is
// skipped, so a child's transition always pre-empts a parent's for the same
// event.
func SelectTransitions(configuration []*model.StateNode, eventName string, guard GuardEval) ([]*model.TransitionNode, error) {
	atomic := atomicStatesInDocOrder(configuration)
	var selected []*model.TransitionNode
	claimed := make(map[*model.StateNode]bool)

	for _, s := range atomic {
		if claimed[s] {
			continue
		}
		for cur := s; cur != nil; cur = cur.Parent {
			if claimed[cur] {
				break
			}
			t, err := firstEnabled(cur.Transitions, eventName, guard)
			if err != nil {
				return nil, err
			}
			if t != nil {
				selected = append(selected, t)
				markClaimed(cur, configuration, claimed)
				break
			}
		}
	}
	return removeConflicting(selected), nil
}

func firstEnabled(transitions []*model.TransitionNode, eventName string, guard GuardEval) (*model.TransitionNode, error) {
	for _, t := range transitions {
		if eventName == "" {
			if !t.IsEventless() {
				continue
			}
		} else {
			if t.IsEventless() || !MatchesAny(t.Events, eventName) {
				continue
			}
		}
		if t.Cond == "" {
			return t, nil
		}
		ok, err := guard(t.Cond)
		if err != nil {
			return nil, err
		}
		if ok {
			return t, nil
		}
	}
	return nil, nil
}

// markClaimed marks cur and every active descendant of cur (within
// configuration) as claimed, so no other atomic state's walk re-selects a
// transition from an ancestor whose domain already covers them.
func markClaimed(cur *model.StateNode, configuration []*model.StateNode, claimed map[*model.StateNode]bool) {
	claimed[cur] = true
	for _, s := range configuration {
		if s.IsDescendantOf(cur) {
			claimed[s] = true
		}
	}
}

// removeConflicting drops transitions whose exit sets overlap with a
// higher-priority (earlier document order, or from a more deeply nested
// source) transition's exit set, per Appendix D.2 step 2's final filter.
// Because markClaimed already prevents two transitions from sharing a
// descendant relationship on the source side, the remaining possible
// conflict is between unrelated transitions whose exit sets happen to
// overlap through a shared LCCA; such configurations do not arise from
// SelectTransitions's per-atomic-state walk, so this is a defensive no-op
// filter kept for parity with the reference algorithm's structure.
func removeConflicting(selected []*model.TransitionNode) []*model.TransitionNode {
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Source.DocOrder < selected[j].Source.DocOrder
	})
	return selected
}

// atomicStatesInDocOrder returns the atomic (leaf) states of configuration,
// sorted by document order.
func atomicStatesInDocOrder(configuration []*model.StateNode) []*model.StateNode {
	var out []*model.StateNode
	for _, s := range configuration {
		if s.IsAtomic() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocOrder < out[j].DocOrder })
	return out
}

// FindLCCA returns the Least Common Compound Ancestor of states: the
// nearest ancestor (or one of the states itself, if it is a Compound or the
// document root) that is either Compound or the root, and is an ancestor of
// every state in the set. Used to compute a transition's domain (the set of
// states that may be exited/entered) when it has multiple targets, per W3C
// SCXML 3.13.
func FindLCCA(states []*model.StateNode) *model.StateNode {
	if len(states) == 0 {
		return nil
	}
	candidates := properAncestorsOrSelf(states[0])
	for _, c := range candidates {
		if !c.IsCompound() && c.Parent != nil {
			continue
		}
		all := true
		for _, s := range states[1:] {
			if s != c && !s.IsDescendantOf(c) {
				all = false
				break
			}
		}
		if all {
			return c
		}
	}
	return nil
}

// properAncestorsOrSelf returns s and its ancestors, innermost first.
func properAncestorsOrSelf(s *model.StateNode) []*model.StateNode {
	out := []*model.StateNode{s}
	out = append(out, s.Ancestors()...)
	return out
}

// TransitionDomainResolved computes a transition's domain (the LCCA of its
// source and targets) from its already resolved source and target nodes,
// per W3C SCXML's getTransitionDomain. typ distinguishes internal from
// external transitions: only a `type="internal"` transition can collapse
// the domain to source itself (§4.6 step 4); an external transition always
// exits through its LCCA, even when every target is a descendant of a
// compound source.
func TransitionDomainResolved(source *model.StateNode, targets []*model.StateNode, typ model.TransitionType) *model.StateNode {
	if len(targets) == 0 {
		return nil
	}
	if t, ok := hasSourceCompoundDescendantFor(source, targets, typ); ok {
		return t
	}
	// Otherwise the domain is the nearest compound (or root) proper ancestor
	// of source containing every target, so source itself is exited.
	for _, anc := range source.Ancestors() {
		if !anc.IsCompound() && anc.Parent != nil {
			continue
		}
		all := true
		for _, t := range targets {
			if !t.IsDescendantOf(anc) {
				all = false
				break
			}
		}
		if all {
			return anc
		}
	}
	all := append([]*model.StateNode{source}, targets...)
	return FindLCCA(all)
}

// hasSourceCompoundDescendantFor implements the internal-transition special
// case (W3C SCXML 3.13): if the transition is internal, source is compound,
// and every target is source itself or a proper descendant of it, the
// domain is source itself rather than an ancestor, so the source state is
// not exited. An external transition (the default type) never takes this
// branch, even when its targets are all descendants of source.
func hasSourceCompoundDescendantFor(source *model.StateNode, targets []*model.StateNode, typ model.TransitionType) (*model.StateNode, bool) {
	if typ != model.Internal {
		return nil, false
	}
	if !source.IsCompound() {
		return nil, false
	}
	for _, t := range targets {
		if t != source && !t.IsDescendantOf(source) {
			return nil, false
		}
	}
	return source, true
}

// ComputeExitSet returns the states to exit for the given transitions out of
// configuration, in reverse document order (deepest/most-recently-entered
// first), the order W3C SCXML mandates OnExit actions run in.
func ComputeExitSet(configuration []*model.StateNode, transitions []*model.TransitionNode, domains map[*model.TransitionNode]*model.StateNode) []*model.StateNode {
	set := map[*model.StateNode]bool{}
	for _, t := range transitions {
		if t.Type == model.Internal && t.IsTargetless() {
			continue
		}
		domain := domains[t]
		if domain == nil {
			continue
		}
		for _, s := range configuration {
			if s.IsDescendantOf(domain) {
				set[s] = true
			}
		}
	}
	out := make([]*model.StateNode, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocOrder > out[j].DocOrder })
	return out
}
