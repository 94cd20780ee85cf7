// Package parallel implements the three broadcast scopes W3C SCXML <parallel>
// regions use and the done.state.<id> completion check, grounded on
// original_source/rsm's ConcurrentEventBroadcaster / ParallelRegionOrchestrator
// (SPEC_FULL.md §C.2). The region-entry/exit set computation itself lives in
// internal/corealgo (shared with the interpreter's non-parallel path, per
// spec.md §9's zero-duplication constraint); this package only adds the
// parallel-specific broadcast and completion-detection behavior the
// MicrostepEngine calls into for a <parallel> state.
package parallel

import (
	"github.com/comalice/scxmlrt/internal/corealgo"
	"github.com/comalice/scxmlrt/model"
)

// Orchestrator answers questions about one <parallel> state's regions
// against a session's live configuration. It holds no state of its own —
// the configuration is supplied per call by the owning MicrostepEngine,
// which is the sole writer of a session's active configuration.
type Orchestrator struct{}

// New creates an Orchestrator.
func New() *Orchestrator { return &Orchestrator{} }

// Regions returns the immediate region children of a <parallel> state, in
// document order.
func (o *Orchestrator) Regions(p *model.StateNode) []*model.StateNode {
	return p.Children
}

// BroadcastAll returns every state in configuration that is p itself or a
// descendant of p (so every active state of p's regions, plus p) — the
// "all active" scope.
func (o *Orchestrator) BroadcastAll(p *model.StateNode, configuration []*model.StateNode) []*model.StateNode {
	var out []*model.StateNode
	for _, s := range configuration {
		if s.IsDescendantOf(p) || s == p {
			out = append(out, s)
		}
	}
	return out
}

// BroadcastTo narrows BroadcastAll's result to only the named region ids —
// the "explicitly selected ids" scope. p itself belongs to no region and is
// never returned.
func (o *Orchestrator) BroadcastTo(p *model.StateNode, configuration []*model.StateNode, regionIDs map[string]bool) []*model.StateNode {
	var out []*model.StateNode
	for _, s := range o.BroadcastAll(p, configuration) {
		for _, region := range p.Children {
			if s == region || s.IsDescendantOf(region) {
				if regionIDs[region.ID] {
					out = append(out, s)
				}
				break
			}
		}
	}
	return out
}

// BroadcastIf narrows BroadcastAll's result to states for which pred
// returns true — the "conditional via predicate" scope.
func (o *Orchestrator) BroadcastIf(p *model.StateNode, configuration []*model.StateNode, pred func(*model.StateNode) bool) []*model.StateNode {
	var out []*model.StateNode
	for _, s := range o.BroadcastAll(p, configuration) {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

// Done reports whether every region of p has an active Final descendant in
// configuration — the trigger condition for done.state.<p.ID>, per spec.md
// §4.7. Delegates to corealgo so the interpreter and AOT runtime share
// exactly one completion rule.
func (o *Orchestrator) Done(p *model.StateNode, configuration []*model.StateNode) bool {
	return corealgo.IsInFinalConfiguration(p, configuration)
}
