// Package aotrt is the support runtime an ahead-of-time code generator's
// output links against (the generator itself is out of scope, per spec.md
// §1). A generated machine supplies a *model.Document whose guards and
// executable content are backed by compiled Go closures instead of
// ECMAScript source — the Tables type below — and aotrt drives it
// with exactly the same internal/corealgo helpers internal/microstep uses,
// satisfying spec.md §9's zero-duplication constraint: conflict resolution,
// exit/enter set computation, delay parsing and event matching live in
// exactly one file (internal/corealgo) for both execution strategies.
//
// What aotrt does NOT share with internal/microstep is the thin step
// sequencing glue (select -> exit -> act -> enter): the AOT path skips
// internal/script and internal/actions entirely (a generated machine's
// conditions/content are native code, not source text to interpret), so it
// re-assembles that sequencing against Tables.Guards/Tables.Actions rather than
// against script.Host/actions.Executor. See DESIGN.md for why this ~100
// line sequencing duplication was accepted rather than forcing
// internal/microstep.Engine to depend on an interface satisfied by both a
// *script.Host and a compiled table.
package aotrt

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/internal/corealgo"
	"github.com/comalice/scxmlrt/internal/history"
	"github.com/comalice/scxmlrt/internal/parallel"
	"github.com/comalice/scxmlrt/internal/queue"
	"github.com/comalice/scxmlrt/internal/scheduler"
	"github.com/comalice/scxmlrt/model"
)

// Guard is a compiled <transition cond="..."> predicate, keyed in Tables.Guards
// by the same string corealgo.SelectTransitions would otherwise hand to an
// ECMAScript evaluator — for a generated machine that string is an opaque
// lookup key the generator itself chose (e.g. "t3"), not source text.
type Guard func(ctx *Context) (bool, error)

// ActionFunc is a compiled piece of executable content.
type ActionFunc func(ctx *Context) error

// Tables holds every compiled guard and action a generated Document's
// TransitionNode.Cond / state OnEntry/OnExit/Actions keys resolve to. A code
// generator emits one literal Tables value per machine alongside the
// *model.Document describing its structure.
type Tables struct {
	Guards  map[string]Guard
	Actions map[string]ActionFunc
}

// Context is passed to every compiled Guard/ActionFunc, giving generated
// code the same primitives ECMAScript executable content gets from
// internal/script and internal/actions: raising events, sending, assigning
// to the machine's compiled data fields (left to the generator's own
// closure capture, not modeled here), and reading In().
type Context struct {
	SessionID string
	Event      model.Event
	Queues     *queue.Queues
	Scheduler  *scheduler.Scheduler
	InState    func(stateID string) bool
}

// Hooks mirrors microstep.Hooks, letting a compiled machine's owner react to
// invoke/halt lifecycle events without aotrt depending on engine.
type Hooks interface {
	DeferInvoke(state *model.StateNode)
	CancelInvoke(state *model.StateNode)
	Halted()
	AutoforwardExternal(ev model.Event)
}

// Runtime drives one compiled machine instance. Its Run loop is structurally
// identical to microstep.Engine.Run; only guard/action evaluation differs.
type Runtime struct {
	doc       *model.Document
	sessionID string
	tables    Tables
	queues    *queue.Queues
	history   *history.Store
	scheduler *scheduler.Scheduler
	hooks     Hooks
	logger    zerolog.Logger

	orch *parallel.Orchestrator

	mu            sync.RWMutex
	configuration map[*model.StateNode]bool
	running       bool
}

// New creates a Runtime for one compiled machine instance.
func New(doc *model.Document, sessionID string, tables Tables, queues *queue.Queues, hist *history.Store, sched *scheduler.Scheduler, hooks Hooks, logger zerolog.Logger) *Runtime {
	return &Runtime{
		doc:           doc,
		sessionID:     sessionID,
		tables:        tables,
		queues:        queues,
		history:       hist,
		scheduler:     sched,
		hooks:         hooks,
		logger:        logger.With().Str("component", "aotrt.Runtime").Str("session_id", sessionID).Logger(),
		orch:          parallel.New(),
		configuration: make(map[*model.StateNode]bool),
		running:       true,
	}
}

func (r *Runtime) Configuration() []*model.StateNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configSliceLocked()
}

func (r *Runtime) configSliceLocked() []*model.StateNode {
	out := make([]*model.StateNode, 0, len(r.configuration))
	for s := range r.configuration {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocOrder < out[j].DocOrder })
	return out
}

func (r *Runtime) InState(stateID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for s := range r.configuration {
		if s.ID == stateID {
			return true
		}
	}
	return false
}

func (r *Runtime) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *Runtime) newContext(ev model.Event) *Context {
	return &Context{SessionID: r.sessionID, Event: ev, Queues: r.queues, Scheduler: r.scheduler, InState: r.InState}
}

func (r *Runtime) guardEval(key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	g, ok := r.tables.Guards[key]
	if !ok {
		return false, nil
	}
	return g(r.newContext(model.Event{}))
}

func (r *Runtime) historyLookup(h *model.StateNode) ([]*model.StateNode, bool) {
	return r.history.Lookup(h)
}

func (r *Runtime) runAction(key string, ev model.Event) error {
	fn, ok := r.tables.Actions[key]
	if !ok {
		return nil
	}
	return fn(r.newContext(ev))
}

// Run mirrors microstep.Engine.Run: enter the initial configuration, then
// loop popping events and firing transitions to macrostep completion.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.enterInitial(ctx); err != nil {
		return err
	}
	if err := r.finishMacrostep(ctx); err != nil {
		return err
	}
	for r.Running() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		ev, err := r.queues.Pop(ctx)
		if err != nil {
			return err
		}
		if ev.Kind == model.KindExternal {
			r.hooks.AutoforwardExternal(ev)
		}
		if err := r.microstepForEvent(ctx, ev); err != nil {
			r.logger.Warn().Err(err).Msg("microstep error")
		}
		if err := r.finishMacrostep(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) enterInitial(ctx context.Context) error {
	synthetic := &model.TransitionNode{}
	targets := map[*model.TransitionNode][]*model.StateNode{synthetic: {r.doc.Root}}
	domains := map[*model.TransitionNode]*model.StateNode{synthetic: nil}
	entrySet := corealgo.ComputeEntrySet([]*model.TransitionNode{synthetic}, targets, domains, r.historyLookup)
	return r.enterStates(ctx, entrySet, model.Event{})
}

func (r *Runtime) microstepForEvent(ctx context.Context, ev model.Event) error {
	fired, err := r.selectAndFire(ctx, ev)
	if err != nil {
		return err
	}
	if !fired {
		return nil
	}
	return r.drainEventless(ctx)
}

func (r *Runtime) finishMacrostep(ctx context.Context) error {
	for r.Running() {
		fired, err := r.selectAndFire(ctx, model.Event{})
		if err != nil {
			return err
		}
		if fired {
			continue
		}
		if !r.queues.HasInternal() {
			break
		}
		ev, err := r.queues.Pop(ctx)
		if err != nil {
			return err
		}
		if _, err := r.selectAndFire(ctx, ev); err != nil {
			r.logger.Warn().Err(err).Msg("microstep error")
		}
	}
	r.startDeferredInvokes()
	return nil
}

func (r *Runtime) drainEventless(ctx context.Context) error {
	for r.Running() {
		fired, err := r.selectAndFire(ctx, model.Event{})
		if err != nil {
			return err
		}
		if !fired {
			return nil
		}
	}
	return nil
}

func (r *Runtime) selectAndFire(ctx context.Context, ev model.Event) (bool, error) {
	r.mu.RLock()
	config := r.configSliceLocked()
	r.mu.RUnlock()

	selected, err := corealgo.SelectTransitions(config, ev.Name, r.guardEval)
	if err != nil {
		_ = r.queues.PushInternal(model.NewErrorEvent(model.ErrorExecution, err))
		return false, nil
	}
	if len(selected) == 0 {
		return false, nil
	}
	r.fireTransitions(ctx, selected, config, ev)
	return true, nil
}

func (r *Runtime) fireTransitions(ctx context.Context, selected []*model.TransitionNode, config []*model.StateNode, ev model.Event) {
	rawTargets := make(map[*model.TransitionNode][]*model.StateNode, len(selected))
	domains := make(map[*model.TransitionNode]*model.StateNode, len(selected))
	for _, t := range selected {
		raw := r.resolveTargets(t)
		rawTargets[t] = raw
		domains[t] = corealgo.TransitionDomainResolved(t.Source, raw, t.Type)
	}

	exitSet := corealgo.ComputeExitSet(config, selected, domains)

	r.mu.Lock()
	beforeExit := r.configSliceLocked()
	history.RecordOnExit(r.history, exitSet, beforeExit)
	for _, s := range exitSet {
		delete(r.configuration, s)
	}
	r.mu.Unlock()

	for _, s := range exitSet {
		r.runActions(s.OnExit, ev)
		if len(s.Invokes) > 0 {
			r.hooks.CancelInvoke(s)
		}
	}
	for _, t := range selected {
		r.runActions(t.Actions, ev)
	}

	entrySet := corealgo.ComputeEntrySet(selected, rawTargets, domains, r.historyLookup)
	_ = r.enterStates(ctx, entrySet, ev)
}

// runActions runs compiled actions keyed by a model.Script action's Source
// field, treated by the AOT path as an opaque Tables.Actions key rather than
// ECMAScript source — the same repurposing Tables.Guards does for Cond.
func (r *Runtime) runActions(acts []model.Action, ev model.Event) {
	for _, a := range acts {
		script, ok := a.(model.Script)
		if !ok {
			continue
		}
		if err := r.runAction(script.Source, ev); err != nil {
			_ = r.queues.PushInternal(model.NewErrorEvent(model.ErrorExecution, err))
		}
	}
}

func (r *Runtime) resolveTargets(t *model.TransitionNode) []*model.StateNode {
	out := make([]*model.StateNode, 0, len(t.Targets))
	for _, id := range t.Targets {
		s, err := r.doc.FindState(id)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *Runtime) enterStates(ctx context.Context, entrySet []*model.StateNode, ev model.Event) error {
	for _, s := range entrySet {
		r.mu.Lock()
		already := r.configuration[s]
		r.configuration[s] = true
		r.mu.Unlock()
		if already {
			continue
		}
		r.runActions(s.OnEntry, ev)
		if s.IsFinal() {
			r.handleFinalEntered(s)
		}
	}
	return nil
}

func (r *Runtime) handleFinalEntered(final *model.StateNode) {
	if final.Parent == nil {
		return
	}
	if final.Parent == r.doc.Root {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		r.hooks.Halted()
		return
	}
	_ = r.queues.PushInternal(model.DoneStateEvent(final.Parent.ID, nil))
	for anc := final.Parent.Parent; anc != nil; anc = anc.Parent {
		if !anc.IsParallel() {
			continue
		}
		if r.orch.Done(anc, r.Configuration()) {
			_ = r.queues.PushInternal(model.DoneStateEvent(anc.ID, nil))
		}
	}
}

func (r *Runtime) startDeferredInvokes() {
	for _, s := range r.Configuration() {
		if len(s.Invokes) > 0 {
			r.hooks.DeferInvoke(s)
		}
	}
}
