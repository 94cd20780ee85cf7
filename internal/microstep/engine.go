// Package microstep implements the MicrostepEngine (spec.md §4.6): per-step
// event selection, Appendix D.2 conflict resolution, exit/enter set
// computation, executable content, history recording, and done.state
// generation, driven to macrostep completion exactly as spec.md §5's
// run-to-completion model requires. It is the one place the interpreter's
// "select -> exit -> act -> enter" sequence is assembled from the shared
// internal/corealgo helpers. The AOT runtime (aotrt) calls the same helpers
// against a statically compiled transition table and keeps its own copy of
// this sequencing.
package microstep

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/internal/actions"
	"github.com/comalice/scxmlrt/internal/corealgo"
	"github.com/comalice/scxmlrt/internal/history"
	"github.com/comalice/scxmlrt/internal/parallel"
	"github.com/comalice/scxmlrt/internal/queue"
	"github.com/comalice/scxmlrt/internal/script"
	"github.com/comalice/scxmlrt/model"
)

// Hooks lets the owning engine.Session react to states entering/exiting
// during a macrostep without the Engine importing engine (which would
// create an import cycle, since engine.Session owns the Engine). Invoke
// start is deferred to end-of-macrostep per spec.md §4.8; cancellation on
// exit is immediate, both per spec.md §4.6 step 7.
type Hooks interface {
	// DeferInvoke is called at the end of every macrostep, after the
	// configuration has stabilized, for every active state that declares at
	// least one <invoke>, whether or not it was entered in that macrostep;
	// the implementation skips states whose invokes are already started.
	DeferInvoke(state *model.StateNode)
	// CancelInvoke is called immediately, during exit-set processing, for
	// every exited state that declares at least one <invoke>.
	CancelInvoke(state *model.StateNode)
	// Halted is called once, when the document's root <final> is entered.
	Halted()
	// AutoforwardExternal is called with every event taken from the
	// session's external queue (never internal/platform events), so the
	// owning InvokeManager can mirror it to every child invoked with
	// autoforward="true", per spec.md §4.8.
	AutoforwardExternal(ev model.Event)
}

// Engine runs one session's macrostep/microstep loop against a
// *model.Document. One Engine belongs to exactly one session.
type Engine struct {
	doc    *model.Document
	sessionID string
	queues *queue.Queues
	history *history.Store
	exec   *actions.Executor
	host   *script.Host
	hooks  Hooks
	logger zerolog.Logger
	orch   *parallel.Orchestrator

	mu            sync.RWMutex
	configuration map[*model.StateNode]bool
	running       bool
}

// New creates an Engine. Callers must run the document's top-level <script>
// (if any) via host before calling Run, per W3C SCXML 5.3's early-binding
// datamodel initialization order — that is engine.Session's responsibility,
// since it also owns pre-initialized invoke parameters that must be bound
// before the top-level script runs.
func New(doc *model.Document, sessionID string, queues *queue.Queues, hist *history.Store, exec *actions.Executor, host *script.Host, hooks Hooks, logger zerolog.Logger) *Engine {
	return &Engine{
		doc:           doc,
		sessionID:     sessionID,
		queues:        queues,
		history:       hist,
		exec:          exec,
		host:          host,
		hooks:         hooks,
		logger:        logger.With().Str("component", "microstep.Engine").Str("session_id", sessionID).Logger(),
		orch:          parallel.New(),
		configuration: make(map[*model.StateNode]bool),
		running:       true,
	}
}

// Configuration returns a document-order snapshot of the active
// configuration.
func (e *Engine) Configuration() []*model.StateNode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.configSliceLocked()
}

func (e *Engine) configSliceLocked() []*model.StateNode {
	out := make([]*model.StateNode, 0, len(e.configuration))
	for s := range e.configuration {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocOrder < out[j].DocOrder })
	return out
}

// InState reports whether stateID is in the active configuration, backing
// the datamodel's In() function (spec.md §4.1).
func (e *Engine) InState(stateID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for s := range e.configuration {
		if s.ID == stateID {
			return true
		}
	}
	return false
}

// Running reports whether the session's machine has not yet reached its
// root <final>.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) guardEval(expr string) (bool, error) {
	return e.host.EvalBoolean(e.sessionID, expr)
}

func (e *Engine) historyLookup(h *model.StateNode) ([]*model.StateNode, bool) {
	return e.history.Lookup(h)
}

// Run performs initial configuration entry and then the main event loop
// (W3C SCXML interpretation algorithm's mainEventLoop), blocking until the
// session halts (root <final> entered) or ctx is cancelled / the queue is
// closed.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.enterInitialConfiguration(ctx); err != nil {
		return err
	}
	if err := e.finishMacrostep(ctx); err != nil {
		return err
	}

	for e.Running() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := e.queues.Pop(ctx)
		if err != nil {
			return err
		}

		if err := e.host.SetEvent(e.sessionID, ev); err != nil {
			e.logger.Warn().Err(err).Msg("setEvent failed")
		}
		if ev.Kind == model.KindExternal {
			e.hooks.AutoforwardExternal(ev)
		}

		if err := e.microstepForEvent(ctx, ev); err != nil {
			e.logger.Warn().Err(err).Msg("microstep error")
		}
		if err := e.finishMacrostep(ctx); err != nil {
			return err
		}
	}
	return nil
}

// enterInitialConfiguration computes and enters the document's initial
// configuration (root's default descendants, recursively through compound
// and parallel states), per spec.md §3's "every compound state has exactly
// one initial child configuration" invariant.
func (e *Engine) enterInitialConfiguration(ctx context.Context) error {
	synthetic := &model.TransitionNode{}
	targets := map[*model.TransitionNode][]*model.StateNode{synthetic: {e.doc.Root}}
	domains := map[*model.TransitionNode]*model.StateNode{synthetic: nil}
	entrySet := corealgo.ComputeEntrySet([]*model.TransitionNode{synthetic}, targets, domains, e.historyLookup)
	return e.enterStates(ctx, entrySet)
}

// microstepForEvent selects and fires the transitions enabled by ev once,
// then repeatedly fires eventless transitions until none remain, matching
// spec.md §4.6's "repeat microsteps until the configuration is stable"
// requirement for the portion of a macrostep a single queued event starts.
func (e *Engine) microstepForEvent(ctx context.Context, ev model.Event) error {
	fired, err := e.selectAndFire(ctx, ev.Name)
	if err != nil {
		return err
	}
	if !fired {
		return nil
	}
	return e.drainEventless(ctx)
}

// finishMacrostep drains the internal queue (firing any transitions each
// internal event enables) and eventless transitions until both are
// exhausted, then starts any invokes deferred during the macrostep, per
// spec.md §4.8.
func (e *Engine) finishMacrostep(ctx context.Context) error {
	for e.Running() {
		fired, err := e.drainEventlessOnce(ctx)
		if err != nil {
			return err
		}
		if fired {
			continue
		}
		if !e.queues.HasInternal() {
			break
		}
		ev, err := e.queues.Pop(ctx)
		if err != nil {
			return err
		}
		if err := e.host.SetEvent(e.sessionID, ev); err != nil {
			e.logger.Warn().Err(err).Msg("setEvent failed")
		}
		if _, err := e.selectAndFire(ctx, ev.Name); err != nil {
			e.logger.Warn().Err(err).Msg("microstep error")
		}
	}
	e.startDeferredInvokes()
	return nil
}

func (e *Engine) drainEventless(ctx context.Context) error {
	for e.Running() {
		fired, err := e.drainEventlessOnce(ctx)
		if err != nil {
			return err
		}
		if !fired {
			return nil
		}
	}
	return nil
}

func (e *Engine) drainEventlessOnce(ctx context.Context) (bool, error) {
	return e.selectAndFire(ctx, "")
}

// selectAndFire runs one microstep for eventName ("" for the eventless/NULL
// pass): select enabled transitions, compute exit/enter sets, run actions,
// update the configuration. Returns fired=false if no transition was
// enabled, in which case the configuration is unchanged.
func (e *Engine) selectAndFire(ctx context.Context, eventName string) (bool, error) {
	e.mu.RLock()
	config := e.configSliceLocked()
	e.mu.RUnlock()

	selected, err := corealgo.SelectTransitions(config, eventName, e.guardEval)
	if err != nil {
		e.raiseExecutionError(err)
		return false, nil
	}
	if len(selected) == 0 {
		return false, nil
	}

	e.fireTransitions(ctx, selected, config)
	return true, nil
}

func (e *Engine) fireTransitions(ctx context.Context, selected []*model.TransitionNode, config []*model.StateNode) {
	rawTargets := make(map[*model.TransitionNode][]*model.StateNode, len(selected))
	domains := make(map[*model.TransitionNode]*model.StateNode, len(selected))
	entryTargets := make(map[*model.TransitionNode][]*model.StateNode, len(selected))
	var preActions []model.Action

	for _, t := range selected {
		raw := e.resolveTargets(t)
		rawTargets[t] = raw
		domains[t] = corealgo.TransitionDomainResolved(t.Source, raw, t.Type)

		var expanded []*model.StateNode
		for _, target := range raw {
			if target.IsHistory() {
				sub, acts := e.expandHistoryTarget(target)
				expanded = append(expanded, sub...)
				preActions = append(preActions, acts...)
			} else {
				expanded = append(expanded, target)
			}
		}
		entryTargets[t] = expanded
	}

	exitSet := corealgo.ComputeExitSet(config, selected, domains)

	e.mu.Lock()
	beforeExit := e.configSliceLocked()
	history.RecordOnExit(e.history, exitSet, beforeExit)
	for _, s := range exitSet {
		delete(e.configuration, s)
	}
	e.mu.Unlock()

	for _, s := range exitSet {
		e.exec.RunAll(ctx, s.OnExit)
		if len(s.Invokes) > 0 {
			e.hooks.CancelInvoke(s)
		}
	}

	for _, t := range selected {
		e.exec.RunAll(ctx, t.Actions)
	}
	if len(preActions) > 0 {
		e.exec.RunAll(ctx, preActions)
	}

	entrySet := corealgo.ComputeEntrySet(selected, entryTargets, domains, e.historyLookup)
	e.enterStates(ctx, entrySet)
}

// resolveTargets resolves a transition's raw (possibly history-pseudostate)
// target ids to nodes, for domain computation.
func (e *Engine) resolveTargets(t *model.TransitionNode) []*model.StateNode {
	out := make([]*model.StateNode, 0, len(t.Targets))
	for _, id := range t.Targets {
		s, err := e.doc.FindState(id)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// expandHistoryTarget substitutes a history pseudostate target with its
// recorded configuration (if any) or, recursively, its default transition's
// targets and actions (W3C SCXML 3.6: "including any executable content on
// that transition"). When a record exists, the history node itself is kept
// in the returned set so ComputeEntrySet's own history-lookup branch
// restores the recorded descendants.
func (e *Engine) expandHistoryTarget(h *model.StateNode) ([]*model.StateNode, []model.Action) {
	if _, ok := e.history.Lookup(h); ok {
		return []*model.StateNode{h}, nil
	}
	if len(h.Transitions) == 0 {
		return nil, nil
	}
	def := h.Transitions[0]
	var states []*model.StateNode
	var acts []model.Action
	acts = append(acts, def.Actions...)
	for _, id := range def.Targets {
		s, err := e.doc.FindState(id)
		if err != nil {
			continue
		}
		if s.IsHistory() {
			sub, subActs := e.expandHistoryTarget(s)
			states = append(states, sub...)
			acts = append(acts, subActs...)
		} else {
			states = append(states, s)
		}
	}
	return states, acts
}

// enterStates activates entrySet (already in document order), runs each
// state's onentry actions, and handles done.state generation and root-final
// halting, per spec.md §4.6 step 6.
func (e *Engine) enterStates(ctx context.Context, entrySet []*model.StateNode) error {
	for _, s := range entrySet {
		e.mu.Lock()
		alreadyActive := e.configuration[s]
		e.configuration[s] = true
		e.mu.Unlock()
		if alreadyActive {
			continue
		}

		e.exec.RunAll(ctx, s.OnEntry)

		if s.IsFinal() {
			e.handleFinalEntered(s)
		}
	}
	return nil
}

func (e *Engine) handleFinalEntered(final *model.StateNode) {
	if final.Parent == nil {
		return
	}
	if final.Parent == e.doc.Root {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		e.hooks.Halted()
		return
	}

	data := e.evalDoneData(final)
	_ = e.queues.PushInternal(model.DoneStateEvent(final.Parent.ID, data))

	for anc := final.Parent.Parent; anc != nil; anc = anc.Parent {
		if !anc.IsParallel() {
			continue
		}
		if e.orch.Done(anc, e.Configuration()) {
			_ = e.queues.PushInternal(model.DoneStateEvent(anc.ID, nil))
		}
	}
}

func (e *Engine) evalDoneData(final *model.StateNode) any {
	if final.DoneData == nil {
		return nil
	}
	if final.DoneData.Content != "" {
		v, err := e.host.EvalExpression(e.sessionID, final.DoneData.Content)
		if err != nil {
			e.raiseExecutionError(err)
			return nil
		}
		return v
	}
	if len(final.DoneData.Params) == 0 {
		return nil
	}
	data := make(map[string]any, len(final.DoneData.Params))
	for _, p := range final.DoneData.Params {
		expr := p.Expr
		if expr == "" {
			expr = p.Location
		}
		if expr == "" {
			continue
		}
		v, err := e.host.EvalExpression(e.sessionID, expr)
		if err != nil {
			e.raiseExecutionError(err)
			continue
		}
		data[p.Name] = v
	}
	return data
}

func (e *Engine) raiseExecutionError(cause error) {
	_ = e.queues.PushInternal(model.NewErrorEvent(model.ErrorExecution, cause))
}

// startDeferredInvokes invokes Hooks.DeferInvoke for every currently active
// state that declares at least one <invoke>. engine.Session's InvokeManager
// tracks which invokes have already been started and is idempotent, so
// calling this once per finished macrostep (rather than tracking a
// per-macrostep "newly entered" set here) is sufficient and keeps Engine
// free of invoke bookkeeping.
func (e *Engine) startDeferredInvokes() {
	for _, s := range e.Configuration() {
		if len(s.Invokes) > 0 {
			e.hooks.DeferInvoke(s)
		}
	}
}
