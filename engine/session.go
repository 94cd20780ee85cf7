package engine

import (
	"context"
	"errors"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/internal/actions"
	"github.com/comalice/scxmlrt/internal/history"
	"github.com/comalice/scxmlrt/internal/microstep"
	"github.com/comalice/scxmlrt/internal/queue"
	"github.com/comalice/scxmlrt/internal/scheduler"
	"github.com/comalice/scxmlrt/internal/script"
	"github.com/comalice/scxmlrt/model"
)

// Session is one running state machine instance: the SessionRegistry's unit
// of lifecycle (spec.md §2/§3). It wires together the per-session pieces
// (queues, history, scheduler, executor, microstep engine) against the
// process-wide shared pieces its owning Registry holds (script host,
// dispatcher, invoke manager). The narrow interfaces those pieces call back
// through are implemented by hooksAdapter (microstep.Hooks) and by the
// Registry (dispatch.Router, dispatch.InvokeLinks, invoke.SessionFactory).
type Session struct {
	ID  string
	Doc *model.Document

	Queues     *queue.Queues
	History    *history.Store
	Scheduler  *scheduler.Scheduler
	Executor   *actions.Executor
	Logger     zerolog.Logger

	registry *Registry
	engine   *microstep.Engine

	ctx    context.Context
	cancel context.CancelFunc
	halted chan struct{}
}

// newSession allocates a Session's per-session resources and wires its
// microstep.Engine, but does not start it running — callers (Registry.Create)
// still need to bind invoke parameters and run the document's top-level
// script first, per W3C SCXML 5.3's initialization order.
func newSession(parentCtx context.Context, registry *Registry, id string, doc *model.Document, clk clock.Clock) *Session {
	ctx, cancel := context.WithCancel(parentCtx)
	logger := registry.logger.With().Str("session_id", id).Logger()

	s := &Session{
		ID:       id,
		Doc:      doc,
		Queues:   queue.New(registry.cfg.ExternalQueueCapacity),
		History:  history.New(),
		Scheduler: scheduler.New(clk),
		Logger:   logger,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
		halted:   make(chan struct{}),
	}

	s.Executor = &actions.Executor{
		SessionID:  id,
		Host:       registry.host,
		Queues:     s.Queues,
		Scheduler:  s.Scheduler,
		Dispatcher: registry.dispatcher,
		Logger:     logger,
	}
	s.engine = microstep.New(doc, id, s.Queues, s.History, s.Executor, registry.host, hooksAdapter{s}, logger)
	return s
}

// InState reports whether stateID is in the session's active configuration,
// backing the datamodel's In() predicate (wired at CreateSession time).
func (s *Session) InState(stateID string) bool {
	return s.engine.InState(stateID)
}

// Configuration returns the session's current active configuration in
// document order.
func (s *Session) Configuration() []*model.StateNode {
	return s.engine.Configuration()
}

// Start runs the session's microstep loop in its own goroutine, plus its
// own scheduler's delivery loop. Returns once both goroutines have been
// launched; use Halted() to wait for the machine to reach its root <final>.
func (s *Session) Start() {
	go s.Scheduler.Run()
	go s.run()
}

func (s *Session) run() {
	if err := s.engine.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.Logger.Warn().Err(err).Msg("session run loop ended with error")
	}
}

// Halted returns a channel closed once the session's machine reaches its
// document root <final> state (spec.md §4.6's halting condition).
func (s *Session) Halted() <-chan struct{} {
	return s.halted
}

// Send delivers an externally originated event to the session, per spec.md
// §2's "external events enter through the session's external queue" entry
// point (used by the demo CLI and by any out-of-process I/O processor).
func (s *Session) Send(ctx context.Context, ev model.Event) error {
	return s.Queues.PushExternal(ctx, ev)
}

// --- microstep.Hooks ---

// deferInvoke backs hooksAdapter.DeferInvoke, starting any not-yet-started
// <invoke> on state via the Registry's shared InvokeManager.
func (s *Session) deferInvoke(state *model.StateNode) {
	s.registry.invokes.StartInvokesForState(s.ctx, s.ID, state)
}

// cancelInvoke backs hooksAdapter.CancelInvoke.
func (s *Session) cancelInvoke(state *model.StateNode) {
	s.registry.invokes.CancelInvokesForState(s.ID, state)
}

// onHalted implements microstep.Hooks, closing Halted()'s channel and
// retiring the session from the Registry once its machine reaches the
// document root <final>, per spec.md §3's Lifecycle section.
func (s *Session) onHalted() {
	close(s.halted)
	s.Logger.Info().Msg("session halted")
	s.registry.Destroy(s.ID)
}

// onAutoforwardExternal implements microstep.Hooks, mirroring ev to every
// child invoked with autoforward="true" (W3C SCXML 6.4).
func (s *Session) onAutoforwardExternal(ev model.Event) {
	ids := s.registry.invokes.AutoforwardIDs(s.ID)
	if len(ids) == 0 {
		return
	}
	s.registry.dispatcher.Autoforward(s.ID, ids, ev)
}

// hooksAdapter satisfies microstep.Hooks by forwarding to Session's
// unexported methods, keeping those names out of Session's public surface
// (a Session is not itself meant to be driven as a Hooks value by callers
// outside this package).
type hooksAdapter struct{ s *Session }

func (h hooksAdapter) DeferInvoke(state *model.StateNode)    { h.s.deferInvoke(state) }
func (h hooksAdapter) CancelInvoke(state *model.StateNode)   { h.s.cancelInvoke(state) }
func (h hooksAdapter) Halted()                               { h.s.onHalted() }
func (h hooksAdapter) AutoforwardExternal(ev model.Event)    { h.s.onAutoforwardExternal(ev) }
