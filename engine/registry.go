// Package engine implements the SessionRegistry and Session (spec.md §2/§3):
// the top-level object that creates, looks up, and destroys running state
// machine instances, wiring each one's per-session pieces against the
// process-wide shared script host, dispatcher, and invoke manager.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/internal/dispatch"
	"github.com/comalice/scxmlrt/internal/invoke"
	"github.com/comalice/scxmlrt/internal/script"
	"github.com/comalice/scxmlrt/model"
)

// Registry owns every live Session and the process-wide shared
// infrastructure they run against: one script.Host (serializing all
// ECMAScript execution), one dispatch.Dispatcher (and its BasicHTTP
// processor), and one invoke.Manager (parent/child routing). Mirrors the
// teacher's SessionManager, generalized from a single-machine-type registry
// to one that can run any *model.Document.
type Registry struct {
	cfg    Config
	logger zerolog.Logger

	host       *script.Host
	dispatcher *dispatch.Dispatcher
	invokes    *invoke.Manager

	clockFactory func() clock.Clock

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry and starts its shared script.Host's worker
// goroutine. Call Close when done to stop it and every remaining session.
func NewRegistry(logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		cfg:          DefaultConfig(),
		logger:       logger.With().Str("component", "engine.Registry").Logger(),
		sessions:     make(map[string]*Session),
		clockFactory: func() clock.Clock { return clock.New() },
	}
	for _, o := range opts {
		o(r)
	}

	r.host = script.NewHost(r.logger)
	go r.host.Run()

	r.dispatcher = dispatch.New(r, r, r.cfg.HTTPTimeout, func(sessionID string, ev model.Event) {
		_ = r.DeliverToSession(sessionID, ev)
	})
	r.invokes = invoke.New(r, invoke.InlineOnlyResolver{}, r, r.logger)

	return r
}

// Create starts a new root session running doc (no parent), returning it
// already running (Start has been called).
func (r *Registry) Create(ctx context.Context, doc *model.Document) (*Session, error) {
	return r.create(ctx, doc, nil)
}

func (r *Registry) create(ctx context.Context, doc *model.Document, prebound map[string]any) (*Session, error) {
	if doc == nil {
		return nil, fmt.Errorf("engine: nil document")
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid document: %w", err)
	}

	id := uuid.NewString()
	clk := r.clockFactory()
	s := newSession(ctx, r, id, doc, clk)

	r.host.CreateSession(id, s.InState)
	ioProcessors := map[string]string{
		"http://www.w3.org/TR/scxml/#SCXMLEventProcessor": "#_scxml_" + id,
	}
	if err := r.host.SetSystemVars(id, doc.Name, ioProcessors); err != nil {
		return nil, err
	}
	if err := r.host.SetReadOnlyViolationHandler(id, func() {
		_ = s.Queues.PushInternal(model.NewErrorEvent(model.ErrorExecution, fmt.Errorf("_event is read-only")))
	}); err != nil {
		return nil, err
	}

	for name, value := range prebound {
		if err := r.host.SetVar(id, name, value); err != nil {
			r.logger.Warn().Err(err).Str("var", name).Msg("invoke prebound var assignment failed")
		}
	}
	if doc.Script != "" {
		if err := r.host.ExecScript(id, doc.Script); err != nil {
			r.logger.Warn().Err(err).Msg("top-level script failed")
		}
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	s.Start()
	return s, nil
}

// Get looks up a live session by id.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Destroy tears a session down: cancels every scheduled send it owns (by
// stopping its own Scheduler outright, which is simpler and strictly
// sufficient since each session owns a private Scheduler rather than
// sharing one across sendid namespaces — see DESIGN.md), recursively
// destroys every child it invoked, removes it from its own parent's
// bookkeeping, and frees its script runtime. Safe to call more than once or
// on an unknown id.
func (r *Registry) Destroy(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	r.invokes.CancelAllForSession(sessionID)
	r.invokes.Forget(sessionID)

	s.cancel()
	s.Scheduler.Stop()
	r.host.DestroySession(sessionID)
	s.Queues.Close()
}

// Close stops every live session and the shared script host.
func (r *Registry) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Destroy(id)
	}
	r.host.Stop()
}

// --- dispatch.Router ---

// DeliverToSession implements dispatch.Router, pushing ev onto sessionID's
// external queue.
func (r *Registry) DeliverToSession(sessionID string, ev model.Event) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("engine: unknown session %q", sessionID)
	}
	return s.Queues.PushExternal(context.Background(), ev)
}

// --- dispatch.InvokeLinks ---

// ParentSessionID implements dispatch.InvokeLinks by delegating to the
// shared InvokeManager, which owns the actual routing tables.
func (r *Registry) ParentSessionID(sessionID string) (string, bool) {
	return r.invokes.ParentSessionID(sessionID)
}

// InvokedSessionID implements dispatch.InvokeLinks.
func (r *Registry) InvokedSessionID(sessionID, invokeID string) (string, bool) {
	return r.invokes.InvokedSessionID(sessionID, invokeID)
}

// ChildInvokeID implements dispatch.InvokeLinks.
func (r *Registry) ChildInvokeID(childSessionID string) (string, bool) {
	return r.invokes.ChildInvokeID(childSessionID)
}

// --- invoke.SessionFactory ---

// CreateChild implements invoke.SessionFactory, starting a new session as a
// child invocation with prebound <param>/namelist values already evaluated
// in the parent's datamodel.
func (r *Registry) CreateChild(ctx context.Context, parentSessionID string, doc *model.Document, prebound map[string]any) (string, error) {
	s, err := r.create(ctx, doc, prebound)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// Registry.Destroy above also satisfies invoke.SessionFactory's Destroy
// method directly, since both want exactly (sessionID string).

// --- invoke.ParamEvaluator ---

// Eval implements invoke.ParamEvaluator by evaluating expr in sessionID's
// own datamodel.
func (r *Registry) Eval(sessionID, expr string) (any, error) {
	return r.host.EvalExpression(sessionID, expr)
}
