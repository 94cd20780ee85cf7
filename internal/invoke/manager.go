// Package invoke implements the InvokeManager (spec.md §4.8): spawning
// child sessions for <invoke>, the parent<->child<->invokeid routing tables
// dispatch.Dispatcher consults for "#_parent"/"#_<invokeid>" targets,
// autoforwarding, and cancellation cascades on exit.
package invoke

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/model"
)

// SessionFactory creates and destroys child sessions on behalf of <invoke>.
// Implemented by engine.Registry; Manager depends only on this narrow
// interface so internal/invoke never imports engine (which itself depends
// on internal/invoke), the same one-way dependency direction
// internal/dispatch keeps via its own Router/InvokeLinks interfaces.
type SessionFactory interface {
	// CreateChild starts a new session running doc, pre-binding prebound as
	// datamodel variables before the child's top-level script runs (W3C
	// SCXML 6.4.1). Returns the new session's id.
	CreateChild(ctx context.Context, parentSessionID string, doc *model.Document, prebound map[string]any) (string, error)
	// Destroy tears down a session (recursively cancelling its own
	// invokes), per spec.md §3's Lifecycle section.
	Destroy(sessionID string)
}

// ContentResolver resolves a static <invoke>'s content to a runnable
// Document: either the inline <content> machine already on the InvokeNode,
// or an external one named by Src/SrcExpr. The SCXML document loader /
// parser is out of scope for this module (spec.md §1), so the default
// resolver only supports inline content; a caller that needs Src-based
// invocation supplies its own ContentResolver to New.
type ContentResolver interface {
	Resolve(ctx context.Context, sessionID string, inv *model.InvokeNode, src string) (*model.Document, error)
}

// ParamEvaluator evaluates a <param>/namelist expression in the parent
// session's own datamodel, so a child invoked with <param expr="..."/>
// receives the evaluated value rather than source text, per W3C SCXML
// 6.4.1. Implemented by engine.Registry.Eval, which delegates to
// script.Host.EvalExpression.
type ParamEvaluator interface {
	Eval(sessionID, expr string) (any, error)
}

// InlineOnlyResolver implements ContentResolver for documents that only use
// <invoke><content>...</content></invoke>, rejecting Src/SrcExpr.
type InlineOnlyResolver struct{}

func (InlineOnlyResolver) Resolve(_ context.Context, _ string, inv *model.InvokeNode, src string) (*model.Document, error) {
	if inv.Content != nil {
		return inv.Content, nil
	}
	return nil, fmt.Errorf("invoke: no ContentResolver configured for src %q (inline <content> only)", src)
}

type link struct {
	parentSessionID string
	invokeID        string
}

// Manager tracks every live invocation across all sessions. One Manager is
// shared process-wide, mirroring how SessionRegistry itself is shared
// (spec.md §2).
type Manager struct {
	factory  SessionFactory
	resolver ContentResolver
	eval     ParamEvaluator
	logger   zerolog.Logger

	mu          sync.RWMutex
	children    map[string]map[string]string // parentSessionID -> invokeID -> childSessionID
	parents     map[string]link              // childSessionID -> {parentSessionID, invokeID}
	autoforward map[string]map[string]bool   // parentSessionID -> invokeID -> autoforward
	started     map[string]map[*model.StateNode]bool
	invokeIDs   map[string]map[*model.InvokeNode]string // parentSessionID -> InvokeNode -> invokeID actually used (resolves auto-generated ids inv.ID alone can't recover)
}

// New creates a Manager. resolver may be nil, defaulting to InlineOnlyResolver.
func New(factory SessionFactory, resolver ContentResolver, eval ParamEvaluator, logger zerolog.Logger) *Manager {
	if resolver == nil {
		resolver = InlineOnlyResolver{}
	}
	return &Manager{
		factory:     factory,
		resolver:    resolver,
		eval:        eval,
		logger:      logger.With().Str("component", "invoke.Manager").Logger(),
		children:    make(map[string]map[string]string),
		parents:     make(map[string]link),
		autoforward: make(map[string]map[string]bool),
		started:     make(map[string]map[*model.StateNode]bool),
		invokeIDs:   make(map[string]map[*model.InvokeNode]string),
	}
}

// ParentSessionID implements dispatch.InvokeLinks.
func (m *Manager) ParentSessionID(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.parents[sessionID]
	if !ok {
		return "", false
	}
	return l.parentSessionID, true
}

// InvokedSessionID implements dispatch.InvokeLinks.
func (m *Manager) InvokedSessionID(sessionID, invokeID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	childID, ok := m.children[sessionID][invokeID]
	return childID, ok
}

// ChildInvokeID returns the invokeid a child session was invoked with, for
// tagging "#_parent" sends with origin/invokeid per spec.md §4.4. Implements
// dispatch.InvokeLinks.
func (m *Manager) ChildInvokeID(childSessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.parents[childSessionID]
	if !ok {
		return "", false
	}
	return l.invokeID, true
}

// AutoforwardIDs returns the invoke ids of every child sessionID invoked
// with autoforward="true".
func (m *Manager) AutoforwardIDs(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, on := range m.autoforward[sessionID] {
		if on {
			out = append(out, id)
		}
	}
	return out
}

// StartInvokesForState starts every not-yet-started <invoke> declared on
// state, on behalf of parentSessionID. Idempotent per state: a state whose
// invokes have already been started is a no-op, since
// microstep.Engine.startDeferredInvokes calls this once per finished
// macrostep for every currently-active state with invokes, not only the
// macrostep a state was newly entered in.
func (m *Manager) StartInvokesForState(ctx context.Context, parentSessionID string, state *model.StateNode) {
	m.mu.Lock()
	if m.started[parentSessionID] == nil {
		m.started[parentSessionID] = make(map[*model.StateNode]bool)
	}
	if m.started[parentSessionID][state] {
		m.mu.Unlock()
		return
	}
	m.started[parentSessionID][state] = true
	m.mu.Unlock()

	for _, inv := range state.Invokes {
		m.startOne(ctx, parentSessionID, inv)
	}
}

func (m *Manager) startOne(ctx context.Context, parentSessionID string, inv *model.InvokeNode) {
	invokeID := inv.ID
	if invokeID == "" {
		invokeID = parentSessionID + "." + uuid.NewString()
	}

	m.mu.Lock()
	if m.invokeIDs[parentSessionID] == nil {
		m.invokeIDs[parentSessionID] = make(map[*model.InvokeNode]string)
	}
	m.invokeIDs[parentSessionID][inv] = invokeID
	m.mu.Unlock()

	src := inv.Src
	doc, err := m.resolver.Resolve(ctx, parentSessionID, inv, src)
	if err != nil {
		m.logger.Warn().Err(err).Str("invokeid", invokeID).Msg("invoke resolve failed")
		return
	}

	prebound := make(map[string]any, len(inv.Params))
	for _, p := range inv.Params {
		expr := p.Expr
		if expr == "" && p.Location != "" {
			expr = p.Location
		}
		if expr == "" {
			continue
		}
		if m.eval == nil {
			prebound[p.Name] = nil
			continue
		}
		v, err := m.eval.Eval(parentSessionID, expr)
		if err != nil {
			m.logger.Warn().Err(err).Str("param", p.Name).Str("invokeid", invokeID).Msg("invoke param eval failed")
			continue
		}
		prebound[p.Name] = v
	}

	childID, err := m.factory.CreateChild(ctx, parentSessionID, doc, prebound)
	if err != nil {
		m.logger.Warn().Err(err).Str("invokeid", invokeID).Msg("invoke child creation failed")
		return
	}

	m.mu.Lock()
	if m.children[parentSessionID] == nil {
		m.children[parentSessionID] = make(map[string]string)
	}
	m.children[parentSessionID][invokeID] = childID
	m.parents[childID] = link{parentSessionID: parentSessionID, invokeID: invokeID}
	if m.autoforward[parentSessionID] == nil {
		m.autoforward[parentSessionID] = make(map[string]bool)
	}
	m.autoforward[parentSessionID][invokeID] = inv.Autoforward
	m.mu.Unlock()

	m.logger.Info().Str("parent", parentSessionID).Str("child", childID).Str("invokeid", invokeID).Msg("invoke started")
}

// CancelInvokesForState cancels every invocation declared on state,
// destroying its child session through SessionFactory.Destroy, and clears
// the started-for-this-state marker so re-entering the state starts fresh
// invocations. engine.Registry's Destroy stops the child's run loop and
// frees its resources without running the child's onexit actions.
func (m *Manager) CancelInvokesForState(parentSessionID string, state *model.StateNode) {
	m.mu.Lock()
	delete(m.started[parentSessionID], state)
	var toDestroy []string
	for _, inv := range state.Invokes {
		invokeID := inv.ID
		if resolved, ok := m.invokeIDs[parentSessionID][inv]; ok {
			invokeID = resolved
		}
		childID, ok := m.children[parentSessionID][invokeID]
		if !ok {
			continue
		}
		toDestroy = append(toDestroy, childID)
		delete(m.children[parentSessionID], invokeID)
		delete(m.parents, childID)
		delete(m.autoforward[parentSessionID], invokeID)
		delete(m.invokeIDs[parentSessionID], inv)
	}
	m.mu.Unlock()

	for _, childID := range toDestroy {
		m.factory.Destroy(childID)
	}
}

// CancelAllForSession cancels every invocation a session (about to be
// destroyed itself) owns as a parent, per spec.md §3's destroy-cascade.
func (m *Manager) CancelAllForSession(sessionID string) {
	m.mu.Lock()
	var toDestroy []string
	for _, childID := range m.children[sessionID] {
		toDestroy = append(toDestroy, childID)
		delete(m.parents, childID)
	}
	delete(m.children, sessionID)
	delete(m.autoforward, sessionID)
	delete(m.started, sessionID)
	delete(m.invokeIDs, sessionID)
	m.mu.Unlock()

	for _, childID := range toDestroy {
		m.factory.Destroy(childID)
	}
}

// Forget removes childSessionID from its parent's bookkeeping without
// destroying it itself, for when the caller (Registry.Destroy) is already
// mid-teardown of childSessionID and only needs the reverse link cleaned up.
// A no-op if childSessionID was never invoked by anything (e.g. a root
// session).
func (m *Manager) Forget(childSessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.parents[childSessionID]
	if !ok {
		return
	}
	delete(m.parents, childSessionID)
	delete(m.children[l.parentSessionID], l.invokeID)
	delete(m.autoforward[l.parentSessionID], l.invokeID)
}
