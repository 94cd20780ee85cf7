// Package script implements the datamodel/scripting boundary: a single
// ECMAScript host (via goja) that serves many sessions, each with its own
// isolated runtime and global state, but with all script execution
// serialized so two sessions never run script concurrently — mirroring the
// reference engine's JSEngine, which is a process-wide singleton with one
// session map and one execution thread.
//
// Two delivery modes are supported, matching the native-vs-WASM split the
// runtime targets: NewHost's default (native) mode runs a background worker
// goroutine draining a FIFO request queue; WithInline makes every call
// execute synchronously on the caller's goroutine instead, still under a
// single mutex, for embedding into a single-threaded WASM build where no
// goroutine scheduler is available to run a background worker.
package script

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/model"
)

// Host owns every session's goja.Runtime and serializes access to them.
type Host struct {
	logger zerolog.Logger
	inline bool

	mu       sync.Mutex // guards sessions and, in inline mode, all execution
	sessions map[string]*sessionState

	requests chan func()
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Host.
type Option func(*Host)

// WithInline switches the Host to synchronous, no-worker-goroutine
// execution, for single-threaded embeddings (WASM) where spawning a
// background goroutine to drain a request queue is not meaningful.
func WithInline() Option {
	return func(h *Host) { h.inline = true }
}

// NewHost creates a Host. Call Run in its own goroutine immediately
// afterward unless WithInline was supplied.
func NewHost(logger zerolog.Logger, opts ...Option) *Host {
	h := &Host{
		logger:   logger.With().Str("component", "script.Host").Logger(),
		sessions: make(map[string]*sessionState),
		requests: make(chan func(), 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run drains the request queue until Stop is called. No-op in inline mode.
func (h *Host) Run() {
	if h.inline {
		return
	}
	defer close(h.done)
	for {
		select {
		case fn := <-h.requests:
			fn()
		case <-h.stop:
			h.drainRemaining()
			return
		}
	}
}

func (h *Host) drainRemaining() {
	for {
		select {
		case fn := <-h.requests:
			fn()
		default:
			return
		}
	}
}

// Stop halts Run's loop and waits for it to exit. No-op in inline mode.
func (h *Host) Stop() {
	if h.inline {
		return
	}
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	<-h.done
}

// submit runs fn on the Host's single execution context, blocking the
// caller until it completes — inline immediately, or via the worker queue.
func (h *Host) submit(fn func()) {
	if h.inline {
		h.mu.Lock()
		defer h.mu.Unlock()
		fn()
		return
	}
	done := make(chan struct{})
	h.requests <- func() {
		fn()
		close(done)
	}
	<-done
}

// CreateSession allocates a fresh, isolated runtime for sessionID. inPredicate
// backs the script-visible In(stateID) function and should read the live
// configuration maintained by the owning engine.Session.
func (h *Host) CreateSession(sessionID string, inPredicate func(string) bool) {
	h.submit(func() {
		h.sessions[sessionID] = newSessionState(inPredicate)
	})
}

// DestroySession discards sessionID's runtime. Safe to call on an unknown
// session id (a no-op).
func (h *Host) DestroySession(sessionID string) {
	h.submit(func() {
		delete(h.sessions, sessionID)
	})
}

// SetEvent installs e as the session's current _event, lazily binding the
// read-only "_event" accessor's backing object on every call (W3C SCXML
// 5.10). Until the first call, script sees "_event" as undefined (I6).
func (h *Host) SetEvent(sessionID string, e model.Event) error {
	var err error
	h.submit(func() {
		st, ok := h.sessions[sessionID]
		if !ok {
			err = ErrUnknownSession
			return
		}
		st.setEvent(e)
	})
	return err
}

// SetSystemVars installs _sessionid, _name and _ioprocessors for sessionID,
// per spec.md §6. Called once by engine.Registry right after
// CreateSession.
func (h *Host) SetSystemVars(sessionID, name string, ioProcessors map[string]string) error {
	var err error
	h.submit(func() {
		st, ok := h.sessions[sessionID]
		if !ok {
			err = ErrUnknownSession
			return
		}
		st.setSystemVars(sessionID, name, ioProcessors)
	})
	return err
}

// SetReadOnlyViolationHandler installs the callback invoked whenever script
// assigns to the "_event" binding itself; a write to one of its properties
// throws without reaching it. engine.Registry wires this to push an error.execution event onto the
// session's own internal queue, per spec.md §4.1.
func (h *Host) SetReadOnlyViolationHandler(sessionID string, fn func()) error {
	var err error
	h.submit(func() {
		st, ok := h.sessions[sessionID]
		if !ok {
			err = ErrUnknownSession
			return
		}
		st.onReadOnly = fn
	})
	return err
}

// ExecScript runs src for side effects only (executable content, top-level
// <script>), discarding its result.
func (h *Host) ExecScript(sessionID, src string) error {
	var err error
	h.submit(func() {
		st, ok := h.sessions[sessionID]
		if !ok {
			err = ErrUnknownSession
			return
		}
		if _, runErr := st.vm.RunString(strictPrologue + src); runErr != nil {
			err = wrapExecutionError(sessionID, runErr)
		}
	})
	return err
}

// EvalExpression evaluates expr and returns its exported (plain Go) value,
// used for <param expr>, <log expr>, and <send> content expressions
// (<assign> goes through Assign, which runs as a script).
func (h *Host) EvalExpression(sessionID, expr string) (any, error) {
	var result any
	var err error
	h.submit(func() {
		st, ok := h.sessions[sessionID]
		if !ok {
			err = ErrUnknownSession
			return
		}
		v, runErr := st.vm.RunString(strictPrologue + expr)
		if runErr != nil {
			err = wrapExecutionError(sessionID, runErr)
			return
		}
		result = v.Export()
	})
	return result, err
}

// EvalBoolean evaluates a guard expression and coerces the result to bool
// via goja's own truthiness rules, matching how ECMAScript `if` conditions
// behave rather than requiring the expression to literally be a boolean.
func (h *Host) EvalBoolean(sessionID, expr string) (bool, error) {
	var result bool
	var err error
	h.submit(func() {
		st, ok := h.sessions[sessionID]
		if !ok {
			err = ErrUnknownSession
			return
		}
		v, runErr := st.vm.RunString(strictPrologue + expr)
		if runErr != nil {
			err = wrapExecutionError(sessionID, runErr)
			return
		}
		result = v.ToBoolean()
	})
	return result, err
}

// strictPrologue is prepended to every script/expression evaluated in a
// session's runtime so that an assignment to the read-only "_event"
// binding or one of its non-writable properties throws a TypeError instead
// of silently no-oping, which is what sloppy ECMAScript mode does to a
// failed write. Only a write to the binding runs the setter that calls
// onReadOnly.
const strictPrologue = "\"use strict\";\n"

// Assign evaluates expr and stores it at location in the session's
// datamodel, implementing <assign location="..." expr="...">. location is
// itself a (possibly dotted/indexed) left-hand-side ECMAScript expression,
// evaluated via direct assignment source text, matching how the reference
// engine's ActionExecutorImpl builds and runs "location = (expr)".
func (h *Host) Assign(sessionID, location, expr string) error {
	return h.ExecScript(sessionID, location+" = ("+expr+")")
}

// SetVar binds name directly to value in the session's global scope, using
// goja's native Go-value conversion rather than round-tripping through
// source text. Used by <foreach> to bind its item/index variables to each
// element of an evaluated array without re-serializing arbitrary values
// into ECMAScript literals.
func (h *Host) SetVar(sessionID, name string, value any) error {
	var err error
	h.submit(func() {
		st, ok := h.sessions[sessionID]
		if !ok {
			err = ErrUnknownSession
			return
		}
		if setErr := st.vm.Set(name, value); setErr != nil {
			err = wrapExecutionError(sessionID, setErr)
		}
	})
	return err
}

// DeclareVar creates a top-level datamodel variable with an initial value,
// implementing <data id="..." expr="..."/>. Declaring (rather than
// assigning to) a binding allows late-bound data to default to undefined
// when expr is empty, per W3C SCXML 5.3.
func (h *Host) DeclareVar(sessionID, name, expr string) error {
	if expr == "" {
		return h.ExecScript(sessionID, "var "+name+";")
	}
	return h.ExecScript(sessionID, "var "+name+" = ("+expr+");")
}
