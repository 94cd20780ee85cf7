package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/comalice/scxmlrt/model"
)

// Router delivers an event to another session's external queue. Satisfied
// by engine.Registry so this package never imports engine (which itself
// depends on dispatch), keeping the dependency direction one-way the same
// way the teacher's EventPublisher interface decoupled internal/core from
// any particular publishing transport.
type Router interface {
	DeliverToSession(sessionID string, ev model.Event) error
}

// InvokeLinks resolves the parent/child session ids a given session needs
// for "#_parent" and "#_<invokeid>" targets. Supplied by engine.Registry,
// which delegates to the invoke bookkeeping in internal/invoke.
type InvokeLinks interface {
	ParentSessionID(sessionID string) (string, bool)
	InvokedSessionID(sessionID, invokeID string) (string, bool)
	// ChildInvokeID returns the invokeid childSessionID was invoked with, so
	// a "#_parent" send can be tagged with the invokeid the parent knows it
	// by (W3C SCXML 5.10.1/§4.4).
	ChildInvokeID(childSessionID string) (string, bool)
}

// Dispatcher resolves and delivers <send> targets other than "#_internal"
// (handled by the action executor directly against the session's own
// queues).
type Dispatcher struct {
	router Router
	links  InvokeLinks
	http   *HTTPProcessor
}

// New creates a Dispatcher. httpTimeout configures the BasicHTTP
// processor's client; deliverHTTPResult is called with the response event
// once an HTTP send completes (asynchronously, since SCXML sends never
// block the sender on a reply).
func New(router Router, links InvokeLinks, httpTimeout time.Duration, deliverHTTPResult func(sessionID string, ev model.Event)) *Dispatcher {
	return &Dispatcher{
		router: router,
		links:  links,
		http:   NewHTTPProcessor(httpTimeout, deliverHTTPResult),
	}
}

// Dispatch resolves target relative to sessionID and delivers ev, per W3C
// SCXML 6.2.4. TargetInternal is rejected here — callers must route
// "#_internal" to their own queue directly, since Dispatcher has no access
// to it.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, target string, ev model.Event) error {
	resolved := ParseTarget(target)
	switch resolved.Kind {
	case TargetInternal:
		return fmt.Errorf("dispatch: #_internal must be handled by the caller's own queue")
	case TargetExternalSelf:
		return d.router.DeliverToSession(sessionID, ev)
	case TargetParent:
		parentID, ok := d.links.ParentSessionID(sessionID)
		if !ok {
			return fmt.Errorf("dispatch: session %q has no parent", sessionID)
		}
		ev.Origin = sessionID
		ev.OriginType = model.SCXMLEventProcessor
		if invokeID, ok := d.links.ChildInvokeID(sessionID); ok {
			ev.InvokeID = invokeID
		}
		return d.router.DeliverToSession(parentID, ev)
	case TargetInvoke:
		childID, ok := d.links.InvokedSessionID(sessionID, resolved.ID)
		if !ok {
			return fmt.Errorf("dispatch: session %q has no invoke %q", sessionID, resolved.ID)
		}
		ev.Origin = sessionID
		ev.OriginType = model.SCXMLEventProcessor
		ev.InvokeID = resolved.ID
		return d.router.DeliverToSession(childID, ev)
	case TargetSession:
		return d.router.DeliverToSession(resolved.ID, ev)
	case TargetHTTP:
		d.http.Send(ctx, sessionID, resolved.URL, ev)
		return nil
	default:
		return fmt.Errorf("dispatch: unrecognized target %q", target)
	}
}

// Autoforward delivers ev to every invoked child of sessionID whose
// <invoke autoforward="true"> flag is set, per W3C SCXML 6.4. invokeIDs is
// supplied by the caller (internal/invoke owns the autoforward flag per
// invocation).
func (d *Dispatcher) Autoforward(sessionID string, invokeIDs []string, ev model.Event) {
	for _, id := range invokeIDs {
		childID, ok := d.links.InvokedSessionID(sessionID, id)
		if !ok {
			continue
		}
		_ = d.router.DeliverToSession(childID, ev)
	}
}
