// Package dispatch implements SCXML <send> target resolution and delivery:
// the special "#_internal"/"#_parent"/"#_invokeid" targets (W3C SCXML
// 6.2.4), plain session targets, and the BasicHTTP I/O Processor (W3C C.2).
package dispatch

import "strings"

// TargetKind classifies a resolved <send> target.
type TargetKind int

const (
	// TargetInternal is "#_internal": redeliver to the sending session's own
	// internal queue. Handled by the action executor directly (it already
	// holds the session's queues), not by Dispatcher.
	TargetInternal TargetKind = iota
	// TargetExternalSelf is an empty target attribute: deliver to the
	// sending session's own external queue (W3C SCXML 6.2.4's default
	// target is the session itself, not the internal queue).
	TargetExternalSelf
	// TargetParent is "#_parent": deliver to the session that invoked this
	// one, if any.
	TargetParent
	// TargetInvoke is "#_<invokeid>": deliver to a specific child session
	// this session invoked.
	TargetInvoke
	// TargetSession is a bare session id (optionally "scxml:<sessionid>")
	// registered as an event target.
	TargetSession
	// TargetHTTP is an http(s) URL, delivered via the BasicHTTP processor.
	TargetHTTP
	// TargetUnknown is never returned by ParseTarget, which classifies every
	// string that matches no other kind as TargetSession.
	TargetUnknown
)

// Resolved is the parsed form of a <send> target attribute.
type Resolved struct {
	Kind TargetKind
	// ID holds the invokeid (TargetInvoke) or session id (TargetSession).
	ID string
	// URL holds the literal URL (TargetHTTP).
	URL string
}

// ParseTarget classifies a <send> target string.
func ParseTarget(target string) Resolved {
	switch {
	case target == "":
		return Resolved{Kind: TargetExternalSelf}
	case target == "#_internal":
		return Resolved{Kind: TargetInternal}
	case target == "#_parent":
		return Resolved{Kind: TargetParent}
	case strings.HasPrefix(target, "#_") && target != "#_internal" && target != "#_parent":
		return Resolved{Kind: TargetInvoke, ID: strings.TrimPrefix(target, "#_")}
	case strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://"):
		return Resolved{Kind: TargetHTTP, URL: target}
	case strings.HasPrefix(target, "scxml:"):
		return Resolved{Kind: TargetSession, ID: strings.TrimPrefix(target, "scxml:")}
	default:
		return Resolved{Kind: TargetSession, ID: target}
	}
}
