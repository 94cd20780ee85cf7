package model

// EventKind classifies an Event by origin, mirroring the W3C SCXML
// distinction surfaced to scripts as _event.type.
type EventKind string

const (
	// KindPlatform covers events the processor itself raises: done.state.*,
	// error.*, and the like.
	KindPlatform EventKind = "platform"
	// KindInternal covers events raised by <raise> within the same session.
	KindInternal EventKind = "internal"
	// KindExternal covers events delivered from outside the session:
	// external send, invoke children, I/O processors.
	KindExternal EventKind = "external"
)

// Event is a single SCXML event, as exposed to scripts via the read-only
// _event system variable (W3C SCXML 5.10).
type Event struct {
	Name string
	Kind EventKind

	// SendID is the sendid of the <send> that produced this event, if any.
	SendID string

	// Origin is the EventTarget URI this event should be replied to, and
	// OriginType is the processor type that delivered it. Both empty for
	// internally raised events.
	Origin     string
	OriginType string

	// InvokeID identifies the <invoke> instance this event came from, empty
	// if none.
	InvokeID string

	// Data carries the event's payload, built from <param>/<content> or a
	// foreign I/O processor's body. Exposed to scripts as _event.data.
	Data any

	// Params holds the per-name evaluated values of a <send> that used
	// <param>/namelist, preserving encounter order and every value for a
	// name repeated across multiple <param> elements. Nil when the <send>
	// used <content> instead. Data above already collapses this down to a
	// single map[string]any (or slice, for a repeated name) for _event.data;
	// Params exists alongside it so an I/O processor that must encode
	// content and params differently (BasicHTTP's <content> verbatim vs
	// <param> as form fields, W3C SCXML C.2) doesn't have to guess which
	// shape produced Data.
	Params map[string][]any
}

// IsError reports whether Name names one of the three platform error event
// families (W3C SCXML C.1: error.execution, error.communication,
// error.platform, or any dotted extension of them).
func (e Event) IsError() bool {
	return hasPrefix(e.Name, "error.") || e.Name == "error"
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Platform error event names, per W3C SCXML C.1.
const (
	ErrorExecution     = "error.execution"
	ErrorCommunication = "error.communication"
	ErrorPlatform      = "error.platform"
)

// SCXMLEventProcessor is the OriginType stamped on events routed between a
// session and its parent/invoked children (W3C SCXML 5.10.1), distinguishing
// them from events delivered by a foreign I/O processor like BasicHTTP.
const SCXMLEventProcessor = "http://www.w3.org/TR/scxml/#SCXMLEventProcessor"

// NewErrorEvent builds a platform error event of the given family, carrying
// the underlying Go error's message as its data payload.
func NewErrorEvent(name string, cause error) Event {
	var data any
	if cause != nil {
		data = cause.Error()
	}
	return Event{Name: name, Kind: KindPlatform, Data: data}
}

// DoneStateEvent builds the done.state.<id> event generated when a compound
// or parallel state's children all reach completion, per W3C SCXML 3.7 and
// the spec's extension to parallel regions.
func DoneStateEvent(stateID string, data any) Event {
	return Event{Name: "done.state." + stateID, Kind: KindPlatform, Data: data}
}
