package script

import (
	"github.com/dop251/goja"

	"github.com/comalice/scxmlrt/model"
)

// sessionState wraps one session's isolated ECMAScript global state: its own
// goja.Runtime, its own top-level datamodel, installed exactly once and
// reused for the session's whole lifetime — the opposite of jsvm's VMPool,
// which hands out interchangeable pooled runtimes. Here every session owns
// its runtime for as long as it lives, matching the system variable and
// datamodel isolation W3C SCXML 5.3/5.10 require between sessions.
type sessionState struct {
	vm        *goja.Runtime
	in        func(stateID string) bool
	eventObj  *goja.Object // nil until the first SetEvent call (I6)
	onReadOnly func()
}

func newSessionState(inPredicate func(string) bool) *sessionState {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	st := &sessionState{vm: vm, in: inPredicate}
	st.installGlobals()
	return st
}

// installGlobals wires the SCXML system functions and variables into the
// runtime: In(stateID) and a getter-only "_event" accessor property,
// mirroring the reference engine's JSEngine, which installs _event via a
// throwing-setter property descriptor rather than a plain mutable binding
// (W3C SCXML Appendix B.2.4). The getter returns undefined until the first
// SetEvent call, so "_event" reads as undefined (and typeof _event ===
// "undefined") before the session's first processed event, per spec.md I6.
func (st *sessionState) installGlobals() {
	vm := st.vm
	_ = vm.Set("In", func(stateID string) bool {
		if st.in == nil {
			return false
		}
		return st.in(stateID)
	})

	getter := vm.ToValue(func(goja.FunctionCall) goja.Value {
		if st.eventObj == nil {
			return goja.Undefined()
		}
		return st.eventObj
	})
	setter := vm.ToValue(func(goja.FunctionCall) goja.Value {
		if st.onReadOnly != nil {
			st.onReadOnly()
		}
		panic(vm.NewTypeError("_event is read-only"))
	})
	_ = vm.GlobalObject().DefineAccessorProperty("_event", getter, setter, goja.FLAG_FALSE, goja.FLAG_FALSE)
}

// setEvent replaces the backing object the "_event" getter returns. Each of
// the object's own properties is defined non-writable, so "_event.name = x"
// (evaluated under the strictPrologue host.go prepends to every script)
// also throws rather than being silently ignored, satisfying I6's
// "read-only object" requirement at both the binding and the property
// level.
func (st *sessionState) setEvent(e model.Event) {
	obj := st.vm.NewObject()
	setRO := func(name string, value any) {
		_ = obj.DefineDataProperty(name, st.vm.ToValue(value), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}
	setRO("name", e.Name)
	setRO("type", string(e.Kind))
	setRO("sendid", e.SendID)
	setRO("origin", e.Origin)
	setRO("origintype", e.OriginType)
	setRO("invokeid", e.InvokeID)
	setRO("data", e.Data)
	st.eventObj = obj
}

// setSystemVars installs _sessionid, _name and _ioprocessors, per spec.md §6.
// Called once, right after the session is created.
func (st *sessionState) setSystemVars(sessionID, name string, ioProcessors map[string]string) {
	_ = st.vm.Set("_sessionid", sessionID)
	_ = st.vm.Set("_name", name)
	procs := st.vm.NewObject()
	for k, v := range ioProcessors {
		entry := st.vm.NewObject()
		_ = entry.Set("location", v)
		_ = procs.Set(k, entry)
	}
	_ = st.vm.Set("_ioprocessors", procs)
}
