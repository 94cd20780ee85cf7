package invoke

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/model"
)

type fakeFactory struct {
	nextID    int
	created   []map[string]any
	destroyed []string
}

func (f *fakeFactory) CreateChild(_ context.Context, _ string, _ *model.Document, prebound map[string]any) (string, error) {
	f.nextID++
	f.created = append(f.created, prebound)
	return sessionIDFor(f.nextID), nil
}

func (f *fakeFactory) Destroy(sessionID string) {
	f.destroyed = append(f.destroyed, sessionID)
}

func sessionIDFor(n int) string {
	return "child-" + string(rune('0'+n))
}

type fakeEval struct{ values map[string]any }

func (e fakeEval) Eval(_ string, expr string) (any, error) {
	return e.values[expr], nil
}

func stateWithInvoke(id string, inv *model.InvokeNode) *model.StateNode {
	return &model.StateNode{ID: id, Type: model.Atomic, Invokes: []*model.InvokeNode{inv}}
}

func TestStartInvokesForStateEvaluatesParamsAndIsIdempotent(t *testing.T) {
	child := &model.Document{Name: "child"}
	inv := &model.InvokeNode{ID: "inv1", Content: child, Params: []model.Param{{Name: "x", Expr: "count"}}}
	state := stateWithInvoke("s", inv)

	factory := &fakeFactory{}
	eval := fakeEval{values: map[string]any{"count": 42}}
	mgr := New(factory, nil, eval, zerolog.Nop())

	mgr.StartInvokesForState(context.Background(), "parent", state)
	if len(factory.created) != 1 {
		t.Fatalf("expected one child created, got %d", len(factory.created))
	}
	if factory.created[0]["x"] != 42 {
		t.Fatalf("expected evaluated param value 42, got %v", factory.created[0]["x"])
	}

	mgr.StartInvokesForState(context.Background(), "parent", state)
	if len(factory.created) != 1 {
		t.Fatalf("expected StartInvokesForState to be idempotent, got %d children", len(factory.created))
	}

	childID, ok := mgr.InvokedSessionID("parent", "inv1")
	if !ok || childID != "child-1" {
		t.Fatalf("expected InvokedSessionID to resolve inv1, got %q ok=%v", childID, ok)
	}
	parentID, ok := mgr.ParentSessionID(childID)
	if !ok || parentID != "parent" {
		t.Fatalf("expected ParentSessionID to resolve parent, got %q ok=%v", parentID, ok)
	}
}

func TestCancelInvokesForStateDestroysChildAndAllowsRestart(t *testing.T) {
	child := &model.Document{Name: "child"}
	inv := &model.InvokeNode{ID: "inv1", Content: child}
	state := stateWithInvoke("s", inv)

	factory := &fakeFactory{}
	mgr := New(factory, nil, nil, zerolog.Nop())

	mgr.StartInvokesForState(context.Background(), "parent", state)
	childID, _ := mgr.InvokedSessionID("parent", "inv1")

	mgr.CancelInvokesForState("parent", state)
	if len(factory.destroyed) != 1 || factory.destroyed[0] != childID {
		t.Fatalf("expected child %q destroyed, got %v", childID, factory.destroyed)
	}
	if _, ok := mgr.InvokedSessionID("parent", "inv1"); ok {
		t.Fatalf("expected invoke link removed after cancel")
	}

	mgr.StartInvokesForState(context.Background(), "parent", state)
	if len(factory.created) != 2 {
		t.Fatalf("expected re-entering the state to start a fresh invoke, got %d children", len(factory.created))
	}
}

func TestCancelInvokesForStateDestroysChildWithAutoGeneratedID(t *testing.T) {
	child := &model.Document{Name: "child"}
	inv := &model.InvokeNode{Content: child} // no explicit id attribute
	state := stateWithInvoke("s", inv)

	factory := &fakeFactory{}
	mgr := New(factory, nil, nil, zerolog.Nop())

	mgr.StartInvokesForState(context.Background(), "parent", state)
	if len(factory.created) != 1 {
		t.Fatalf("expected one child created, got %d", len(factory.created))
	}

	mgr.mu.RLock()
	generatedID, ok := mgr.invokeIDs["parent"][inv]
	mgr.mu.RUnlock()
	if !ok || generatedID == "" {
		t.Fatalf("expected a generated invokeid to be tracked for inv, got %q ok=%v", generatedID, ok)
	}
	childID, ok := mgr.InvokedSessionID("parent", generatedID)
	if !ok || childID != "child-1" {
		t.Fatalf("expected InvokedSessionID to resolve the generated id, got %q ok=%v", childID, ok)
	}

	mgr.CancelInvokesForState("parent", state)
	if len(factory.destroyed) != 1 || factory.destroyed[0] != childID {
		t.Fatalf("expected the auto-id child %q destroyed on state exit, got %v", childID, factory.destroyed)
	}
	if _, ok := mgr.InvokedSessionID("parent", generatedID); ok {
		t.Fatalf("expected invoke link removed after cancel")
	}
	if _, ok := mgr.ParentSessionID(childID); ok {
		t.Fatalf("expected parent link removed after cancel")
	}
}

func TestCancelAllForSessionDestroysEveryChild(t *testing.T) {
	child := &model.Document{Name: "child"}
	invA := &model.InvokeNode{ID: "a", Content: child}
	invB := &model.InvokeNode{ID: "b", Content: child}
	stateA := stateWithInvoke("sa", invA)
	stateB := stateWithInvoke("sb", invB)

	factory := &fakeFactory{}
	mgr := New(factory, nil, nil, zerolog.Nop())
	mgr.StartInvokesForState(context.Background(), "parent", stateA)
	mgr.StartInvokesForState(context.Background(), "parent", stateB)

	mgr.CancelAllForSession("parent")
	if len(factory.destroyed) != 2 {
		t.Fatalf("expected both children destroyed, got %v", factory.destroyed)
	}
	if ids := mgr.AutoforwardIDs("parent"); len(ids) != 0 {
		t.Fatalf("expected no autoforward ids left, got %v", ids)
	}
}

func TestForgetRemovesLinkWithoutDestroying(t *testing.T) {
	child := &model.Document{Name: "child"}
	inv := &model.InvokeNode{ID: "inv1", Content: child, Autoforward: true}
	state := stateWithInvoke("s", inv)

	factory := &fakeFactory{}
	mgr := New(factory, nil, nil, zerolog.Nop())
	mgr.StartInvokesForState(context.Background(), "parent", state)
	childID, _ := mgr.InvokedSessionID("parent", "inv1")

	mgr.Forget(childID)

	if len(factory.destroyed) != 0 {
		t.Fatalf("expected Forget not to call Destroy, got %v", factory.destroyed)
	}
	if _, ok := mgr.ParentSessionID(childID); ok {
		t.Fatalf("expected parent link removed after Forget")
	}
	if ids := mgr.AutoforwardIDs("parent"); len(ids) != 0 {
		t.Fatalf("expected autoforward entry cleared after Forget, got %v", ids)
	}
}
