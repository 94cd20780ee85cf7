package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/model"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func buildTrafficLightDoc(t *testing.T) *model.Document {
	t.Helper()
	b := model.NewBuilder("trafficlight", "ecmascript")
	root := b.Root("light", model.Compound).Initial("red")
	root.Child("red", model.Atomic).Transition([]string{"timer"}, []string{"green"})
	root.Child("green", model.Atomic).Transition([]string{"timer"}, []string{"yellow"})
	root.Child("yellow", model.Atomic).Transition([]string{"timer"}, []string{"red"})
	doc, err := b.Build()
	if err != nil {
		t.Fatalf("building document: %v", err)
	}
	return doc
}

func buildHaltingDoc(t *testing.T) *model.Document {
	t.Helper()
	b := model.NewBuilder("halter", "ecmascript")
	root := b.Root("top", model.Compound).Initial("running")
	root.Child("running", model.Atomic).Transition([]string{"stop"}, []string{"done"})
	root.Child("done", model.Final)
	doc, err := b.Build()
	if err != nil {
		t.Fatalf("building document: %v", err)
	}
	return doc
}

func TestRegistryCreateEntersInitialConfiguration(t *testing.T) {
	registry := NewRegistry(testLogger())
	defer registry.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	session, err := registry.Create(ctx, buildTrafficLightDoc(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if !session.InState("red") {
		t.Fatalf("expected session to start in state red, configuration=%v", session.Configuration())
	}
	if _, ok := registry.Get(session.ID); !ok {
		t.Fatalf("expected session %q to be registered", session.ID)
	}
}

func TestSessionSendDrivesTransitions(t *testing.T) {
	registry := NewRegistry(testLogger())
	defer registry.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	session, err := registry.Create(ctx, buildTrafficLightDoc(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := session.Send(ctx, model.Event{Name: "timer", Kind: model.KindExternal}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if !session.InState("green") {
		t.Fatalf("expected transition to green, configuration=%v", session.Configuration())
	}

	if err := session.Send(ctx, model.Event{Name: "timer", Kind: model.KindExternal}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if !session.InState("yellow") {
		t.Fatalf("expected transition to yellow, configuration=%v", session.Configuration())
	}
}

func TestSessionHaltRetiresFromRegistry(t *testing.T) {
	registry := NewRegistry(testLogger())
	defer registry.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	session, err := registry.Create(ctx, buildHaltingDoc(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := session.Send(ctx, model.Event{Name: "stop", Kind: model.KindExternal}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-session.Halted():
	case <-ctx.Done():
		t.Fatalf("session never halted")
	}

	time.Sleep(10 * time.Millisecond)
	if _, ok := registry.Get(session.ID); ok {
		t.Fatalf("expected session to be retired from the registry after halting")
	}
}

func TestRegistryDestroyStopsSessionAndIsIdempotent(t *testing.T) {
	registry := NewRegistry(testLogger())
	defer registry.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	session, err := registry.Create(ctx, buildTrafficLightDoc(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	registry.Destroy(session.ID)
	if _, ok := registry.Get(session.ID); ok {
		t.Fatalf("expected session removed after Destroy")
	}
	// Destroying an already-destroyed (or unknown) session must be a no-op.
	registry.Destroy(session.ID)
	registry.Destroy("unknown-session-id")
}

func TestRegistryEvalDelegatesToScriptHost(t *testing.T) {
	registry := NewRegistry(testLogger())
	defer registry.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b := model.NewBuilder("withvar", "ecmascript")
	root := b.Root("top", model.Compound).Initial("a")
	root.Child("a", model.Atomic)
	doc, err := b.Build()
	if err != nil {
		t.Fatalf("building document: %v", err)
	}
	doc.Script = "var count = 7;"

	session, err := registry.Create(ctx, doc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	v, err := registry.Eval(session.ID, "count")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	n, ok := v.(int64)
	if !ok {
		// goja exports integral numbers as int64 on 64-bit platforms.
		t.Fatalf("expected numeric count, got %T(%v)", v, v)
	}
	if n != 7 {
		t.Fatalf("expected count == 7, got %v", n)
	}
}
