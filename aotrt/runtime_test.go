package aotrt

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/internal/history"
	"github.com/comalice/scxmlrt/internal/queue"
	"github.com/comalice/scxmlrt/internal/scheduler"
	"github.com/comalice/scxmlrt/model"
)

type fakeHooks struct {
	halted   chan struct{}
	deferred []*model.StateNode
}

func newFakeHooks() *fakeHooks { return &fakeHooks{halted: make(chan struct{})} }

func (f *fakeHooks) DeferInvoke(s *model.StateNode)  { f.deferred = append(f.deferred, s) }
func (f *fakeHooks) CancelInvoke(s *model.StateNode) {}
func (f *fakeHooks) Halted()                         { close(f.halted) }
func (f *fakeHooks) AutoforwardExternal(ev model.Event) {}

func buildLightDoc(t *testing.T) *model.Document {
	t.Helper()
	b := model.NewBuilder("compiled-light", "ecmascript")
	root := b.Root("light", model.Compound).Initial("red")
	root.Child("red", model.Atomic).
		OnEntry(model.Script{Source: "enterRed"}).
		Transition([]string{"timer"}, []string{"green"}, model.WithCond("canAdvance"))
	root.Child("green", model.Atomic).
		OnEntry(model.Script{Source: "enterGreen"})
	doc, err := b.Build()
	if err != nil {
		t.Fatalf("building document: %v", err)
	}
	return doc
}

func TestRuntimeEntersInitialConfiguration(t *testing.T) {
	doc := buildLightDoc(t)
	entered := map[string]int{}
	tables := Tables{
		Actions: map[string]ActionFunc{
			"enterRed":   func(ctx *Context) error { entered["red"]++; return nil },
			"enterGreen": func(ctx *Context) error { entered["green"]++; return nil },
		},
	}
	q := queue.New(8)
	hooks := newFakeHooks()
	rt := New(doc, "s1", tables, q, history.New(), scheduler.New(nil), hooks, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rt.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	if !rt.InState("red") {
		t.Fatalf("expected to be in state red, configuration=%v", rt.Configuration())
	}
	if entered["red"] != 1 {
		t.Fatalf("expected enterRed to run once, ran %d times", entered["red"])
	}
}

func TestRuntimeGuardBlocksTransitionUntilTrue(t *testing.T) {
	doc := buildLightDoc(t)
	canAdvance := false
	tables := Tables{
		Guards: map[string]Guard{
			"canAdvance": func(ctx *Context) (bool, error) { return canAdvance, nil },
		},
		Actions: map[string]ActionFunc{
			"enterRed":   func(ctx *Context) error { return nil },
			"enterGreen": func(ctx *Context) error { return nil },
		},
	}
	q := queue.New(8)
	hooks := newFakeHooks()
	rt := New(doc, "s2", tables, q, history.New(), scheduler.New(nil), hooks, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rt.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)

	_ = q.PushExternal(ctx, model.Event{Name: "timer", Kind: model.KindExternal})
	time.Sleep(20 * time.Millisecond)
	if !rt.InState("red") {
		t.Fatalf("expected guard to block transition, but left red: %v", rt.Configuration())
	}

	canAdvance = true
	_ = q.PushExternal(ctx, model.Event{Name: "timer", Kind: model.KindExternal})
	time.Sleep(20 * time.Millisecond)
	if !rt.InState("green") {
		t.Fatalf("expected transition to green once guard true: %v", rt.Configuration())
	}
}

func buildParallelDoc(t *testing.T) *model.Document {
	t.Helper()
	b := model.NewBuilder("compiled-parallel", "ecmascript")
	root := b.Root("top", model.Compound).Initial("working")
	work := root.Child("working", model.Parallel)

	left := work.Child("left", model.Compound).Initial("l1")
	left.Child("l1", model.Atomic).Transition([]string{"left.done"}, []string{"lfinal"})
	left.Child("lfinal", model.Final)

	right := work.Child("right", model.Compound).Initial("r1")
	right.Child("r1", model.Atomic).Transition([]string{"right.done"}, []string{"rfinal"})
	right.Child("rfinal", model.Final)

	root.Transition([]string{"done.state.working"}, []string{"done"})
	root.Child("done", model.Final)

	doc, err := b.Build()
	if err != nil {
		t.Fatalf("building document: %v", err)
	}
	return doc
}

func TestRuntimeParallelDoneStateHaltsMachine(t *testing.T) {
	doc := buildParallelDoc(t)
	q := queue.New(8)
	hooks := newFakeHooks()
	rt := New(doc, "s3", Tables{}, q, history.New(), scheduler.New(nil), hooks, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rt.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)

	_ = q.PushExternal(ctx, model.Event{Name: "left.done", Kind: model.KindExternal})
	_ = q.PushExternal(ctx, model.Event{Name: "right.done", Kind: model.KindExternal})

	select {
	case <-hooks.halted:
	case <-time.After(time.Second):
		t.Fatalf("runtime never halted, configuration=%v", rt.Configuration())
	}
}
