package actions

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/internal/dispatch"
	"github.com/comalice/scxmlrt/internal/queue"
	"github.com/comalice/scxmlrt/internal/scheduler"
	"github.com/comalice/scxmlrt/internal/script"
	"github.com/comalice/scxmlrt/model"
)

type fakeRouter struct {
	delivered []model.Event
}

func (r *fakeRouter) DeliverToSession(sessionID string, ev model.Event) error {
	r.delivered = append(r.delivered, ev)
	return nil
}

type fakeLinks struct{}

func (fakeLinks) ParentSessionID(string) (string, bool)          { return "", false }
func (fakeLinks) InvokedSessionID(string, string) (string, bool) { return "", false }
func (fakeLinks) ChildInvokeID(string) (string, bool)            { return "", false }

func newTestExecutor(t *testing.T) (*Executor, *queue.Queues, *scheduler.Scheduler, *clock.Mock) {
	t.Helper()
	host := script.NewHost(zerolog.Nop(), script.WithInline())
	host.CreateSession("s1", nil)
	t.Cleanup(func() { host.DestroySession("s1") })

	q := queue.New(8)
	mock := clock.NewMock()
	sched := scheduler.New(mock)
	go sched.Run()
	t.Cleanup(sched.Stop)

	router := &fakeRouter{}
	d := dispatch.New(router, fakeLinks{}, time.Second, nil)

	ex := &Executor{
		SessionID:  "s1",
		Host:       host,
		Queues:     q,
		Scheduler:  sched,
		Dispatcher: d,
		Logger:     zerolog.Nop(),
	}
	return ex, q, sched, mock
}

func TestRunRaisePushesInternal(t *testing.T) {
	ex, q, _, _ := newTestExecutor(t)
	if err := ex.Run(context.Background(), model.Raise{Event: "done"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !q.HasInternal() {
		t.Fatalf("expected internal queue to have the raised event")
	}
	ev, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if ev.Name != "done" || ev.Kind != model.KindInternal {
		t.Fatalf("ev = %+v", ev)
	}
}

func TestRunAssign(t *testing.T) {
	ex, _, _, _ := newTestExecutor(t)
	if err := ex.Host.DeclareVar("s1", "n", "1"); err != nil {
		t.Fatalf("DeclareVar: %v", err)
	}
	if err := ex.Run(context.Background(), model.Assign{Location: "n", Expr: "n + 1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	v, err := ex.Host.EvalExpression("s1", "n")
	if err != nil {
		t.Fatalf("EvalExpression: %v", err)
	}
	if v != int64(2) {
		t.Fatalf("n = %v, want 2", v)
	}
}

func TestRunIfSelectsFirstTrueBranch(t *testing.T) {
	ex, q, _, _ := newTestExecutor(t)
	act := model.If{Branches: []model.IfBranch{
		{Cond: "false", Actions: []model.Action{model.Raise{Event: "wrong"}}},
		{Cond: "true", Actions: []model.Action{model.Raise{Event: "right"}}},
		{Cond: "", Actions: []model.Action{model.Raise{Event: "else"}}},
	}}
	if err := ex.Run(context.Background(), act); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ev, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if ev.Name != "right" {
		t.Fatalf("ev.Name = %q, want right", ev.Name)
	}
}

func TestRunForeachBindsItemAndIndex(t *testing.T) {
	ex, _, _, _ := newTestExecutor(t)
	if err := ex.Host.ExecScript("s1", "var arr = [10, 20, 30]; var sum = 0; var lastIndex = -1;"); err != nil {
		t.Fatalf("ExecScript: %v", err)
	}
	act := model.Foreach{
		Array: "arr",
		Item:  "item",
		Index: "idx",
		Actions: []model.Action{
			model.Assign{Location: "sum", Expr: "sum + item"},
			model.Assign{Location: "lastIndex", Expr: "idx"},
		},
	}
	if err := ex.Run(context.Background(), act); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sum, err := ex.Host.EvalExpression("s1", "sum")
	if err != nil {
		t.Fatalf("EvalExpression: %v", err)
	}
	if sum != int64(60) {
		t.Fatalf("sum = %v, want 60", sum)
	}
	lastIndex, err := ex.Host.EvalExpression("s1", "lastIndex")
	if err != nil {
		t.Fatalf("EvalExpression: %v", err)
	}
	if lastIndex != int64(2) {
		t.Fatalf("lastIndex = %v, want 2", lastIndex)
	}
}

func TestRunSendImmediateDispatch(t *testing.T) {
	ex, _, _, _ := newTestExecutor(t)
	router := ex.Dispatcher
	_ = router
	if err := ex.Run(context.Background(), model.Send{Event: "ping", Target: "otherSession"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunSendDelayedSchedulesEvent(t *testing.T) {
	ex, _, sched, mock := newTestExecutor(t)
	if err := ex.Run(context.Background(), model.Send{ID: "t1", Event: "later", Target: "#_internal", Delay: "5s"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sched.Pending() != 1 {
		t.Fatalf("expected one pending scheduled event, got %d", sched.Pending())
	}
	mock.Add(6 * time.Second)
}

func TestRunCancelStopsDelayedSend(t *testing.T) {
	ex, q, _, mock := newTestExecutor(t)
	if err := ex.Run(context.Background(), model.Send{ID: "t1", Event: "later", Target: "#_internal", Delay: "1s"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := ex.Run(context.Background(), model.Cancel{SendID: "t1"}); err != nil {
		t.Fatalf("Run(Cancel): %v", err)
	}
	mock.Add(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if q.HasInternal() {
		t.Fatalf("cancelled send should not have been delivered")
	}
}

func TestBuildSendDataAggregatesDuplicateParamNames(t *testing.T) {
	ex, _, _, _ := newTestExecutor(t)
	data, params, err := ex.buildSendData(model.Send{Params: []model.Param{
		{Name: "tag", Expr: `"a"`},
		{Name: "tag", Expr: `"b"`},
		{Name: "other", Expr: "1"},
	}})
	if err != nil {
		t.Fatalf("buildSendData: %v", err)
	}
	m, ok := data.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", data)
	}
	tags, ok := m["tag"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" || tags[1] != "b" {
		t.Fatalf("expected tag aggregated into [a b], got %v", m["tag"])
	}
	if m["other"] != int64(1) {
		t.Fatalf("expected single-occurrence param left unwrapped, got %v (%T)", m["other"], m["other"])
	}
	if len(params["tag"]) != 2 || params["tag"][0] != "a" || params["tag"][1] != "b" {
		t.Fatalf("expected raw params to preserve both tag values, got %v", params["tag"])
	}
	if len(params["other"]) != 1 || params["other"][0] != int64(1) {
		t.Fatalf("expected raw params to preserve other's single value, got %v", params["other"])
	}
}

func TestRunSendRejectsExclusivityViolations(t *testing.T) {
	cases := []struct {
		name string
		send model.Send
	}{
		{"event+eventexpr", model.Send{Event: "ping", EventExpr: `"ping"`, Target: "#_internal"}},
		{"target+targetexpr", model.Send{Event: "ping", Target: "#_internal", TargetExpr: `"#_internal"`}},
		{"delay+delayexpr", model.Send{Event: "ping", Target: "#_internal", Delay: "1s", DelayExpr: `"1s"`}},
		{"type+typeexpr", model.Send{Event: "ping", Target: "#_internal", Type: "scxml", TypeExpr: `"scxml"`}},
		{"content+contentexpr", model.Send{Event: "ping", Target: "#_internal", Content: "hi", ContentExpr: `"hi"`}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ex, q, _, _ := newTestExecutor(t)
			err := ex.Run(context.Background(), c.send)
			if err == nil {
				t.Fatalf("expected %s to be rejected", c.name)
			}
			if !q.HasInternal() {
				t.Fatalf("expected error.execution to be raised on the internal queue")
			}
		})
	}
}

func TestRunSendRejectsOversizedContent(t *testing.T) {
	ex, q, _, _ := newTestExecutor(t)
	oversized := make([]byte, maxContentBytes+1)
	for i := range oversized {
		oversized[i] = 'x'
	}
	err := ex.Run(context.Background(), model.Send{Event: "ping", Target: "#_internal", Content: string(oversized)})
	if err == nil {
		t.Fatalf("expected oversized <content> to be rejected")
	}
	if !q.HasInternal() {
		t.Fatalf("expected error.execution to be raised on the internal queue")
	}
}
