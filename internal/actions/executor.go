// Package actions executes SCXML executable content (<raise>, <send>,
// <cancel>, <assign>, <script>, <log>, <if>, <foreach>) against a running
// session, generalizing the teacher's ActionRunner/GuardEvaluator pair into
// one executor that understands every content type rather than dispatching
// opaque string/func references. Guards and expressions are always real
// ECMAScript, evaluated through internal/script, rather than the teacher's
// simplified key/op/value string matcher.
package actions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/internal/corealgo"
	"github.com/comalice/scxmlrt/internal/dispatch"
	"github.com/comalice/scxmlrt/internal/queue"
	"github.com/comalice/scxmlrt/internal/scheduler"
	"github.com/comalice/scxmlrt/internal/script"
	"github.com/comalice/scxmlrt/model"
)

// Executor runs a session's executable content. One Executor belongs to
// exactly one session.
type Executor struct {
	SessionID  string
	Host       *script.Host
	Queues     *queue.Queues
	Scheduler  *scheduler.Scheduler
	Dispatcher *dispatch.Dispatcher
	Logger     zerolog.Logger
}

// Run executes one piece of content. Errors are never propagated to the
// caller as Go errors that abort the microstep; per W3C SCXML 5.10/C.1 they
// are converted to an error.execution event on the session's own internal
// queue, except where noted (Run itself still returns the error so the
// microstep engine can log it, but the session keeps running).
func (ex *Executor) Run(ctx context.Context, a model.Action) error {
	var err error
	switch v := a.(type) {
	case model.Raise:
		err = ex.runRaise(v)
	case model.Send:
		err = ex.runSend(ctx, v)
	case model.Cancel:
		err = ex.runCancel(v)
	case model.Assign:
		err = ex.Host.Assign(ex.SessionID, v.Location, v.Expr)
	case model.Script:
		err = ex.Host.ExecScript(ex.SessionID, v.Source)
	case model.Log:
		err = ex.runLog(v)
	case model.If:
		err = ex.runIf(ctx, v)
	case model.Foreach:
		err = ex.runForeach(ctx, v)
	default:
		err = fmt.Errorf("actions: unknown executable content %T", a)
	}
	if err != nil {
		ex.raiseError(err)
	}
	return err
}

// RunAll executes a list of actions in order, stopping at the first error
// (matching W3C SCXML's "abort remaining executable content in this block"
// behavior on a runtime error).
func (ex *Executor) RunAll(ctx context.Context, actions []model.Action) error {
	for _, a := range actions {
		if err := ex.Run(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (ex *Executor) raiseError(cause error) {
	_ = ex.Queues.PushInternal(model.NewErrorEvent(model.ErrorExecution, cause))
}

func (ex *Executor) runRaise(r model.Raise) error {
	return ex.Queues.PushInternal(model.Event{Name: r.Event, Kind: model.KindInternal})
}

func (ex *Executor) runLog(l model.Log) error {
	if l.Expr == "" {
		ex.Logger.Info().Str("label", l.Label).Msg("scxml log")
		return nil
	}
	v, err := ex.Host.EvalExpression(ex.SessionID, l.Expr)
	if err != nil {
		return err
	}
	ex.Logger.Info().Str("label", l.Label).Interface("value", v).Msg("scxml log")
	return nil
}

func (ex *Executor) runCancel(c model.Cancel) error {
	id := c.SendID
	if id == "" && c.SendIDExpr != "" {
		v, err := ex.Host.EvalExpression(ex.SessionID, c.SendIDExpr)
		if err != nil {
			return err
		}
		id, _ = v.(string)
	}
	ex.Scheduler.Cancel(id)
	return nil
}

func (ex *Executor) runIf(ctx context.Context, f model.If) error {
	for _, branch := range f.Branches {
		if branch.Cond == "" {
			return ex.RunAll(ctx, branch.Actions)
		}
		ok, err := ex.Host.EvalBoolean(ex.SessionID, branch.Cond)
		if err != nil {
			return err
		}
		if ok {
			return ex.RunAll(ctx, branch.Actions)
		}
	}
	return nil
}

func (ex *Executor) runForeach(ctx context.Context, f model.Foreach) error {
	v, err := ex.Host.EvalExpression(ex.SessionID, f.Array)
	if err != nil {
		return err
	}
	items, ok := v.([]any)
	if !ok {
		return fmt.Errorf("actions: foreach array %q did not evaluate to an array", f.Array)
	}
	for i, item := range items {
		if err := ex.Host.SetVar(ex.SessionID, f.Item, item); err != nil {
			return err
		}
		if f.Index != "" {
			if err := ex.Host.SetVar(ex.SessionID, f.Index, i); err != nil {
				return err
			}
		}
		if err := ex.RunAll(ctx, f.Actions); err != nil {
			return err
		}
	}
	return nil
}

func (ex *Executor) runSend(ctx context.Context, s model.Send) error {
	if s.Event != "" && s.EventExpr != "" {
		return fmt.Errorf("actions: <send> cannot set both event and eventexpr")
	}
	if s.Target != "" && s.TargetExpr != "" {
		return fmt.Errorf("actions: <send> cannot set both target and targetexpr")
	}
	if s.Delay != "" && s.DelayExpr != "" {
		return fmt.Errorf("actions: <send> cannot set both delay and delayexpr")
	}
	if s.Type != "" && s.TypeExpr != "" {
		return fmt.Errorf("actions: <send> cannot set both type and typeexpr")
	}
	if s.Content != "" && s.ContentExpr != "" {
		return fmt.Errorf("actions: <send> cannot set both content and contentexpr")
	}

	eventName := s.Event
	if eventName == "" && s.EventExpr != "" {
		v, err := ex.Host.EvalExpression(ex.SessionID, s.EventExpr)
		if err != nil {
			return err
		}
		eventName, _ = v.(string)
	}

	target := s.Target
	if target == "" && s.TargetExpr != "" {
		v, err := ex.Host.EvalExpression(ex.SessionID, s.TargetExpr)
		if err != nil {
			return err
		}
		target, _ = v.(string)
	}

	data, params, err := ex.buildSendData(s)
	if err != nil {
		return err
	}

	sendID := s.ID
	if sendID == "" {
		sendID = uuid.NewString()
	}
	if s.IDLocation != "" {
		if err := ex.Host.SetVar(ex.SessionID, s.IDLocation, sendID); err != nil {
			return err
		}
	}

	delay := corealgo.ParseDelay(s.Delay)
	if delay == 0 && s.DelayExpr != "" {
		v, err := ex.Host.EvalExpression(ex.SessionID, s.DelayExpr)
		if err != nil {
			return err
		}
		if str, ok := v.(string); ok {
			delay = corealgo.ParseDelay(str)
		}
	}

	ev := model.Event{Name: eventName, Kind: model.KindExternal, SendID: sendID, Data: data, Params: params}
	resolved := dispatch.ParseTarget(target)

	deliver := func() {
		if resolved.Kind == dispatch.TargetInternal {
			ev.Kind = model.KindInternal
			_ = ex.Queues.PushInternal(ev)
			return
		}
		_ = ex.Dispatcher.Dispatch(ctx, ex.SessionID, target, ev)
	}

	if delay > 0 {
		ex.Scheduler.Schedule(ev, delay, sendID, func(model.Event) { deliver() })
		return nil
	}
	deliver()
	return nil
}

// maxContentBytes is the W3C SCXML <send><content> size ceiling (spec.md
// marks this a hard requirement; the same ceiling is applied to <param>
// aggregate size only for defense in depth, per spec.md's "should validate,
// optional" resolution for that case).
const maxContentBytes = 10 * 1024 * 1024

// buildSendData evaluates a <send>'s payload, returning both the collapsed
// value _event.data is set to (data) and, when the send used <param>/namelist
// rather than <content>, the per-name evaluated values in evaluation order
// with every value of a repeated name preserved (params). params is nil for
// a <content>-based send, letting an I/O processor like BasicHTTP tell the
// two payload shapes apart (W3C SCXML C.2) instead of re-deriving it from
// data's runtime type.
func (ex *Executor) buildSendData(s model.Send) (data any, params map[string][]any, err error) {
	if s.Content != "" {
		if len(s.Content) > maxContentBytes {
			return nil, nil, fmt.Errorf("actions: <send><content> exceeds %d byte limit", maxContentBytes)
		}
		v, err := ex.Host.EvalExpression(ex.SessionID, s.Content)
		return v, nil, err
	}
	if s.ContentExpr != "" {
		v, err := ex.Host.EvalExpression(ex.SessionID, s.ContentExpr)
		return v, nil, err
	}
	if len(s.Params) == 0 {
		return nil, nil, nil
	}
	// W3C 6.2: a <param> name repeated across multiple <param> elements
	// aggregates every evaluated value into an array, rather than the last
	// one winning.
	order := make([]string, 0, len(s.Params))
	values := make(map[string][]any, len(s.Params))
	approxBytes := 0
	for _, p := range s.Params {
		expr := p.Expr
		if expr == "" {
			expr = p.Location
		}
		if expr == "" {
			continue
		}
		v, err := ex.Host.EvalExpression(ex.SessionID, expr)
		if err != nil {
			return nil, nil, err
		}
		if _, seen := values[p.Name]; !seen {
			order = append(order, p.Name)
		}
		values[p.Name] = append(values[p.Name], v)
		approxBytes += len(p.Name) + len(fmt.Sprint(v))
	}
	if approxBytes > maxContentBytes {
		return nil, nil, fmt.Errorf("actions: <send><param> aggregate exceeds %d byte limit", maxContentBytes)
	}
	collapsed := make(map[string]any, len(order))
	for _, name := range order {
		vs := values[name]
		if len(vs) == 1 {
			collapsed[name] = vs[0]
		} else {
			collapsed[name] = vs
		}
	}
	return collapsed, values, nil
}
