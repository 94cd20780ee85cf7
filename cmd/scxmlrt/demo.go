package main

import "github.com/comalice/scxmlrt/model"

// builtinDemos returns the small set of hand-built documents the CLI can run
// without an SCXML parser (out of scope per spec.md §1). Each demonstrates a
// different corner of the runtime: "trafficlight" exercises plain compound
// transitions and <log>; "parallel" exercises <parallel> regions and
// done.state generation.
func builtinDemos() map[string]func() (*model.Document, error) {
	return map[string]func() (*model.Document, error){
		"trafficlight": buildTrafficLight,
		"parallel":     buildParallelDemo,
	}
}

func buildTrafficLight() (*model.Document, error) {
	b := model.NewBuilder("trafficlight", "ecmascript")
	root := b.Root("light", model.Compound).Initial("red")
	root.Child("red", model.Atomic).
		OnEntry(model.Log{Label: "state", Expr: `"red"`}).
		Transition([]string{"timer"}, []string{"green"})
	root.Child("green", model.Atomic).
		OnEntry(model.Log{Label: "state", Expr: `"green"`}).
		Transition([]string{"timer"}, []string{"yellow"})
	root.Child("yellow", model.Atomic).
		OnEntry(model.Log{Label: "state", Expr: `"yellow"`}).
		Transition([]string{"timer"}, []string{"red"})
	return b.Build()
}

func buildParallelDemo() (*model.Document, error) {
	b := model.NewBuilder("parallel-demo", "ecmascript")
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

	return b.Build()
}
