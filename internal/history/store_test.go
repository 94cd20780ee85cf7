package history

import (
	"testing"

	"github.com/comalice/scxmlrt/model"
)

func buildWithHistory(t *testing.T) (*model.Document, *model.StateNode, *model.StateNode, *model.StateNode) {
	t.Helper()
	b := model.NewBuilder("m", "ecmascript")
	root := b.Root("root", model.Compound).Initial("a")
	a := root.Child("a", model.Compound).Initial("a1")
	a.Child("a1", model.Atomic)
	a.Child("a2", model.Atomic)
	a.Child("hist", model.ShallowHistory).Transition(nil, []string{"a1"})
	doc, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	aNode, _ := doc.FindState("a")
	a2Node, _ := doc.FindState("a2")
	histNode, _ := doc.FindState("hist")
	return doc, aNode, a2Node, histNode
}

func TestRecordAndLookupShallow(t *testing.T) {
	_, aNode, a2Node, histNode := buildWithHistory(t)
	store := New()

	RecordOnExit(store, []*model.StateNode{aNode}, []*model.StateNode{aNode, a2Node})

	recorded, ok := store.Lookup(histNode)
	if !ok {
		t.Fatalf("expected recorded history")
	}
	if len(recorded) != 1 || recorded[0].ID != "a2" {
		t.Fatalf("recorded = %+v, want [a2]", recorded)
	}
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	_, _, _, histNode := buildWithHistory(t)
	store := New()
	if _, ok := store.Lookup(histNode); ok {
		t.Fatalf("expected no recorded history before first exit")
	}
}

func TestClear(t *testing.T) {
	_, aNode, a2Node, histNode := buildWithHistory(t)
	store := New()
	RecordOnExit(store, []*model.StateNode{aNode}, []*model.StateNode{aNode, a2Node})
	store.Clear()
	if _, ok := store.Lookup(histNode); ok {
		t.Fatalf("expected history cleared")
	}
}
