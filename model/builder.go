package model

// Builder assembles a Document fluently. It generalizes the teacher's
// dot-path MachineBuilder/StateBuilder pair to a real pointer tree addressed
// by the document's own state IDs (rather than an assigned dense index),
// since transitions, invokes and history defaults all address states by
// their SCXML id attribute.
type Builder struct {
	doc   *Document
	nodes map[string]*StateNode
	order int
	err   error
}

// NewBuilder starts a Document builder. datamodel is "ecmascript" or "null".
func NewBuilder(name, datamodel string) *Builder {
	return &Builder{
		doc: &Document{
			Name:      name,
			Datamodel: datamodel,
			Binding:   EarlyBinding,
		},
		nodes: make(map[string]*StateNode),
	}
}

// WithScript sets the top-level <script> source.
func (b *Builder) WithScript(src string) *Builder {
	b.doc.Script = src
	return b
}

// WithLateBinding switches the document to late datamodel binding.
func (b *Builder) WithLateBinding() *Builder {
	b.doc.Binding = LateBinding
	return b
}

// NodeBuilder builds a single StateNode and its subtree fluently.
type NodeBuilder struct {
	node *StateNode
	b    *Builder
}

func (b *Builder) newNode(id string, typ StateType, parent *StateNode) *NodeBuilder {
	if _, exists := b.nodes[id]; exists && b.err == nil {
		b.err = duplicateStateError(id)
	}
	n := &StateNode{ID: id, Type: typ, Parent: parent, DocOrder: b.order}
	b.order++
	b.nodes[id] = n
	if parent != nil {
		parent.Children = append(parent.Children, n)
	}
	return &NodeBuilder{node: n, b: b}
}

// Root starts the document's root state.
func (b *Builder) Root(id string, typ StateType) *NodeBuilder {
	nb := b.newNode(id, typ, nil)
	b.doc.Root = nb.node
	return nb
}

// Child adds a child state under nb's node.
func (nb *NodeBuilder) Child(id string, typ StateType) *NodeBuilder {
	return nb.b.newNode(id, typ, nb.node)
}

// Initial sets the default child ID for a Compound/Parallel node.
func (nb *NodeBuilder) Initial(childID string) *NodeBuilder {
	nb.node.Initial = childID
	return nb
}

// OnEntry appends entry actions.
func (nb *NodeBuilder) OnEntry(actions ...Action) *NodeBuilder {
	nb.node.OnEntry = append(nb.node.OnEntry, actions...)
	return nb
}

// OnExit appends exit actions.
func (nb *NodeBuilder) OnExit(actions ...Action) *NodeBuilder {
	nb.node.OnExit = append(nb.node.OnExit, actions...)
	return nb
}

// DoneData attaches <donedata> content to a Final node.
func (nb *NodeBuilder) DoneData(dd DoneData) *NodeBuilder {
	nb.node.DoneData = &dd
	return nb
}

// Invoke attaches a static <invoke> to nb's node.
func (nb *NodeBuilder) Invoke(inv InvokeNode) *NodeBuilder {
	nb.node.Invokes = append(nb.node.Invokes, &inv)
	return nb
}

// Transition adds a transition on nb's node for one or more event
// descriptors ("" means eventless). Use TransitionOpt to set Cond, Type and
// Actions.
func (nb *NodeBuilder) Transition(events []string, targets []string, opts ...TransitionOpt) *NodeBuilder {
	t := &TransitionNode{
		Source:   nb.node,
		Events:   events,
		Targets:  targets,
		Type:     External,
		DocOrder: len(nb.node.Transitions),
	}
	for _, o := range opts {
		o(t)
	}
	nb.node.Transitions = append(nb.node.Transitions, t)
	return nb
}

// TransitionOpt customizes a transition built via NodeBuilder.Transition.
type TransitionOpt func(*TransitionNode)

// WithCond sets the transition's guard expression.
func WithCond(expr string) TransitionOpt {
	return func(t *TransitionNode) { t.Cond = expr }
}

// WithInternal marks the transition internal (W3C SCXML 3.13).
func WithInternal() TransitionOpt {
	return func(t *TransitionNode) { t.Type = Internal }
}

// WithActions attaches executable content to the transition.
func WithActions(actions ...Action) TransitionOpt {
	return func(t *TransitionNode) { t.Actions = append(t.Actions, actions...) }
}

// Up returns to the parent NodeBuilder, for chained sibling construction.
func (nb *NodeBuilder) Up() *NodeBuilder {
	if nb.node.Parent == nil {
		return nb
	}
	return &NodeBuilder{node: nb.node.Parent, b: nb.b}
}

// Node exposes the built StateNode, e.g. to pass to DoneStateEvent callers
// or tests that need direct pointer access.
func (nb *NodeBuilder) Node() *StateNode { return nb.node }

// Build finalizes the Document: indexes every state by ID and validates the
// tree. Returns an error instead of panicking, unlike the teacher's
// MachineBuilder.Build, since a Document is routinely built from
// user-supplied definitions at runtime rather than only at compile time in
// tests.
func (b *Builder) Build() (*Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.doc.States = make(map[string]*StateNode, len(b.nodes))
	for id, n := range b.nodes {
		b.doc.States[id] = n
	}
	if err := b.doc.Validate(); err != nil {
		return nil, err
	}
	return b.doc, nil
}

type duplicateStateErr string

func (e duplicateStateErr) Error() string { return "model: duplicate state id " + string(e) }

func duplicateStateError(id string) error { return duplicateStateErr(id) }
