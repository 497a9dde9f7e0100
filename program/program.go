package program

import (
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/warriorguo/launchpad/types"
)

// Group is an ordered list of nodes sharing a label. Backends allocate
// resources per group.
type Group struct {
	label string
	nodes []Node
}

func (g *Group) Label() string {
	return g.label
}

func (g *Group) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

func (g *Group) Len() int {
	return len(g.nodes)
}

// Program is the topology handed to a launcher. Build it with AddNode and
// Group, it becomes read-only once launched.
type Program struct {
	mu sync.Mutex

	name   string
	groups []*Group
	index  map[string]*Group

	scope    *Scope
	launched bool
}

func NewProgram(name string) *Program {
	return &Program{name: name, index: make(map[string]*Group)}
}

func (p *Program) Name() string {
	return p.name
}

// Groups returns the groups in insertion order.
func (p *Program) Groups() []*Group {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Group(nil), p.groups...)
}

func (p *Program) GroupByLabel(label string) (*Group, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, exists := p.index[label]
	return g, exists
}

func (p *Program) AllNodes() []Node {
	p.mu.Lock()
	defer p.mu.Unlock()

	nodes := make([]Node, 0)
	for _, g := range p.groups {
		nodes = append(nodes, g.nodes...)
	}
	return nodes
}

func (p *Program) NumNodes() int {
	return len(p.AllNodes())
}

func (p *Program) Launched() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.launched
}

// MarkLaunched consumes the program, a program can be launched only once.
func (p *Program) MarkLaunched() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.launched {
		return types.NewInvalidTopologyErrorf("program %s was already launched", p.name)
	}
	p.launched = true
	return nil
}

// AddNode appends node to the group label, creating the group if needed.
// An empty label routes the node into the group of the active scope.
func (p *Program) AddNode(node Node, label string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.scope != nil {
		if label == "" || label == p.scope.requested {
			label = p.scope.label
		}
		if label != p.scope.label {
			return nil, types.NewInvalidTopologyErrorf("label %s does not match the current group %s",
				label, p.scope.label)
		}
	}
	return p.addNodeLocked(node, label)
}

func (p *Program) addNodeLocked(node Node, label string) (*Handle, error) {
	if p.launched {
		return nil, types.NewInvalidTopologyErrorf("program %s was already launched", p.name)
	}
	if node == nil {
		return nil, types.NewInvalidTopologyErrorf("nil node")
	}
	if err := node.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if node.Handle() != nil {
		return nil, types.NewInvalidTopologyErrorf("node was already added as %s", node.Handle().Name())
	}
	if label == "" {
		return nil, types.NewInvalidTopologyErrorf("label should not be empty")
	}

	g, exists := p.index[label]
	if !exists {
		g = &Group{label: label}
		p.index[label] = g
		p.groups = append(p.groups, g)
	}
	h := &Handle{label: label, index: len(g.nodes), kind: node.Kind()}
	node.setHandle(h)
	g.nodes = append(g.nodes, node)
	return h, nil
}

// Group runs fn with a scope adding nodes into a fresh group. A label which
// is already taken gets a numeric suffix. The scope is closed once fn
// returns, the group stays open for AddNode.
func (p *Program) Group(label string, fn func(s *Scope) error) error {
	p.mu.Lock()
	if p.launched {
		p.mu.Unlock()
		return types.NewInvalidTopologyErrorf("program %s was already launched", p.name)
	}
	if label == "" {
		p.mu.Unlock()
		return types.NewInvalidTopologyErrorf("label should not be empty")
	}
	if p.scope != nil {
		p.mu.Unlock()
		return types.NewInvalidTopologyErrorf("group %s can not be nested in group %s", label, p.scope.label)
	}
	s := &Scope{program: p, requested: label, label: p.uniqueLabelLocked(label)}
	p.scope = s
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		s.closed = true
		p.scope = nil
	}()
	return errors.Trace(fn(s))
}

func (p *Program) uniqueLabelLocked(label string) string {
	if _, exists := p.index[label]; !exists {
		return label
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", label, i)
		if _, exists := p.index[candidate]; !exists {
			return candidate
		}
	}
}

// Scope routes nodes into one group while a Program.Group call runs.
type Scope struct {
	program   *Program
	requested string
	label     string
	closed    bool
}

// Label is the resolved group label, suffixed when the requested one was taken.
func (s *Scope) Label() string {
	return s.label
}

func (s *Scope) AddNode(node Node) (*Handle, error) {
	p := s.program
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.closed {
		return nil, types.NewInvalidTopologyErrorf("group scope %s is closed", s.label)
	}
	return p.addNodeLocked(node, s.label)
}
