package program

import (
	"github.com/juju/errors"
	"github.com/warriorguo/launchpad/types"
)

var (
	_ Node = &ColocationNode{}
)

type ColocationMode int

const (
	// ColocateThreads runs the inner nodes as goroutines of the process
	// running the colocation.
	ColocateThreads ColocationMode = 1
	// ColocateProcesses runs every inner node in a subprocess re-executing
	// the current binary.
	ColocateProcesses ColocationMode = 2
)

func (m ColocationMode) String() string {
	switch m {
	case ColocateThreads:
		return "MultiThreadingColocation"
	case ColocateProcesses:
		return "MultiProcessingColocation"
	}
	return "UnknownColocation"
}

// ColocationNode runs several nodes as a single node of its group. The
// inner nodes must not be added to the program themselves.
type ColocationNode struct {
	baseNode

	mode           ColocationMode
	nodes          []Node
	firstCompleted bool
	retries        int
}

// NewMultiThreadingColocation colocates nodes as goroutines. The colocation
// returns once every inner node returned or one of them failed, or with
// returnOnFirstCompleted once any of them returned.
func NewMultiThreadingColocation(nodes []Node, returnOnFirstCompleted bool) (*ColocationNode, error) {
	c := &ColocationNode{mode: ColocateThreads, firstCompleted: returnOnFirstCompleted}
	for _, n := range nodes {
		if _, err := c.AddNode(n); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return c, nil
}

// NewMultiProcessingColocation colocates nodes as subprocesses. A failed
// subprocess is restarted, retriesOnFailure bounds the restarts of all the
// inner nodes together.
func NewMultiProcessingColocation(nodes []Node, retriesOnFailure int) (*ColocationNode, error) {
	if retriesOnFailure < 0 {
		return nil, types.NewInvalidTopologyErrorf("negative retries %d", retriesOnFailure)
	}
	c := &ColocationNode{mode: ColocateProcesses, retries: retriesOnFailure}
	for _, n := range nodes {
		if _, err := c.AddNode(n); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return c, nil
}

// AddNode colocates n and returns its handle. The handle name is known once
// the colocation itself is added to a program.
func (c *ColocationNode) AddNode(n Node) (*Handle, error) {
	if c.handle != nil {
		return nil, types.NewInvalidTopologyErrorf("%s %s is already part of a program", c.mode, c.handle.Name())
	}
	if n == nil {
		return nil, types.NewInvalidTopologyErrorf("nil node")
	}
	if n.Handle() != nil {
		return nil, types.NewInvalidTopologyErrorf("node was already added as %s", n.Handle().Name())
	}
	if err := n.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	h := &Handle{index: len(c.nodes), kind: n.Kind()}
	n.setHandle(h)
	c.nodes = append(c.nodes, n)
	return h, nil
}

func (c *ColocationNode) Kind() NodeKind {
	return KindColocation
}

func (c *ColocationNode) Mode() ColocationMode {
	return c.mode
}

func (c *ColocationNode) Nodes() []Node {
	return append([]Node(nil), c.nodes...)
}

func (c *ColocationNode) ReturnOnFirstCompleted() bool {
	return c.firstCompleted
}

func (c *ColocationNode) RetriesOnFailure() int {
	return c.retries
}

func (c *ColocationNode) validate() error {
	if len(c.nodes) == 0 {
		return types.NewInvalidTopologyErrorf("%s requires at least one node", c.mode)
	}
	return nil
}

// setHandle names the inner nodes after the colocation: the inner node i of
// g/0 is g/0/i.
func (c *ColocationNode) setHandle(h *Handle) {
	c.handle = h
	for _, n := range c.nodes {
		inner := n.Handle()
		inner.label = h.Name()
		if coloc, ok := n.(*ColocationNode); ok {
			coloc.setHandle(inner)
		}
	}
}

// Expand replaces colocations by the nodes they run, recursively.
func Expand(nodes []Node) []Node {
	expanded := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if coloc, ok := n.(*ColocationNode); ok {
			expanded = append(expanded, Expand(coloc.nodes)...)
			continue
		}
		expanded = append(expanded, n)
	}
	return expanded
}

// Restore gives a node rebuilt in a worker process the label and index it
// had in the launching program.
func Restore(n Node, label string, index int) *Handle {
	h := &Handle{label: label, index: index, kind: n.Kind()}
	n.setHandle(h)
	return h
}
