package program

import (
	"github.com/warriorguo/launchpad/registry"
	"github.com/warriorguo/launchpad/types"
)

var (
	_ Node = &PyNode{}
	_ Node = &CourierNode{}
)

type NodeKind int

const (
	KindPy         NodeKind = 1
	KindCourier    NodeKind = 2
	KindColocation NodeKind = 3
)

func (k NodeKind) String() string {
	switch k {
	case KindPy:
		return "PyNode"
	case KindCourier:
		return "CourierNode"
	case KindColocation:
		return "ColocationNode"
	}
	return "UnknownNode"
}

// Node is a unit of work of a Program. Every node has a runnable entry
// point, courier nodes additionally expose an RPC surface through their
// Handle.
type Node interface {
	Kind() NodeKind
	/**
	 * Function is the registry name of the entry point. It is empty when
	 * the entry point is an in-process closure, which can not be moved
	 * to another process.
	 */
	Function() string
	Arguments() types.Data
	// Handle is nil until the node is added to a program.
	Handle() *Handle

	validate() error
	setHandle(h *Handle)
}

type baseNode struct {
	function string
	args     types.Data
	handle   *Handle
}

func (n *baseNode) Function() string {
	return n.function
}

func (n *baseNode) Arguments() types.Data {
	return n.args
}

func (n *baseNode) Handle() *Handle {
	return n.handle
}

func (n *baseNode) setHandle(h *Handle) {
	n.handle = h
}

// PyNode runs a NodeFunc.
type PyNode struct {
	baseNode
	fn types.NodeFunc
}

// NewPyNode builds a node from a registered function.
func NewPyNode(function string, args types.Data) (*PyNode, error) {
	if function == "" {
		return nil, types.NewInvalidTopologyErrorf("PyNode requires a function")
	}
	fn, exists := registry.LookupFunc(function)
	if !exists {
		return nil, types.NewInvalidTopologyErrorf("function %s is not registered", function)
	}
	return &PyNode{baseNode: baseNode{function: function, args: args}, fn: fn}, nil
}

// NewPyNodeFunc builds a node around an in-process closure.
func NewPyNodeFunc(fn types.NodeFunc, args types.Data) (*PyNode, error) {
	if fn == nil {
		return nil, types.NewInvalidTopologyErrorf("PyNode requires a function")
	}
	return &PyNode{baseNode: baseNode{args: args}, fn: fn}, nil
}

func (n *PyNode) Kind() NodeKind {
	return KindPy
}

func (n *PyNode) Func() types.NodeFunc {
	return n.fn
}

func (n *PyNode) validate() error {
	if n.fn == nil {
		return types.NewInvalidTopologyErrorf("PyNode has no function")
	}
	return nil
}

// CourierNode serves the gRPC services registered by its ServiceFunc.
type CourierNode struct {
	baseNode
	service types.ServiceFunc
}

func NewCourierNode(service string, args types.Data) (*CourierNode, error) {
	if service == "" {
		return nil, types.NewInvalidTopologyErrorf("CourierNode requires a service")
	}
	fn, exists := registry.LookupService(service)
	if !exists {
		return nil, types.NewInvalidTopologyErrorf("service %s is not registered", service)
	}
	return &CourierNode{baseNode: baseNode{function: service, args: args}, service: fn}, nil
}

func NewCourierNodeFunc(service types.ServiceFunc, args types.Data) (*CourierNode, error) {
	if service == nil {
		return nil, types.NewInvalidTopologyErrorf("CourierNode requires a service")
	}
	return &CourierNode{baseNode: baseNode{args: args}, service: service}, nil
}

func (n *CourierNode) Kind() NodeKind {
	return KindCourier
}

func (n *CourierNode) Service() types.ServiceFunc {
	return n.service
}

func (n *CourierNode) validate() error {
	if n.service == nil {
		return types.NewInvalidTopologyErrorf("CourierNode has no service")
	}
	return nil
}
