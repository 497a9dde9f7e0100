// Package serialization converts node entry points into payloads which a
// worker process can run, and checks ahead of a launch that this is possible.
//
// An entry point is transportable when it was registered by name in package
// registry and its arguments encode to JSON. Closures, channels, functions
// and live connections in the arguments are not.
package serialization

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/warriorguo/launchpad/program"
	"github.com/warriorguo/launchpad/registry"
	"github.com/warriorguo/launchpad/types"
	"github.com/warriorguo/launchpad/utils"
)

// Entry is the transportable form of one node.
type Entry struct {
	Kind     program.NodeKind
	Function string
	Label    string
	Index    int
	Address  string     `json:",omitempty"`
	Args     types.Data `json:",omitempty"`

	// colocation nodes only
	Mode           program.ColocationMode `json:",omitempty"`
	Nodes          []Entry                `json:",omitempty"`
	FirstCompleted bool                   `json:",omitempty"`
	Retries        int                    `json:",omitempty"`
}

// Name matches program.Handle.Name of the node the entry was built from.
func (e *Entry) Name() string {
	return fmt.Sprintf("%s/%d", e.Label, e.Index)
}

// UnregisteredFunctionError is the cause of a SerializationError for nodes
// whose entry point is a closure or an unknown name.
type UnregisteredFunctionError struct {
	Node     string
	Function string
}

func (e *UnregisteredFunctionError) Error() string {
	if e.Function == "" {
		return fmt.Sprintf("entry point of %s is an unregistered closure", e.Node)
	}
	return fmt.Sprintf("entry point %s of %s is not registered", e.Function, e.Node)
}

// CheckNodesAreSerializable fails with a SerializationError when one of the
// nodes of group label can not be transported to another process.
func CheckNodesAreSerializable(label string, nodes []program.Node) error {
	_, err := Serialize(label, nodes)
	return err
}

// Serialize encodes the entry points of the nodes of group label.
func Serialize(label string, nodes []program.Node) ([]byte, error) {
	entries := make([]Entry, 0, len(nodes))
	for _, n := range nodes {
		e, err := entryOf(n)
		if err != nil {
			return nil, types.NewSerializationError(label, err)
		}
		entries = append(entries, e)
	}

	b, err := utils.Serialize(entries)
	if err != nil {
		return nil, types.NewSerializationError(label, unwrapMarshalerError(err))
	}
	return b, nil
}

// SerializeFunctions writes the encoded entry points to path. description
// names the nodes in the error, usually the group label.
func SerializeFunctions(path string, description string, nodes []program.Node) error {
	b, err := Serialize(description, nodes)
	if err != nil {
		return errors.Trace(err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return errors.Annotatef(err, "write payload of %s to %s", description, path)
	}
	return nil
}

func Decode(b []byte) ([]Entry, error) {
	entries := []Entry{}
	if err := utils.Unserialize(b, &entries); err != nil {
		return nil, errors.Annotatef(err, "decode payload")
	}
	return entries, nil
}

// ReadFunctions reads a payload written by SerializeFunctions.
func ReadFunctions(path string) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "read payload %s", path)
	}
	return Decode(b)
}

func entryOf(n program.Node) (Entry, error) {
	h := n.Handle()
	e := Entry{Kind: n.Kind(), Function: n.Function(), Args: n.Arguments()}
	if h != nil {
		e.Label, e.Index, e.Address = h.Label(), h.Index(), h.Address()
	}
	if coloc, ok := n.(*program.ColocationNode); ok {
		e.Mode, e.FirstCompleted, e.Retries = coloc.Mode(), coloc.ReturnOnFirstCompleted(), coloc.RetriesOnFailure()
		for _, inner := range coloc.Nodes() {
			ie, err := entryOf(inner)
			if err != nil {
				return e, err
			}
			e.Nodes = append(e.Nodes, ie)
		}
		return e, nil
	}
	if !registered(n.Kind(), e.Function) {
		return e, &UnregisteredFunctionError{Node: e.Name(), Function: e.Function}
	}
	return e, nil
}

// Node rebuilds the node of e from the registry, with the handle it had in
// the launching program.
func (e *Entry) Node() (program.Node, error) {
	n, err := e.build()
	if err != nil {
		return nil, errors.Trace(err)
	}
	program.Restore(n, e.Label, e.Index)
	e.bind(n)
	return n, nil
}

func (e *Entry) build() (program.Node, error) {
	switch e.Kind {
	case program.KindPy:
		n, err := program.NewPyNode(e.Function, e.Args)
		if err != nil {
			return nil, errors.Annotatef(err, "rebuild %s", e.Name())
		}
		return n, nil
	case program.KindCourier:
		n, err := program.NewCourierNode(e.Function, e.Args)
		if err != nil {
			return nil, errors.Annotatef(err, "rebuild %s", e.Name())
		}
		return n, nil
	case program.KindColocation:
		nodes := make([]program.Node, 0, len(e.Nodes))
		for i := range e.Nodes {
			n, err := e.Nodes[i].build()
			if err != nil {
				return nil, errors.Trace(err)
			}
			nodes = append(nodes, n)
		}
		var (
			coloc *program.ColocationNode
			err   error
		)
		switch e.Mode {
		case program.ColocateThreads:
			coloc, err = program.NewMultiThreadingColocation(nodes, e.FirstCompleted)
		case program.ColocateProcesses:
			coloc, err = program.NewMultiProcessingColocation(nodes, e.Retries)
		default:
			return nil, errors.NotSupportedf("colocation mode %d of %s", e.Mode, e.Name())
		}
		if err != nil {
			return nil, errors.Annotatef(err, "rebuild %s", e.Name())
		}
		return coloc, nil
	}
	return nil, errors.NotSupportedf("node kind %v of %s", e.Kind, e.Name())
}

// bind restores the courier addresses of n and its colocated nodes.
func (e *Entry) bind(n program.Node) {
	n.Handle().Bind(e.Address)
	if coloc, ok := n.(*program.ColocationNode); ok {
		for i, inner := range coloc.Nodes() {
			e.Nodes[i].bind(inner)
		}
	}
}

func registered(kind program.NodeKind, function string) bool {
	if function == "" {
		return false
	}
	switch kind {
	case program.KindPy:
		_, exists := registry.LookupFunc(function)
		return exists
	case program.KindCourier:
		_, exists := registry.LookupService(function)
		return exists
	}
	return false
}

// unwrapMarshalerError reports the innermost encoding failure, e.g. the
// unsupported channel type behind a handle.
func unwrapMarshalerError(err error) error {
	for {
		me, ok := err.(*json.MarshalerError)
		if !ok || me.Err == nil {
			return err
		}
		err = me.Err
	}
}
