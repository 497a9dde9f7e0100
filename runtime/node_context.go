package runtime

import (
	"context"
	"time"

	"github.com/warriorguo/launchpad/types"
)

var (
	_ types.Context = &nodeContext{}
)

// nodeContext is the types.Context of an in-process node. It is cancelled
// once the program stops.
type nodeContext struct {
	context.Context

	m            *WorkerManager
	label        string
	launchConfig types.Data
}

type managerKey struct{}

// ManagerFromContext returns the manager running the node ctx was built
// for, ctx may be derived from the node context.
func ManagerFromContext(ctx context.Context) (*WorkerManager, bool) {
	if ctx == nil {
		return nil, false
	}
	m, ok := ctx.Value(managerKey{}).(*WorkerManager)
	return m, ok
}

// NodeContext builds the context handed to a node of group label.
// launchConfig is the resource bag of the group, possibly nil.
func (m *WorkerManager) NodeContext(label string, launchConfig types.Data) types.Context {
	ctx, cancel := m.Coordinator.Context(m.opts.Ctx)
	m.RegisterStopHandler(cancel)
	ctx = context.WithValue(ctx, managerKey{}, m)
	return &nodeContext{
		Context:      ctx,
		m:            m,
		label:        label,
		launchConfig: launchConfig,
	}
}

func (c *nodeContext) LaunchType() types.LaunchType {
	return c.m.launchType
}

func (c *nodeContext) LaunchConfig() types.Data {
	return c.launchConfig
}

func (c *nodeContext) Label() string {
	return c.label
}

func (c *nodeContext) StopProgram() {
	c.m.Stop()
}

func (c *nodeContext) WaitForStop() bool {
	return c.m.WaitForStop()
}

func (c *nodeContext) WaitForStopTimeout(timeout time.Duration) bool {
	return c.m.WaitForStopTimeout(timeout)
}

func (c *nodeContext) RegisterStopHandler(handler func()) {
	c.m.RegisterStopHandler(handler)
}
