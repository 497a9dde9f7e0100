package launch

import (
	"net"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/program"
	"github.com/warriorguo/launchpad/runtime"
	"github.com/warriorguo/launchpad/types"
)

// LocalMultiThreading runs every node as a goroutine of this process. The
// serialization check only runs when asked for.
func LocalMultiThreading(p *program.Program, opts *types.LaunchOptions) (types.Controller, error) {
	return launchThreads(p, opts, types.LocalMultiThreading, false)
}

// TestMultiThreading is LocalMultiThreading checking serialization unless
// disabled, so tests catch nodes a process backend could not run.
func TestMultiThreading(p *program.Program, opts *types.LaunchOptions) (types.Controller, error) {
	return launchThreads(p, opts, types.TestMultiThreading, true)
}

func launchThreads(p *program.Program, opts *types.LaunchOptions, lt types.LaunchType, checkByDefault bool) (types.Controller, error) {
	if opts.SerializeCheck.Resolve(checkByDefault) {
		if err := checkSerializable(p); err != nil {
			return nil, errors.Trace(err)
		}
	}

	s, err := openStore(opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	listeners, err := listenCouriers(p)
	if err != nil {
		return nil, errors.Trace(err)
	}

	m := runtime.NewWorkerManager(lt, managerOptions(opts, s)...)
	listen := func(h *program.Handle) (net.Listener, error) {
		lis, exists := listeners[h]
		if !exists {
			return nil, errors.NotFoundf("listener of %s", h.Name())
		}
		return lis, nil
	}
	for _, g := range p.Groups() {
		label, launchConfig := g.Label(), opts.GroupResources(g.Label())
		newContext := func() types.Context { return m.NodeContext(label, launchConfig) }
		for _, n := range g.Nodes() {
			fn, err := nodeWorker(m, n, newContext, listen)
			if err == nil {
				_, err = m.ThreadWorker(label, fn)
			}
			if err != nil {
				m.Abort(nil)
				closeListeners(listeners)
				return nil, errors.Trace(err)
			}
		}
	}
	log.Debugf("program %s launched with %d thread workers", p.Name(), p.NumNodes())
	return m, nil
}
