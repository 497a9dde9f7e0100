// Package launchpad launches programs of nodes onto threads, local
// processes, remote hosts or cloud jobs, and stops them cooperatively.
//
// A program is described with package program, passed to Launch together
// with a launch type, and waited for through the returned controller:
//
//	p := program.NewProgram("consumer_producers")
//	...
//	c, err := launchpad.Launch(p, types.WithLaunchType(types.LocalMultiThreading))
//	if err != nil {
//		return err
//	}
//	return c.Wait()
package launchpad

import (
	"context"
	"os"
	"sync"
	"syscall"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/config"
	"github.com/warriorguo/launchpad/launch"
	"github.com/warriorguo/launchpad/program"
	"github.com/warriorguo/launchpad/runtime"
	"github.com/warriorguo/launchpad/types"
)

// Launcher starts p on one backend. The controller may be nil for backends
// with nothing to wait for locally.
type Launcher func(p *program.Program, opts *types.LaunchOptions) (types.Controller, error)

var (
	mu           sync.RWMutex
	launchers    = make(map[types.LaunchType]Launcher)
	jobCanceller types.JobCanceller
)

func init() {
	Register(types.LocalMultiThreading, launch.LocalMultiThreading)
	Register(types.TestMultiThreading, launch.TestMultiThreading)
	Register(types.LocalMultiProcessing, launch.LocalMultiProcessing)
	Register(types.TestMultiProcessing, launch.TestMultiProcessing)
	Register(types.SSHMultiMachines, launch.SSHMultiMachines)
	Register(types.VertexAI, launch.VertexAI)
}

// Register sets the launcher of lt, replacing the previous one. It panics
// on a launch type outside the known set or a nil launcher.
func Register(lt types.LaunchType, l Launcher) {
	if !lt.Valid() {
		panic("launchpad: Register of unknown launch type " + lt.String())
	}
	if l == nil {
		panic("launchpad: Register of nil launcher for " + lt.String())
	}
	mu.Lock()
	defer mu.Unlock()
	launchers[lt] = l
}

func lookup(lt types.LaunchType) (Launcher, bool) {
	mu.RLock()
	defer mu.RUnlock()
	l, exists := launchers[lt]
	return l, exists
}

// Launch starts p with the backend of the requested launch type, or the
// configured default one.
func Launch(p *program.Program, opts ...types.LaunchOption) (types.Controller, error) {
	return LaunchPrograms([]*program.Program{p}, opts...)
}

// LaunchPrograms launches the first program, the others are ignored with a
// warning. No backend takes several programs.
func LaunchPrograms(ps []*program.Program, opts ...types.LaunchOption) (types.Controller, error) {
	options := types.NewLaunchOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.Ctx == nil {
		options.Ctx = context.Background()
	}

	lt, err := resolveLaunchType(options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	launcher, exists := lookup(lt)
	if !exists {
		return nil, types.NewUnknownLaunchTypeError(lt.String())
	}
	options.LaunchType = lt

	if len(ps) == 0 {
		return nil, types.NewInvalidTopologyErrorf("no program to launch")
	}
	if len(ps) > 1 {
		log.Warnf("Multiple programs are provided but launch type is %s. Launching only the first program...", lt)
	}
	p := ps[0]
	if p == nil {
		return nil, types.NewInvalidTopologyErrorf("nil program")
	}
	if err := p.MarkLaunched(); err != nil {
		return nil, errors.Trace(err)
	}

	log.Debugf("launching %s with %d groups as %s", p.Name(), len(p.Groups()), lt)
	c, err := launcher(p, options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c, nil
}

func resolveLaunchType(opts *types.LaunchOptions) (types.LaunchType, error) {
	switch {
	case opts.LaunchType != "":
		if !opts.LaunchType.Valid() {
			return "", types.NewUnknownLaunchTypeError(opts.LaunchType.String())
		}
		return opts.LaunchType, nil
	case opts.LaunchTypeString != "":
		return types.ParseLaunchType(opts.LaunchTypeString)
	}
	return types.ParseLaunchType(config.Default().LaunchType.String())
}

// SetJobCanceller gives MakeProgramStopper the way to cancel the cloud job
// of the current vertex_ai worker.
func SetJobCanceller(c types.JobCanceller) {
	mu.Lock()
	defer mu.Unlock()
	jobCanceller = c
}

// MakeProgramStopper returns a function stopping the program launched with
// lt, usable from any of its nodes given the node context. Thread programs
// are stopped through the manager of ctx, leaving other launches of this
// process running. Process and ssh programs are stopped by a SIGTERM to the
// launching process, observed by its controller.
func MakeProgramStopper(ctx context.Context, lt types.LaunchType) (func(), error) {
	switch lt {
	case types.LocalMultiThreading, types.TestMultiThreading:
		m, ok := runtime.ManagerFromContext(ctx)
		if !ok {
			return nil, errors.NotFoundf("%s launch in context", lt)
		}
		return m.Stop, nil

	case types.LocalMultiProcessing, types.TestMultiProcessing, types.SSHMultiMachines:
		pid := launch.LauncherPID()
		if pid <= 0 {
			pid = os.Getpid()
		}
		return func() {
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				log.Errorf("stop program of launcher %d: %v", pid, err)
			}
		}, nil

	case types.VertexAI:
		mu.RLock()
		c := jobCanceller
		mu.RUnlock()
		if c == nil {
			return nil, errors.NotSupportedf("stopping a %s program without a job canceller", lt)
		}
		return func() {
			if err := c.Cancel(context.Background()); err != nil {
				log.Errorf("cancel job: %v", err)
			}
		}, nil
	}
	return nil, types.NewUnknownLaunchTypeError(lt.String())
}
