package launch

import (
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/program"
	"github.com/warriorguo/launchpad/runtime"
	"github.com/warriorguo/launchpad/serialization"
	"github.com/warriorguo/launchpad/types"
)

// contextFunc builds the context of one node of the group being launched.
type contextFunc func() types.Context

// listenFunc returns the listener a courier node serves on.
type listenFunc func(h *program.Handle) (net.Listener, error)

// nodeWorker builds the body of the thread worker running n.
func nodeWorker(m *runtime.WorkerManager, n program.Node, newContext contextFunc, listen listenFunc) (func() error, error) {
	args := n.Arguments()
	switch node := n.(type) {
	case *program.PyNode:
		entry := node.Func()
		ctx := newContext()
		return func() error { return entry(ctx, args) }, nil

	case *program.CourierNode:
		lis, err := listen(node.Handle())
		if err != nil {
			return nil, errors.Annotatef(err, "listen for %s", node.Handle().Name())
		}
		service := node.Service()
		ctx := newContext()
		return func() error { return serveCourier(ctx, service, lis, args) }, nil

	case *program.ColocationNode:
		if node.Mode() == program.ColocateProcesses {
			return colocateProcesses(m, node, newContext()), nil
		}
		return colocateThreads(m, node, newContext, listen)
	}
	return nil, types.NewInvalidTopologyErrorf("unsupported node %T", n)
}

// colocateThreads runs the inner nodes of c as thread workers labelled after
// c, so their workers are named like their handles. A failing inner node
// fails the colocation.
func colocateThreads(m *runtime.WorkerManager, c *program.ColocationNode, newContext contextFunc, listen listenFunc) (func() error, error) {
	fns := make([]func() error, 0, len(c.Nodes()))
	for _, n := range c.Nodes() {
		fn, err := nodeWorker(m, n, newContext, listen)
		if err != nil {
			return nil, errors.Trace(err)
		}
		fns = append(fns, fn)
	}

	label := c.Handle().Name()
	return func() error {
		for _, fn := range fns {
			if _, err := m.ThreadWorker(label, fn); err != nil {
				return errors.Trace(err)
			}
		}
		opts := []runtime.WaitOption{runtime.WaitLabels(label)}
		if c.ReturnOnFirstCompleted() {
			opts = append(opts, runtime.ReturnOnFirstCompleted())
		}
		return errors.Trace(m.WaitWorkers(opts...))
	}, nil
}

// restartBudget is shared by the inner nodes of a process colocation.
type restartBudget struct {
	mu    sync.Mutex
	limit int
	used  int
}

func (b *restartBudget) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// colocateProcesses runs every inner node of c in a subprocess of the
// current binary, restarted on failure while the restart budget lasts.
func colocateProcesses(m *runtime.WorkerManager, c *program.ColocationNode, ctx types.Context) func() error {
	return func() error {
		binary, err := os.Executable()
		if err != nil {
			return errors.Annotatef(err, "resolve executable")
		}
		label := c.Handle().Name()
		payload, err := os.CreateTemp("", "launchpad-coloc-")
		if err != nil {
			return errors.Annotatef(err, "create payload of %s", label)
		}
		payload.Close()
		// restarts read the payload until the last subprocess is done
		var running sync.WaitGroup
		defer func() {
			go func() {
				running.Wait()
				os.Remove(payload.Name())
			}()
		}()
		if err := serialization.SerializeFunctions(payload.Name(), label, c.Nodes()); err != nil {
			return errors.Trace(err)
		}
		env, err := workerEnv(m.LaunchType(), ctx.LaunchConfig())
		if err != nil {
			return errors.Trace(err)
		}
		launcherPID := LauncherPID()
		if launcherPID <= 0 {
			launcherPID = os.Getpid()
		}

		budget := &restartBudget{limit: c.RetriesOnFailure()}
		for i := range c.Nodes() {
			cmdEnv := append(append([]string{}, env...),
				EnvWorkerPayload+"="+payload.Name(),
				EnvWorkerIndex+"="+strconv.Itoa(i),
				EnvLauncherPID+"="+strconv.Itoa(launcherPID),
				EnvGroupLabel+"="+ctx.Label(),
			)
			newCmd := func(tmpDir string) *exec.Cmd {
				cmd := exec.Command(binary)
				cmd.Env = append(os.Environ(), cmdEnv...)
				cmd.Env = append(cmd.Env, "TMPDIR="+tmpDir)
				cmd.Stdout = os.Stdout
				cmd.Stderr = os.Stderr
				return cmd
			}
			running.Add(1)
			_, err := m.ThreadWorker(label, func() error {
				defer running.Done()
				return runColocated(m, newCmd, budget)
			})
			if err != nil {
				running.Done()
				return errors.Trace(err)
			}
		}
		return errors.Trace(m.WaitWorkers(runtime.WaitLabels(label)))
	}
}

func runColocated(m *runtime.WorkerManager, newCmd func(tmpDir string) *exec.Cmd, budget *restartBudget) error {
	for {
		tmpDir, err := os.MkdirTemp("", "launchpad-tmp-")
		if err != nil {
			return errors.Annotatef(err, "create subprocess tmp dir")
		}
		cmd := newCmd(tmpDir)
		code, err := runSubprocess(m, cmd)
		os.RemoveAll(tmpDir)
		if err != nil {
			return errors.Trace(err)
		}
		if code == 0 || m.Stopped() {
			return nil
		}
		if !budget.take() {
			return errors.Errorf("num_retries_on_failure (=%d) is reached", budget.limit)
		}
		log.Infof("Subprocess %d exited abnormally! Restarting.", cmd.Process.Pid)
	}
}

// runSubprocess runs cmd to completion and returns its exit code. Once the
// program stops cmd gets SIGTERM, then SIGKILL after the termination notice.
func runSubprocess(m *runtime.WorkerManager, cmd *exec.Cmd) (int, error) {
	if err := cmd.Start(); err != nil {
		return -1, errors.Annotatef(err, "start subprocess")
	}
	done := make(chan struct{})
	m.RegisterStopHandler(func() {
		select {
		case <-done:
			return
		default:
		}
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			log.Debugf("signal subprocess %d: %v", cmd.Process.Pid, err)
		}
		notice := m.TerminationNotice()
		if notice < 0 {
			return
		}
		go func() {
			timer := time.NewTimer(time.Duration(notice) * time.Second)
			defer timer.Stop()
			select {
			case <-done:
			case <-timer.C:
				log.Warnf("killing subprocess %d", cmd.Process.Pid)
				cmd.Process.Kill()
			}
		}()
	})

	err := cmd.Wait()
	close(done)
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, errors.Annotatef(err, "wait subprocess %d", cmd.Process.Pid)
}
