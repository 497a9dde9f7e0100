package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/stop"
	"github.com/warriorguo/launchpad/store"
	"github.com/warriorguo/launchpad/store/mem"
	"github.com/warriorguo/launchpad/types"
)

var (
	_ types.Controller = &WorkerManager{}
)

// WorkerManager runs the workers of one launched program and owns its stop
// signal. It is the controller returned by the local and ssh launchers.
type WorkerManager struct {
	*stop.Coordinator

	opts       *types.ManagerOptions
	launchType types.LaunchType
	launchID   string
	store      store.Store
	wp         *workerpool.WorkerPool

	mu      sync.Mutex
	workers []*worker
	counter map[string]int
	// closed and recreated whenever a worker finishes
	changed chan struct{}
	closed  bool

	teardownOnce sync.Once
	signals      *signalWatcher
}

type worker struct {
	name  string
	label string
	kind  types.WorkerKind
	cmd   *exec.Cmd

	done   chan struct{}
	err    error
	raised bool // err was returned by a wait

	record *types.WorkerRecord
}

func (w *worker) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func NewWorkerManager(launchType types.LaunchType, opts ...types.ManagerOption) *WorkerManager {
	options := types.NewManagerOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.MaxWorkers <= 0 {
		options.MaxWorkers = 1
	}
	if options.Store == nil {
		options.Store = mem.NewMemStore()
	}
	if options.Ctx == nil {
		options.Ctx = context.Background()
	}

	m := &WorkerManager{
		Coordinator: stop.New(),
		opts:        options,
		launchType:  launchType,
		launchID:    uuid.NewString(),
		store:       options.Store,
		wp:          workerpool.New(options.MaxWorkers),
		counter:     make(map[string]int),
		changed:     make(chan struct{}),
	}
	m.RegisterStopHandler(m.onStop)
	if options.HandleSignals {
		m.signals = watchSignals(m)
	}
	log.Debugf("launch %s (%s) created", m.launchID, launchType)
	return m
}

func (m *WorkerManager) LaunchID() string {
	return m.launchID
}

func (m *WorkerManager) LaunchType() types.LaunchType {
	return m.launchType
}

// TerminationNotice is the number of seconds a stopped process gets before
// it is killed, negative when it is never killed.
func (m *WorkerManager) TerminationNotice() int {
	return m.opts.TerminationNoticeSecs
}

// Store holds the worker records of this launch.
func (m *WorkerManager) Store() store.Store {
	return m.store
}

func (m *WorkerManager) nextNameLocked(label string) string {
	index := m.counter[label]
	m.counter[label] = index + 1
	return fmt.Sprintf("%s/%d", label, index)
}

func (m *WorkerManager) addWorkerLocked(label string, kind types.WorkerKind) (*worker, error) {
	if m.closed {
		return nil, errors.Forbiddenf("launch %s already finished", m.launchID)
	}
	name := m.nextNameLocked(label)
	w := &worker{
		name:  name,
		label: label,
		kind:  kind,
		done:  make(chan struct{}),
		record: &types.WorkerRecord{
			Name:   name,
			Label:  label,
			Kind:   kind,
			Status: types.Pending,
		},
	}
	m.workers = append(m.workers, w)
	return w, nil
}

// ThreadWorker runs fn on the worker pool and returns the worker name,
// label/<n> for the n-th worker of label. A panic in fn fails the worker.
func (m *WorkerManager) ThreadWorker(label string, fn func() error) (string, error) {
	m.mu.Lock()
	w, err := m.addWorkerLocked(label, types.ThreadWorker)
	m.mu.Unlock()
	if err != nil {
		return "", errors.Trace(err)
	}

	m.wp.Submit(func() {
		m.started(w)
		m.finish(w, runThread(w.name, fn))
	})
	return w.name, nil
}

func runThread(name string, fn func() error) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = errors.Errorf("panic on %s: %v", name, r)
		}
	}()
	return fn()
}

// ProcessWorker starts cmd and tracks it as a worker of label. The process
// gets SIGTERM once the program stops.
func (m *WorkerManager) ProcessWorker(label string, cmd *exec.Cmd) (string, error) {
	m.mu.Lock()
	w, err := m.addWorkerLocked(label, types.ProcessWorker)
	if err != nil {
		m.mu.Unlock()
		return "", errors.Trace(err)
	}
	w.cmd = cmd
	// Start under the lock so onStop sees either no process or a started one.
	startErr := cmd.Start()
	m.mu.Unlock()

	if startErr != nil {
		startErr = errors.Annotatef(startErr, "start worker %s", w.name)
		m.finish(w, startErr)
		return w.name, startErr
	}
	m.started(w)
	if m.Stopped() {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			log.Debugf("signal %v to worker %s: %v", syscall.SIGTERM, w.name, err)
		}
	}

	go func() {
		m.finish(w, m.processExitError(w, cmd.Wait()))
	}()
	return w.name, nil
}

func (m *WorkerManager) processExitError(w *worker, err error) error {
	if err == nil {
		return nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return errors.Annotatef(err, "worker %s", w.name)
	}

	code := exitErr.ExitCode()
	m.mu.Lock()
	w.record.ExitCode = code
	m.mu.Unlock()

	// killed by a signal while stopping
	if code < 0 && m.Stopped() {
		log.Debugf("worker %s terminated on stop: %v", w.name, exitErr)
		return nil
	}
	return errors.Errorf("One of the workers exited with status %d", code)
}

func (m *WorkerManager) started(w *worker) {
	m.mu.Lock()
	w.record.Status = types.Running
	w.record.StartTime = time.Now()
	record := *w.record
	m.mu.Unlock()

	m.saveRecord(&record)
}

func (m *WorkerManager) finish(w *worker, err error) {
	m.mu.Lock()
	w.err = err
	w.record.EndTime = time.Now()
	if err != nil {
		w.record.Status = types.Failed
		w.record.Error = err.Error()
	} else {
		w.record.Status = types.Finished
	}
	record := *w.record
	close(w.done)
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	m.saveRecord(&record)

	if err == nil {
		log.Debugf("worker %s finished", w.name)
		return
	}
	if m.opts.StopOnFailure {
		log.Errorf("One of the workers has FAILED! %s: %v", w.name, err)
		m.Stop()
		return
	}
	log.Warnf("worker %s failed: %v", w.name, err)
}

// onStop sends SIGTERM to every running process, which is killed after the
// termination notice unless the notice is negative.
func (m *WorkerManager) onStop() {
	m.signalProcesses(syscall.SIGTERM)

	notice := m.opts.TerminationNoticeSecs
	if notice < 0 {
		return
	}
	go func() {
		if notice > 0 {
			timer := time.NewTimer(time.Duration(notice) * time.Second)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-m.allDone():
				return
			}
		}
		m.killProcesses()
		m.logLingeringThreads()
	}()
}

func (m *WorkerManager) running() []*worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		if !w.finished() {
			r = append(r, w)
		}
	}
	return r
}

func (m *WorkerManager) signalProcesses(sig os.Signal) {
	for _, w := range m.running() {
		if w.cmd == nil || w.cmd.Process == nil {
			continue
		}
		if err := w.cmd.Process.Signal(sig); err != nil {
			log.Debugf("signal %v to worker %s: %v", sig, w.name, err)
		}
	}
}

func (m *WorkerManager) killProcesses() {
	for _, w := range m.running() {
		if w.cmd == nil || w.cmd.Process == nil {
			continue
		}
		log.Warnf("killing worker %s", w.name)
		if err := w.cmd.Process.Kill(); err != nil {
			log.Debugf("kill worker %s: %v", w.name, err)
		}
	}
}

func (m *WorkerManager) logLingeringThreads() {
	for _, w := range m.running() {
		if w.kind == types.ThreadWorker {
			log.Warnf("worker %s is still running after the termination notice", w.name)
		}
	}
}

// allDone is closed once every worker added so far has finished.
func (m *WorkerManager) allDone() <-chan struct{} {
	ch := make(chan struct{})
	workers := m.running()
	go func() {
		for _, w := range workers {
			<-w.done
		}
		close(ch)
	}()
	return ch
}

func (m *WorkerManager) teardown() {
	m.teardownOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		if m.signals != nil {
			m.signals.close()
		}
		m.wp.StopWait()
		log.Debugf("launch %s finished", m.launchID)
	})
}
