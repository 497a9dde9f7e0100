package runtime

import (
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

type waitOptions struct {
	labels         map[string]bool
	firstCompleted bool
	dontRaise      bool
}

type WaitOption func(*waitOptions)

// WaitLabels restricts the wait to the workers of the given groups.
func WaitLabels(labels ...string) WaitOption {
	return func(o *waitOptions) {
		if o.labels == nil {
			o.labels = make(map[string]bool)
		}
		for _, label := range labels {
			o.labels[label] = true
		}
	}
}

// ReturnOnFirstCompleted returns once any of the awaited workers exited.
func ReturnOnFirstCompleted() WaitOption {
	return func(o *waitOptions) {
		o.firstCompleted = true
	}
}

// DontRaiseError keeps waiting past worker failures. The failure is still
// reported by a later wait raising errors.
func DontRaiseError() WaitOption {
	return func(o *waitOptions) {
		o.dontRaise = true
	}
}

// Wait blocks until every worker exited and returns the first failure not
// reported yet. A reported failure does not end the next Wait early.
func (m *WorkerManager) Wait() error {
	return m.WaitWorkers()
}

// WaitWorkers blocks until the awaited workers exited and returns the first
// worker failure which no earlier wait returned. Waiting on every worker
// releases the manager once they are all done, after which no worker can be
// added.
func (m *WorkerManager) WaitWorkers(opts ...WaitOption) error {
	o := &waitOptions{}
	for _, opt := range opts {
		opt(o)
	}

	for {
		m.mu.Lock()
		pending, completed, failed := 0, 0, (*worker)(nil)
		for _, w := range m.workers {
			if o.labels != nil && !o.labels[w.label] {
				continue
			}
			if !w.finished() {
				pending++
				continue
			}
			completed++
			if w.err != nil && !w.raised && failed == nil {
				failed = w
			}
		}
		raise := failed != nil && !o.dontRaise
		if raise {
			failed.raised = true
		}
		changed := m.changed
		m.mu.Unlock()

		if pending == 0 && o.labels == nil {
			m.teardown()
		}
		if raise {
			if pending > 0 && o.labels == nil {
				go m.releaseWhenDone()
			}
			return errors.Annotatef(failed.err, "worker %s", failed.name)
		}
		if pending == 0 {
			return nil
		}
		if o.firstCompleted && completed > 0 {
			return nil
		}
		<-changed
	}
}

// releaseWhenDone tears the manager down once the workers still running
// after a raised failure have exited.
func (m *WorkerManager) releaseWhenDone() {
	if err := m.WaitWorkers(DontRaiseError()); err != nil {
		log.Debugf("launch %s: %v", m.launchID, err)
	}
}

// Abort stops a program whose launch failed half way. The manager is
// released in the background once the workers already started have exited,
// done runs after that when not nil.
func (m *WorkerManager) Abort(done func()) {
	m.Stop()
	go func() {
		m.releaseWhenDone()
		if done != nil {
			done()
		}
	}()
}

// StopAndWait stops the program and waits for every worker.
func (m *WorkerManager) StopAndWait() error {
	m.Stop()
	return m.Wait()
}
