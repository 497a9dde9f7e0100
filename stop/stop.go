// Package stop implements the latched stop signal shared by every node of a
// launched program.
package stop

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Coordinator is a write-once stop signal with waiters and handlers.
// The zero value is not usable, create one with New.
type Coordinator struct {
	mu       sync.Mutex
	stopped  bool
	handlers []func()

	event *Event
}

func New() *Coordinator {
	return &Coordinator{event: &Event{ch: make(chan struct{})}}
}

// Stop flips the signal. Only the first call has an effect.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.event.ch)
	handlers := c.handlers
	c.handlers = nil
	c.mu.Unlock()

	log.Debugf("stop requested, notifying %d handlers", len(handlers))
	for _, handler := range handlers {
		runHandler(handler)
	}
}

func (c *Coordinator) Stopped() bool {
	return c.event.IsSet()
}

// WaitForStop blocks until the signal fires.
func (c *Coordinator) WaitForStop() bool {
	c.event.Wait()
	return true
}

// WaitForStopTimeout waits at most timeout and reports whether the signal
// fired. A non-positive timeout only polls.
func (c *Coordinator) WaitForStopTimeout(timeout time.Duration) bool {
	return c.event.WaitTimeout(timeout)
}

func (c *Coordinator) StopEvent() *Event {
	return c.event
}

// RegisterStopHandler runs handler once when the signal fires, or right away
// on the calling goroutine if it already fired.
func (c *Coordinator) RegisterStopHandler(handler func()) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	if !c.stopped {
		c.handlers = append(c.handlers, handler)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	runHandler(handler)
}

// Context returns a child of parent which is cancelled when the signal fires.
func (c *Coordinator) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.event.ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func runHandler(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("stop handler panicked: %v", r)
		}
	}()
	handler()
}

// Event is a reusable waitable handle backed by the stop signal.
type Event struct {
	ch chan struct{}
}

// C is closed once the signal fired, usable in a select.
func (e *Event) C() <-chan struct{} {
	return e.ch
}

func (e *Event) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

func (e *Event) Wait() {
	<-e.ch
}

func (e *Event) WaitTimeout(timeout time.Duration) bool {
	if timeout <= 0 {
		return e.IsSet()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.ch:
		return true
	case <-timer.C:
		return e.IsSet()
	}
}
