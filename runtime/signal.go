package runtime

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// signalWatcher stops the manager on SIGTERM or SIGINT. A second SIGINT
// kills the remaining worker processes.
type signalWatcher struct {
	ch   chan os.Signal
	quit chan struct{}
	once sync.Once
}

func watchSignals(m *WorkerManager) *signalWatcher {
	s := &signalWatcher{
		ch:   make(chan os.Signal, 2),
		quit: make(chan struct{}),
	}
	signal.Notify(s.ch, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		interrupts := 0
		for {
			select {
			case sig := <-s.ch:
				if sig == syscall.SIGINT {
					interrupts++
				}
				if interrupts > 1 {
					log.Warnf("received %v again, killing workers of launch %s", sig, m.launchID)
					m.killProcesses()
					continue
				}
				log.Infof("received %v, stopping launch %s", sig, m.launchID)
				m.Stop()
			case <-s.quit:
				return
			}
		}
	}()
	return s
}

func (s *signalWatcher) close() {
	s.once.Do(func() {
		signal.Stop(s.ch)
		close(s.quit)
	})
}
