package runtime

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type worker struct {
	name   string
	run    func(context.Context) error
	closeF func() error
}

// Supervisor runs named workers until the parent context ends or any
// worker fails. The first failure cancels the others and is returned from
// Wait, wrapped with the worker name.
type Supervisor struct {
	mu      sync.Mutex
	workers []worker
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

func (s *Supervisor) Add(name string, run func(context.Context) error, closeF func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker{name: name, run: run, closeF: closeF})
}

func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("supervisor: already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, w := range s.workers {
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			log.WithField("worker", w.name).Debug("Worker starting")
			if err := w.run(s.ctx); err != nil {
				s.errOnce.Do(func() { s.err = fmt.Errorf("%s: %w", w.name, err) })
				s.cancel()
				return
			}
			log.WithField("worker", w.name).Debug("Worker stopped")
		}()
	}
	return nil
}

// Wait blocks until shutdown, closes workers in reverse order of Add and
// returns the first worker error, if any.
func (s *Supervisor) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return fmt.Errorf("supervisor: not started")
	}
	<-ctx.Done()

	for i := len(s.workers) - 1; i >= 0; i-- {
		if s.workers[i].closeF != nil {
			if err := s.workers[i].closeF(); err != nil {
				log.WithError(err).WithField("worker", s.workers[i].name).Warn("Worker close failed")
			}
		}
	}
	s.wg.Wait()
	s.cancel()
	return s.err
}
