package netmon

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netplugd/internal/runtime"
)

// Service drives an Engine from a Watcher: the dump first, then the live
// stream. Decisions are fanned out to subscribers.
type Service struct {
	watcher Watcher
	engine  *Engine
	events  *runtime.Broadcaster[LinkEvent]
}

func NewService(watcher Watcher, cfg EngineConfig) *Service {
	s := &Service{
		watcher: watcher,
		events:  runtime.NewBroadcaster[LinkEvent](),
	}

	next := cfg.OnEvent
	cfg.OnEvent = func(ev LinkEvent) {
		s.events.Publish(ev)
		if next != nil {
			next(ev)
		}
	}
	s.engine = NewEngine(cfg)
	return s
}

// Engine returns the engine the service feeds.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Subscribe streams every decision taken from now on.
func (s *Service) Subscribe() (<-chan LinkEvent, func()) {
	return s.events.Subscribe()
}

// Start returns nil on cancellation and the first fatal error otherwise.
func (s *Service) Start(ctx context.Context) error {
	log.Info("Starting link monitor")
	defer log.Info("Stopping link monitor")

	if err := s.watcher.Dump(ctx, s.engine.HandleDump); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("link dump: %w", err)
	}
	log.WithField("interfaces", s.engine.Registry().Len()).Info("Initial link dump processed")

	if err := s.watcher.Listen(ctx, s.engine.HandleLive); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("link monitor: %w", err)
	}
	return nil
}

func (s *Service) Close() error {
	if err := s.watcher.Close(); err != nil {
		log.WithError(err).Warn("Failed to close link watcher")
	}
	return s.events.Close()
}
