package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netplugd/internal/ifinfo"
	"github.com/dmdmdm-nz/netplugd/internal/netmon"
)

// Snapshotter exposes the interface registry.
type Snapshotter interface {
	Snapshot() []ifinfo.Interface
}

// EventSource streams link decisions.
type EventSource interface {
	Subscribe() (<-chan netmon.LinkEvent, func())
}

// Service is the optional HTTP status endpoint.
type Service struct {
	address  string
	registry Snapshotter
	events   EventSource
	gatherer prometheus.Gatherer

	mu     sync.Mutex
	server *http.Server
	closed bool
}

func NewService(address string, registry Snapshotter, events EventSource, gatherer prometheus.Gatherer) *Service {
	return &Service{
		address:  address,
		registry: registry,
		events:   events,
		gatherer: gatherer,
	}
}

// Handler returns the routes served by Start.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/interfaces", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := s.registry.Snapshot()
		out := make([]InterfaceStatus, 0, len(snap))
		for _, i := range snap {
			out = append(out, newInterfaceStatus(i))
		}

		w.Header().Add("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		StreamEvents(s.events, w, r)
	})
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Service) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.server
	s.mu.Unlock()

	log.Infof("Starting netplugd API service at %s", ln.Addr())
	defer log.Info("Stopping netplugd API service")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
