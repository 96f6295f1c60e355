package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinycarbon/pkg/config"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
)

// Server runs the HTTP API, the line receiver and every background task
// around one set of Components.
type Server struct {
	c    *Components
	http *http.Server
	ln   net.Listener
	errs chan error

	receiverCancel context.CancelFunc
	flusherCancel  context.CancelFunc
	writerCancel   context.CancelFunc
	tasksCancel    context.CancelFunc

	receiverWG sync.WaitGroup
	flusherWG  sync.WaitGroup
	writerWG   sync.WaitGroup
	tasksWG    sync.WaitGroup
}

// New creates a server for c. Nothing listens until Start.
func New(c *Components) *Server {
	router := mux.NewRouter()
	SetupRoutes(router, c)

	return &Server{
		c: c,
		http: &http.Server{
			Addr:         ":" + c.Config.Port,
			Handler:      router,
			ReadTimeout:  serverReadTimeout,
			WriteTimeout: serverWriteTimeout,
		},
		errs: make(chan error, 2),
	}
}

// Handler returns the HTTP router
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Addr returns the bound HTTP address; valid after Start
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Errors receives fatal serve errors
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Start binds both listeners and launches every goroutine. Bind errors are
// returned before anything is started.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	if s.c.Receiver != nil {
		if err := s.c.Receiver.Listen(); err != nil {
			ln.Close()
			return err
		}
	}
	s.ln = ln

	var writerCtx, flusherCtx, receiverCtx, tasksCtx context.Context
	writerCtx, s.writerCancel = context.WithCancel(context.Background())
	flusherCtx, s.flusherCancel = context.WithCancel(context.Background())
	receiverCtx, s.receiverCancel = context.WithCancel(context.Background())
	tasksCtx, s.tasksCancel = context.WithCancel(context.Background())

	s.writerWG.Add(1)
	go func() {
		defer s.writerWG.Done()
		s.c.Writer.Run(writerCtx)
	}()

	s.flusherWG.Add(1)
	go func() {
		defer s.flusherWG.Done()
		s.c.Pipeline.Buffers().Run(flusherCtx)
	}()
	if s.c.Receiver != nil {
		s.receiverWG.Add(1)
		go func() {
			defer s.receiverWG.Done()
			if err := s.c.Receiver.Serve(receiverCtx); err != nil {
				s.errs <- err
			}
		}()
	}

	s.startTasks(tasksCtx)

	go func() {
		log.Printf("HTTP API listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errs <- err
		}
	}()
	return nil
}

func (s *Server) startTasks(ctx context.Context) {
	cfg := s.c.Config

	s.tasksWG.Add(1)
	go func() {
		defer s.tasksWG.Done()
		s.c.Hub.Run(ctx)
	}()

	s.tasksWG.Add(1)
	go func() {
		defer s.tasksWG.Done()
		s.c.Hub.Publish(ctx, config.StatsBroadcastInterval, func() interface{} {
			return snapshot(s.c)
		})
	}()

	s.tasksWG.Add(2)
	go RunBadgerGC(ctx, s.c.Index, config.BadgerGCInterval, &s.tasksWG)
	go RunStorageCheck(ctx, s.c.StorageMonitor, config.StorageCheckInterval, &s.tasksWG)

	if cfg.RuleWatchInterval > 0 {
		s.tasksWG.Add(1)
		go func() {
			defer s.tasksWG.Done()
			s.c.Rules.Watch(ctx, cfg.RuleWatchInterval)
		}()
	}
}

// Shutdown stops every intake path first (HTTP, then the receiver), then
// the aggregation flusher so its final flush sees all accepted points, then
// drains the cache within the grace period, then stops the background tasks.
// Aggregation values in unfinished intervals and points still queued when
// the grace period ends are dropped and counted.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	if err := s.http.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping ingestion...")
	s.receiverCancel()
	s.receiverWG.Wait()

	s.flusherCancel()
	s.flusherWG.Wait()

	s.writerCancel()
	s.writerWG.Wait()

	grace := s.c.Config.ShutdownGracePeriod
	if grace <= 0 {
		grace = config.DefaultShutdownGrace
	}
	drainCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	log.Printf("Draining %d cached points (grace period %v)...", s.c.Cache.Size(), grace)
	drainErr := s.c.Writer.Drain(drainCtx)

	s.tasksCancel()
	s.tasksWG.Wait()

	stats := s.c.Cache.Stats()
	log.Printf("Cache totals: received=%d written=%d dropped=%d", stats.Received, stats.Written, stats.Dropped)
	return drainErr
}
