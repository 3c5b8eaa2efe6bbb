/*
	Package server exposes the graph over an HTTP API and handles process
	configuration.
*/
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/graph"
	"github.com/cellgraph/cellgraph/schema"
	"github.com/cellgraph/cellgraph/storage"
)

// Server serves the graph HTTP API over one open cell store.
type Server struct {
	graph  *graph.Graph
	store  storage.CellStore
	config *tomlConfig

	startTime time.Time
	engine    string

	httpServer *http.Server
}

// OpenFromConfig opens the configured store, the schema registry, and the
// mutation log, returning a ready-to-serve Server.
func OpenFromConfig(tc *tomlConfig) (*Server, error) {
	tc.Logging.SetLogger()

	engine, err := tc.Store.engine()
	if err != nil {
		return nil, err
	}
	store, err := storage.OpenStore(engine, tc.Store.engineConfig())
	if err != nil {
		return nil, fmt.Errorf("could not open %q store: %v", engine, err)
	}
	registry, err := schema.OpenRegistry(context.Background(), store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("could not open schema registry: %v", err)
	}
	if err := tc.Kafka.Initialize(); err != nil {
		store.Close()
		return nil, fmt.Errorf("could not initialize kafka: %v", err)
	}
	return newServer(graph.New(store, registry), store, engine, tc), nil
}

func newServer(g *graph.Graph, store storage.CellStore, engine string, tc *tomlConfig) *Server {
	return &Server{
		graph:     g,
		store:     store,
		config:    tc,
		startTime: time.Now(),
		engine:    engine,
	}
}

// ServeHTTP listens on the configured address until Shutdown.  Stay-alive
// connections don't get to hog goroutines for more than an hour.
func (s *Server) ServeHTTP() error {
	address := s.config.Server.HTTPAddress
	if address == "" {
		address = DefaultWebAddress
	}
	cellgraph.Infof("Web server listening at %s ...\n", address)

	s.httpServer = &http.Server{
		Addr:        address,
		ReadTimeout: 1 * time.Hour,
		Handler:     s.handler(),
	}
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests for the configured delay, flushes the
// mutation log, and closes the store.
func (s *Server) Shutdown() {
	delay := time.Duration(s.config.Server.ShutdownDelay) * time.Second
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), delay)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			cellgraph.Errorf("Error during http shutdown: %v\n", err)
		}
	}
	storage.KafkaShutdown()
	s.store.Close()
	cellgraph.Infof("Server shutdown complete.\n")
}
