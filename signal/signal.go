// Package signal is the relay server that carries call sessions and
// signaling messages between the two participants of a call.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"duocall/metric"
	"duocall/pool"
	"duocall/registry"
	"duocall/signal/controller"
	"duocall/signal/handler"
	"duocall/signal/middleware"
	"duocall/signaling"
)

const (
	// SocketPath is the websocket endpoint of the relay.
	SocketPath = "/ws"

	// HealthPath answers liveness probes.
	HealthPath = "/healthz"

	shutdownTimeout = 5 * time.Second
)

// Signal contains the server and configuration.
type Signal struct {
	server  *http.Server
	conf    Config
	janitor *Janitor
}

// New creates a new instance of Signal.
func New(
	config Config,
	reg registry.Registry,
	ch signaling.Channel,
	v controller.Verifier,
	m *metric.Metrics,
) *Signal {
	p := pool.New()
	con := controller.New(v, reg, ch, p, m)

	r := chi.NewRouter()
	r.Use(middleware.Funcs(
		middleware.NewLogger(),
		middleware.NewCORS(),
	)...)
	r.Get(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, SocketPath, handler.New(con))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		ReadHeaderTimeout: 2 * time.Second,
		Handler:           r,
	}
	return &Signal{
		server:  srv,
		conf:    config,
		janitor: NewJanitor(p, reg, m, config.WaitingTTL),
	}
}

// Handler returns the router of the server.
func (s *Signal) Handler() http.Handler {
	return s.server.Handler
}

// Janitor returns the janitor of the waiting sessions.
func (s *Signal) Janitor() *Janitor {
	return s.janitor
}

// Start runs the signal server and the janitor until ctx is done.
func (s *Signal) Start(ctx context.Context) error {
	go s.janitor.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to shut down server")
		}
	}()

	var err error
	if s.conf.CertFile == "" || s.conf.KeyFile == "" {
		log.Info().Int("port", s.conf.Port).Msg("starting server without TLS")
		err = s.server.ListenAndServe()
	} else {
		log.Info().Int("port", s.conf.Port).Msg("starting server with TLS")
		err = s.server.ListenAndServeTLS(s.conf.CertFile, s.conf.KeyFile)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}
