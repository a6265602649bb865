package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const shutdownGrace = 10 * time.Second

// Server hosts the pool node's JSON API. Routes are mounted on Router before
// Start; middleware applies in the order it was added.
type Server struct {
	cfg    Config
	logger zerolog.Logger

	Router *mux.Router
	inner  *http.Server
	chain  []mux.MiddlewareFunc
}

func NewServer(cfg Config, logger zerolog.Logger) *Server {
	router := mux.NewRouter()
	return &Server{
		cfg:    cfg,
		logger: logger.With().Str("component", "http-api").Logger(),
		Router: router,
		inner: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
	}
}

// Use wraps the router in another middleware layer. Must be called before
// Start.
func (s *Server) Use(mw func(http.Handler) http.Handler) {
	s.chain = append(s.chain, mw)

	handler := http.Handler(s.Router)
	for i := len(s.chain) - 1; i >= 0; i-- {
		handler = s.chain[i](handler)
	}
	s.inner.Handler = handler
}

// EnableCORS allows cross-origin calls from the given origins, or from
// anywhere when none are given.
func (s *Server) EnableCORS(origins ...string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.Use(handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
	))
}

// Start serves until ctx is cancelled, then drains in-flight requests for up
// to the shutdown grace period.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.inner.Shutdown(drainCtx); err != nil {
			s.logger.Warn().Err(err).Msg("shutdown did not drain cleanly")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("serving HTTP API")
	if err := s.inner.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("HTTP API stopped")
	return nil
}
