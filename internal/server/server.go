// Package server exposes the rule engine over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"

	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/config"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/engine"
)

// RuleServer serves the rule API.
type RuleServer struct {
	engine       *engine.Engine
	cfg          config.ServerConfig
	tokenHash    []byte
	verified     atomic.Pointer[[32]byte] // digest of the last token that matched tokenHash
	parser       fastjson.ParserPool
	logger       *log.Entry
	started      time.Time
	srv          *http.Server
	requestCount atomic.Int64
}

// New creates a RuleServer for e. Authentication is enabled when
// cfg.Auth.TokenHash is set.
func New(e *engine.Engine, cfg config.Config) *RuleServer {
	s := &RuleServer{
		engine:  e,
		cfg:     cfg.Server,
		logger:  log.WithField("component", "server"),
		started: time.Now(),
	}
	if cfg.Auth.TokenHash != "" {
		s.tokenHash = []byte(cfg.Auth.TokenHash)
	}
	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout.Std(),
		WriteTimeout: s.cfg.WriteTimeout.Std(),
	}
	return s
}

// Handler returns the complete HTTP handler including middleware.
func (s *RuleServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("/api/rules", s.handleRules)
	api.HandleFunc("/api/rules/", s.handleRuleItem)
	api.HandleFunc("/api/compile", s.handleCompile)
	api.HandleFunc("/api/evaluate", s.handleEvaluate)
	api.HandleFunc("/api/stats", s.handleStats)

	// Routes of the original form-based service.
	api.HandleFunc("/create_rule", s.post(s.createRule))
	api.HandleFunc("/evaluate_rule", s.post(s.evaluateAST))

	api.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Resource not found", nil)
	})
	mux.Handle("/", s.AuthMiddleware(api))

	return s.recoverMiddleware(s.requestMiddleware(mux))
}

// Start runs the HTTP server on addr until Shutdown is called.
func (s *RuleServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *RuleServer) Serve(ln net.Listener) error {
	s.logger.WithField("addr", ln.Addr().String()).Info("listening")
	if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *RuleServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
