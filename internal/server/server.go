package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fbellamy/anonymiseur/internal/audit"
	"github.com/fbellamy/anonymiseur/internal/cache"
	"github.com/fbellamy/anonymiseur/internal/config"
	"github.com/fbellamy/anonymiseur/internal/detect"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"github.com/fbellamy/anonymiseur/internal/pipeline"
	"github.com/fbellamy/anonymiseur/internal/reconcile"
	"github.com/fbellamy/anonymiseur/internal/web"
	"github.com/fbellamy/anonymiseur/internal/websocket"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server is the HTTP front of the anonymization service. It owns the
// detection pipeline, the session manager, and the dashboard event hub.
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	pipeline *pipeline.Pipeline
	sessions *SessionManager
	audit    *audit.Store
	wsHub    *websocket.Hub
	limiters *clientLimiters
	router   *mux.Router

	ner         *detect.NERDetector
	resultCache *cache.ResultCache

	httpServer *http.Server
	cancel     context.CancelFunc
	started    time.Time
}

// New builds the server and everything behind it from configuration.
// Optional backends (Redis cache, Postgres audit trail) that are enabled
// but unreachable fail construction; disabled ones are simply absent.
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	pattern, err := detect.NewPattern(cfg.Detection, log.WithComponent("pattern"))
	if err != nil {
		return nil, fmt.Errorf("pattern detector: %w", err)
	}

	ner := detect.NewNER(cfg.NER, log.WithComponent("ner"))
	ollama := detect.NewOllama(cfg.Ollama, log.WithComponent("ollama"))
	reconciler := reconcile.New(log.WithComponent("reconcile"))

	var resultCache *cache.ResultCache
	if cfg.Cache.Enabled {
		resultCache, err = cache.NewResultCache(cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			return nil, fmt.Errorf("result cache: %w", err)
		}
	}

	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		auditStore, err = audit.NewStore(cfg.Audit, log.WithComponent("audit").Logger)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
	}

	s := &Server{
		config:      cfg,
		logger:      log,
		pipeline:    pipeline.New(pattern, ner, ollama, reconciler, resultCache, log.WithComponent("pipeline")),
		sessions:    NewSessionManager(cfg.Sessions, log.WithComponent("sessions")),
		audit:       auditStore,
		wsHub:       websocket.NewHub(cfg.WebSocket, log.WithComponent("websocket").Logger),
		limiters:    newClientLimiters(cfg.Server.RateLimit),
		router:      mux.NewRouter(),
		ner:         ner,
		resultCache: resultCache,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	if s.config.Server.RateLimit.Enabled {
		api.Use(s.rateLimitMiddleware)
	}

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/process", s.handleProcess).Methods(http.MethodPost)
	api.HandleFunc("/generate-document", s.handleGenerateDocument).Methods(http.MethodPost)
	api.HandleFunc("/test-ollama", s.handleTestOllama).Methods(http.MethodPost)
	api.HandleFunc("/ollama-models", s.handleOllamaModels).Methods(http.MethodGet)

	sessions := api.PathPrefix("/sessions/{session_id}").Subrouter()
	sessions.HandleFunc("/entities", s.handleListEntities).Methods(http.MethodGet)
	sessions.HandleFunc("/entities/group", s.handleGroupEntities).Methods(http.MethodPost)
	sessions.HandleFunc("/entities/manual", s.handleAddManual).Methods(http.MethodPost)
	sessions.HandleFunc("/entities/{entity_id}", s.handleUpdateEntity).Methods(http.MethodPut)
	sessions.HandleFunc("/entities/{entity_id}", s.handleDeleteEntity).Methods(http.MethodDelete)
	sessions.HandleFunc("/stats", s.handleSessionStats).Methods(http.MethodGet)

	if s.config.WebSocket.Enabled {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.wsHub.HandleWebSocket)
	}

	s.router.HandleFunc("/", web.Dashboard(s.logger.Logger)).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.Dashboard(s.logger.Logger)).Methods(http.MethodGet)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs background workers and serves HTTP. It blocks until the
// listener fails or Stop is called.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = time.Now()

	go s.wsHub.Run()
	go s.sessions.Run(ctx)
	go s.broadcastStatus(ctx)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.Info("Server starting",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("cache", s.resultCache != nil),
		zap.Bool("audit", s.audit != nil),
		zap.Bool("ner", s.ner.Available()),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down and releases detector and backend resources.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if err := s.ner.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.resultCache != nil {
		if err := s.resultCache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("Server stopped")
	return firstErr
}

// broadcastStatus pushes periodic health snapshots to dashboard clients.
func (s *Server) broadcastStatus(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			caps := s.pipeline.Capabilities(ctx)
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeSystemStatus,
				Timestamp: time.Now(),
				Data: websocket.SystemStatusEvent{
					Status:           "healthy",
					Uptime:           time.Since(s.started).Round(time.Second).String(),
					NERAvailable:     caps.NERAvailable,
					OllamaAvailable:  caps.OllamaAvailable,
					ActiveSessions:   s.sessions.Count(),
					ConnectedClients: s.wsHub.ClientCount(),
				},
			})
		}
	}
}
