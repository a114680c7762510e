package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldsync-agent/internal/config"
	"fieldsync-agent/internal/connectivity"
	"fieldsync-agent/internal/handler"
	"fieldsync-agent/internal/middleware"
	"fieldsync-agent/internal/queue"
	"fieldsync-agent/internal/remote"
	"fieldsync-agent/internal/store"
	syncengine "fieldsync-agent/internal/sync"
	"fieldsync-agent/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.Server.Env == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Remote.User,
		cfg.Remote.Password,
		cfg.Remote.Host,
		cfg.Remote.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to CouchDB")
	}

	// The database may be unreachable at startup; that is the normal offline
	// case, not an error. Creation is retried lazily by the server admin
	// tooling, not here.
	if exists, err := client.DBExists(context.Background(), cfg.Remote.Name); err != nil {
		log.Warn().Err(err).Msg("server-of-record unreachable, starting detached")
	} else if !exists {
		if err := client.CreateDB(context.Background(), cfg.Remote.Name); err != nil {
			log.Warn().Err(err).Str("db", cfg.Remote.Name).Msg("failed to create remote database")
		}
	}

	localStore, err := store.NewSQLiteStore(store.DefaultSQLiteConfig(cfg.Store.Path))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local store")
	}
	defer localStore.Close()

	remoteClient := remote.NewCouchClient(client, cfg.Remote.Name, log)

	prober := connectivity.NewHTTPProber(
		fmt.Sprintf("http://%s:%s/_up", cfg.Remote.Host, cfg.Remote.Port),
		cfg.Connectivity.ProbeTimeout,
	)
	monitor := connectivity.NewMonitor(prober, cfg.Connectivity.ProbeInterval, log)

	mutationQueue := queue.New(localStore, cfg.Sync.MaxRetries, log)

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxClients,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		log,
	)
	go wsManager.Run()

	engine := syncengine.NewEngine(
		localStore,
		remoteClient,
		monitor,
		mutationQueue,
		wsManager,
		cfg.Sync.DrainInterval,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	engine.Start(ctx)

	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(engine, log))

	inspectionHandler := handler.NewInspectionHandler(engine)
	syncHandler := handler.NewSyncHandler(engine, mutationQueue)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.Identity.Secret, log)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.IdentityMiddleware(cfg.Identity.Secret))

	api.HandleFunc("/projects", inspectionHandler.ListProjects).Methods("GET", "OPTIONS")
	api.HandleFunc("/projects/{projectId}/drawings", inspectionHandler.ListDrawings).Methods("GET", "OPTIONS")
	api.HandleFunc("/projects/{projectId}/drawings/{drawingId}/points", inspectionHandler.ListPoints).Methods("GET", "OPTIONS")
	api.HandleFunc("/projects/{projectId}/events", inspectionHandler.ListEvents).Methods("GET", "OPTIONS")
	api.HandleFunc("/projects/{projectId}/points/{pointId}/history", inspectionHandler.PointHistory).Methods("GET", "OPTIONS")

	api.HandleFunc("/projects/{projectId}/events/{eventId}/results", inspectionHandler.ListResults).Methods("GET", "OPTIONS")
	api.HandleFunc("/projects/{projectId}/events/{eventId}/points/{pointId}/result", inspectionHandler.GetResult).Methods("GET", "OPTIONS")
	api.HandleFunc("/projects/{projectId}/events/{eventId}/points/{pointId}/records", inspectionHandler.SaveRecord).Methods("POST", "OPTIONS")
	api.HandleFunc("/projects/{projectId}/events/{eventId}/points/{pointId}/records/{index}", inspectionHandler.DeleteRecord).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/projects/{projectId}/events/{eventId}/points/{pointId}/resolve", inspectionHandler.ResolveConflict).Methods("POST", "OPTIONS")

	api.HandleFunc("/sync/status", syncHandler.Status).Methods("GET", "OPTIONS")
	api.HandleFunc("/sync/queue", syncHandler.ListQueue).Methods("GET", "OPTIONS")
	api.HandleFunc("/sync/drain", syncHandler.Drain).Methods("POST", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)
	r.HandleFunc("/health", healthHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Server.Env).Msg("starting fieldsync agent")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("agent failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down agent")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	cancel()
	monitor.Stop()

	log.Info().Msg("agent stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"fieldsync-agent"}`))
}
