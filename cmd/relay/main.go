// Command relay runs the chapter relay: the WebSocket hub between the
// desktop control app and the browser extension worker, plus the HTTP API
// for settings and book folders.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/dreamware/chapterrelay/internal/config"
	"github.com/dreamware/chapterrelay/internal/coordinator"
	"github.com/dreamware/chapterrelay/internal/logging"
	"github.com/dreamware/chapterrelay/internal/middleware"
	"github.com/dreamware/chapterrelay/internal/storage"
	"github.com/dreamware/chapterrelay/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log)

	store, err := storage.OpenFileStore(cfg.Storage.SettingsPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := coordinator.New(coordinator.Config{
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
		RetryBackoff:      cfg.Relay.RetryBackoff,
		EventBuffer:       cfg.Relay.EventBuffer,
	}, clockwork.NewRealClock(), logger)
	coordDone := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(coordDone)
	}()

	ws := transport.NewServer(coord, transport.Options{
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		SendBuffer:      cfg.Relay.SendBuffer,
		WriteTimeout:    cfg.Relay.WriteTimeout,
		Logger:          logger,
	})
	srv := newServer(coord, store, logger, cfg.Server.MaxBodyBytes)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           newRouter(srv, ws, cfg.CORS, logger),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening",
			slog.String("addr", httpSrv.Addr),
			slog.String("settings", store.Path()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	if err := ws.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket shutdown", slog.Any("error", err))
	}
	<-coordDone
	logger.Info("relay stopped")
	return nil
}

// newRouter sends WebSocket upgrades to ws and everything else through the
// API middleware. Clients may connect on "/" or "/ws".
func newRouter(s *server, ws http.Handler, cors config.CORSConfig, logger *slog.Logger) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	api.HandleFunc("GET /status", s.handleStatus)

	api.HandleFunc("GET /storage/{key}", s.handleGetSetting)
	api.HandleFunc("POST /storage", s.handlePutSetting)

	api.HandleFunc("POST /fs/set-books-directory", s.handleSetBooksDirectory)
	api.HandleFunc("POST /fs/import-books", s.handleImportBooks)
	api.HandleFunc("POST /fs/create-book", s.handleCreateBook)
	api.HandleFunc("POST /fs/save-book", s.handleSaveBook)
	api.HandleFunc("POST /fs/save-raw-chapters", s.handleSaveRawChapters)
	api.HandleFunc("POST /fs/delete-book", s.handleDeleteBook)
	api.HandleFunc("POST /fs/delete-raw-chapters", s.handleDeleteRawChapters)

	wrapped := middleware.Chain(
		middleware.RequestID,
		middleware.Recovery(logger),
		middleware.Logger(logger),
		middleware.CORS(cors),
	)(api)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			ws.ServeHTTP(w, r)
			return
		}
		wrapped.ServeHTTP(w, r)
	})
}
