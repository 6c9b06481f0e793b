// Package main provides the desktop shell for the capture gallery.
// Desktop clients communicate via REST/WebSocket on localhost:8090.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kimhsiao/capturegallery/cmd/desktop/handlers"
	"github.com/kimhsiao/capturegallery/internal/config"
	"github.com/kimhsiao/capturegallery/internal/logging"
	"github.com/kimhsiao/capturegallery/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "capture desktop: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(os.Stdout, logging.ParseLevel(cfg.App.LogLevel))
	log := logging.Get()

	svc, err := services.NewGalleryService(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	hub := NewWSHub(log)
	defer hub.Close()
	unsubscribe := svc.Store.Subscribe(hub.BroadcastGalleryEvent)
	defer unsubscribe()

	router := newRouter(svc, hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Desktop.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("desktop server starting", map[string]interface{}{"addr": cfg.Desktop.Addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("desktop server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newRouter mounts the gallery API, the change feed, capture files and metrics.
func newRouter(svc *services.GalleryService, hub *WSHub) http.Handler {
	gallery := handlers.NewGalleryHandler(svc.Store, svc.Config().Fetch.MaxPixels)
	captures := handlers.NewCaptureFileHandler(svc.Files)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "ok",
			"service": "capture-desktop",
			"items":   svc.Store.Len(),
		})
	})

	r.Route("/api/gallery", func(r chi.Router) {
		r.Get("/items", gallery.ListItems)
		r.Get("/items/{id}", gallery.GetItem)
		r.Get("/items/{id}/thumbnail", gallery.GetThumbnail)
		r.Post("/photos", gallery.AddPhoto)
		r.Post("/videos", gallery.AddVideo)
	})

	r.Get("/ws", HandleWebSocket(hub))
	r.Method(http.MethodGet, "/captures/*", captures)

	if svc.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{}))
	}
	return r
}
