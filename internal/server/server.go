package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/newsrag/config"
	gemini "github.com/mohammad-safakhou/newsrag/provider/gemini"

	"github.com/mohammad-safakhou/newsrag/internal/session"
	"github.com/mohammad-safakhou/newsrag/internal/vectorstore"
)

// Run wires the external clients and serves the HTTP API until SIGINT or
// SIGTERM, then drains in-flight requests and closes the Redis client.
func Run(cfg *config.Config) error {
	ctx := context.Background()

	rdb, err := session.Conn(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store := vectorstore.New(cfg.Qdrant)
	if err := store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("vector store init: %w", err)
	}

	if err := cfg.Gemini.Validate(); err != nil {
		return err
	}
	prov := gemini.NewClient(cfg.Gemini)

	e := newEcho()
	h := &ChatHandler{
		Provider:       prov,
		Store:          store,
		Sessions:       session.New(rdb, cfg.Session),
		TopK:           cfg.Qdrant.TopK,
		ScoreThreshold: cfg.Qdrant.ScoreThreshold,
		Environment:    cfg.General.Environment,
	}
	h.Register(e.Group("/api"))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	addr := cfg.General.Listen
	if addr != "" && addr[0] != ':' {
		addr = ":" + addr
	}
	if addr == "" {
		addr = ":8080"
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newEcho builds the echo instance with the shared middleware stack and the
// unified JSON error handler.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	return e
}
