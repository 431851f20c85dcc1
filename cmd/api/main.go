// cmd/api/main.go
//
// Groundplan – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Load env vars (jail-wide file → .env fallback).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Load config (YAML + env overlay + Vault secret resolution).
//
//  4. Open the MySQL pool and splice the resolved password into the DSN.
//
//  5. Open the GeoLite2 database when configured; build the access
//     recorder and start its workers.
//
//  6. Build the share-link resolver and the chi router, wrap with the
//     security-header middleware (and ForceHTTPS when configured).
//
//  7. Serve with hardened timeouts; SIGINT/SIGTERM drains the access
//     queue before exit.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/oschwald/geoip2-golang"

	"github.com/groundplan/groundplan/internal/config"
	"github.com/groundplan/groundplan/internal/database"
	"github.com/groundplan/groundplan/internal/httpapi"
	"github.com/groundplan/groundplan/internal/logger"
	"github.com/groundplan/groundplan/internal/middleware"
	"github.com/groundplan/groundplan/internal/server"
	"github.com/groundplan/groundplan/internal/sharelink"
	"github.com/groundplan/groundplan/internal/store"
)

const serverEnvPath = "/usr/local/etc/groundplan/global.env"

// loadEnv prefers the jail-wide env file; on dev it falls back to .env.
func loadEnv() {
	if _, err := os.Stat(serverEnvPath); err == nil {
		_ = godotenv.Load(serverEnvPath)
		return
	}
	_ = godotenv.Load()
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func init() { loadEnv() }

func main() {
	rootDir, _ := os.Getwd()
	logOut, err := logger.New(rootDir, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logOut.Fatalw("load config", "err", err)
	}

	//
	// ── 1.  Database pool ───────────────────────────────────────────────
	//
	dsn := fmt.Sprintf(cfg.Database.DSN, cfg.Database.Password)
	db, err := database.OpenWithOptions(dsn, cfg.Database.MaxOpen, cfg.Database.MaxIdle)
	if err != nil {
		logOut.Fatalw("connect database", "err", err)
	}
	defer db.Close()
	logOut.Infow("database online")

	//
	// ── 2.  Access recorder (async share analytics) ─────────────────────
	//
	var geo *geoip2.Reader
	if path := cfg.ShareAccess.GeoIPPath; path != "" {
		geo, err = geoip2.Open(path)
		if err != nil {
			logOut.Warnw("geoip database unavailable, country enrichment off",
				"path", path, "err", err)
		} else {
			defer geo.Close()
		}
	}

	links := store.NewShareLinks(db)
	recorder := sharelink.NewRecorder(links, geo, logOut.Desugar(), cfg.ShareAccess.QueueDepth)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	recorder.Start(ctx, cfg.ShareAccess.Workers)

	//
	// ── 3.  Resolver + router ──────────────────────────────────────────
	//
	resolver := sharelink.NewResolver(
		links,
		store.NewLayouts(db),
		store.NewZones(db),
		store.NewAssets(db),
		recorder,
	)

	api := httpapi.New(logOut, db, resolver, store.Pager{
		DefaultLimit: cfg.Paging.DefaultLimit,
		MaxLimit:     cfg.Paging.MaxLimit,
	})

	var handler http.Handler = middleware.Security(api.Router())
	if cfg.HTTP.ForceHTTPS {
		handler = middleware.ForceHTTPS(handler)
	}

	//
	// ── 4.  Serve until signalled ──────────────────────────────────────
	//
	srv := server.New(cfg.HTTP.ListenAddr, handler)

	go func() {
		<-ctx.Done()
		logOut.Infow("shutting down")
		_ = srv.Shutdown(context.Background())
	}()

	logOut.Infow("listening", "addr", cfg.HTTP.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logOut.Fatalw("http server", "err", err)
	}

	// Let in-flight access events land before exit.
	recorder.Wait()
}
