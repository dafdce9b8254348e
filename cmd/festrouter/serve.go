package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"fest_router/native/internal/api"
	"fest_router/native/internal/config"
	"fest_router/native/internal/domain"
	"fest_router/native/internal/router"
	"fest_router/native/internal/store"
	"fest_router/native/internal/webrtc"
)

const routerPLIInterval = 3 * time.Second

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", "", "listen address (overrides FEST_LISTEN)")
	debug := fs.Bool("debug", false, "gin debug logging")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Open(ctx, store.Options{
		Kind:          cfg.Store.Kind,
		Path:          cfg.Store.Path,
		TTL:           cfg.Store.TTL,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		RedisKey:      cfg.Store.RedisKey,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	engine, err := webrtc.NewEngine(webrtc.EngineConfig{
		GatheringTimeout: cfg.GatheringTimeout,
		RestoreTimeout:   cfg.RestoreTimeout,
		UDPPortMin:       cfg.UDPPortMin,
		UDPPortMax:       cfg.UDPPortMax,
		PLIInterval:      routerPLIInterval,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	r, err := router.New(router.Options{
		Sessions:    router.PeerSessions(engine, cfg.Name),
		Store:       st,
		ResumeDelay: cfg.ResumeDelay,
	})
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Printf("[main] close router: %v", err)
		}
	}()

	if st != nil {
		resume(ctx, r, st)
	}

	srv := api.NewServer(r, api.Options{
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		Release:     !*debug,
	})
	log.Printf("[main] %s ready", cfg.Name)
	return srv.Run(ctx, cfg.Listen)
}

// resume restores the previous run. Failures are logged: a router that
// cannot restore still starts empty.
func resume(ctx context.Context, r *router.Router, st domain.SnapshotStore) {
	snap, err := st.Load(ctx)
	if err != nil {
		log.Printf("[main] load snapshot: %v", err)
		return
	}
	if snap.Empty() {
		return
	}
	log.Printf("[main] resuming %d sources and %d sinks saved %s",
		len(snap.Sources), len(snap.Sinks), snap.SavedAt.Format(time.RFC3339))
	if err := r.Resume(ctx, snap); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[main] resume: %v", err)
	}
}
