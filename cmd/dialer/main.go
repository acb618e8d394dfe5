package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secure-dialer/internal/auth"
	"secure-dialer/internal/cache"
	"secure-dialer/internal/config"
	"secure-dialer/internal/contacts"
	"secure-dialer/internal/engine"
	"secure-dialer/internal/events"
	"secure-dialer/internal/firewall"
	"secure-dialer/internal/reports"
	"secure-dialer/internal/ringcentral"
	"secure-dialer/internal/store"
)

const sessionTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if missing := cfg.RingCentral.Validate(); len(missing) > 0 {
		log.Printf("[Main] RingCentral not fully configured, calls will fail until set: %v", missing)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Components
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	kv := cache.Open(ctx, cfg.RedisURL)

	bus := events.NewBus()
	tracker := engine.NewCallTracker(cfg.StatusTTL, bus)
	progress := engine.NewProgression(tracker)
	tracker.OnClear(progress.Cancel)

	summaries := reports.NewService(db, kv)
	book := contacts.NewReconciler(db)
	book.AddRefresher(summaries)
	if err := book.Load(ctx); err != nil {
		log.Fatalf("Failed to load contacts: %v", err)
	}
	importer := contacts.NewImporter(db, book, summaries)

	rc := ringcentral.NewClient(cfg.RingCentral, kv, &http.Client{Timeout: 15 * time.Second})
	phone := ringcentral.NewAdapter(rc, db, cfg.RingCentral.DefaultCaller)
	dialer := engine.NewDialer(book, phone, db, tracker, progress, engine.PhaseDelays{
		Connected: cfg.ConnectedDelay,
		Answered:  cfg.AnsweredDelay,
		Completed: cfg.CompletedDelay,
	}, cfg.DefaultSMSTemplate)

	fw := firewall.NewFirewall(cfg.AuthMaxFailures)
	accounts := auth.NewService(db, auth.NewTokens(cfg.JWTSecret, sessionTTL), kv, fw)

	api := engine.NewAPI(engine.APIDeps{
		Store:       db,
		Auth:        accounts,
		Book:        book,
		Importer:    importer,
		Dialer:      dialer,
		Tracker:     tracker,
		Bus:         bus,
		Reports:     summaries,
		RingCentral: rc,
		Adapter:     phone,
		Firewall:    fw,
		CORSOrigins: cfg.CORSOrigins,
		DefaultSMS:  cfg.DefaultSMSTemplate,
	})

	tracker.Start(ctx, cfg.SweepInterval)
	progress.Start(ctx, cfg.SweepInterval)

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down dialer API...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("API shutdown: %v", err)
		}
	}()

	log.Printf("Dialer API starting on %s", cfg.HTTPAddr)
	if err := api.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("API failed: %v", err)
	}
	<-ctx.Done()
}
