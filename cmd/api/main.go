package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"noteflow/api/internal/app"
	"noteflow/api/internal/archive"
	"noteflow/api/internal/authpw"
	"noteflow/api/internal/config"
	"noteflow/api/internal/email"
	"noteflow/api/internal/history"
	"noteflow/api/internal/notify"
	"noteflow/api/internal/search"
	"noteflow/api/internal/session"
	"noteflow/api/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: open database: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("main: apply migrations: %v", err)
	}

	pg := store.NewPostgresStore(db)

	var bus notify.EventBus
	if redisBus, err := notify.NewRedisBus(cfg.RedisURL); err != nil {
		log.Printf("main: redis bus unavailable, realtime notifications disabled: %v", err)
	} else {
		defer redisBus.Close()
		bus = redisBus
	}
	publisher := notify.NewPublisher(bus)

	var sessions app.SessionStore = pg
	if redisSessions, err := session.NewRedisStore(cfg.RedisURL); err != nil {
		log.Printf("main: redis session store unavailable, falling back to postgres: %v", err)
	} else {
		defer redisSessions.Close()
		sessions = redisSessions
	}

	meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	defer meiliClient.Close()
	searchSvc := search.NewService(meiliClient, search.NewPgFTS(db))
	searchSvc.ReindexAllFromPG(ctx)

	historySvc := history.New(cfg.HistoryDir)

	emailSvc := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !emailSvc.IsConfigured() {
		log.Printf("main: smtp not configured, share invite emails disabled")
	}

	svc := app.New(cfg, pg, sessions, authpw.NewService(pg), historySvc, searchSvc, emailSvc, publisher)

	sweeper := archive.NewScheduler(pg, publisher, cfg.ArchiveRetention, cfg.ArchiveSweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewServer(svc, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: shutdown: %v", err)
		}
	}()

	log.Printf("main: listening on %s", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("main: serve: %v", err)
	}
	log.Printf("main: shut down cleanly")
}
