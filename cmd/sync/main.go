package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"cfprogress/internal/cfclient"
	"cfprogress/internal/config"
	"cfprogress/internal/notify"
	"cfprogress/internal/store"
	"cfprogress/internal/student"
	syncsvc "cfprogress/internal/sync"
)

// One-shot sync: runs a single pass over all students and prints the run
// report as JSON. Useful for cron-less deployments and for ops debugging.
func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := student.NewRepository(db.Client)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema init failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	cache := store.NewCache(redisClient.Client)

	cf := cfclient.New(cfg.CFBaseURL, cfg.CFTimeout)
	mailer := notify.NewMailer(cfg.SendgridAPIKey, cfg.EmailFrom, cfg.EmailFromName)
	dispatcher := notify.NewDispatcher(repo, mailer, cfg.ReminderCooldown, cfg.NotifyDelay)
	orchestrator := syncsvc.New(repo, cf, dispatcher, cache, cfg.SyncDelay)

	report := orchestrator.Run(ctx)

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("encode report: %v", err)
	}
	os.Stdout.Write(append(out, '\n'))

	if !report.Success {
		os.Exit(1)
	}
}
