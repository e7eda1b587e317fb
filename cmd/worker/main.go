package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Worker consumes accepted-claim events and keeps per-session tally
// counters in redis so dashboards can poll counts without querying
// Postgres.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:claims")
	}

	events, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for claim events...")
	for evt := range events {
		if evt.SessionID == "" {
			continue
		}
		n, err := redisClient.IncrTally(ctx, evt.SessionID)
		if err != nil {
			log.Printf("tally update failed for session %s: %v", evt.SessionID, err)
			continue
		}
		log.Printf("session %s: %s marked present (%d total)", evt.SessionID, evt.RollNo, n)
	}

	log.Println("worker exited")
}
