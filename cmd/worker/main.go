package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"disclosure-backend/internal/bootstrap"
	"disclosure-backend/internal/queue"
	"disclosure-backend/internal/shared/config"
	"disclosure-backend/internal/shared/metrics"
	"disclosure-backend/internal/shared/telemetry"
	"disclosure-backend/internal/workerproc"
)

const (
	receiveTimeout         = 5 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(cfg, bootstrap.Options{RequireLLM: true})
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	go app.Sweeper.Run(ctx)

	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	log.Printf("worker started queue=%s concurrency=%d", cfg.RedisAddr, concurrency)

pollLoop:
	for {
		msg, ok, err := app.Consumer.Receive(ctx, receiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break pollLoop
			}
			if errors.Is(err, queue.ErrDecode) {
				metrics.IncJobsDeletedUnrecoverable()
				telemetry.Error("worker.job_dropped", map[string]any{"error": err.Error()})
				continue
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			if ctx.Err() != nil {
				break pollLoop
			}
			continue
		}

		select {
		case <-ctx.Done():
			break pollLoop
		case sem <- struct{}{}:
		}
		metrics.IncJobsReceived()
		wg.Add(1)
		go func(m queue.Message) {
			defer wg.Done()
			defer func() { <-sem }()
			handleMessage(ctx, app.Processor, m)
		}(msg)
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight jobs", defaultShutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(defaultShutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight jobs")
	}
}

func handleMessage(ctx context.Context, processor *workerproc.Processor, msg queue.Message) {
	start := time.Now()
	err := processor.Handle(ctx, msg)
	if err == nil {
		telemetry.Info("worker.job_done", map[string]any{
			"kind":        msg.Kind,
			"document_id": msg.DocumentID,
			"comparison":  msg.ComparisonID,
			"request_id":  msg.RequestID,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return
	}

	if workerproc.Unrecoverable(err) {
		// A payload that cannot parse will never succeed; count and drop.
		metrics.IncJobsDeletedUnrecoverable()
		telemetry.Error("worker.job_dropped", map[string]any{
			"kind":  msg.Kind,
			"error": err.Error(),
		})
		return
	}
	telemetry.Error("worker.job_failed", map[string]any{
		"kind":        msg.Kind,
		"document_id": msg.DocumentID,
		"comparison":  msg.ComparisonID,
		"request_id":  msg.RequestID,
		"error":       err.Error(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
}
