// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/analysis"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/ingest"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/middleware"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/notify"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/observability"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/routes"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/similarity"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/storage"
)

func initTracer(ctx context.Context, endpoint string) (func(context.Context), error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("audio-ingest-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := envOr("AUDIO_INGEST_PORT", "12230")
	dbPath := envOr("AUDIO_DB_PATH", storage.DefaultDBFile)
	blobRoot := envOr("AUDIO_BLOB_ROOT", "data/blobs")
	auditPath := envOr("AUDIO_AUDIT_PATH", "data/audit")

	workers := analysis.DefaultWorkers
	if v := os.Getenv("AUDIO_ANALYSIS_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			log.Fatalf("invalid AUDIO_ANALYSIS_WORKERS: %q", v)
		}
		workers = n
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing is optional; without a collector endpoint the service runs in
	// lightweight mode.
	if otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); otelEndpoint != "" {
		cleanup, err := initTracer(ctx, otelEndpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set. Running without tracing.")
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open artifact store: %v", err)
	}
	defer store.Close()

	audit, err := storage.OpenAuditTrail(storage.AuditConfig{
		Path:       auditPath,
		SyncWrites: true,
	})
	if err != nil {
		log.Fatalf("failed to open audit trail: %v", err)
	}
	defer audit.Close()

	var blobs storage.BlobStore
	if bucket := os.Getenv("AUDIO_GCS_BUCKET"); bucket != "" {
		gcs, err := storage.NewGCSBlobStore(ctx, bucket, os.Getenv("AUDIO_GCS_KEY_PATH"))
		if err != nil {
			log.Fatalf("failed to create GCS blob store: %v", err)
		}
		defer gcs.Close()
		blobs = gcs
		slog.Info("using GCS blob store", "bucket", bucket)
	} else {
		local, err := storage.NewLocalBlobStore(blobRoot)
		if err != nil {
			log.Fatalf("failed to create local blob store: %v", err)
		}
		blobs = local
		slog.Info("using local blob store", "root", blobRoot)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	hub := notify.NewHub()
	engine := similarity.NewEngine(store, hub)
	extractor := &analysis.FpcalcExtractor{Binary: os.Getenv("FPCALC_PATH")}

	pool := analysis.NewPool(store, blobs, extractor, engine, metrics, workers)
	pool.Start(ctx)
	defer pool.Stop()

	coordinator := ingest.NewCoordinator(store, blobs, audit, pool, metrics)

	if watchDir := os.Getenv("AUDIO_WATCH_DIR"); watchDir != "" {
		watcher, err := ingest.NewWatcher(watchDir, coordinator)
		if err != nil {
			log.Fatalf("failed to start watch-folder ingestion: %v", err)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Error("watch-folder ingestion stopped", "error", err)
			}
		}()
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("audio-ingest-service"))
	routes.SetupRoutes(router, routes.Deps{
		Store:       store,
		Hub:         hub,
		Coordinator: coordinator,
		Metrics:     metrics,
		UploadLimit: middleware.NewRateLimiter(5, 10),
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		slog.Info("audio ingest service listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}
