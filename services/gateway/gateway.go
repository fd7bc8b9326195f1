// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway provides the HTTP service wiring the moderation
// pipeline together.
//
// # Description
//
// The gateway composes the classifier, stream filter, retrieval backend,
// generation backend, and verdict cache into one gin HTTP service with
// two API endpoints: a synchronous guardrail check and a moderated SSE
// chat stream. It also owns process-level concerns: OpenTelemetry
// bootstrap, Prometheus metrics, and rate limiting.
//
// # Usage
//
//	cfg, err := gateway.LoadConfig("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := gateway.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sentria-ai/sentria/services/gateway/handlers"
	"github.com/sentria-ai/sentria/services/gateway/middleware"
	"github.com/sentria-ai/sentria/services/gateway/observability"
	"github.com/sentria-ai/sentria/services/gateway/routes"
	"github.com/sentria-ai/sentria/services/guardrail"
	"github.com/sentria-ai/sentria/services/llm"
	"github.com/sentria-ai/sentria/services/retrieval"
	badgerstore "github.com/sentria-ai/sentria/services/storage/badger"
)

// =============================================================================
// Service Interface
// =============================================================================

// Service is the top-level gateway contract.
//
// # Thread Safety
//
// Implementations are thread-safe after construction.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service coordinates:
//   - HTTP routing via gin
//   - the Weaviate retrieval backend
//   - the generation backend (OpenAI or Ollama)
//   - the classifier and stream filter
//   - the optional BadgerDB verdict cache
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	classifier    *guardrail.Classifier
	llmClient     llm.LLMClient
	cacheDB       *badgerstore.DB
	tracerCleanup func(context.Context)
}

// generatorAdapter narrows llm.LLMClient to the classifier's Generator
// contract, pinning the configured verdict temperature.
type generatorAdapter struct {
	client      llm.LLMClient
	temperature float32
}

func (g *generatorAdapter) Complete(ctx context.Context, prompt string) (string, error) {
	temp := g.temperature
	return g.client.Generate(ctx, prompt, llm.GenerationParams{Temperature: &temp})
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a gateway Service with the given configuration.
//
// # Description
//
// New initializes all gateway components:
//  1. Initializes OpenTelemetry tracing
//  2. Initializes Prometheus metrics
//  3. Creates the Weaviate retrieval backend
//  4. Creates the generation client based on backend type
//  5. Opens the verdict cache if a cache directory is configured
//  6. Builds the classifier and stream chat handler
//  7. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Validated service configuration.
//
// # Outputs
//
//   - Service: Ready-to-run gateway service.
//   - error: Non-nil if initialization fails.
//
// # Assumptions
//
//   - Weaviate and the generation backend are reachable at the
//     configured endpoints.
//   - Provider API keys are set in the environment.
func New(cfg Config) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &service{config: cfg}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if cfg.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for the guardrail pipeline")
	}

	retriever, err := s.initRetriever()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize retrieval backend: %w", err)
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	generator := &generatorAdapter{client: s.llmClient, temperature: cfg.LLMTemperature}
	s.classifier, err = guardrail.NewClassifier(retriever, generator, guardrail.ClassifierConfig{
		MaxContextTokens: cfg.MaxContextTokens,
		RetrievalTopK:    cfg.RetrievalTopK,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}

	if err := s.initVerdictCache(); err != nil {
		slog.Warn("Verdict cache initialization failed, running without cache",
			"error", err)
		// Not fatal - the classifier works uncached
	}

	if err := s.initRouter(); err != nil {
		s.cleanup()
		return nil, err
	}

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting guardrail gateway",
		"port", s.config.Port,
		"llm_backend", s.config.LLMBackend,
		"weaviate_url", s.config.WeaviateURL,
	)

	return s.router.Run(addr)
}

// Router returns the underlying gin engine for testing.
//
// # Assumptions
//
//   - Caller will not modify the router.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter sending spans to the configured
// collector over insecure gRPC (appropriate for internal networks). An
// empty endpoint disables export; the default no-op provider stays in
// place so span creation remains cheap.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown.
//   - error: Non-nil if tracer setup fails.
func (s *service) initTracer() (func(context.Context), error) {
	if s.config.OTelEndpoint == "" {
		slog.Info("OTel endpoint not configured, tracing disabled")
		return func(context.Context) {}, nil
	}

	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(semconv.ServiceNameKey.String("guardrail-gateway")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initRetriever creates the Weaviate hybrid retrieval backend.
func (s *service) initRetriever() (guardrail.Retriever, error) {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := retrieval.NewClient(retrieval.ClientConfig{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	if err := retrieval.EnsurePolicyDocumentSchema(context.Background(), client); err != nil {
		slog.Warn("Could not ensure Weaviate schema", "error", err)
		// Not fatal - the class may already exist or appear later
	}

	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return retrieval.NewWeaviateRetriever(client, s.config.HybridAlpha)
}

// initLLMClient creates the generation client for the configured backend.
//
// # Assumptions
//
//   - OPENAI_API_KEY is set for the openai backend.
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			Model:          s.config.LLMModel,
			AzureEndpoint:  s.config.AzureEndpoint,
			MaxRetries:     s.config.LLMMaxRetries,
			RequestTimeout: s.config.LLMTimeout(),
		})
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: s.config.OllamaURL,
			Model:   s.config.LLMModel,
			Timeout: s.config.LLMTimeout(),
		})
		slog.Info("Using Ollama LLM backend")
	default:
		err = fmt.Errorf("unknown llm backend: %s", s.config.LLMBackend)
	}

	return err
}

// initVerdictCache opens the BadgerDB verdict cache and attaches it to
// the classifier. A missing cache directory disables caching silently.
func (s *service) initVerdictCache() error {
	if s.config.CacheDir == "" || s.config.CacheTTLMinutes <= 0 {
		slog.Info("Verdict cache not configured, classifications run uncached")
		return nil
	}

	dbCfg := badgerstore.DefaultConfig()
	dbCfg.Path = s.config.CacheDir
	db, err := badgerstore.Open(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}
	s.cacheDB = db

	cache, err := guardrail.NewBadgerVerdictCache(db.DB, s.config.CacheTTL())
	if err != nil {
		return fmt.Errorf("failed to build verdict cache: %w", err)
	}

	s.classifier.WithCache(cache)
	slog.Info("Verdict cache enabled",
		"dir", s.config.CacheDir,
		"ttl_minutes", s.config.CacheTTLMinutes,
	)
	return nil
}

// initRouter sets up the gin HTTP router with all routes.
func (s *service) initRouter() error {
	streamHandler, err := handlers.NewStreamChatHandler(
		s.classifier,
		s.llmClient,
		guardrail.BufferPolicy{
			InitialThreshold:    s.config.InitialBufferSize,
			SubsequentThreshold: s.config.SubsequentBufferSize,
		},
		s.config.LLMTemperature,
	)
	if err != nil {
		return fmt.Errorf("failed to build stream handler: %w", err)
	}

	var limiter *middleware.RateLimiter
	if s.config.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("guardrail-gateway"))

	routes.SetupRoutes(s.router, s.classifier, streamHandler, limiter)
	return nil
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.cacheDB != nil {
		if err := s.cacheDB.Close(); err != nil {
			slog.Warn("Cache database close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
