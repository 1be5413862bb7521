// Package chatpushservice assembles the chat push notification service: the
// Firestore-event pipeline that dispatches pushes, and the HTTP surface for
// device registration and health checks.
package chatpushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-chat-push-service/chatpushservice/config"
	"github.com/tinywideclouds/go-chat-push-service/internal/api"
	"github.com/tinywideclouds/go-chat-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-chat-push-service/pkg/chat"
	"github.com/tinywideclouds/go-chat-push-service/pkg/dispatch"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[chat.MessageCreatedEvent]
	logger          *slog.Logger
}

// New assembles the service from injected collaborators. Nothing here owns a
// global: the store and provider clients are constructed once by the caller
// and passed in, which keeps the pipeline testable against fakes.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	fcmDispatcher dispatch.Dispatcher,
	webDispatcher dispatch.WebDispatcher,
	store dispatch.Store,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Processor (the dispatch core)
	processor := pipeline.NewProcessor(fcmDispatcher, webDispatcher, store, logger)

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.MessageCreatedTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API (device registration)
	deviceAPI := api.NewDeviceAPI(store, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/register/fcm", deviceAPI.RegisterFCM)
	handle("POST /api/v1/register/web", deviceAPI.RegisterWeb)
	handle("POST /api/v1/unregister/fcm", deviceAPI.UnregisterFCM)
	handle("POST /api/v1/unregister/web", deviceAPI.UnregisterWeb)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
