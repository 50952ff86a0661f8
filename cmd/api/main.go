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

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-scene/backend/internal/config"
	"github.com/zhouzirui/z-scene/backend/internal/handler"
	"github.com/zhouzirui/z-scene/backend/internal/metrics"
	"github.com/zhouzirui/z-scene/backend/internal/service/ai"
	"github.com/zhouzirui/z-scene/backend/internal/service/chat"
	"github.com/zhouzirui/z-scene/backend/internal/service/image"
	"github.com/zhouzirui/z-scene/backend/internal/service/roleplay"
	"github.com/zhouzirui/z-scene/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	backend, err := store.NewStore(cfg.Store.Driver, cfg.Store.Options()...)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Printf("[store] close failed: %v", err)
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.Default()
	}

	state, err := chat.LoadState(ctx, backend, m)
	if err != nil {
		return err
	}

	chatModel, err := cfg.Chat.NewChatModel(ctx)
	if err != nil {
		return err
	}
	chatGateway, err := ai.NewChatGateway(ctx, chatModel, ai.ChatOptions{
		MaxTokens: cfg.Chat.MaxTokens,
		Timeout:   cfg.Chat.Timeout,
		Window:    ai.WindowFor(cfg.Chat.HistoryLimit),
		Metrics:   m,
	})
	if err != nil {
		return err
	}
	log.Printf("chat model %s ready (max tokens %d)", cfg.Chat.Model, cfg.Chat.MaxTokens)

	imageGateway := newImageGateway(cfg.Image, m)

	svc := roleplay.NewService(state, chatGateway, imageGateway)

	opts := handler.Options{}
	if cfg.Metrics.Enabled {
		opts.Metrics = handler.DefaultMetricsHandler()
	}
	router := handler.NewRouter(svc, opts)

	return startServer(ctx, cfg.Server, router)
}

func newImageGateway(cfg config.ImageConfig, m *metrics.Metrics) *image.Gateway {
	primary := image.NewClient(image.ClientConfig{
		Name:          "image-primary",
		URL:           cfg.PrimaryURL,
		APIKey:        cfg.APIKey,
		Timeout:       cfg.Timeout,
		MaxErrorBytes: cfg.MaxErrorBytes,
		Metrics:       m,
	})

	var fallback image.Generator
	if cfg.FallbackURL != "" {
		fallback = image.NewClient(image.ClientConfig{
			Name:          "image-fallback",
			URL:           cfg.FallbackURL,
			APIKey:        cfg.APIKey,
			Timeout:       cfg.Timeout,
			MaxErrorBytes: cfg.MaxErrorBytes,
			Metrics:       m,
		})
	} else {
		log.Println("image fallback provider disabled")
	}

	return image.NewGateway(primary, fallback, m)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Scene chat backend listening on %s", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
