package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"ride-agent/handler"
	"ride-agent/internal/config"
	"ride-agent/internal/domain"
	"ride-agent/internal/integrations/ollama"
	"ride-agent/internal/integrations/openmeteo"
	"ride-agent/internal/integrations/paramstore"
	"ride-agent/internal/integrations/warehouse"
	"ride-agent/internal/scoring"
	"ride-agent/internal/sessionstore"
	"ride-agent/internal/usecase"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildSessionStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build session store")
	}

	forecast, err := buildForecastSource(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build forecast source")
	}

	narrator, err := buildNarrator(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build narrator")
	}

	svc, err := usecase.NewSessionService(store, forecast, narrator,
		scoring.New(scoring.DefaultConfig()),
		usecase.Options{
			MaxTurns:           cfg.MaxTurns,
			MaxMessageChars:    cfg.MaxMessageChars,
			ConditionsTTL:      cfg.ConditionsTTL,
			ForecastTimeout:    cfg.ForecastTimeout,
			NarrationTimeout:   cfg.NarrationTimeout,
			DefaultPreferences: cfg.DefaultPreferences,
		}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build session service")
	}

	h, err := handler.New(svc, narrator, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build handler")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).
			Str("session_backend", cfg.SessionBackend).
			Str("forecast_source", cfg.ForecastSource).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("serve")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func buildSessionStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (domain.SessionStore, error) {
	switch cfg.SessionBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return sessionstore.NewRedis(client, cfg.SessionTTL)
	case config.BackendDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return sessionstore.NewDynamo(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoTable, cfg.SessionTTL)
	case config.BackendMemory:
		store := sessionstore.NewMemory(cfg.SessionTTL)
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := store.Cleanup(); n > 0 {
						log.Debug().Int("expired", n).Msg("session cleanup")
					}
				}
			}
		}()
		return store, nil
	}
	return nil, errors.New("main: unknown session backend")
}

func buildForecastSource(ctx context.Context, cfg *config.Config) (domain.ForecastSource, error) {
	switch cfg.ForecastSource {
	case config.SourceOpenMeteo:
		return openmeteo.New(&http.Client{Timeout: cfg.ForecastTimeout})
	case config.SourceWarehouse:
		pool, err := pgxpool.New(ctx, cfg.WarehouseDBURL)
		if err != nil {
			return nil, err
		}
		return warehouse.New(pool)
	}
	return nil, errors.New("main: unknown forecast source")
}

func buildNarrator(ctx context.Context, cfg *config.Config) (*ollama.Client, error) {
	opts := []ollama.Option{
		ollama.WithHTTPClient(&http.Client{Timeout: cfg.NarrationTimeout}),
	}
	if cfg.NarrationTokenParam != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		opts = append(opts, ollama.WithBearerToken(ps, cfg.NarrationTokenParam))
	}
	return ollama.New(cfg.OllamaBaseURL, cfg.OllamaModel, opts...)
}
