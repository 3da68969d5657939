package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/vfms/fleet-identity-api/services/identity-service/internal/config"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/handler"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/model"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/notify"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/repository"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/token"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/usecase"
	"github.com/vfms/fleet-identity-api/shared/auth"
	"github.com/vfms/fleet-identity-api/shared/mailer"
	"github.com/vfms/fleet-identity-api/shared/middleware"
	"github.com/vfms/fleet-identity-api/shared/validation"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "identity").Logger()

	cfg := config.NewIdentityServiceConfig(&logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to mongodb")
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to disconnect from mongodb")
		}
	}()

	db := client.Database(cfg.MongoDB)
	userRepo := repository.NewUserMongoRepository(ctx, &logger, db)

	jwtAuth := auth.NewJWTAuthenticator(cfg.Token.Issuer, cfg.Token.Issuer)
	issuer := token.NewIssuer(jwtAuth, &cfg.Token, nil)

	smtpMailer := mailer.NewMailer(&logger)
	notifier := notify.NewEmailNotifier(smtpMailer, cfg.AppBaseURL)

	validator, err := validation.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize validator")
	}

	credentials := usecase.NewCredentialUsecase(userRepo, issuer, notifier, cfg, &logger, nil)
	passwordReset := usecase.NewPasswordResetUsecase(userRepo, issuer, notifier, cfg, &logger, nil)

	requireAuth := middleware.RequireAuth(jwtAuth, cfg.Token.AccessTokenSecret)
	requireAdmin := middleware.RequireRole(string(model.RoleAdmin))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	handler.NewAuthHandler(credentials, passwordReset, validator, &logger).Routes(r, requireAuth, requireAdmin)
	handler.NewUserHandler(userRepo, &logger).Routes(r, requireAuth, requireAdmin)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("identity service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
