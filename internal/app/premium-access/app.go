// Package premiumaccess собирает HTTP-приложение сервиса премиум-доступа:
// хранилище, кеш, бизнес-логику и маршруты.
package premiumaccess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/magabrotheeeer/premium-access/internal/cache"
	"github.com/magabrotheeeer/premium-access/internal/config"
	"github.com/magabrotheeeer/premium-access/internal/entitlement"
	"github.com/magabrotheeeer/premium-access/internal/lib/jwt"
	"github.com/magabrotheeeer/premium-access/internal/migrations"
	"github.com/magabrotheeeer/premium-access/internal/paymentprovider"
	accessservice "github.com/magabrotheeeer/premium-access/internal/services/access"
	entservice "github.com/magabrotheeeer/premium-access/internal/services/entitlement"
	"github.com/magabrotheeeer/premium-access/internal/storage"
	"github.com/magabrotheeeer/premium-access/internal/storage/postgres"
	"github.com/magabrotheeeer/premium-access/internal/storage/userfile"
)

// App — HTTP-приложение сервиса.
type App struct {
	server *http.Server
	logger *slog.Logger
	store  storage.Store
	cache  *cache.Cache
}

// NewStore создает хранилище записей пользователей по конфигурации.
func NewStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	const op = "app.premiumaccess.NewStore"
	switch cfg.Storage.Backend {
	case "postgres":
		store, err := postgres.New(cfg.StorageConnectionString, logger)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := waitForDB(store); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := migrations.Run(store.DB, cfg.MigrationsPath); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return store, nil
	case "file":
		store, err := userfile.New(cfg.Storage.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%s: unknown storage backend %q", op, cfg.Storage.Backend)
	}
}

func waitForDB(store *postgres.Store) error {
	var err error
	for range 10 {
		err = store.CheckReady()
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries: %w", err)
}

// New создает приложение по конфигурации.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	store, err := NewStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		store.Close()
		return nil, err
	}

	eval := entitlement.New(entitlement.Durations{
		Trial:      cfg.TrialDuration,
		FreePeriod: cfg.FreePeriodDuration,
	})

	entitlementService := entservice.New(store, eval, cacheRedis, logger)
	accessService := accessservice.New(store, eval, cfg.AdminUserID, cfg.AllowedActions, logger)
	providerClient := paymentprovider.NewClient(cfg.ShopID, cfg.SecretKey)
	jwtMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, accessService, entitlementService, providerClient, jwtMaker)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		store:  store,
		cache:  cacheRedis,
	}, nil
}

// Run запускает HTTP-сервер и останавливает его по отмене контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("failed to close store", slog.Any("err", cerr))
		}
		return err
	}
}
