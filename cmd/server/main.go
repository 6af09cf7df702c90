package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/chatmux/chatmux/internal/api"
	"github.com/chatmux/chatmux/internal/bot"
	"github.com/chatmux/chatmux/internal/config"
	"github.com/chatmux/chatmux/internal/crypt"
	"github.com/chatmux/chatmux/internal/lifecycle"
	"github.com/chatmux/chatmux/internal/logger"
	"github.com/chatmux/chatmux/internal/pool"
	"github.com/chatmux/chatmux/internal/ratelimit"
	"github.com/chatmux/chatmux/internal/store"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	log.Info("starting chatmux", "instance_id", logger.GetInstanceID(), "port", cfg.Port)

	cipher, err := crypt.New(cfg.AccountKey)
	if err != nil {
		log.Error("invalid account key", "error", err)
		os.Exit(1)
	}

	db, err := store.InitDatabase(cfg)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter, err := buildLimiter(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	sessions := pool.New(limiter, db, log.Logger,
		time.Duration(cfg.WorkTimeoutSeconds)*time.Second,
		time.Duration(cfg.UpstreamTimeoutSeconds)*time.Second)

	factory := func(email, accessToken, puid string) (pool.Session, error) {
		return bot.NewSession(email, accessToken, puid, cfg.ChatGPTBaseURL, cfg.CaptchaURL, log.Logger)
	}
	auth := bot.NewAuthenticator(cfg.AuthURL)
	worker := lifecycle.New(db, sessions, auth, cipher, factory, log.Logger)

	if err := importBootstrapAccounts(ctx, cfg, db, log); err != nil {
		log.Error("failed to import bootstrap accounts", "error", err)
		os.Exit(1)
	}

	if err := worker.Start(ctx); err != nil {
		log.Error("failed to start lifecycle worker", "error", err)
		os.Exit(1)
	}

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler := api.NewHandler(sessions, db, cipher, worker, log.Logger)
	api.RegisterRoutes(router, handler, cfg.AuthToken, cfg.AllowedHosts, log.Logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		var err error
		if cfg.SSLCertFile != "" && cfg.SSLKeyFile != "" {
			err = srv.ListenAndServeTLS(cfg.SSLCertFile, cfg.SSLKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	worker.Stop()
	sessions.Close()
	log.Info("shutdown complete")
}

// buildLimiter uses the shared Redis window when configured, so replicas
// coordinate; otherwise limits hold per process only.
func buildLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, error) {
	if cfg.RedisURI == "" {
		return ratelimit.NewMemoryLimiter(ratelimit.AccountRules), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURI)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return ratelimit.NewRedisLimiter(client, ratelimit.AccountRules), nil
}

// importBootstrapAccounts loads accounts.yaml into the store. Passwords
// in the file are already Fernet tokens.
func importBootstrapAccounts(ctx context.Context, cfg *config.Config, db *store.Store, log *logger.Logger) error {
	bootstrap, err := config.LoadAccountsFile(cfg.AccountsFile)
	if err != nil {
		return err
	}
	if len(bootstrap) == 0 {
		return nil
	}
	accounts := make([]store.Account, 0, len(bootstrap))
	for _, b := range bootstrap {
		accounts = append(accounts, store.Account{Email: b.Email, Password: b.Password})
	}
	imported, err := db.ImportAccounts(ctx, accounts)
	if err != nil {
		return err
	}
	log.Info("bootstrap accounts imported", "imported", imported, "total", len(bootstrap))
	return nil
}
