package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mvdwal/exactapi/common"
	"github.com/mvdwal/exactapi/common/config"
	"github.com/mvdwal/exactapi/common/logger"
	"github.com/mvdwal/exactapi/modules/exact"
	"github.com/mvdwal/exactapi/modules/oauth"
	"github.com/mvdwal/exactapi/modules/web"
)

const userAgent = "exactapi/1.0"

func main() {
	root := &cobra.Command{
		Use:           "exactapi",
		Short:         "Exact Online OAuth token manager and API proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func serve(cfg *config.Config) error {
	log := logger.New(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "exactapi",
	})
	defer func() { _ = log.Sync() }()

	appCfg := oauth.AppConfig{
		ClientID:         cfg.Exact.ClientID,
		ClientSecret:     cfg.Exact.ClientSecret,
		Country:          cfg.Exact.Country,
		RedirectURI:      cfg.Exact.RedirectURI,
		RefreshThreshold: time.Duration(cfg.Exact.RefreshThresholdMinutes) * time.Minute,
	}
	if !appCfg.Configured() {
		log.Warn("exact app credentials not set; authorization will be unavailable")
	}

	tokens, states, err := buildStores(cfg)
	if err != nil {
		return err
	}

	hc := common.NewHttpClient(userAgent, &http.Client{})

	flow := oauth.NewFlow(appCfg, tokens, states, hc.Std(), log)
	refresher := oauth.NewProviderRefresher(appCfg, hc.Std())
	manager := oauth.NewManager(tokens, refresher, appCfg.Threshold(), log)

	client := exact.NewClient(appCfg.BaseURL(), hc, common.NewCacheStore(), manager)
	svc := exact.NewService(client)

	handlers := web.NewHandlers(appCfg, flow, manager, tokens, svc, log)
	router := web.NewRouter(handlers, log)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("country", appCfg.Country),
			zap.String("base_url", appCfg.BaseURL()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func buildStores(cfg *config.Config) (oauth.TokenStore, oauth.StateStore, error) {
	switch cfg.Store.Kind {
	case "", "memory":
		return oauth.NewMemoryTokenStore(), oauth.NewMemoryStateStore(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Store.Redis.Addr,
			DB:   cfg.Store.Redis.DB,
		})
		return oauth.NewRedisTokenStore(rdb, cfg.Store.Redis.Prefix),
			oauth.NewRedisStateStore(rdb, cfg.Store.Redis.Prefix), nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}
