package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loLollipop/refresh-token-got-it/internal/api"
	"github.com/loLollipop/refresh-token-got-it/internal/config"
	"github.com/loLollipop/refresh-token-got-it/internal/logging"
	"github.com/loLollipop/refresh-token-got-it/internal/session"
	"github.com/loLollipop/refresh-token-got-it/internal/watcher"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// StartService runs the HTTP server until SIGINT or SIGTERM.
func StartService(cfg *config.Config, configPath string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RunService(ctx, cfg, configPath); err != nil {
		log.Errorf("service stopped with error: %v", err)
		os.Exit(1)
	}
}

// RunService opens the session store, serves HTTP and hot-reloads configPath
// until ctx is cancelled.
func RunService(ctx context.Context, cfg *config.Config, configPath string, opts ...api.ServerOption) error {
	if cfg == nil {
		return errors.New("configuration is required")
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := session.Open(openCtx, cfg.Session)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if errClose := store.Close(); errClose != nil {
			log.Warnf("failed to close session store: %v", errClose)
		}
	}()
	log.Infof("session store: %s (ttl %s)", cfg.Session.Store, cfg.Session.TTL)

	server, err := api.NewServer(cfg, store, opts...)
	if err != nil {
		return err
	}

	if w := startWatcher(ctx, cfg, configPath, server); w != nil {
		defer func() {
			if errStop := w.Stop(); errStop != nil {
				log.Debugf("config watcher stop error: %v", errStop)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancelStop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelStop()
		return server.Stop(stopCtx)
	})
	return g.Wait()
}

func startWatcher(ctx context.Context, cfg *config.Config, configPath string, server *api.Server) *watcher.Watcher {
	if strings.TrimSpace(configPath) == "" {
		return nil
	}
	if info, err := os.Stat(configPath); err != nil || info.IsDir() {
		log.Debugf("config file %s not found; hot reload disabled", configPath)
		return nil
	}

	w, err := watcher.NewWatcher(configPath, func(newCfg *config.Config) {
		if errLog := logging.ConfigureLogOutput(newCfg); errLog != nil {
			log.Errorf("failed to apply log output settings: %v", errLog)
		}
		server.UpdateConfig(newCfg)
	})
	if err != nil {
		log.Warnf("config watcher unavailable: %v", err)
		return nil
	}
	w.SetConfig(cfg)
	if err = w.Start(ctx); err != nil {
		log.Warnf("config watcher unavailable: %v", err)
		_ = w.Stop()
		return nil
	}
	return w
}
