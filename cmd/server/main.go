package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/asaconsole/api/router"
	"github.com/sshcollectorpro/asaconsole/internal/archive"
	"github.com/sshcollectorpro/asaconsole/internal/config"
	"github.com/sshcollectorpro/asaconsole/internal/database"
	"github.com/sshcollectorpro/asaconsole/internal/service"
	"github.com/sshcollectorpro/asaconsole/pkg/logger"
	"github.com/sshcollectorpro/asaconsole/simulate"
)

const debounceInterval = 300 * time.Millisecond

// simulator owns the optional in-process appliance simulator so config
// reloads can start, stop or restart it.
type simulator struct {
	mu  sync.Mutex
	srv *simulate.Server
}

func (s *simulator) apply(cfg config.SimulateConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		_ = s.srv.Close()
		s.srv = nil
	}
	if !cfg.Enable {
		return
	}
	srv, err := simulate.Start(cfg)
	if err != nil {
		logger.Warnf("Simulate: failed to start: %v", err)
		return
	}
	s.srv = srv
}

func (s *simulator) stop() {
	s.apply(config.SimulateConfig{})
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.WithField("version", "1.0.0").Info("Starting ASA console server")

	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	sim := &simulator{}
	sim.apply(cfg.Simulate)
	defer sim.stop()

	runService := service.NewRunService(cfg, archive.NewWriter(cfg.Archive))

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        router.SetupRouter(runService),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	go watch(*configPath, func() {
		newCfg, err := config.Load(*configPath)
		if err != nil {
			logger.Warnf("Config reload failed: %v", err)
			return
		}
		simChanged := newCfg.Simulate != cfg.Simulate
		// in place, so the run service sees the new values
		*cfg = *newCfg
		if err := logger.Init(cfg.Log); err != nil {
			fmt.Printf("Failed to reinitialize logger: %v\n", err)
		}
		logger.Info("Config reloaded")
		if simChanged {
			sim.apply(cfg.Simulate)
		}
	})
	if cfg.Simulate.ConfigFile != "" {
		go watch(cfg.Simulate.ConfigFile, func() {
			logger.Info("Simulate: profile changed, restarting")
			sim.apply(cfg.Simulate)
		})
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return
	}
	logger.Info("Server shutdown complete")
}

// watch calls reload, debounced, whenever path is written or replaced.
func watch(path string, reload func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("Config watch init failed: %v", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.WithField("path", path).Warnf("Config watch add failed: %v", err)
		return
	}

	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, reload)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("Config watch error: %v", err)
		}
	}
}
