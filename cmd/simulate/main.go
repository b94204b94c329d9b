// Command simulate serves a simulated ASA over SSH.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sshcollectorpro/asaconsole/internal/config"
	"github.com/sshcollectorpro/asaconsole/pkg/logger"
	"github.com/sshcollectorpro/asaconsole/simulate"
)

func main() {
	profile := flag.String("profile", "configs/simulate.yaml", "appliance profile; empty for the built-in default")
	listen := flag.String("listen", "127.0.0.1:2222", "listen address")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	if err := logger.Init(logger.Config{Level: *level, Format: "text", Output: "console"}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	srv, err := simulate.Start(config.SimulateConfig{Enable: true, ConfigFile: *profile, Listen: *listen})
	if err != nil {
		logger.Fatalf("Simulate: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Simulate: shutting down")
	if err := srv.Close(); err != nil {
		logger.Warnf("Simulate: close: %v", err)
	}
}
