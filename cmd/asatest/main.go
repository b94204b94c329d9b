// Command asatest runs console scripts against an appliance and prints every
// round trip as it happens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sshcollectorpro/asaconsole/internal/config"
	"github.com/sshcollectorpro/asaconsole/internal/script"
	"github.com/sshcollectorpro/asaconsole/pkg/asa"
	"github.com/sshcollectorpro/asaconsole/pkg/logger"
	"github.com/sshcollectorpro/asaconsole/pkg/terminal"
	"github.com/sshcollectorpro/asaconsole/simulate"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "configuration file")
	scheme := flag.String("scheme", "", "color scheme: light, dark or none (default from config)")
	sessionLog := flag.Bool("session-log", false, "print the full session log after each script")
	list := flag.Bool("list", false, "list scripts and exit")
	simulated := flag.Bool("simulate", false, "run against an in-process simulated appliance")
	host := flag.String("host", "", "appliance address (default from config)")
	port := flag.Int("port", 0, "appliance SSH port (default from config)")
	user := flag.String("user", "", "login user (default from config)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [script ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *list {
		for _, d := range script.Definitions() {
			fmt.Printf("%-16s %s\n", d.Name, d.Description)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	level := "warn"
	if *verbose {
		level = "debug"
	}
	if err := logger.Init(logger.Config{Level: level, Format: "text", Output: "console"}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if *host != "" {
		cfg.Device.Host = *host
	}
	if *port != 0 {
		cfg.Device.Port = *port
	}
	if *user != "" {
		cfg.Device.User = *user
	}
	if *scheme == "" {
		*scheme = cfg.Runner.Scheme
	}

	names := flag.Args()
	if len(names) == 0 {
		names = script.Names()
	}
	for _, name := range names {
		if _, ok := script.Lookup(name); !ok {
			fmt.Fprintf(os.Stderr, "unknown script %q (try -list)\n", name)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &script.Runner{
		Out:            os.Stdout,
		Scheme:         script.ParseScheme(*scheme),
		ShowTranscript: *sessionLog || cfg.Runner.ShowTranscript,
	}
	failed := 0
	for _, name := range names {
		c, err := newConsole(cfg, *simulated)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			os.Exit(1)
		}
		res, err := runner.Run(ctx, name, c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			os.Exit(1)
		}
		if res.Err != nil {
			failed++
		}
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Printf("%d script(s) run, %d reported an error\n", len(names), failed)
}

func newConsole(cfg *config.Config, simulated bool) (*asa.Console, error) {
	opts := terminal.Options{
		Host:           cfg.Device.Host,
		Port:           cfg.Device.Port,
		User:           cfg.Device.User,
		Password:       cfg.Device.Password,
		ConnectTimeout: cfg.Console.ConnectTimeout,
		CommandTimeout: cfg.Console.CommandTimeout,
		PollInterval:   cfg.Console.PollInterval,
	}
	if !simulated {
		return asa.NewSSH(opts, cfg.SSH, cfg.Device.EnablePassword)
	}

	p := simulate.DefaultProfile()
	if cfg.Simulate.ConfigFile != "" {
		loaded, err := simulate.LoadConfig(cfg.Simulate.ConfigFile)
		if err != nil {
			return nil, err
		}
		p = *loaded
	}
	return asa.NewSimulated(opts, simulate.NewAppliance(p).Respond, cfg.Device.EnablePassword)
}
