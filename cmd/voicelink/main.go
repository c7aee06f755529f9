// voicelink streams microphone audio to a transcription backend and prints
// the conversation in the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-voicelink/internal/app"
	"github.com/teslashibe/go-voicelink/internal/config"
	"github.com/teslashibe/go-voicelink/internal/log"
	"github.com/teslashibe/go-voicelink/internal/observe"
	"github.com/teslashibe/go-voicelink/pkg/audioio"
)

var version = "dev"

// flags holds command-line overrides. Empty values leave the config alone.
type flags struct {
	configPath  string
	url         string
	env         string
	email       string
	name        string
	backend     string
	device      string
	dashboard   string
	logLevel    string
	listDevices bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.url, "url", "", "Backend WebSocket URL (overrides -env)")
	flag.StringVar(&f.env, "env", "", "Environment: development or production")
	flag.StringVar(&f.email, "email", "", "User email sent to the backend")
	flag.StringVar(&f.name, "name", "", "User display name")
	flag.StringVar(&f.backend, "backend", "", "Capture backend: auto, malgo, null, mock")
	flag.StringVar(&f.device, "device", "", "Capture device ID (see -list-devices)")
	flag.StringVar(&f.dashboard, "dashboard", "", "Serve the status dashboard on this address")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&f.listDevices, "list-devices", false, "List capture devices and exit")
	flag.Parse()
	return f
}

func (f flags) apply(cfg *config.Config) {
	if f.url != "" {
		cfg.Server.URL = f.url
	}
	if f.env != "" {
		cfg.Server.Environment = config.Environment(f.env)
	}
	if f.email != "" {
		cfg.User.Email = f.email
	}
	if f.name != "" {
		cfg.User.Name = f.name
	}
	if f.backend != "" {
		cfg.Audio.Backend = audioio.Backend(f.backend)
	}
	if f.device != "" {
		cfg.Audio.Device = f.device
	}
	if f.dashboard != "" {
		cfg.Dashboard.Enabled = true
		cfg.Dashboard.Addr = f.dashboard
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
}

func loadConfig(f flags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(os.Getenv)
	f.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func listDevices() error {
	devices, err := audioio.ListDevices(log.Component("audio"))
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %s\t%s\n", marker, d.ID, d.Name)
	}
	return nil
}

func main() {
	f := parseFlags()

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		os.Exit(2)
	}

	log.Init(cfg.LogLevel)

	if f.listDevices {
		err = listDevices()
	} else {
		err = run(cfg)
	}
	if err != nil {
		log.L().Error("voicelink failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := log.L()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicelink",
		ServiceVersion: version,
	})
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
	} else {
		defer shutdownMetrics(context.Background())
	}

	logger.Info("starting voicelink",
		"version", version,
		"url", cfg.WebSocketURL(),
		"environment", cfg.Server.Environment,
		"backend", cfg.Audio.Backend,
	)

	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	defer func() {
		if err := a.Shutdown(); err != nil {
			logger.Warn("shutdown failed", "error", err)
		}
	}()

	if err := a.Init(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	return a.Run(ctx, os.Stdin)
}
