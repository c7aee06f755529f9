// voicelink-devserver is a local stand-in for the transcription backend.
// It answers with scripted text so the client can be tried end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-voicelink/internal/log"
	"github.com/teslashibe/go-voicelink/pkg/devserver"
)

func main() {
	cfg := devserver.DefaultConfig()

	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", cfg.Addr, "Listen address")
	replyEvery := flag.Int("reply-every", 20, "Send a scripted reply every N audio chunks (0 disables)")
	transcription := flag.String("transcription", cfg.Transcription, "Scripted transcription text")
	response := flag.String("response", cfg.Response, "Scripted AI response text")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	log.Init(*logLevel)
	logger := log.L()

	if *configPath != "" {
		if err := loadConfig(*configPath, &cfg); err != nil {
			logger.Error("load config failed", "error", err)
			os.Exit(2)
		}
	}

	// Explicit flags win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "reply-every":
			cfg.ReplyEvery = *replyEvery
		case "transcription":
			cfg.Transcription = *transcription
		case "response":
			cfg.Response = *response
		}
	})
	if *configPath == "" && !flagSet("reply-every") {
		cfg.ReplyEvery = *replyEvery
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := devserver.New(cfg, logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("devserver failed", "error", err)
		os.Exit(1)
	}

	stats := srv.Stats()
	logger.Info("devserver stopped",
		"connections", stats.Connections,
		"audio_chunks", stats.AudioChunks,
		"audio_bytes", stats.AudioBytes,
	)
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) { set = set || f.Name == name })
	return set
}

func loadConfig(path string, cfg *devserver.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode %q: %w", path, err)
	}
	return nil
}
