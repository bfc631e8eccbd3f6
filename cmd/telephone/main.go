package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leximon/telephone/internal/api"
	"github.com/leximon/telephone/internal/audio"
	"github.com/leximon/telephone/internal/banner"
	"github.com/leximon/telephone/internal/call"
	"github.com/leximon/telephone/internal/config"
	"github.com/leximon/telephone/internal/directory"
	"github.com/leximon/telephone/internal/events"
	"github.com/leximon/telephone/internal/logger"
	"github.com/leximon/telephone/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.InitLogger(os.Stdout)
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	directoryBackend := "memory"
	if cfg.RedisAddr != "" {
		directoryBackend = "redis " + cfg.RedisAddr
	}
	banner.Print("Telephone Call Service", []banner.ConfigLine{
		{Label: "Node", Value: cfg.NodeID},
		{Label: "API", Value: cfg.APIAddr},
		{Label: "Directory", Value: directoryBackend},
		{Label: "Ring timeout", Value: cfg.Timings.RingTimeout.String()},
		{Label: "Call limit", Value: cfg.Timings.CallTimeLimit.String()},
		{Label: "Log level", Value: cfg.LogLevel},
	})

	if err := run(cfg); err != nil {
		logger.Error("service error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// The in-memory directory always serves tenant resolution; Redis,
	// when configured, takes over settings, blocks, contacts and the
	// yellow pages.
	mem := directory.NewMemory()
	defer mem.Close()

	var (
		settings directory.SettingsStore = mem
		blocks   directory.BlockList     = mem
		contacts directory.ContactList   = mem
		pages    directory.YellowPages   = mem
	)
	if cfg.RedisAddr != "" {
		rd, err := directory.NewRedis(directory.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer rd.Close()
		settings, blocks, contacts, pages = rd, rd, rd, rd
		logger.Info("directory backed by redis", "addr", cfg.RedisAddr)
	}

	svc := call.NewService(call.Deps{
		Resolver:  mem,
		Settings:  settings,
		Blocks:    blocks,
		Contacts:  contacts,
		Pages:     pages,
		Connector: &voice.UDPConnector{},
		Tones:     audio.NewCatalog(),
		Renderer:  call.LogRenderer{},
		Events:    events.NewLogPublisher(),
		NodeID:    cfg.NodeID,
		Timings:   cfg.Timings,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go call.NewSupervisor(svc).Run(ctx)

	var ops *api.Server
	if cfg.APIAddr != "" {
		ops = api.NewServer(cfg.APIAddr, cfg.NodeID, svc)
		if err := ops.Start(); err != nil {
			return err
		}
		defer ops.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal, shutting down", "signal", sig.String())
	cancel()

	// let in-flight teardowns settle
	time.Sleep(time.Second)
	return nil
}
