package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repost-radar/internal"
	"repost-radar/internal/api"
	"repost-radar/internal/bot"
	"repost-radar/internal/discord"
	"repost-radar/internal/logging"
	"repost-radar/internal/scheduler"

	"github.com/joho/godotenv"
)

const errorsPath = "errors.log"

func main() {
	// Load .env file if it exists (try multiple paths)
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, path := range envPaths {
		_ = godotenv.Load(path)
	}

	cfg, err := internal.LoadConfig()
	if err == nil {
		err = cfg.ValidateBot()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(errorsPath, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		cancel()
	}()

	session, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		log.Errorf("discord: %v", err)
		return
	}
	src := discord.NewSource(session)

	svc, err := scheduler.BuildService(ctx, cfg, src, log)
	if err != nil {
		log.Errorf("build service: %v", err)
		return
	}
	defer svc.Close()

	go func() {
		if err := svc.Run(ctx); err != nil {
			log.Errorf("scheduler stopped: %v", err)
			cancel()
		}
	}()

	if cfg.HTTPPort > 0 {
		srv := api.NewServer(cfg.HTTPPort, svc, log)
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Errorf("api server: %v", err)
			}
		}()
	}

	b := bot.NewDiscordBot(session, src, svc, cfg, log, errorsPath)
	b.SetCancelFunc(cancel)
	if err := b.Run(ctx); err != nil {
		log.Errorf("bot run: %v", err)
		return
	}

	<-ctx.Done()
	time.Sleep(300 * time.Millisecond)
}
