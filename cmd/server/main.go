package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/guesswho/internal/config"
	"github.com/user/guesswho/internal/network/server"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("could not load config, using defaults: %v", err)
		cfg = config.Default()
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		srv.Shutdown()
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
