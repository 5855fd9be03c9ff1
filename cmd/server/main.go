package main

import (
	"log"

	"github.com/joho/godotenv"

	"gitpress/internal/config"
	"gitpress/internal/server"
)

func main() {
	// Optional in deployment, convenient for local runs.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	s, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	s.Run()
}
