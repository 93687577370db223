package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/pitchlab/coachlink/internal/app"
	"github.com/pitchlab/coachlink/internal/config"
)

func main() {
	// Local overrides live in .env; absence is fine.
	if err := godotenv.Load(); err == nil {
		log.Printf("loaded settings from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatalf("coachlink: %v", err)
	}
}
