package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/neodalsi/dalsi/internal/server"
	"github.com/neodalsi/dalsi/internal/server/config"
)

func main() {

	// A missing .env is fine; the config falls back to defaults and flags.
	_ = godotenv.Load()

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
