package main

import (
	"log"

	"disclosure-backend/internal/bootstrap"
	"disclosure-backend/internal/shared/config"
	"disclosure-backend/internal/shared/server"
)

func main() {
	cfg := config.Load()

	app, err := bootstrap.Build(cfg, bootstrap.Options{WireRouter: true})
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	addr := server.Addr(cfg.Port)
	log.Printf("Starting API server on %s", addr)

	if err := app.Router.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
