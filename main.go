package main

import (
	"fmt"
	"log"

	"github.com/rohanthewiz/rweb"

	"planscheduler/config"
	"planscheduler/db"
	"planscheduler/web"
)

func main() {
	config.Initialize()
	cfg := config.Get()

	// Open the store up front so misconfiguration fails at startup
	if _, err := db.GetDB(); err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}

	s := rweb.NewServer(rweb.ServerOptions{
		Address: fmt.Sprintf(":%d", cfg.Port),
		Verbose: true,
	})

	// Add middleware for request logging
	s.Use(rweb.RequestInfo)

	web.SetupRoutes(s)

	log.Printf("Starting %s on :%d", cfg.ServiceName, cfg.Port)
	log.Fatal(s.Run())
}
