package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gtonic/counsel/config"
	"github.com/gtonic/counsel/pkg/otel"
	"github.com/gtonic/counsel/server"
)

func main() {
	portFlag := flag.Int("port", 8080, "server port")
	addressFlag := flag.String("address", "", "server address")
	configFlag := flag.String("config", "config.yaml", "configuration path")

	flag.Parse()

	cfg, err := config.Parse(*configFlag)

	if err != nil {
		log.Fatalf("Failed to parse configuration: %v", err)
	}

	cfg.Address = fmt.Sprintf("%s:%d", *addressFlag, *portFlag)

	s, err := server.New(cfg)

	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := otel.Setup("counsel", "0.1.0"); err != nil {
		log.Printf("Warning: Failed to setup OpenTelemetry: %v", err)
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Address)

		if err := s.ListenAndServe(cfg.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server ListenAndServe failed: %v", err)
		}
	}()

	<-ctx.Done()

	stop()
	log.Println("Server exiting.")
}
