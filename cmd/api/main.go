package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kinlink.org/internal/config"
	"kinlink.org/internal/httpapi"
	"kinlink.org/internal/linking"
	"kinlink.org/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store linking.Store
		probe httpapi.ReadyProbe
	)
	if cfg.PostgresDSN != "" {
		pg, err := linking.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pg.Close()
		store = pg
		probe = httpapi.ReadyProbe{DB: pg.DB()}
	} else {
		log.Print("KINLINK_PG_DSN not set; using in-memory store (state is not durable)")
		store = linking.NewMemory()
	}

	svc, err := linking.NewService(store,
		linking.WithInviteTTL(cfg.InviteTTL),
		linking.WithShareBaseURL(cfg.ShareBaseURL),
	)
	if err != nil {
		log.Fatalf("linking service: %v", err)
	}

	api := httpapi.New(probe, version, svc)
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)
	api.SetMaxBodyBytes(cfg.MaxBodyBytes)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting kinlink-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
