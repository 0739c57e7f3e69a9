package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agent-observatory/backend/internal/config"
	"github.com/agent-observatory/backend/internal/correlate"
	"github.com/agent-observatory/backend/internal/lifecycle"
	"github.com/agent-observatory/backend/internal/mock"
	"github.com/agent-observatory/backend/internal/stats"
	"github.com/agent-observatory/backend/internal/store"
	"github.com/agent-observatory/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Generate synthetic hook events")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	dbPath := flag.String("db", "", "Override database path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = config.Default()
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}

	st, err := store.Open(cfg.Server.DBPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	hub := ws.NewHub(cfg.Stream.HeartbeatInterval)
	hub.SetGroupResolver(st.SessionIDsInGroup)

	collector := stats.NewCollector()
	engine := correlate.NewEngine(st, hub)
	tracker := lifecycle.NewTracker(st, hub, engine, collector, cfg.Pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go tracker.RunSweeper(ctx)

	if *mockMode {
		log.Println("Starting in mock mode")
		gen := mock.NewGenerator(tracker)
		gen.Start(ctx)
	}

	server := ws.NewServer(cfg, st, hub, tracker, collector)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		hub.Shutdown()
		st.Close()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
