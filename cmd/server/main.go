package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"

	"riftline/server/internal/hub"
	netapi "riftline/server/internal/net"
	"riftline/server/internal/telemetry"
	"riftline/server/logging"
	"riftline/server/logging/sinks"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	profileMode := flag.String("profile", "", "enable profiling: cpu or mem")
	flag.Parse()

	switch *profileMode {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	case "":
	default:
		log.Fatalf("unknown profile mode %q", *profileMode)
	}

	logCfg := logging.DefaultConfig()
	var namedSinks []logging.NamedSink
	if logCfg.HasSink("console") {
		namedSinks = append(namedSinks, logging.NamedSink{
			Name: "console",
			Sink: sinks.NewConsoleSink(os.Stdout, logCfg.Console),
		})
	}
	router, err := logging.NewRouter(nil, logCfg, namedSinks)
	if err != nil {
		log.Fatalf("failed to start logging router: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		router.Close(ctx)
	}()

	metrics := logging.NewMetrics()
	logger := telemetry.WrapLogger(log.Default())

	h := hub.New(hub.DefaultConfig(), router, logger, telemetry.WrapMetrics(metrics))
	stop := make(chan struct{})
	go h.RunSimulation(stop)
	defer close(stop)

	server := &http.Server{
		Addr:    *addr,
		Handler: netapi.NewMux(h, logger, metrics),
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("server listening on %s", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}
