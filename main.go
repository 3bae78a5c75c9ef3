package main

import (
	"context"
	"crypto/tls"
	"log"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"padington/internal/httpapi"
	"padington/internal/lobby"
)

func main() {
	flags, err := ParseCLIFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	var cfg *Config
	if flags.ConfigPath != "" {
		loaded, err := LoadConfig(flags.ConfigPath)
		if err != nil {
			log.Fatalf("[server] %v", err)
		}
		cfg = &loaded
	}
	setup := ResolveSetup(cfg, flags.Port)

	tlsConfig, err := resolveTLS(setup)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	metrics := NewMetrics()

	joins := make(chan lobby.JoinRequest, 64)
	lobbyServer := lobby.New(joins, setup.Folder).WithMetrics(metrics)

	api := httpapi.New(joins, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The lobby runs until its join queue closes, which never happens
		// here; waiting on gctx lets g.Wait return on shutdown.
		go lobbyServer.Run()
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		RunMetricsLog(gctx, metrics, 5*time.Second)
		return nil
	})
	g.Go(func() error {
		return api.Run(gctx, setup.Addr, tlsConfig)
	})

	log.Printf("[server] listening on %s", setup.Addr)
	if err := g.Wait(); err != nil {
		log.Fatalf("[server] %v", err)
	}
}

// resolveTLS returns nil when TLS is not enabled, serving plain
// HTTP/WS. When enabled, it loads a PEM certificate chain if the setup
// names one, otherwise falls back to a self-signed certificate so the
// server is still reachable over wss:// without any configuration on
// disk.
func resolveTLS(setup Setup) (*tls.Config, error) {
	if !setup.TLS.Enabled {
		return nil, nil
	}
	if setup.TLS.CertFile != "" && setup.TLS.KeyFile != "" {
		return LoadTLSConfig(setup.TLS.CertFile, setup.TLS.KeyFile)
	}
	tlsConfig, fingerprint, err := generateTLSConfig(24*time.Hour, "")
	if err != nil {
		return nil, err
	}
	log.Printf("[server] self-signed TLS certificate fingerprint: %s", fingerprint)
	return tlsConfig, nil
}
