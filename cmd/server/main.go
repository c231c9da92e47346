package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"form_finder/pkg/api"
	"form_finder/pkg/config"
	"form_finder/pkg/formfind"
)

func main() {
	configPath := flag.String("config", "", "YAML settings file (optional)")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	corsOrigin := flag.String("cors-origin", "", "CORS allowed origin (empty = config value)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *corsOrigin != "" {
		cfg.Server.CORSOrigin = *corsOrigin
	}

	backend, name := newBackend()
	log.Printf("Using %s solver backend", name)

	var cache *formfind.Cache
	if cfg.Server.CacheSize > 0 {
		cache = formfind.NewCache(cfg.Server.CacheSize)
		log.Printf("Result cache: %d entries", cfg.Server.CacheSize)
	}
	engine := formfind.NewEngine(backend, cache)

	// Setup HTTP server.
	srvCfg := api.DefaultConfig(fmt.Sprintf(":%d", cfg.Server.Port))
	srvCfg.CORSOrigin = cfg.Server.CORSOrigin
	if cfg.Server.MaxConcurrent > 0 {
		srvCfg.MaxConcurrent = cfg.Server.MaxConcurrent
	}
	if cfg.Server.RequestTimeout > 0 {
		srvCfg.RequestTimeout = cfg.Server.RequestTimeout
		if srvCfg.WriteTimeout <= srvCfg.RequestTimeout {
			srvCfg.WriteTimeout = srvCfg.RequestTimeout + srvCfg.ReadTimeout
		}
	}

	handlers := api.NewHandlers(engine, cfg, name)
	srv := api.NewServer(srvCfg, handlers)

	if err := api.ListenAndServe(srv); err != nil {
		log.Printf("Server stopped: %v", err)
		os.Exit(1)
	}
}
