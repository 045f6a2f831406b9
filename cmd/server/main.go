package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/mediagraph/mediagraph/internal/config"
	"github.com/mediagraph/mediagraph/internal/driver"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
	"github.com/mediagraph/mediagraph/internal/provider"
	"github.com/mediagraph/mediagraph/internal/server"
	"github.com/mediagraph/mediagraph/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()

	jimeng := provider.NewJimeng(cfg.Jimeng, logg)
	wanxiang := provider.NewWanxiang(cfg.Wanxiang, logg)
	registry := provider.NewRegistry(jimeng)
	registry.RegisterPrefix("jimeng", jimeng)
	registry.RegisterPrefix("wanx", wanxiang)
	registry.Register("wanxiang", wanxiang)

	cache, err := store.NewDigestCache(
		cfg.Server.DownloadDir,
		filepath.Join(cfg.Server.DownloadDir, ".file-cache.json"),
		logg,
	)
	if err != nil {
		logg.Fatal("content store init failed", "error", err)
	}

	var archive *driver.Archive
	if cfg.GraphDB.URI != "" {
		d, err := driver.NewMemgraphDriver(cfg.GraphDB.URI, cfg.GraphDB.User, cfg.GraphDB.Password, logg)
		if err != nil {
			logg.Fatal("graph database connection failed", "uri", cfg.GraphDB.URI, "error", err)
		}
		defer d.Close(context.Background())
		if err := d.BuildIndices(context.Background()); err != nil {
			logg.Warn("index build failed", "error", err)
		}
		archive = driver.NewArchive(d, logg)
	} else {
		logg.Info("workflow archive disabled, no graph database configured")
	}

	srv := server.NewServer(cfg, registry, cache, archive, logg)
	if err := srv.Run(); err != nil {
		logg.Fatal("server stopped", "error", err)
	}
}
