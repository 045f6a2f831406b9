// Concatenates two or more video files into one H.264 output, stretch-scaling
// every source onto a shared canvas.
//
//	compose -o out.mp4 clip1.mp4 clip2.mp4 [clip3.mp4 ...]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mediagraph/mediagraph/internal/config"
	"github.com/mediagraph/mediagraph/internal/media"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
)

func main() {
	out := flag.String("o", "composed.mp4", "output file path")
	cfgPath := flag.String("config", "config/config.toml", "config file path")
	flag.Parse()

	sources := flag.Args()
	if len(sources) < 2 {
		fmt.Fprintln(os.Stderr, "usage: compose -o out.mp4 <clip1> <clip2> [clip...]")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logg, err := logger.New(cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ff := media.NewFFmpeg(cfg.Media, logg)
	composer := media.NewComposer(ff, cfg.Media, logg)
	composer.OnProgress(func(p media.Progress) {
		if p.IsComposing {
			fmt.Printf("\rcomposing %d/%d", p.Current, p.Total)
		}
	})

	path, err := composer.Compose(ctx, sources, ff.NewEncoder(*out, cfg.Media.ComposeBitrate))
	fmt.Println()
	if err != nil {
		logg.Fatal("composition failed", "error", err)
	}
	logg.Info("composition finished", "output", path, "sources", len(sources))
}
