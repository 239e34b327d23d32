package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/barnettlynn/nfctools/mfcrack/internal/config"
	"github.com/barnettlynn/nfctools/mfcrack/internal/kbd"
	"github.com/barnettlynn/nfctools/mfcrack/internal/reader"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

const configFileName = "config.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "", "config file (default: config.yaml next to the executable)")
	skipNACK := flag.Bool("skip-nack", false, "skip the NACK oracle test")
	flag.Parse()

	// Configure slog
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	if *configPath == "" {
		p, err := config.DefaultPath(configFileName)
		if err != nil {
			log.Fatalf("resolve config path failed: %v", err)
		}
		*configPath = p
	}
	fmt.Printf("Using config: %s\n", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	dev, closeDev, err := reader.Open(cfg)
	if err != nil {
		log.Fatalf("open device failed: %v", err)
	}
	defer closeDev()

	ctx, stop := kbd.WithKeypress(context.Background(), os.Stdin)
	defer stop()

	fmt.Println()
	prng, err := mifare.ClassifyPRNG(ctx, dev)
	fmt.Printf("PRNG:       %s\n", prng)
	if err != nil {
		slog.Warn("PRNG probe failed", "error", err, "outcome", mifare.OutcomeOf(err).String())
	}

	if !*skipNACK && prng == mifare.PRNGWeak {
		nack, err := mifare.ClassifyNACK(ctx, dev, *verbose)
		fmt.Printf("NACK bug:   %s\n", nack)
		if err != nil {
			slog.Warn("NACK probe failed", "error", err)
		}
	}

	backdoor, err := mifare.ClassifyBackdoor(ctx, dev)
	fmt.Printf("Magic:      %s\n", backdoor)
	if err != nil {
		slog.Warn("Backdoor probe failed", "error", err)
	}

	switch prng {
	case mifare.PRNGWeak:
		fmt.Println("Hint:       try darkside, or nested with one known key")
	case mifare.PRNGHard:
		fmt.Println("Hint:       hardened card, only dictionary attacks apply")
	}
}
