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
	block := flag.Int("block", 0, "target block")
	keyType := flag.String("type", "A", "target key type: A or B")
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

	if *block < 0 || *block >= mifare.Blocks4K {
		log.Fatalf("-block must be 0..%d", mifare.Blocks4K-1)
	}
	kt, err := mifare.ParseKeyType(*keyType)
	if err != nil {
		log.Fatalf("-type: %v", err)
	}

	if *configPath == "" {
		p, err := config.DefaultPath(configFileName)
		if err != nil {
			log.Fatalf("resolve config path failed: %v", err)
		}
		*configPath = p
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	dev, closeDev, err := reader.Open(cfg)
	if err != nil {
		log.Fatalf("open device failed: %v", err)
	}

	ctx, stop := kbd.WithKeypress(context.Background(), os.Stdin)
	fmt.Printf("Running darkside on block %d key %s, press any key to abort\n", *block, kt)

	d := &mifare.Darkside{
		Verifier:  cfg.Verifier(dev),
		Block:     byte(*block),
		KeyType:   kt,
		MaxRounds: cfg.DarksideMaxRounds(),
	}
	key, err := d.Run(ctx)
	stop()
	closeDev()

	outcome := mifare.OutcomeOf(err)
	if err != nil {
		fmt.Printf("Darkside: %s (%v)\n", outcome, err)
		os.Exit(outcome.ExitCode())
	}
	fmt.Printf("Found valid key: %s\n", key)
}
