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
	block := flag.Int("block", 0, "block the known key opens")
	keyType := flag.String("type", "A", "known key type: A or B")
	keyHex := flag.String("key", "", "known key, 12 hex chars (required)")
	targetBlock := flag.Int("target-block", 4, "block of the key to recover")
	targetType := flag.String("target-type", "A", "key type to recover: A or B")
	all := flag.Bool("all", false, "recover every sector key the dictionary does not open")
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

	if *keyHex == "" {
		log.Fatalf("-key is required")
	}
	key, err := mifare.ParseKey(*keyHex)
	if err != nil {
		log.Fatalf("-key: %v", err)
	}
	kt, err := mifare.ParseKeyType(*keyType)
	if err != nil {
		log.Fatalf("-type: %v", err)
	}
	tkt, err := mifare.ParseKeyType(*targetType)
	if err != nil {
		log.Fatalf("-target-type: %v", err)
	}

	if *configPath == "" {
		p, err := config.DefaultPath(configFileName)
		if err != nil {
			log.Fatalf("resolve config path failed: %v", err)
		}
		*configPath = p
	}
	mode := config.ValidationAttack
	if *all {
		mode = config.ValidationSweep
	}
	cfg, err := config.LoadWithMode(*configPath, mode)
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

	n := &mifare.Nested{Verifier: cfg.Verifier(dev)}
	known := mifare.NestedTarget{Block: byte(*block), KeyType: kt, Key: key}

	if !*all {
		t := known
		t.TargetBlock, t.TargetKeyType = byte(*targetBlock), tkt
		found, err := n.Run(ctx, t)
		if err != nil {
			stop()
			closeDev()
			outcome := mifare.OutcomeOf(err)
			fmt.Printf("Nested: %s (%v)\n", outcome, err)
			os.Exit(outcome.ExitCode())
		}
		fmt.Printf("Found valid key: %s\n", found)
		return
	}

	table, err := recoverAll(ctx, cfg, n, known)
	mifare.PrintSectorKeys(table)
	if err != nil {
		stop()
		closeDev()
		outcome := mifare.OutcomeOf(err)
		fmt.Printf("Stopped with %d/%d keys: %s (%v)\n", table.FoundCount(), 2*len(table), outcome, err)
		os.Exit(outcome.ExitCode())
	}
}

// recoverAll sweeps the dictionary, then runs nested against every slot it
// left open. A slot nested cannot crack is reported and skipped.
func recoverAll(ctx context.Context, cfg *config.Config, n *mifare.Nested, known mifare.NestedTarget) (mifare.SectorKeys, error) {
	sectors := *cfg.Card.Sectors
	table := mifare.NewSectorKeys(sectors)
	table.Set(mifare.SectorOf(int(known.Block)), known.KeyType, known.Key)

	dict, err := cfg.Keys()
	if err != nil {
		return table, err
	}
	if err := n.Verifier.SweepDictionary(ctx, sectors, dict, table, cfg.UseBackingStore()); err != nil {
		return table, err
	}

	for s := 0; s < sectors; s++ {
		for _, kt := range []mifare.KeyType{mifare.KeyA, mifare.KeyB} {
			if _, ok := table.Lookup(s, kt); ok {
				continue
			}
			t := known
			t.TargetBlock, t.TargetKeyType = byte(mifare.FirstBlock(s)), kt
			key, err := n.Run(ctx, t)
			switch {
			case err == nil:
				table.Set(s, kt, key)
				fmt.Printf("Sector %02d key %s: %s\n", s, kt, key)
			case mifare.IsCancelled(err), mifare.OutcomeOf(err) == mifare.OutcomeCardAbsent:
				return table, err
			default:
				slog.Warn("Nested failed", "sector", s, "type", kt.String(), "error", err)
			}
		}
	}
	return table, nil
}
