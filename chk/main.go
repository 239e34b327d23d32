package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/cheggaaa/pb/v3"

	"github.com/barnettlynn/nfctools/mfcrack/internal/config"
	"github.com/barnettlynn/nfctools/mfcrack/internal/kbd"
	"github.com/barnettlynn/nfctools/mfcrack/internal/reader"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

const configFileName = "config.yaml"

const barTemplate = `{{string . "what" | blue}} {{bar . "[" "=" ">" "." "]"}} {{counters .}} {{percent .}} {{etime .}}`

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "", "config file (default: config.yaml next to the executable)")
	block := flag.Int("block", -1, "check a single block instead of sweeping every sector")
	keyType := flag.String("type", "A", "key type for -block: A or B")
	tailHex := flag.String("brute-tail", "", "brute-force the first two key bytes in front of these 8 hex chars (needs -block)")
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

	kt, err := mifare.ParseKeyType(*keyType)
	if err != nil {
		log.Fatalf("-type: %v", err)
	}
	if *tailHex != "" && *block < 0 {
		log.Fatalf("-brute-tail needs -block")
	}

	if *configPath == "" {
		p, err := config.DefaultPath(configFileName)
		if err != nil {
			log.Fatalf("resolve config path failed: %v", err)
		}
		*configPath = p
	}
	mode := config.ValidationSweep
	if *block >= 0 {
		mode = config.ValidationAttack
	}
	cfg, err := config.LoadWithMode(*configPath, mode)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	dict, err := cfg.Keys()
	if err != nil {
		log.Fatalf("dictionary load failed: %v", err)
	}

	dev, closeDev, err := reader.Open(cfg)
	if err != nil {
		log.Fatalf("open device failed: %v", err)
	}
	ctx, stop := kbd.WithKeypress(context.Background(), os.Stdin)

	v := cfg.Verifier(dev)
	bar := pb.New(0)
	bar.SetTemplateString(barTemplate)
	v.Progress = func(done, total int) {
		if !bar.IsStarted() {
			bar.SetTotal(int64(total))
			bar.Start()
		}
		bar.SetCurrent(int64(done))
	}

	switch {
	case *tailHex != "":
		err = runBrute(ctx, v, bar, byte(*block), kt, *tailHex)
	case *block >= 0:
		err = runSingle(ctx, v, bar, byte(*block), kt, dict)
	default:
		err = runSweep(ctx, cfg, v, bar, dict)
	}
	if bar.IsStarted() {
		bar.Finish()
	}
	stop()
	closeDev()

	if err != nil {
		outcome := mifare.OutcomeOf(err)
		fmt.Printf("Check: %s (%v)\n", outcome, err)
		os.Exit(outcome.ExitCode())
	}
}

func runSweep(ctx context.Context, cfg *config.Config, v *mifare.Verifier, bar *pb.ProgressBar, dict []mifare.Key) error {
	sectors := *cfg.Card.Sectors
	bar.Set("what", fmt.Sprintf("%d keys x %d sectors", len(dict), sectors))
	table := mifare.NewSectorKeys(sectors)
	err := v.SweepDictionary(ctx, sectors, dict, table, cfg.UseBackingStore())
	bar.Finish()
	mifare.PrintSectorKeys(table)
	if err != nil {
		return fmt.Errorf("partial result: %w", err)
	}
	fmt.Printf("Found %d/%d keys\n", table.FoundCount(), 2*sectors)
	return nil
}

func runSingle(ctx context.Context, v *mifare.Verifier, bar *pb.ProgressBar, block byte, kt mifare.KeyType, dict []mifare.Key) error {
	bar.Set("what", fmt.Sprintf("block %d key %s", block, kt))
	key, ok, err := v.CheckKeys(ctx, block, kt, dict)
	if err != nil {
		return err
	}
	bar.Finish()
	if !ok {
		fmt.Printf("No key in %d candidates opens block %d\n", len(dict), block)
		return nil
	}
	fmt.Printf("Found valid key: %s\n", key)
	return nil
}

func runBrute(ctx context.Context, v *mifare.Verifier, bar *pb.ProgressBar, block byte, kt mifare.KeyType, tailHex string) error {
	b, err := hex.DecodeString(tailHex)
	if err != nil || len(b) != 4 {
		return fmt.Errorf("-brute-tail must be 8 hex chars")
	}
	var tail [4]byte
	copy(tail[:], b)
	bar.Set("what", fmt.Sprintf("????%X", tail))

	key, ok, err := v.BruteForceRange(ctx, block, kt, tail)
	if err != nil {
		return err
	}
	bar.Finish()
	if !ok {
		fmt.Printf("No key ending in %X opens block %d\n", tail, block)
		return nil
	}
	fmt.Printf("Found valid key: %s\n", key)
	return nil
}
