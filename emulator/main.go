package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/barnettlynn/nfctools/mfcrack/internal/config"
	"github.com/barnettlynn/nfctools/mfcrack/internal/reader"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/trace"
)

const configFileName = "config.yaml"

func main() {
	var (
		configPath = flag.String("config", "", "config file with the sim section (default: config.yaml next to the executable)")
		outPath    = flag.String("out", "", "trace file to write, .trc or .pcap (required)")
		sector     = flag.Int("sector", 1, "sector whose key A is replaced by -key")
		keyHex     = flag.String("key", "", "optional 12-hex key for -sector")
		nestedTo   = flag.Int("nested", -1, "also authenticate nested to this sector and read it")
		verbose    = flag.Bool("v", false, "Enable debug logging")
		logFormat  = flag.String("log-format", "text", "Log format: text or json")
	)
	flag.Parse()

	// Setup logging
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

	if *outPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -out is required\n")
		flag.Usage()
		os.Exit(1)
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
	if cfg.Runtime.Device != config.DeviceSim {
		log.Fatalf("emulator needs runtime.device: sim")
	}
	card, err := reader.SimCard(cfg)
	if err != nil {
		log.Fatalf("sim card: %v", err)
	}
	if *sector < 0 || *sector >= card.Sectors() {
		log.Fatalf("-sector must be 0..%d", card.Sectors()-1)
	}
	if *nestedTo >= card.Sectors() {
		log.Fatalf("-nested must be below %d", card.Sectors())
	}

	if *keyHex != "" {
		k, err := mifare.ParseKey(*keyHex)
		if err != nil {
			log.Fatalf("-key: %v", err)
		}
		card.SetKey(*sector, mifare.KeyA, k)
		slog.Debug("Sector key replaced", "sector", *sector, "key", k.String())
	}

	s := card.NewSession()
	s.Select()
	first := mifare.FirstBlock(*sector)
	if err := s.Auth(first, mifare.KeyA); err != nil {
		log.Fatalf("auth: %v", err)
	}
	for b := first; b <= mifare.TrailerBlock(*sector); b++ {
		if err := s.Read(b); err != nil {
			log.Fatalf("read: %v", err)
		}
	}
	if *nestedTo >= 0 {
		nb := mifare.FirstBlock(*nestedTo)
		if err := s.Auth(nb, mifare.KeyA); err != nil {
			log.Fatalf("nested auth: %v", err)
		}
		if err := s.Read(nb); err != nil {
			log.Fatalf("read: %v", err)
		}
	}
	s.Halt()

	if err := trace.SaveFile(*outPath, s.Frames()); err != nil {
		log.Fatalf("write trace: %v", err)
	}
	fmt.Printf("UID:    %08X\n", card.UID)
	fmt.Printf("Frames: %d\n", len(s.Frames()))
	fmt.Printf("Trace:  %s\n", *outPath)
}

