package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/barnettlynn/nfctools/mfcrack/internal/config"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/trace"
)

const configFileName = "config.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "", "config file for extra dictionary keys (optional)")
	tracePath := flag.String("trace", "", "trace file to decode, .trc or .pcap (required)")
	exportPath := flag.String("export", "", "also write the frames to this file, .trc or .pcap")
	dumpPath := flag.String("dump", "", "write the rebuilt 4K card image here")
	quiet := flag.Bool("q", false, "only print recovered keys")
	noNested := flag.Bool("no-nested", false, "only recover keys of first authentications")
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

	if *tracePath == "" {
		log.Fatalf("-trace is required")
	}

	dict := mifare.DefaultKeys
	if *configPath == "" {
		if p, err := config.DefaultPath(configFileName); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				*configPath = p
			}
		}
	}
	if *configPath != "" {
		cfg, err := config.LoadWithMode(*configPath, config.ValidationTrace)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		if dict, err = cfg.Keys(); err != nil {
			log.Fatalf("dictionary load failed: %v", err)
		}
	}

	frames, err := trace.LoadFile(*tracePath)
	if err != nil {
		log.Fatalf("trace load failed: %v", err)
	}
	slog.Debug("Trace loaded", "frames", len(frames), "dictionary", len(dict))

	decOpts := []trace.Option{trace.WithDictionary(dict)}
	if *noNested {
		decOpts = append(decOpts, trace.WithoutNestedRecovery())
	}
	rep := trace.Replay(frames, decOpts...)

	if !*quiet {
		for i, f := range frames {
			printFrame(f, rep.Results[i])
		}
		fmt.Println()
	}

	fmt.Printf("Recovered %d key(s)\n", len(rep.Keys))
	for _, k := range rep.Keys {
		fmt.Printf("  UID %08X sector %02d key %s: %s (%s, %s PRNG)\n",
			k.UID, k.Sector, k.KeyType, k.Key, k.Method, k.PRNG)
	}
	for _, e := range rep.Errors {
		fmt.Printf("  session skipped: %v\n", e)
	}

	if *exportPath != "" {
		if err := trace.SaveFile(*exportPath, frames); err != nil {
			log.Fatalf("export failed: %v", err)
		}
		fmt.Printf("Frames written to %s\n", *exportPath)
	}
	if *dumpPath != "" {
		if err := os.WriteFile(*dumpPath, rep.Image.Bytes(), 0o644); err != nil {
			log.Fatalf("write dump failed: %v", err)
		}
		fmt.Printf("Card image written to %s\n", *dumpPath)
	}
}

func printFrame(f trace.Frame, res trace.Result) {
	src := "Rdr"
	if f.IsResponse {
		src = "Tag"
	}
	data := strings.ToUpper(hex.EncodeToString(f.Data))
	line := fmt.Sprintf("%10d | %s | %-36s", f.Timestamp, src, data)
	if res.Plain != nil {
		line += " | " + strings.ToUpper(hex.EncodeToString(res.Plain))
	}
	if res.Note != "" {
		line += " | " + res.Note
	}
	if res.Key != nil {
		line += fmt.Sprintf(" | key %s", res.Key.Key)
	}
	fmt.Println(line)
}

