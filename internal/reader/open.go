// Package reader opens the device a tool is configured for.
package reader

import (
	"fmt"

	"github.com/barnettlynn/nfctools/mfcrack/internal/config"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/simcard"
)

// Open connects to the PC/SC reader or builds the simulated card named in
// cfg. The returned close function is never nil.
func Open(cfg *config.Config) (mifare.Device, func(), error) {
	switch cfg.Runtime.Device {
	case config.DevicePCSC:
		r, err := mifare.ConnectPCSC(*cfg.Runtime.ReaderIndex)
		if err != nil {
			return nil, func() {}, err
		}
		fmt.Printf("Using reader [%d]: %s\n", r.ReaderIdx, r.Reader)
		return r, r.Close, nil
	case config.DeviceSim:
		card, err := SimCard(cfg)
		if err != nil {
			return nil, func() {}, err
		}
		fmt.Printf("Using simulated card %08X\n", card.UID)
		return simcard.NewDevice(card), func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown device %q", cfg.Runtime.Device)
	}
}

// SimCard builds the simulated card described by cfg.sim.
func SimCard(cfg *config.Config) (*simcard.Card, error) {
	uid, err := cfg.SimUID()
	if err != nil {
		return nil, err
	}
	key, err := mifare.ParseKey(cfg.Sim.Key)
	if err != nil {
		return nil, fmt.Errorf("config.sim.key: %w", err)
	}
	sc := simcard.Config{UID: uid, Key: key}
	if cfg.Card.Sectors != nil {
		sc.Sectors = *cfg.Card.Sectors
	}
	if cfg.Sim.Seed != nil {
		sc.Seed = *cfg.Sim.Seed
	}
	if cfg.Sim.PRNG == "hard" {
		sc.PRNG = simcard.HardPRNG
	}
	switch cfg.Sim.NACK {
	case "always":
		sc.NACK = simcard.NACKAlways
	case "never":
		sc.NACK = simcard.NACKNever
	}
	return simcard.New(sc), nil
}
