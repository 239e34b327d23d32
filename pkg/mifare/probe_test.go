package mifare_test

import (
	"context"
	"errors"
	"testing"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/simcard"
)

func TestClassifyPRNG(t *testing.T) {
	tests := []struct {
		name string
		cfg  simcard.Config
		want mifare.PRNGClass
	}{
		{name: "weak", cfg: simcard.Config{Seed: 1}, want: mifare.PRNGWeak},
		{name: "hard", cfg: simcard.Config{Seed: 1, PRNG: simcard.HardPRNG}, want: mifare.PRNGHard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newDevice(tt.cfg)
			got, err := mifare.ClassifyPRNG(context.Background(), dev)
			if err != nil {
				t.Fatalf("ClassifyPRNG returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if dev.Sent[mifare.OpFieldOff] != 1 {
				t.Fatal("field not switched off after probe")
			}
		})
	}
}

func TestClassifyPRNGNoCard(t *testing.T) {
	dev := newDevice(simcard.Config{})
	dev.Absent = true
	got, err := mifare.ClassifyPRNG(context.Background(), dev)
	if got != mifare.PRNGError {
		t.Fatalf("expected error class, got %v", got)
	}
	if !errors.Is(err, mifare.ErrNoCard) {
		t.Fatalf("expected ErrNoCard, got %v", err)
	}
	if mifare.OutcomeOf(err) != mifare.OutcomeCardAbsent {
		t.Fatalf("unexpected outcome %v", mifare.OutcomeOf(err))
	}
}

func TestClassifyNACK(t *testing.T) {
	tests := []struct {
		name    string
		cfg     simcard.Config
		want    mifare.NACKClass
		wantErr error
	}{
		{name: "parity leak", cfg: simcard.Config{NACK: simcard.NACKOnParity}, want: mifare.NACKHasBug},
		{name: "always", cfg: simcard.Config{NACK: simcard.NACKAlways}, want: mifare.NACKLeaksAlways},
		{name: "never", cfg: simcard.Config{NACK: simcard.NACKNever}, want: mifare.NACKNoBug},
		{name: "hard prng", cfg: simcard.Config{PRNG: simcard.HardPRNG}, want: mifare.NACKError, wantErr: mifare.ErrNotVulnerable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mifare.ClassifyNACK(context.Background(), newDevice(tt.cfg), true)
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClassifyNACKCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev := newDevice(simcard.Config{})
	dev.Drop[mifare.OpNACKDetect] = 1

	got, err := mifare.ClassifyNACK(ctx, dev, false)
	if got != mifare.NACKAborted || !mifare.IsCancelled(err) {
		t.Fatalf("expected aborted, got %v %v", got, err)
	}
}

func TestClassifyBackdoor(t *testing.T) {
	dev := newDevice(simcard.Config{Magic: mifare.BackdoorGen1a})
	got, err := mifare.ClassifyBackdoor(context.Background(), dev)
	if err != nil || got != mifare.BackdoorGen1a {
		t.Fatalf("expected gen 1a, got %v %v", got, err)
	}

	plain := newDevice(simcard.Config{})
	if got, _ := mifare.ClassifyBackdoor(context.Background(), plain); got != mifare.BackdoorNone {
		t.Fatalf("expected no backdoor, got %v", got)
	}

	silent := newDevice(simcard.Config{Magic: mifare.BackdoorGen2})
	silent.Drop[mifare.OpCIdent] = 1
	got, err = mifare.ClassifyBackdoor(context.Background(), silent)
	if err != nil || got != mifare.BackdoorNone {
		t.Fatalf("expected timeout to mean no backdoor, got %v %v", got, err)
	}
}
