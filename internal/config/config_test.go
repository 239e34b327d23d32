package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadSweepConfigAndResolveRelativePaths(t *testing.T) {
	tmp := t.TempDir()
	dictPath := filepath.Join(tmp, "extra.dic")
	if err := os.WriteFile(dictPath, []byte("# extra\n112233445566\nFFFFFFFFFFFF\n"), 0o644); err != nil {
		t.Fatalf("write dictionary: %v", err)
	}

	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
runtime:
  reader_index: 0
  device: pcsc
attack:
  max_keys: 40
  darkside_max_rounds: 50
  timeout_ms: 1500
dictionary:
  files: ["extra.dic"]
  use_backing_store: true
card:
  sectors: 16
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadWithMode(cfgPath, ValidationSweep)
	if err != nil {
		t.Fatalf("LoadWithMode returned error: %v", err)
	}
	if cfg.Dictionary.Files[0] != dictPath {
		t.Fatalf("expected resolved dictionary path %q, got %q", dictPath, cfg.Dictionary.Files[0])
	}
	if !cfg.UseBackingStore() || cfg.DarksideMaxRounds() != 50 {
		t.Fatalf("unexpected attack settings: %+v", cfg.Attack)
	}

	keys, err := cfg.Keys()
	if err != nil {
		t.Fatalf("Keys returned error: %v", err)
	}
	if len(keys) != len(mifare.DefaultKeys)+1 || keys[len(keys)-1] != 0x112233445566 {
		t.Fatalf("expected defaults plus one new key, got %d keys", len(keys))
	}

	v := cfg.Verifier(nil)
	if v.MaxKeys != 40 || v.Timeout != 1500*time.Millisecond {
		t.Fatalf("unexpected verifier %+v", v)
	}
}

func TestLoadSimDevice(t *testing.T) {
	cfgPath := writeConfig(t, `
runtime:
  device: sim
sim:
  uid: "9c599b32"
  key: "FFFFFFFFFFFF"
  prng: weak
  nack: parity
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	uid, err := cfg.SimUID()
	if err != nil || uid != 0x9C599B32 {
		t.Fatalf("SimUID = %08X, %v", uid, err)
	}
}

func TestLoadTraceModeNeedsNoDevice(t *testing.T) {
	cfgPath := writeConfig(t, `
dictionary:
  files: []
`)
	if _, err := LoadWithMode(cfgPath, ValidationTrace); err != nil {
		t.Fatalf("LoadWithMode returned error: %v", err)
	}
	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.runtime.device is required") {
		t.Fatalf("expected missing device error, got %v", err)
	}
}

func TestLoadFailures(t *testing.T) {
	tests := []struct {
		name string
		mode ValidationMode
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "runtime:\n  device: pcsc\n  reader_index: 0\n  speed: 9\n",
			want: "parse config yaml",
		},
		{
			name: "pcsc without reader",
			yaml: "runtime:\n  device: pcsc\n",
			want: "config.runtime.reader_index is required",
		},
		{
			name: "negative reader",
			yaml: "runtime:\n  device: pcsc\n  reader_index: -1\n",
			want: "config.runtime.reader_index must be >= 0",
		},
		{
			name: "unknown device",
			yaml: "runtime:\n  device: usb\n",
			want: "config.runtime.device must be",
		},
		{
			name: "bad sim uid",
			yaml: "runtime:\n  device: sim\nsim:\n  uid: \"12\"\n  key: \"FFFFFFFFFFFF\"\n",
			want: "config.sim.uid must be 8 hex chars",
		},
		{
			name: "bad sim prng",
			yaml: "runtime:\n  device: sim\nsim:\n  uid: \"01020304\"\n  key: \"FFFFFFFFFFFF\"\n  prng: medium\n",
			want: "config.sim.prng must be weak or hard",
		},
		{
			name: "max keys too large",
			yaml: "runtime:\n  device: pcsc\n  reader_index: 0\nattack:\n  max_keys: 1000\n",
			want: "config.attack.max_keys must be",
		},
		{
			name: "missing dictionary",
			yaml: "dictionary:\n  files: [\"nope.dic\"]\n",
			mode: ValidationTrace,
			want: "config.dictionary.files[0]",
		},
		{
			name: "sweep without sectors",
			mode: ValidationSweep,
			yaml: "runtime:\n  device: pcsc\n  reader_index: 0\n",
			want: "config.card.sectors is required",
		},
		{
			name: "sweep with odd sectors",
			mode: ValidationSweep,
			yaml: "runtime:\n  device: pcsc\n  reader_index: 0\ncard:\n  sectors: 17\n",
			want: "config.card.sectors must be",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithMode(writeConfig(t, tt.yaml), tt.mode)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
