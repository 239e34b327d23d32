package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

type ValidationMode int

const (
	// ValidationAttack is for tools that talk to a device.
	ValidationAttack ValidationMode = iota
	// ValidationSweep adds the card size needed by dictionary sweeps.
	ValidationSweep
	// ValidationTrace is for offline trace decoding; no device is needed.
	ValidationTrace
)

const (
	DevicePCSC = "pcsc"
	DeviceSim  = "sim"
)

type Config struct {
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Attack     AttackConfig     `yaml:"attack"`
	Dictionary DictionaryConfig `yaml:"dictionary"`
	Card       CardConfig       `yaml:"card"`
	Sim        SimConfig        `yaml:"sim"`
}

type RuntimeConfig struct {
	ReaderIndex *int   `yaml:"reader_index"`
	Device      string `yaml:"device"`
}

type AttackConfig struct {
	MaxKeys           *int `yaml:"max_keys"`
	DarksideMaxRounds *int `yaml:"darkside_max_rounds"`
	TimeoutMS         *int `yaml:"timeout_ms"`
}

type DictionaryConfig struct {
	Files           []string `yaml:"files"`
	UseBackingStore *bool    `yaml:"use_backing_store"`
}

type CardConfig struct {
	Sectors *int `yaml:"sectors"`
}

type SimConfig struct {
	UID  string `yaml:"uid"`
	Key  string `yaml:"key"`
	PRNG string `yaml:"prng"`
	NACK string `yaml:"nack"`
	Seed *int64 `yaml:"seed"`
}

func Load(path string) (*Config, error) {
	return LoadWithMode(path, ValidationAttack)
}

func LoadWithMode(path string, mode ValidationMode) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.ValidateWithMode(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return c.ValidateWithMode(ValidationAttack)
}

func (c *Config) ValidateWithMode(mode ValidationMode) error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	switch mode {
	case ValidationTrace:
		return nil
	case ValidationAttack:
		return c.validateDevice()
	case ValidationSweep:
		if err := c.validateDevice(); err != nil {
			return err
		}
		return c.validateCard()
	default:
		return fmt.Errorf("unsupported validation mode: %d", mode)
	}
}

func (c *Config) validateCommon() error {
	for i, f := range c.Dictionary.Files {
		if err := validateReadableFile(f, fmt.Sprintf("config.dictionary.files[%d]", i)); err != nil {
			return err
		}
	}
	if c.Attack.MaxKeys != nil && (*c.Attack.MaxKeys < 1 || *c.Attack.MaxKeys > mifare.DefaultMaxKeys) {
		return fmt.Errorf("config.attack.max_keys must be 1..%d", mifare.DefaultMaxKeys)
	}
	if c.Attack.DarksideMaxRounds != nil && *c.Attack.DarksideMaxRounds < 0 {
		return fmt.Errorf("config.attack.darkside_max_rounds must be >= 0")
	}
	if c.Attack.TimeoutMS != nil && *c.Attack.TimeoutMS <= 0 {
		return fmt.Errorf("config.attack.timeout_ms must be > 0")
	}
	return nil
}

func (c *Config) validateDevice() error {
	switch c.Runtime.Device {
	case DevicePCSC:
		if c.Runtime.ReaderIndex == nil {
			return fmt.Errorf("config.runtime.reader_index is required")
		}
		if *c.Runtime.ReaderIndex < 0 {
			return fmt.Errorf("config.runtime.reader_index must be >= 0")
		}
	case DeviceSim:
		if _, err := c.SimUID(); err != nil {
			return err
		}
		if _, err := mifare.ParseKey(c.Sim.Key); err != nil {
			return fmt.Errorf("config.sim.key: %w", err)
		}
		if p := c.Sim.PRNG; p != "" && p != "weak" && p != "hard" {
			return fmt.Errorf("config.sim.prng must be weak or hard")
		}
		switch c.Sim.NACK {
		case "", "parity", "always", "never":
		default:
			return fmt.Errorf("config.sim.nack must be parity, always or never")
		}
	case "":
		return fmt.Errorf("config.runtime.device is required")
	default:
		return fmt.Errorf("config.runtime.device must be %q or %q", DevicePCSC, DeviceSim)
	}
	return nil
}

func (c *Config) validateCard() error {
	if c.Card.Sectors == nil {
		return fmt.Errorf("config.card.sectors is required")
	}
	switch *c.Card.Sectors {
	case mifare.SectorsMini, mifare.Sectors1K, mifare.Sectors2K, mifare.Sectors4K:
		return nil
	}
	return fmt.Errorf("config.card.sectors must be %d, %d, %d or %d",
		mifare.SectorsMini, mifare.Sectors1K, mifare.Sectors2K, mifare.Sectors4K)
}

// SimUID parses config.sim.uid as eight hex characters.
func (c *Config) SimUID() (uint32, error) {
	var uid uint32
	s := strings.TrimSpace(c.Sim.UID)
	if len(s) != 8 {
		return 0, fmt.Errorf("config.sim.uid must be 8 hex chars")
	}
	if _, err := fmt.Sscanf(s, "%08x", &uid); err != nil {
		return 0, fmt.Errorf("config.sim.uid is invalid: %w", err)
	}
	return uid, nil
}

// Keys returns the built-in keys followed by every dictionary file, without
// repeats.
func (c *Config) Keys() ([]mifare.Key, error) {
	lists := [][]mifare.Key{mifare.DefaultKeys}
	for _, f := range c.Dictionary.Files {
		keys, err := mifare.LoadDictionary(f)
		if err != nil {
			return nil, fmt.Errorf("load dictionary %s: %w", f, err)
		}
		lists = append(lists, keys)
	}
	return mifare.MergeKeys(lists...), nil
}

// Verifier builds a key verifier for dev from the attack settings.
func (c *Config) Verifier(dev mifare.Device) *mifare.Verifier {
	v := &mifare.Verifier{Dev: dev}
	if c.Attack.MaxKeys != nil {
		v.MaxKeys = *c.Attack.MaxKeys
	}
	if c.Attack.TimeoutMS != nil {
		v.Timeout = time.Duration(*c.Attack.TimeoutMS) * time.Millisecond
	}
	return v
}

func (c *Config) DarksideMaxRounds() int {
	if c.Attack.DarksideMaxRounds == nil {
		return 0
	}
	return *c.Attack.DarksideMaxRounds
}

func (c *Config) UseBackingStore() bool {
	return c.Dictionary.UseBackingStore != nil && *c.Dictionary.UseBackingStore
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	for i, f := range c.Dictionary.Files {
		c.Dictionary.Files[i] = resolvePath(configDir, f)
	}
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}

// DefaultPath finds name next to the executable, falling back to the
// working directory for `go run`.
func DefaultPath(name string) (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exeConfigPath := filepath.Join(filepath.Dir(exePath), name)
	if fileExists(exeConfigPath) {
		return exeConfigPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return exeConfigPath, nil
	}
	cwdConfigPath := filepath.Join(cwd, name)
	if fileExists(cwdConfigPath) {
		return cwdConfigPath, nil
	}
	return exeConfigPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
