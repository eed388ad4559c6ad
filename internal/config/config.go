// Package config loads the agent configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"hackohio/miniui/internal/dispatch"
	"hackohio/miniui/internal/logging"
	"hackohio/miniui/internal/validate"
)

// DefaultPath is read when no --config flag is given; its absence is not
// an error.
const DefaultPath = "/etc/miniui/miniui.toml"

type Config struct {
	Socket       string   `toml:"socket" yaml:"socket"`
	SocketMode   string   `toml:"socket_mode" yaml:"socket_mode"`
	ScratchDir   string   `toml:"scratch_dir" yaml:"scratch_dir"`
	Intermediary string   `toml:"intermediary" yaml:"intermediary"`
	Programs     Programs `toml:"programs" yaml:"programs"`
	Log          Log      `toml:"log" yaml:"log"`
	Metrics      Metrics  `toml:"metrics" yaml:"metrics"`
}

type Programs struct {
	ApplyLAN   string `toml:"apply_lan" yaml:"apply_lan"`
	Network    string `toml:"network" yaml:"network"`
	Sysupgrade string `toml:"sysupgrade" yaml:"sysupgrade"`
}

type Log struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

type Metrics struct {
	// Addr of the HTTP metrics/health endpoint; empty disables it.
	Addr string `toml:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := dispatch.DefaultPrograms()
	return Config{
		Socket:     "/var/run/miniui/miniui.sock",
		SocketMode: "0660",
		ScratchDir: validate.DefaultScratchDir,
		Programs: Programs{
			ApplyLAN:   p.ApplyLAN,
			Network:    p.Network,
			Sysupgrade: p.Sysupgrade,
		},
		Log: Log{Level: "info", Format: logging.FormatConsole},
	}
}

// Load reads path over the defaults. Files ending in .yaml or .yml are
// YAML; anything else is TOML. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	default:
		if err := loadTOML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads DefaultPath if it exists and returns Default otherwise.
func LoadDefault() (Config, error) {
	if _, err := os.Stat(DefaultPath); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(DefaultPath)
}

func loadTOML(path string, out *Config) error {
	meta, err := toml.DecodeFile(path, out)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func loadYAML(path string, out *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Validate checks the configuration for values the agent cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Socket) == "" {
		return errors.New("socket is required")
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if !filepath.IsAbs(c.ScratchDir) {
		return fmt.Errorf("scratch_dir %q must be an absolute path", c.ScratchDir)
	}
	if c.Intermediary != "" && !filepath.IsAbs(c.Intermediary) {
		return fmt.Errorf("intermediary %q must be an absolute path", c.Intermediary)
	}
	for name, p := range map[string]string{
		"programs.apply_lan":  c.Programs.ApplyLAN,
		"programs.network":    c.Programs.Network,
		"programs.sysupgrade": c.Programs.Sysupgrade,
	} {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%s %q must be an absolute path", name, p)
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return err
	}
	return nil
}

// Mode parses SocketMode as an octal permission set.
func (c Config) Mode() (os.FileMode, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(c.SocketMode), 8, 32)
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("socket_mode %q is not an octal permission", c.SocketMode)
	}
	return os.FileMode(v), nil
}

// DispatchPrograms converts Programs for the dispatcher.
func (c Config) DispatchPrograms() dispatch.Programs {
	return dispatch.Programs{
		ApplyLAN:   c.Programs.ApplyLAN,
		Network:    c.Programs.Network,
		Sysupgrade: c.Programs.Sysupgrade,
	}
}
