// Package config resolves the server's runtime configuration from an
// INI-style file and command-line flags, CLI taking precedence over file
// values over built-in defaults.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Defaults and hard caps, matching the protocol's fixed-capacity design.
const (
	DefaultIP         = "0.0.0.0"
	DefaultPort       = 7777
	DefaultMaxClients = 128
	DefaultMaxRooms   = 32

	MaxMaxClients = 128
	MaxMaxRooms   = 64
)

// Config is the fully validated record the rest of the server consumes.
type Config struct {
	IP         string
	Port       int
	MaxClients int
	MaxRooms   int
}

// ErrInvalid wraps any parse or range failure in the config file or flags.
var ErrInvalid = errors.New("invalid config")

// Load builds a Config from the process's command-line arguments, reading
// the config file named by -c/--config if one is given. CLI flags override
// file values, which override the defaults above.
func Load(args []string) (Config, error) {
	cfg := Config{
		IP:         DefaultIP,
		Port:       DefaultPort,
		MaxClients: DefaultMaxClients,
		MaxRooms:   DefaultMaxRooms,
	}

	fs := flag.NewFlagSet("sedmaserver", flag.ContinueOnError)
	var configPath string
	var ip string
	var port, maxClients, maxRooms int
	fs.StringVar(&configPath, "c", "", "path to config file")
	fs.StringVar(&configPath, "config", "", "path to config file")
	fs.StringVar(&ip, "ip", "", "listen address")
	fs.IntVar(&port, "port", 0, "listen port")
	fs.IntVar(&maxClients, "max-clients", 0, "maximum concurrent clients")
	fs.IntVar(&maxRooms, "max-rooms", 0, "maximum concurrent rooms")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return Config{}, flag.ErrHelp
		}
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if configPath != "" {
		if err := applyFile(&cfg, configPath); err != nil {
			return Config{}, err
		}
	}

	if ip != "" {
		cfg.IP = ip
	}
	if port != 0 {
		cfg.Port = port
	}
	if maxClients != 0 {
		cfg.MaxClients = maxClients
	}
	if maxRooms != 0 {
		cfg.MaxRooms = maxRooms
	}

	return cfg, validate(cfg)
}

// applyFile parses path as an INI-like file: one key=value per line, '#'
// and ';' start comments, surrounding whitespace trimmed, unknown keys
// ignored.
func applyFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])

		switch key {
		case "ip":
			cfg.IP = val
		case "port":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%w: port: %v", ErrInvalid, err)
			}
			cfg.Port = n
		case "max_clients":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%w: max_clients: %v", ErrInvalid, err)
			}
			cfg.MaxClients = n
		case "max_rooms":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%w: max_rooms: %v", ErrInvalid, err)
			}
			cfg.MaxRooms = n
		}
	}
	return scanner.Err()
}

func validate(cfg Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port out of range: %d", ErrInvalid, cfg.Port)
	}
	if cfg.MaxClients <= 0 || cfg.MaxClients > MaxMaxClients {
		return fmt.Errorf("%w: max_clients out of range: %d", ErrInvalid, cfg.MaxClients)
	}
	if cfg.MaxRooms <= 0 || cfg.MaxRooms > MaxMaxRooms {
		return fmt.Errorf("%w: max_rooms out of range: %d", ErrInvalid, cfg.MaxRooms)
	}
	return nil
}

// Addr returns the listener address in host:port form.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.IP, c.Port)
}
