package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/pistelink/internal/repeater"
	"github.com/joho/godotenv"
)

var (
	ErrInvalidPiste    = errors.New("config: piste out of range")
	ErrInvalidDuration = errors.New("config: duration must be positive")
	ErrMissingGroup    = errors.New("config: network group required")
	ErrInvalidValue    = errors.New("config: invalid value")
)

// Environment overrides applied after the file.
const (
	EnvPiste            = "PISTELINK_PISTE"
	EnvSerialDevice     = "PISTELINK_SERIAL_DEVICE"
	EnvHTTPAddr         = "PISTELINK_HTTP_ADDR"
	EnvNetworkInterface = "PISTELINK_NETWORK_INTERFACE"
)

// Config is the resolved repeaterctl configuration.
type Config struct {
	Service repeater.ServiceConfig
	Console bool
	Color   bool
}

func Default() Config {
	return Config{
		Service: repeater.DefaultServiceConfig(),
		Console: true,
		Color:   true,
	}
}

type fileConfig struct {
	Piste       int      `toml:"piste"`
	MaxPiste    int      `toml:"max_piste"`
	HTTPAddr    string   `toml:"http_addr"`
	CORSOrigins []string `toml:"cors_origins"`
	Console     bool     `toml:"console"`
	Color       bool     `toml:"color"`
	Heartbeat   string   `toml:"heartbeat"`
	Demo        string   `toml:"demo_interval"`

	Serial struct {
		Device         string `toml:"device"`
		Baud           int    `toml:"baud"`
		ReconnectDelay string `toml:"reconnect_delay"`
		ReadTimeout    string `toml:"read_timeout"`
	} `toml:"serial"`

	Network struct {
		Group                string `toml:"group"`
		Port                 int    `toml:"port"`
		Interface            string `toml:"interface"`
		TxInterval           string `toml:"tx_interval"`
		RxTimeout            string `toml:"rx_timeout"`
		RejoinDelay          string `toml:"rejoin_delay"`
		ReachabilityInterval string `toml:"reachability_interval"`
	} `toml:"network"`

	Passivity struct {
		MaxTime int `toml:"max_time"`
	} `toml:"passivity"`

	Keys struct {
		QueueSize int `toml:"queue_size"`
	} `toml:"keys"`
}

// LoadEnv reads .env style files into the process environment. Missing files
// are skipped; variables already set win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := applyFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %s", ErrInvalidValue, undecoded[0])
	}

	svc := &cfg.Service
	if meta.IsDefined("piste") {
		svc.Piste = raw.Piste
	}
	if meta.IsDefined("max_piste") {
		svc.MaxPiste = raw.MaxPiste
	}
	if meta.IsDefined("http_addr") {
		svc.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("cors_origins") {
		svc.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("console") {
		cfg.Console = raw.Console
	}
	if meta.IsDefined("color") {
		cfg.Color = raw.Color
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"heartbeat"}, raw.Heartbeat, &svc.HeartbeatInterval},
		{[]string{"demo_interval"}, raw.Demo, &svc.DemoInterval},
		{[]string{"serial", "reconnect_delay"}, raw.Serial.ReconnectDelay, &svc.Serial.ReconnectDelay},
		{[]string{"serial", "read_timeout"}, raw.Serial.ReadTimeout, &svc.Serial.ReadTimeout},
		{[]string{"network", "tx_interval"}, raw.Network.TxInterval, &svc.Network.TxInterval},
		{[]string{"network", "rx_timeout"}, raw.Network.RxTimeout, &svc.Network.RxTimeout},
		{[]string{"network", "rejoin_delay"}, raw.Network.RejoinDelay, &svc.Network.RejoinDelay},
		{[]string{"network", "reachability_interval"}, raw.Network.ReachabilityInterval, &svc.Network.ReachabilityInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("serial", "device") {
		svc.Serial.Device = strings.TrimSpace(raw.Serial.Device)
	}
	if meta.IsDefined("serial", "baud") {
		svc.Serial.Baud = raw.Serial.Baud
	}
	if meta.IsDefined("network", "group") {
		svc.Network.Group = strings.TrimSpace(raw.Network.Group)
	}
	if meta.IsDefined("network", "port") {
		svc.Network.Port = raw.Network.Port
	}
	if meta.IsDefined("network", "interface") {
		svc.Network.Interface = strings.TrimSpace(raw.Network.Interface)
	}
	if meta.IsDefined("passivity", "max_time") {
		svc.PassivityMax = raw.Passivity.MaxTime
	}
	if meta.IsDefined("keys", "queue_size") {
		svc.KeyQueueSize = raw.Keys.QueueSize
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvPiste)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidValue, EnvPiste, v)
		}
		cfg.Service.Piste = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvSerialDevice)); v != "" {
		cfg.Service.Serial.Device = v
	}
	if v, ok := os.LookupEnv(EnvHTTPAddr); ok {
		cfg.Service.HTTPAddr = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvNetworkInterface)); v != "" {
		cfg.Service.Network.Interface = v
	}
	return nil
}

// Validate checks the values the runtime cannot default.
func Validate(cfg Config) error {
	svc := cfg.Service
	if svc.MaxPiste < 1 {
		return fmt.Errorf("%w: max_piste %d", ErrInvalidValue, svc.MaxPiste)
	}
	if svc.Piste < 1 || svc.Piste > svc.MaxPiste {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidPiste, svc.Piste, svc.MaxPiste)
	}
	if strings.TrimSpace(svc.Network.Group) == "" {
		return ErrMissingGroup
	}
	if svc.Network.Port <= 0 || svc.Network.Port > 65535 {
		return fmt.Errorf("%w: network.port %d", ErrInvalidValue, svc.Network.Port)
	}
	if svc.Serial.Baud <= 0 {
		return fmt.Errorf("%w: serial.baud %d", ErrInvalidValue, svc.Serial.Baud)
	}
	if svc.PassivityMax <= 0 {
		return fmt.Errorf("%w: passivity.max_time %d", ErrInvalidValue, svc.PassivityMax)
	}
	if svc.KeyQueueSize <= 0 {
		return fmt.Errorf("%w: keys.queue_size %d", ErrInvalidValue, svc.KeyQueueSize)
	}
	named := []struct {
		name string
		d    time.Duration
	}{
		{"heartbeat", svc.HeartbeatInterval},
		{"demo_interval", svc.DemoInterval},
		{"serial.reconnect_delay", svc.Serial.ReconnectDelay},
		{"serial.read_timeout", svc.Serial.ReadTimeout},
		{"network.tx_interval", svc.Network.TxInterval},
		{"network.rx_timeout", svc.Network.RxTimeout},
		{"network.rejoin_delay", svc.Network.RejoinDelay},
		{"network.reachability_interval", svc.Network.ReachabilityInterval},
	}
	for _, n := range named {
		if n.d <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidDuration, n.name)
		}
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
