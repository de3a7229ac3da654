package serialport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

var (
	ErrNoDevice     = errors.New("serialport: no serial device found")
	ErrNotConnected = errors.New("serialport: not connected")
)

// Port is one open serial connection.
type Port interface {
	io.ReadWriteCloser
}

type Opener interface {
	Open(cfg Config) (Port, error)
}

type OpenerFunc func(cfg Config) (Port, error)

func (f OpenerFunc) Open(cfg Config) (Port, error) { return f(cfg) }

// DeviceOpener opens cfg.Device with go.bug.st/serial at 8N1. An empty or
// "auto" device picks the first port the OS reports.
var DeviceOpener Opener = OpenerFunc(openDevice)

func openDevice(cfg Config) (Port, error) {
	path, err := resolveDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("serialport: set read timeout: %w", err)
	}
	return port, nil
}

// ListPorts returns the serial device paths the OS reports.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func resolveDevice(device string) (string, error) {
	device = strings.TrimSpace(device)
	if device != "" && device != "auto" {
		return device, nil
	}
	ports, err := ListPorts()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if len(ports) == 0 {
		return "", ErrNoDevice
	}
	return ports[0], nil
}

// Config holds device settings and the reconnect cadence.
type Config struct {
	Device         string
	Baud           int
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
	ReadBuffer     int
	EventBuffer    int
}

func DefaultConfig() Config {
	return Config{
		Device:         "auto",
		Baud:           115200,
		ReconnectDelay: 1000 * time.Millisecond,
		ReadTimeout:    200 * time.Millisecond,
		ReadBuffer:     256,
		EventBuffer:    32,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Device) == "" {
		c.Device = def.Device
	}
	if c.Baud <= 0 {
		c.Baud = def.Baud
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.ReadBuffer <= 0 {
		c.ReadBuffer = def.ReadBuffer
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}
