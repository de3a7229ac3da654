package netsync

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Config defines the multicast group and loop cadence.
type Config struct {
	Group                string
	Port                 int
	Interface            string
	TxInterval           time.Duration
	RxTimeout            time.Duration
	RejoinDelay          time.Duration
	ReachabilityInterval time.Duration
	MaxDatagram          int
	EventBuffer          int
}

// DefaultConfig returns the fixed protocol cadence: 250 ms heartbeat, 2 s
// receive timeout, 500 ms rejoin delay.
func DefaultConfig() Config {
	return Config{
		Group:                "239.255.77.77",
		Port:                 28877,
		TxInterval:           250 * time.Millisecond,
		RxTimeout:            2000 * time.Millisecond,
		RejoinDelay:          500 * time.Millisecond,
		ReachabilityInterval: time.Second,
		MaxDatagram:          512,
		EventBuffer:          64,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Group) == "" {
		c.Group = def.Group
	}
	if c.Port <= 0 {
		c.Port = def.Port
	}
	if c.TxInterval <= 0 {
		c.TxInterval = def.TxInterval
	}
	if c.RxTimeout <= 0 {
		c.RxTimeout = def.RxTimeout
	}
	if c.RejoinDelay <= 0 {
		c.RejoinDelay = def.RejoinDelay
	}
	if c.ReachabilityInterval <= 0 {
		c.ReachabilityInterval = def.ReachabilityInterval
	}
	if c.MaxDatagram <= 0 {
		c.MaxDatagram = def.MaxDatagram
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}

// GroupAddr resolves the multicast group address.
func (c Config) GroupAddr() (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(c.Group, fmt.Sprint(c.Port)))
	if err != nil {
		return nil, err
	}
	if !addr.IP.IsMulticast() {
		return nil, fmt.Errorf("%w: %s", ErrNotMulticast, c.Group)
	}
	return addr, nil
}
