package netsync

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var (
	ErrNotMulticast = errors.New("netsync: group is not a multicast address")
	ErrNoInterface  = errors.New("netsync: multicast interface not found")
)

// Link is one joined multicast socket pair: a group listener for receive and
// a connected socket for send.
type Link interface {
	Send(msg []byte) error
	// Receive blocks until a datagram arrives or deadline passes.
	Receive(buf []byte, deadline time.Time) (int, error)
	Close() error
}

// Opener joins the group and returns a fresh Link.
type Opener interface {
	Open(cfg Config) (Link, error)
}

type OpenerFunc func(cfg Config) (Link, error)

func (f OpenerFunc) Open(cfg Config) (Link, error) { return f(cfg) }

// UDPOpener joins the group with the standard library multicast sockets.
var UDPOpener Opener = OpenerFunc(openUDP)

type udpLink struct {
	recv *net.UDPConn
	send *net.UDPConn
}

func openUDP(cfg Config) (Link, error) {
	addr, err := cfg.GroupAddr()
	if err != nil {
		return nil, err
	}
	var ifi *net.Interface
	if name := strings.TrimSpace(cfg.Interface); name != "" {
		ifi, err = net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNoInterface, name, err)
		}
	}
	recv, err := net.ListenMulticastUDP("udp4", ifi, addr)
	if err != nil {
		return nil, err
	}
	_ = recv.SetReadBuffer(cfg.MaxDatagram * 64)
	send, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		_ = recv.Close()
		return nil, err
	}
	return &udpLink{recv: recv, send: send}, nil
}

func (l *udpLink) Send(msg []byte) error {
	_, err := l.send.Write(msg)
	return err
}

func (l *udpLink) Receive(buf []byte, deadline time.Time) (int, error) {
	if err := l.recv.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, _, err := l.recv.ReadFromUDP(buf)
	return n, err
}

func (l *udpLink) Close() error {
	return errors.Join(l.recv.Close(), l.send.Close())
}

// Reachability reports whether a network able to carry multicast is present.
type Reachability func() bool

// InterfaceReachability reports true when any non-loopback interface is up,
// multicast capable and has an address.
func InterfaceReachability() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
