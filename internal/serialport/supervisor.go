package serialport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/danmuck/pistelink/internal/observability"
	"github.com/danmuck/pistelink/internal/retry"
	"github.com/rs/zerolog/log"
)

type EventKind int

const (
	KindConnected EventKind = iota + 1
	KindDisconnected
	KindData
)

func (k EventKind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

type Option func(*Supervisor)

func WithOpener(o Opener) Option {
	return func(s *Supervisor) { s.opener = o }
}

// Supervisor keeps one serial connection open, retrying at a fixed delay,
// and reports connection changes and data chunks in arrival order.
type Supervisor struct {
	cfg    Config
	opener Opener
	events chan Event

	mu        sync.Mutex
	port      Port
	connected atomic.Bool
}

func New(cfg Config, opts ...Option) *Supervisor {
	cfg = cfg.WithDefaults()
	s := &Supervisor{
		cfg:    cfg,
		opener: DeviceOpener,
		events: make(chan Event, cfg.EventBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Events() <-chan Event {
	return s.events
}

func (s *Supervisor) Connected() bool {
	return s.connected.Load()
}

// Write sends p to the box. Failures are logged and returned; the caller
// does not retry, the next poll re-attempts naturally.
func (s *Supervisor) Write(p []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}
	if _, err := port.Write(p); err != nil {
		log.Warn().Err(err).Str("reply", string(p)).Msg("serialport.Supervisor write failed")
		return err
	}
	return nil
}

// Run supervises the connection until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.clearPort(nil) })
	defer stop()

	backoff := retry.Fixed(s.cfg.ReconnectDelay)
	attempt := 0
	for ctx.Err() == nil {
		port, err := s.opener.Open(s.cfg)
		if err != nil {
			attempt++
			if attempt == 1 || attempt%30 == 0 {
				log.Warn().Err(err).Int("attempt", attempt).Str("device", s.cfg.Device).Msg("serialport.Supervisor open failed")
			}
			if retry.Wait(ctx, retry.NextDelay(backoff, attempt)) != nil {
				break
			}
			continue
		}
		attempt = 0
		s.setPort(port)
		log.Info().Str("device", s.cfg.Device).Int("baud", s.cfg.Baud).Msg("serialport.Supervisor connected")
		if !s.emit(ctx, Event{Kind: KindConnected}) {
			break
		}

		err = s.readLoop(ctx, port)
		s.clearPort(port)
		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Msg("serialport.Supervisor connection lost")
		if !s.emit(ctx, Event{Kind: KindDisconnected, Err: err}) {
			break
		}
		if retry.Wait(ctx, s.cfg.ReconnectDelay) != nil {
			break
		}
	}
	s.clearPort(nil)
	log.Info().Msg("serialport.Supervisor.Run shutdown")
	return nil
}

// readLoop forwards chunks until the port fails. A zero-byte read with no
// error is a read timeout and is ignored.
func (s *Supervisor) readLoop(ctx context.Context, port Port) error {
	buf := make([]byte, s.cfg.ReadBuffer)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if !s.emit(ctx, Event{Kind: KindData, Data: chunk}) {
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Supervisor) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) setPort(p Port) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port = p
	s.connected.Store(true)
	observability.SetSerialConnected(true)
}

// clearPort closes the active port. A non-nil target only clears it if it is
// still the active one.
func (s *Supervisor) clearPort(target Port) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil || (target != nil && s.port != target) {
		return
	}
	_ = s.port.Close()
	s.port = nil
	s.connected.Store(false)
	observability.SetSerialConnected(false)
}
