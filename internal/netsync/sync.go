package netsync

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/pistelink/internal/box"
	"github.com/danmuck/pistelink/internal/observability"
	"github.com/danmuck/pistelink/internal/protocol"
	"github.com/danmuck/pistelink/internal/retry"
	"github.com/rs/zerolog/log"
)

// Source supplies the local state for each heartbeat. ok is false while no
// scoring box is attached, in which case nothing is sent.
type Source interface {
	Broadcast() (state box.State, ok bool)
}

type SourceFunc func() (box.State, bool)

func (f SourceFunc) Broadcast() (box.State, bool) { return f() }

type EventKind int

const (
	// KindState carries a decoded remote state.
	KindState EventKind = iota + 1
	// KindOffline reports a receive timeout or link failure.
	KindOffline
	// KindConnState reports a ConnState transition.
	KindConnState
)

type Event struct {
	Kind  EventKind
	State box.State
	Conn  ConnState
	Err   error
}

// Status is a point-in-time view for status endpoints and heartbeat logs.
type Status struct {
	State     ConnState `json:"state"`
	Reachable bool      `json:"reachable"`
	TxSeq     int       `json:"tx_seq"`
	LastRx    time.Time `json:"last_rx"`
	Dropped   uint64    `json:"dropped"`
}

type Option func(*Sync)

func WithOpener(o Opener) Option {
	return func(s *Sync) { s.opener = o }
}

func WithReachability(r Reachability) Option {
	return func(s *Sync) { s.reachable = r }
}

// Sync owns the multicast socket pair. It runs a heartbeat transmit loop and
// a receive loop, and rejoins the group whenever reception stops.
type Sync struct {
	cfg        Config
	localPiste int
	src        Source
	opener     Opener
	reachable  Reachability
	events     chan Event

	mu   sync.Mutex
	link Link

	state       atomic.Int32
	isReachable atomic.Bool
	lastRx      atomic.Int64
	dropped     atomic.Uint64
	seq         protocol.Sequence
}

func New(cfg Config, localPiste int, src Source, opts ...Option) *Sync {
	cfg = cfg.WithDefaults()
	s := &Sync{
		cfg:        cfg,
		localPiste: localPiste,
		src:        src,
		opener:     UDPOpener,
		reachable:  InterfaceReachability,
		events:     make(chan Event, cfg.EventBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events delivers decoded states and connectivity changes. When the consumer
// lags, new events are dropped rather than blocking the receive loop.
func (s *Sync) Events() <-chan Event {
	return s.events
}

func (s *Sync) State() ConnState {
	return ConnState(s.state.Load())
}

func (s *Sync) Status() Status {
	st := Status{
		State:     s.State(),
		Reachable: s.isReachable.Load(),
		TxSeq:     s.seq.Last(),
		Dropped:   s.dropped.Load(),
	}
	if ns := s.lastRx.Load(); ns > 0 {
		st.LastRx = time.Unix(0, ns)
	}
	return st
}

// Run blocks until ctx is done. Closing ctx closes the sockets so a pending
// receive returns immediately.
func (s *Sync) Run(ctx context.Context) error {
	s.isReachable.Store(s.reachable())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.reachabilityLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.transmitLoop(ctx)
	}()
	stop := context.AfterFunc(ctx, func() { s.dropLink(nil) })
	defer stop()

	s.receiveLoop(ctx)
	wg.Wait()
	s.dropLink(nil)
	s.setState(StateUnconnected)
	log.Info().Msg("netsync.Sync.Run shutdown")
	return nil
}

func (s *Sync) receiveLoop(ctx context.Context) {
	buf := make([]byte, s.cfg.MaxDatagram)
	backoff := retry.Fixed(s.cfg.RejoinDelay)
	rejoining := false
	attempt := 0

	for ctx.Err() == nil {
		link := s.currentLink()
		if link == nil {
			if !s.isReachable.Load() {
				s.setState(StateUnconnected)
				if retry.Wait(ctx, s.cfg.RejoinDelay) != nil {
					return
				}
				continue
			}
			if rejoining {
				s.setState(StateRejoining)
			} else {
				s.setState(StateJoining)
			}
			l, err := s.opener.Open(s.cfg)
			if err != nil {
				attempt++
				log.Warn().Err(err).Int("attempt", attempt).Str("group", s.cfg.Group).Msg("netsync.Sync join failed")
				if retry.Wait(ctx, retry.NextDelay(backoff, attempt)) != nil {
					return
				}
				continue
			}
			attempt = 0
			s.setLink(l)
			s.setState(StateOnline)
			log.Info().Str("group", s.cfg.Group).Int("port", s.cfg.Port).Msg("netsync.Sync joined")
			continue
		}

		n, err := link.Receive(buf, time.Now().Add(s.cfg.RxTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.goOffline(link, err)
			rejoining = true
			if retry.Wait(ctx, s.cfg.RejoinDelay) != nil {
				return
			}
			continue
		}
		s.handleDatagram(buf[:n])
	}
}

func (s *Sync) handleDatagram(msg []byte) {
	st, err := protocol.Decode(msg, s.localPiste)
	switch {
	case errors.Is(err, protocol.ErrSelf):
		observability.RecordBroadcastRx("self")
		return
	case err != nil:
		observability.RecordBroadcastRx("dropped")
		log.Debug().Err(err).Int("len", len(msg)).Msg("netsync.Sync dropped datagram")
		return
	}
	observability.RecordBroadcastRx("accepted")
	s.lastRx.Store(time.Now().UnixNano())
	s.emit(Event{Kind: KindState, State: st})
}

func (s *Sync) goOffline(link Link, err error) {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		log.Warn().Dur("timeout", s.cfg.RxTimeout).Msg("netsync.Sync receive timeout")
	} else {
		log.Warn().Err(err).Msg("netsync.Sync receive failed")
	}
	s.dropLink(link)
	s.emit(Event{Kind: KindOffline, Err: err})
}

func (s *Sync) transmitLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TxInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.transmitOnce()
		}
	}
}

// transmitOnce sends the current local state once. Failures are logged and
// left for the next tick.
func (s *Sync) transmitOnce() {
	st, ok := s.src.Broadcast()
	if !ok {
		return
	}
	link := s.currentLink()
	if link == nil {
		observability.RecordBroadcastTx("offline")
		return
	}
	msg := protocol.Encode(st)
	idx := s.seq.Next()
	if err := link.Send([]byte(msg)); err != nil {
		observability.RecordBroadcastTx("error")
		if !errors.Is(err, net.ErrClosed) {
			log.Warn().Err(err).Int("seq", idx).Msg("netsync.Sync send failed")
		}
		return
	}
	observability.RecordBroadcastTx("sent")
	log.Trace().Int("seq", idx).Str("msg", msg).Msg("netsync.Sync heartbeat")
}

func (s *Sync) reachabilityLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReachabilityInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.reachable()
			if prev := s.isReachable.Swap(now); prev != now {
				log.Info().Bool("reachable", now).Msg("netsync.Sync network reachability changed")
			}
		}
	}
}

func (s *Sync) currentLink() Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func (s *Sync) setLink(l Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != nil && s.link != l {
		_ = s.link.Close()
	}
	s.link = l
}

// dropLink closes and clears the active link. A non-nil target only drops
// the link if it is still the active one.
func (s *Sync) dropLink(target Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil || (target != nil && s.link != target) {
		return
	}
	_ = s.link.Close()
	s.link = nil
}

func (s *Sync) setState(next ConnState) {
	prev := ConnState(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	observability.SetNetState(int(next))
	log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("netsync.Sync state")
	s.emit(Event{Kind: KindConnState, Conn: next})
}

func (s *Sync) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		observability.RecordDispatchDrop("network")
	}
}
