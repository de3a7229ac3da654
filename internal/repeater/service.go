package repeater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/pistelink/internal/box"
	"github.com/danmuck/pistelink/internal/display"
	"github.com/danmuck/pistelink/internal/netsync"
	"github.com/danmuck/pistelink/internal/observability"
	"github.com/danmuck/pistelink/internal/protocol/frame"
	"github.com/danmuck/pistelink/internal/serialport"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidPiste             = errors.New("repeater: invalid local piste")
	ErrInvalidHeartbeatInterval = errors.New("repeater: invalid heartbeat interval")
	ErrServiceStopped           = errors.New("repeater: service not running")
	ErrInboxFull                = errors.New("repeater: control inbox full")
)

// ServiceConfig configures the repeater runtime.
type ServiceConfig struct {
	Piste             int
	MaxPiste          int
	HeartbeatInterval time.Duration
	DemoInterval      time.Duration
	InboxSize         int
	KeyQueueSize      int
	PassivityMax      int
	HTTPAddr          string
	CORSOrigins       []string
	Serial            serialport.Config
	Network           netsync.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Piste:             1,
		MaxPiste:          box.MaxPiste,
		HeartbeatInterval: 30 * time.Second,
		DemoInterval:      time.Second,
		InboxSize:         32,
		KeyQueueSize:      16,
		PassivityMax:      box.PassivityMaxTime,
		HTTPAddr:          ":8080",
		Serial:            serialport.DefaultConfig(),
		Network:           netsync.DefaultConfig(),
	}
}

// SerialLink is the box connection the dispatcher consumes.
type SerialLink interface {
	Run(ctx context.Context) error
	Events() <-chan serialport.Event
	Write(p []byte) error
	Connected() bool
}

// NetworkLink is the multicast connection the dispatcher consumes.
type NetworkLink interface {
	Run(ctx context.Context) error
	Events() <-chan netsync.Event
	Status() netsync.Status
}

type ServiceOption func(*Service)

func WithSerialLink(l SerialLink) ServiceOption {
	return func(s *Service) { s.serial = l }
}

// WithNetworkLink replaces the multicast link. The factory receives the
// source that reports the local state for heartbeats.
func WithNetworkLink(fn func(src netsync.Source) NetworkLink) ServiceOption {
	return func(s *Service) { s.netFactory = fn }
}

func WithDisplay(d Display) ServiceOption {
	return func(s *Service) { s.display = d }
}

func WithSound(snd Sound) ServiceOption {
	return func(s *Service) { s.sound = snd }
}

type controlKind int

const (
	controlKey controlKind = iota + 1
	controlWeapon
	controlDemoOn
	controlDemoOff
	controlViewNext
	controlViewPrev
	controlViewSelect
)

type controlResult struct {
	state box.State
	err   error
}

type control struct {
	kind   controlKind
	key    byte
	weapon box.Weapon
	piste  int
	reply  chan controlResult
}

// Service owns the local box, the registry and the single dispatcher loop
// that feeds the Processor.
type Service struct {
	cfg        ServiceConfig
	box        *box.Box
	registry   *box.Registry
	proc       *Processor
	serial     SerialLink
	network    NetworkLink
	netFactory func(src netsync.Source) NetworkLink
	display    Display
	sound      Sound
	inbox      chan control
	demo       demoPlayer
	started    time.Time

	running atomic.Bool
	done    chan struct{}
}

func NewService(cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	def := DefaultServiceConfig()
	if cfg.MaxPiste <= 0 {
		cfg.MaxPiste = def.MaxPiste
	}
	if cfg.Piste < 1 || cfg.Piste > cfg.MaxPiste {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidPiste, cfg.Piste, cfg.MaxPiste)
	}
	if cfg.HeartbeatInterval < 0 {
		return nil, ErrInvalidHeartbeatInterval
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.DemoInterval <= 0 {
		cfg.DemoInterval = def.DemoInterval
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}

	s := &Service{
		cfg:      cfg,
		box:      box.NewBox(cfg.Piste),
		registry: box.NewRegistry(cfg.MaxPiste),
		inbox:    make(chan control, cfg.InboxSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.display == nil {
		s.display = display.Multi(nil)
	}
	if s.sound == nil {
		s.sound = display.NewLogSound()
	}
	s.proc = NewProcessor(ProcessorConfig{
		Box:          s.box,
		Registry:     s.registry,
		Display:      s.display,
		Sound:        s.sound,
		KeyQueueSize: cfg.KeyQueueSize,
		PassivityMax: cfg.PassivityMax,
	})
	if s.serial == nil {
		s.serial = serialport.New(cfg.Serial)
	}
	if s.netFactory != nil {
		s.network = s.netFactory(s.proc)
	} else {
		s.network = netsync.New(cfg.Network, cfg.Piste, s.proc)
	}
	return s, nil
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve starts the serial, network and HTTP goroutines and runs the
// dispatcher until ctx is done.
func (s *Service) Serve(ctx context.Context) error {
	observability.RegisterMetrics()
	s.started = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = s.serial.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = s.network.Run(ctx)
	}()

	httpErr := make(chan error, 1)
	var srv *http.Server
	if addr := strings.TrimSpace(s.cfg.HTTPAddr); addr != "" {
		srv = &http.Server{Addr: addr, Handler: NewServer(s, s.hub()).Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
		log.Info().Str("addr", addr).Msg("repeater.Service http listening")
	}

	log.Info().Int("piste", s.cfg.Piste).Str("group", s.cfg.Network.Group).Msg("repeater.Service ready")
	err := s.dispatch(ctx, httpErr)

	cancel()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		done()
	}
	wg.Wait()
	return err
}

func (s *Service) hub() *display.Hub {
	switch d := s.display.(type) {
	case *display.Hub:
		return d
	case display.Multi:
		for _, sink := range d {
			if h, ok := sink.(*display.Hub); ok {
				return h
			}
		}
	}
	return nil
}

// dispatch is the only goroutine that calls into the Processor.
func (s *Service) dispatch(ctx context.Context, httpErr <-chan error) error {
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	demo := time.NewTicker(s.cfg.DemoInterval)
	defer demo.Stop()
	staleAfter := s.cfg.Network.WithDefaults().RxTimeout
	aging := time.NewTicker(staleAfter / 2)
	defer aging.Stop()

	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		close(s.done)
	}()

	serialEvents := s.serial.Events()
	netEvents := s.network.Events()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("repeater.Service.dispatch shutdown")
			return nil
		case err := <-httpErr:
			return err
		case ev := <-serialEvents:
			s.handleSerial(ev)
		case ev := <-netEvents:
			s.handleNetwork(ev)
		case c := <-s.inbox:
			c.reply <- s.handleControl(c)
		case <-demo.C:
			s.stepDemo()
		case now := <-aging.C:
			s.expireRemotes(staleAfter, now)
		case <-heartbeat.C:
			st := s.box.Snapshot()
			ns := s.network.Status()
			log.Info().
				Int("piste", st.Piste).
				Str("mode", st.Mode.String()).
				Bool("box_connected", s.proc.IsConnected()).
				Str("net_state", ns.State.String()).
				Int("tx_seq", ns.TxSeq).
				Int("pistes", s.registry.Len()).
				Msg("repeater.Service.heartbeat")
		}
	}
}

func (s *Service) handleSerial(ev serialport.Event) {
	switch ev.Kind {
	case serialport.KindConnected:
		s.proc.Connected()
	case serialport.KindDisconnected:
		s.proc.Disconnected()
	case serialport.KindData:
		for _, fe := range frame.Decode(ev.Data) {
			reply := s.proc.Handle(fe)
			if reply == nil {
				continue
			}
			// Write logs its own failures; the next poll re-attempts.
			_ = s.serial.Write(reply)
		}
	}
}

func (s *Service) handleNetwork(ev netsync.Event) {
	switch ev.Kind {
	case netsync.KindState:
		added, err := s.registry.Upsert(ev.State)
		if err != nil {
			log.Debug().Err(err).Msg("repeater.Service remote state dropped")
			return
		}
		if added {
			observability.SetRegistrySize(s.registry.Len())
			log.Info().Int("piste", ev.State.Piste).Msg("repeater.Service new piste")
		}
		s.proc.RemoteChanged(ev.State.Piste, added)
	case netsync.KindOffline:
		s.registry.MarkStale()
		if cur, err := s.registry.Current(); err == nil {
			s.proc.RemoteChanged(cur.Piste, false)
		}
	case netsync.KindConnState:
		log.Debug().Str("state", ev.Conn.String()).Msg("repeater.Service network state")
	}
}

// expireRemotes ages out pistes that stopped transmitting while others are
// still heard.
func (s *Service) expireRemotes(maxAge time.Duration, now time.Time) {
	for _, piste := range s.registry.Expire(maxAge, now) {
		log.Info().Int("piste", piste).Dur("silent_for", maxAge).Msg("repeater.Service piste stale")
		s.proc.RemoteChanged(piste, false)
	}
}

func (s *Service) handleControl(c control) controlResult {
	switch c.kind {
	case controlKey:
		return controlResult{state: s.box.Snapshot(), err: s.proc.QueueKey(c.key)}
	case controlWeapon:
		s.proc.RequestWeapon(c.weapon)
		return controlResult{state: s.box.Snapshot()}
	case controlDemoOn:
		if s.proc.EnterDemo() {
			s.demo.reset()
			log.Info().Msg("repeater.Service demo started")
		}
		return controlResult{state: s.box.Snapshot()}
	case controlDemoOff:
		if s.proc.ExitDemo() {
			log.Info().Msg("repeater.Service demo stopped")
		}
		return controlResult{state: s.box.Snapshot()}
	case controlViewNext:
		return s.navigate(s.registry.Next)
	case controlViewPrev:
		return s.navigate(s.registry.Prev)
	case controlViewSelect:
		return s.navigate(func() (box.State, error) { return s.registry.Select(c.piste) })
	}
	return controlResult{err: fmt.Errorf("repeater: unknown control %d", c.kind)}
}

func (s *Service) navigate(move func() (box.State, error)) controlResult {
	st, err := move()
	if err != nil {
		return controlResult{err: err}
	}
	s.proc.ShowCurrent()
	return controlResult{state: st}
}

func (s *Service) stepDemo() {
	if !s.proc.InDemo() {
		return
	}
	s.proc.StepDemo(s.demo.step())
}

// call hands c to the dispatcher and waits for its answer.
func (s *Service) call(ctx context.Context, c control) (box.State, error) {
	if !s.running.Load() {
		return box.State{}, ErrServiceStopped
	}
	c.reply = make(chan controlResult, 1)
	select {
	case s.inbox <- c:
	default:
		observability.RecordDispatchDrop("control")
		return box.State{}, ErrInboxFull
	}
	select {
	case res := <-c.reply:
		return res.state, res.err
	case <-s.done:
		return box.State{}, ErrServiceStopped
	case <-ctx.Done():
		return box.State{}, ctx.Err()
	}
}

func (s *Service) QueueKey(ctx context.Context, key byte) error {
	_, err := s.call(ctx, control{kind: controlKey, key: key})
	return err
}

func (s *Service) RequestWeapon(ctx context.Context, w box.Weapon) error {
	_, err := s.call(ctx, control{kind: controlWeapon, weapon: w})
	return err
}

func (s *Service) SetDemo(ctx context.Context, on bool) (box.State, error) {
	kind := controlDemoOff
	if on {
		kind = controlDemoOn
	}
	return s.call(ctx, control{kind: kind})
}

func (s *Service) ViewNext(ctx context.Context) (box.State, error) {
	return s.call(ctx, control{kind: controlViewNext})
}

func (s *Service) ViewPrev(ctx context.Context) (box.State, error) {
	return s.call(ctx, control{kind: controlViewPrev})
}

func (s *Service) ViewSelect(ctx context.Context, piste int) (box.State, error) {
	return s.call(ctx, control{kind: controlViewSelect, piste: piste})
}

func (s *Service) Snapshot() box.State {
	return s.box.Snapshot()
}

func (s *Service) Registry() *box.Registry {
	return s.registry
}

func (s *Service) NetworkStatus() netsync.Status {
	return s.network.Status()
}

func (s *Service) BoxConnected() bool {
	return s.proc.IsConnected()
}

func (s *Service) PendingWeapon() (box.Weapon, bool) {
	return s.proc.PendingWeapon()
}

func (s *Service) Ready() bool {
	return s.running.Load()
}

func (s *Service) Uptime() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}
