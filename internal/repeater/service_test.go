package repeater

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/pistelink/internal/box"
	"github.com/danmuck/pistelink/internal/netsync"
	"github.com/danmuck/pistelink/internal/protocol"
	"github.com/danmuck/pistelink/internal/serialport"
	"github.com/danmuck/pistelink/internal/testutil/testlog"
)

type fakeSerial struct {
	events chan serialport.Event

	mu      sync.Mutex
	written []string
}

func newFakeSerial() *fakeSerial {
	return &fakeSerial{events: make(chan serialport.Event, 16)}
}

func (f *fakeSerial) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeSerial) Events() <-chan serialport.Event { return f.events }
func (f *fakeSerial) Connected() bool                 { return true }

func (f *fakeSerial) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, string(p))
	return nil
}

func (f *fakeSerial) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

type fakeNetwork struct {
	events chan netsync.Event
	src    netsync.Source
}

func (f *fakeNetwork) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeNetwork) Events() <-chan netsync.Event { return f.events }
func (f *fakeNetwork) Status() netsync.Status {
	return netsync.Status{State: netsync.StateOnline, Reachable: true}
}

type harness struct {
	svc    *Service
	serial *fakeSerial
	net    *fakeNetwork
	stop   func()
}

func startService(t *testing.T, mutate func(*ServiceConfig)) *harness {
	t.Helper()
	cfg := DefaultServiceConfig()
	cfg.Piste = 4
	cfg.HTTPAddr = ""
	cfg.DemoInterval = 10 * time.Millisecond
	cfg.KeyQueueSize = 4
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{serial: newFakeSerial(), net: &fakeNetwork{events: make(chan netsync.Event, 16)}}
	svc, err := NewService(cfg,
		WithSerialLink(h.serial),
		WithNetworkLink(func(src netsync.Source) NetworkLink {
			h.net.src = src
			return h.net
		}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	waitUntil(t, "dispatcher running", svc.Ready)

	h.stop = func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("serve returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("service did not stop")
		}
	}
	return h
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewServiceRejectsBadPiste(t *testing.T) {
	testlog.Start(t)

	for _, piste := range []int{0, 31} {
		cfg := DefaultServiceConfig()
		cfg.Piste = piste
		if _, err := NewService(cfg, WithSerialLink(newFakeSerial())); !errors.Is(err, ErrInvalidPiste) {
			t.Fatalf("piste %d: expected ErrInvalidPiste, got %v", piste, err)
		}
	}
	cfg := DefaultServiceConfig()
	cfg.HeartbeatInterval = -time.Second
	if _, err := NewService(cfg, WithSerialLink(newFakeSerial())); !errors.Is(err, ErrInvalidHeartbeatInterval) {
		t.Fatalf("expected ErrInvalidHeartbeatInterval, got %v", err)
	}
}

func TestSerialStreamDrivesBoxAndReplies(t *testing.T) {
	testlog.Start(t)

	h := startService(t, nil)
	defer h.stop()

	h.serial.events <- serialport.Event{Kind: serialport.KindConnected}
	h.serial.events <- serialport.Event{Kind: serialport.KindData, Data: []byte("!GO")}
	h.serial.events <- serialport.Event{Kind: serialport.KindData, Data: []byte("!BS*0201@0259")}

	waitUntil(t, "bout applied", func() bool {
		st := h.svc.Snapshot()
		return st.Mode == box.ModeBout && st.ScoreA == "02" && st.Passivity.Seconds == 59
	})
	if got := h.serial.writes(); len(got) != 1 || got[0] != "!OK" {
		t.Fatalf("serial writes=%v want [!OK]", got)
	}

	st, ok := h.net.src.Broadcast()
	if !ok || st.Piste != 4 || st.ScoreA != "02" {
		t.Fatalf("broadcast source ok=%v state=%+v", ok, st)
	}
}

func TestKeysReachThePollThroughTheInbox(t *testing.T) {
	testlog.Start(t)

	h := startService(t, nil)
	defer h.stop()

	h.serial.events <- serialport.Event{Kind: serialport.KindConnected}
	ctx := context.Background()
	if err := h.svc.QueueKey(ctx, 'K'); err != nil {
		t.Fatalf("queue K: %v", err)
	}
	if err := h.svc.QueueKey(ctx, '3'); err != nil {
		t.Fatalf("queue 3: %v", err)
	}
	h.serial.events <- serialport.Event{Kind: serialport.KindData, Data: []byte("/?/?/?")}

	waitUntil(t, "poll replies", func() bool { return len(h.serial.writes()) == 2 })
	got := h.serial.writes()
	if got[0] != "/K" || got[1] != "/3" {
		t.Fatalf("poll replies=%v", got)
	}

	for i := 0; i < 4; i++ {
		_ = h.svc.QueueKey(ctx, 'x')
	}
	if err := h.svc.QueueKey(ctx, 'x'); !errors.Is(err, ErrKeyQueueFull) {
		t.Fatalf("expected ErrKeyQueueFull, got %v", err)
	}
}

func TestRemoteStatesFillRegistry(t *testing.T) {
	testlog.Start(t)

	h := startService(t, nil)
	defer h.stop()

	for _, piste := range []int{7, 2, 7} {
		st := box.NewState(piste)
		st.RxOk = true
		h.net.events <- netsync.Event{Kind: netsync.KindState, State: st}
	}
	bad := box.NewState(44)
	h.net.events <- netsync.Event{Kind: netsync.KindState, State: bad}

	waitUntil(t, "registry filled", func() bool { return h.svc.Registry().Len() == 2 })
	waitUntil(t, "idle display", func() bool { return h.svc.Snapshot().Mode == box.ModeDisplay })

	h.net.events <- netsync.Event{Kind: netsync.KindOffline}
	waitUntil(t, "stale", func() bool {
		st, _ := h.svc.Registry().Get(7)
		return !st.RxOk
	})
}

func TestSilentPisteGoesStaleWhileOthersAreHeard(t *testing.T) {
	testlog.Start(t)

	h := startService(t, func(cfg *ServiceConfig) { cfg.Network.RxTimeout = 80 * time.Millisecond })
	defer h.stop()

	heard := func(piste int) netsync.Event {
		st := box.NewState(piste)
		st.RxOk = true
		return netsync.Event{Kind: netsync.KindState, State: st}
	}
	h.net.events <- heard(2)
	waitUntil(t, "piste 2 registered", func() bool { return h.svc.Registry().Len() == 1 })

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		h.net.events <- heard(3)
		time.Sleep(20 * time.Millisecond)
	}
	if st, _ := h.svc.Registry().Get(2); st.RxOk {
		t.Fatalf("piste 2 silent past the receive timeout but still rx_ok")
	}
	if st, _ := h.svc.Registry().Get(3); !st.RxOk {
		t.Fatalf("piste 3 is heard but went stale")
	}
}

func TestNavigationThroughDispatcher(t *testing.T) {
	testlog.Start(t)

	h := startService(t, nil)
	defer h.stop()

	ctx := context.Background()
	if _, err := h.svc.ViewNext(ctx); !errors.Is(err, box.ErrOutOfRange) {
		t.Fatalf("empty registry next: %v", err)
	}
	for _, piste := range []int{3, 9} {
		h.net.events <- netsync.Event{Kind: netsync.KindState, State: box.NewState(piste)}
	}
	waitUntil(t, "registry filled", func() bool { return h.svc.Registry().Len() == 2 })

	st, err := h.svc.ViewNext(ctx)
	if err != nil || st.Piste != 9 {
		t.Fatalf("next=%d err=%v", st.Piste, err)
	}
	if _, err := h.svc.ViewNext(ctx); !errors.Is(err, box.ErrOutOfRange) {
		t.Fatalf("next at end: %v", err)
	}
	if cur, _ := h.svc.Registry().Current(); cur.Piste != 9 {
		t.Fatalf("cursor moved past the end: %d", cur.Piste)
	}
	if st, err := h.svc.ViewSelect(ctx, 3); err != nil || st.Piste != 3 {
		t.Fatalf("select=%d err=%v", st.Piste, err)
	}
	if _, err := h.svc.ViewSelect(ctx, 12); !errors.Is(err, box.ErrPisteUnknown) {
		t.Fatalf("select unknown: %v", err)
	}
}

func TestDemoRunsOnTicker(t *testing.T) {
	testlog.Start(t)

	h := startService(t, nil)
	defer h.stop()

	ctx := context.Background()
	st, err := h.svc.SetDemo(ctx, true)
	if err != nil || st.Mode != box.ModeDemo {
		t.Fatalf("demo on: mode=%s err=%v", st.Mode, err)
	}
	waitUntil(t, "demo score", func() bool { return h.svc.Snapshot().ScoreA != "00" })
	if _, ok := h.net.src.Broadcast(); ok {
		t.Fatalf("disconnected box broadcast during demo")
	}

	st, err = h.svc.SetDemo(ctx, false)
	if err != nil || st.Mode == box.ModeDemo || st.ScoreA != "00" {
		t.Fatalf("demo off: %+v err=%v", st, err)
	}
}

func TestDemoOverLiveBoutKeepsBroadcasting(t *testing.T) {
	testlog.Start(t)

	h := startService(t, nil)
	defer h.stop()

	h.serial.events <- serialport.Event{Kind: serialport.KindConnected}
	h.serial.events <- serialport.Event{Kind: serialport.KindData, Data: []byte("!BS*0503@0212")}
	waitUntil(t, "bout", func() bool { return h.svc.Snapshot().TimeSecs == "12" })

	ctx := context.Background()
	if _, err := h.svc.SetDemo(ctx, true); err != nil {
		t.Fatalf("demo on: %v", err)
	}
	h.serial.events <- serialport.Event{Kind: serialport.KindData, Data: []byte("*0604!SS")}
	waitUntil(t, "parked sparring", func() bool {
		st, ok := h.net.src.Broadcast()
		return ok && st.Mode == box.ModeSparring
	})
	h.serial.events <- serialport.Event{Kind: serialport.KindData, Data: []byte("*0102")}
	waitUntil(t, "parked score", func() bool {
		st, _ := h.net.src.Broadcast()
		return st.ScoreA == "01"
	})
	if got := h.svc.Snapshot().Mode; got != box.ModeDemo {
		t.Fatalf("box frames ended the demo: %s", got)
	}

	st, err := h.svc.SetDemo(ctx, false)
	if err != nil || st.Mode != box.ModeSparring || st.ScoreA != "01" || st.ScoreB != "02" {
		t.Fatalf("demo off: %+v err=%v", st, err)
	}
}

func TestWeaponRequestAnsweredOnPoll(t *testing.T) {
	testlog.Start(t)

	h := startService(t, nil)
	defer h.stop()

	h.serial.events <- serialport.Event{Kind: serialport.KindConnected}
	if err := h.svc.RequestWeapon(context.Background(), box.WeaponEpee); err != nil {
		t.Fatalf("request: %v", err)
	}
	if w, ok := h.svc.PendingWeapon(); !ok || w != box.WeaponEpee {
		t.Fatalf("pending=%s ok=%v", w, ok)
	}
	h.serial.events <- serialport.Event{Kind: serialport.KindData, Data: []byte("/?")}
	waitUntil(t, "weapon reply", func() bool { return len(h.serial.writes()) == 1 })
	if got := h.serial.writes()[0]; got != "/e" {
		t.Fatalf("reply=%q want /e", got)
	}
	h.serial.events <- serialport.Event{Kind: serialport.KindData, Data: []byte("!TE")}
	waitUntil(t, "ack", func() bool {
		_, ok := h.svc.PendingWeapon()
		return !ok
	})
}

func TestDisconnectClearsAndStopsBroadcast(t *testing.T) {
	testlog.Start(t)

	h := startService(t, nil)
	defer h.stop()

	h.serial.events <- serialport.Event{Kind: serialport.KindConnected}
	h.serial.events <- serialport.Event{Kind: serialport.KindData, Data: []byte("!BS*0503")}
	waitUntil(t, "score", func() bool { return h.svc.Snapshot().ScoreA == "05" })

	h.serial.events <- serialport.Event{Kind: serialport.KindDisconnected}
	waitUntil(t, "cleared", func() bool {
		st := h.svc.Snapshot()
		return st.Mode == box.ModeNone && st.ScoreA == "00"
	})
	if _, ok := h.net.src.Broadcast(); ok {
		t.Fatalf("disconnected box still broadcasting")
	}

	h.serial.events <- serialport.Event{Kind: serialport.KindConnected}
	waitUntil(t, "restored", func() bool { return h.svc.Snapshot().Mode == box.ModeBout })
}

func TestBroadcastOfLocalStateRoundTrips(t *testing.T) {
	testlog.Start(t)

	h := startService(t, nil)
	defer h.stop()

	h.serial.events <- serialport.Event{Kind: serialport.KindConnected}
	h.serial.events <- serialport.Event{Kind: serialport.KindData, Data: []byte("!BS*0201$H1?01@0225")}
	waitUntil(t, "clock", func() bool { return h.svc.Snapshot().TimeSecs == "25" })

	local, ok := h.net.src.Broadcast()
	if !ok {
		t.Fatalf("expected broadcast")
	}
	remote, err := protocol.Decode([]byte(protocol.Encode(local)), 9)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if remote.ScoreA != "02" || remote.HitA != box.HitOnTarget || remote.CardA != box.CardYellow || remote.TimeMins != "02" {
		t.Fatalf("wire state=%+v", remote)
	}
}

func TestControlAfterStopFails(t *testing.T) {
	testlog.Start(t)

	h := startService(t, nil)
	h.stop()
	if err := h.svc.QueueKey(context.Background(), 'K'); !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("expected ErrServiceStopped, got %v", err)
	}
}
