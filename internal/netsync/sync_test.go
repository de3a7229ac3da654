package netsync

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/pistelink/internal/box"
	"github.com/danmuck/pistelink/internal/protocol"
	"github.com/danmuck/pistelink/internal/testutil/testlog"
)

type fakeLink struct {
	inbox chan []byte

	mu     sync.Mutex
	sent   [][]byte
	closed bool
	done   chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{inbox: make(chan []byte, 16), done: make(chan struct{})}
}

func (l *fakeLink) Send(msg []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("closed")
	}
	l.sent = append(l.sent, append([]byte(nil), msg...))
	return nil
}

func (l *fakeLink) Receive(buf []byte, deadline time.Time) (int, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case msg := <-l.inbox:
		return copy(buf, msg), nil
	case <-timer.C:
		return 0, os.ErrDeadlineExceeded
	case <-l.done:
		return 0, errors.New("closed")
	}
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) sentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

func (l *fakeLink) lastSent() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sent) == 0 {
		return nil
	}
	return l.sent[len(l.sent)-1]
}

type fakeOpener struct {
	mu    sync.Mutex
	links []*fakeLink
	err   error
}

func (o *fakeOpener) Open(Config) (Link, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	l := newFakeLink()
	o.links = append(o.links, l)
	return l, nil
}

func (o *fakeOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.links)
}

func (o *fakeOpener) link(i int) *fakeLink {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.links) {
		return nil
	}
	return o.links[i]
}

func testConfig() Config {
	return Config{
		TxInterval:           10 * time.Millisecond,
		RxTimeout:            80 * time.Millisecond,
		RejoinDelay:          20 * time.Millisecond,
		ReachabilityInterval: 10 * time.Millisecond,
	}
}

type stateSource struct {
	mu        sync.Mutex
	state     box.State
	connected bool
}

func (s *stateSource) Broadcast() (box.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.connected
}

func (s *stateSource) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func runSync(t *testing.T, s *Sync) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("sync did not shut down")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
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

func nextEvent(t *testing.T, s *Sync, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no event of kind %d", kind)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	testlog.Start(t)

	cfg := Config{}.WithDefaults()
	if cfg.TxInterval != 250*time.Millisecond || cfg.RxTimeout != 2*time.Second || cfg.RejoinDelay != 500*time.Millisecond {
		t.Fatalf("unexpected cadence: %+v", cfg)
	}
	if _, err := cfg.GroupAddr(); err != nil {
		t.Fatalf("default group: %v", err)
	}
	cfg.Group = "10.0.0.1"
	if _, err := cfg.GroupAddr(); !errors.Is(err, ErrNotMulticast) {
		t.Fatalf("expected ErrNotMulticast, got %v", err)
	}
}

func TestHeartbeatOnlyWhileBoxConnected(t *testing.T) {
	testlog.Start(t)

	opener := &fakeOpener{}
	src := &stateSource{state: box.NewState(4)}
	s := New(testConfig(), 4, src, WithOpener(opener), WithReachability(func() bool { return true }))
	stop := runSync(t, s)
	defer stop()

	waitFor(t, "online", func() bool { return s.State() == StateOnline })
	time.Sleep(50 * time.Millisecond)
	if n := opener.link(0).sentCount(); n != 0 {
		t.Fatalf("sent %d heartbeats with no box attached", n)
	}

	src.setConnected(true)
	waitFor(t, "heartbeat", func() bool { return opener.link(0).sentCount() >= 2 })
	if got, want := string(opener.link(0).lastSent()), protocol.Encode(box.NewState(4)); got != want {
		t.Fatalf("heartbeat=%q want %q", got, want)
	}
	if s.Status().TxSeq == 0 {
		t.Fatalf("expected sequence to advance")
	}
}

func TestReceiveDeliversRemoteStateAndFiltersSelf(t *testing.T) {
	testlog.Start(t)

	opener := &fakeOpener{}
	s := New(testConfig(), 4, &stateSource{}, WithOpener(opener), WithReachability(func() bool { return true }))
	stop := runSync(t, s)
	defer stop()

	waitFor(t, "online", func() bool { return s.State() == StateOnline })

	self := box.NewState(4)
	remote := box.NewState(7)
	remote.SetScore("03", "01")
	link := opener.link(0)
	link.inbox <- []byte(protocol.Encode(self))
	link.inbox <- []byte("garbage")
	link.inbox <- []byte(protocol.Encode(remote))

	ev := nextEvent(t, s, KindState)
	if ev.State.Piste != 7 || ev.State.ScoreA != "03" || !ev.State.RxOk {
		t.Fatalf("unexpected remote state: %+v", ev.State)
	}
	if s.Status().LastRx.IsZero() {
		t.Fatalf("expected last rx to be recorded")
	}
}

func TestReceiveTimeoutGoesOfflineAndRejoins(t *testing.T) {
	testlog.Start(t)

	opener := &fakeOpener{}
	s := New(testConfig(), 4, &stateSource{}, WithOpener(opener), WithReachability(func() bool { return true }))
	stop := runSync(t, s)
	defer stop()

	ev := nextEvent(t, s, KindOffline)
	if !errors.Is(ev.Err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", ev.Err)
	}
	waitFor(t, "rejoin", func() bool { return opener.opened() >= 2 })
	waitFor(t, "online again", func() bool { return s.State() == StateOnline })
	if !opener.link(0).isClosed() {
		t.Fatalf("first link not closed after timeout")
	}
}

func TestUnreachableNetworkStaysUnconnected(t *testing.T) {
	testlog.Start(t)

	opener := &fakeOpener{}
	var reachable sync.Mutex
	up := false
	check := func() bool {
		reachable.Lock()
		defer reachable.Unlock()
		return up
	}
	s := New(testConfig(), 4, &stateSource{}, WithOpener(opener), WithReachability(check))
	stop := runSync(t, s)
	defer stop()

	time.Sleep(60 * time.Millisecond)
	if opener.opened() != 0 || s.State() != StateUnconnected {
		t.Fatalf("joined without network: opened=%d state=%s", opener.opened(), s.State())
	}

	reachable.Lock()
	up = true
	reachable.Unlock()
	waitFor(t, "online", func() bool { return s.State() == StateOnline })
}

func TestJoinFailureRetries(t *testing.T) {
	testlog.Start(t)

	opener := &fakeOpener{err: errors.New("no route")}
	s := New(testConfig(), 4, &stateSource{}, WithOpener(opener), WithReachability(func() bool { return true }))
	stop := runSync(t, s)
	defer stop()

	time.Sleep(50 * time.Millisecond)
	if s.State() != StateJoining {
		t.Fatalf("state=%s want joining", s.State())
	}
	opener.mu.Lock()
	opener.err = nil
	opener.mu.Unlock()
	waitFor(t, "online", func() bool { return s.State() == StateOnline })
}

func TestShutdownClosesLink(t *testing.T) {
	testlog.Start(t)

	opener := &fakeOpener{}
	cfg := testConfig()
	cfg.RxTimeout = time.Minute
	s := New(cfg, 4, &stateSource{}, WithOpener(opener), WithReachability(func() bool { return true }))
	stop := runSync(t, s)

	waitFor(t, "online", func() bool { return s.State() == StateOnline })
	stop()

	if !opener.link(0).isClosed() {
		t.Fatalf("link not closed on shutdown")
	}
	if s.State() != StateUnconnected {
		t.Fatalf("state=%s after shutdown", s.State())
	}
}
