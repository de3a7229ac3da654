package repeater

import (
	"sync/atomic"
	"time"

	"github.com/danmuck/pistelink/internal/box"
	"github.com/danmuck/pistelink/internal/display"
	"github.com/danmuck/pistelink/internal/observability"
	"github.com/danmuck/pistelink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

const (
	keyClickTone      = 100 * time.Millisecond
	passivitySignal   = time.Second
	boutStartMinutes  = "03"
	stopwatchHourWrap = 100
)

// Display receives whole-box and per-group pushes.
type Display interface {
	DisplayBox(s box.State)
	Update(g display.Group, s box.State)
}

// Sound drives the tone generator.
type Sound interface {
	SoundOn()
	SoundOnFor(d time.Duration)
	SoundOff()
}

// ProcessorConfig wires the processor to its collaborators.
type ProcessorConfig struct {
	Box          *box.Box
	Registry     *box.Registry
	Display      Display
	Sound        Sound
	KeyQueueSize int
	PassivityMax int
}

// Processor is the mode and command state machine for the local box. It is
// not safe for concurrent use; the Service dispatcher is its only caller.
// Broadcast, IsConnected and PendingWeapon are the exceptions and may be
// called from any goroutine.
type Processor struct {
	box      *box.Box
	registry *box.Registry
	display  Display
	sound    Sound
	keys     *KeyQueue[byte]
	maxPass  int

	connected atomic.Bool
	savedMode box.Mode
	hasSaved  bool

	// pending holds the requested weapon plus one; zero means none.
	pending atomic.Int32

	// parked holds the live state while the demo is on screen.
	parked  atomic.Pointer[box.State]
	playing bool
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.PassivityMax <= 0 {
		cfg.PassivityMax = box.PassivityMaxTime
	}
	if cfg.Display == nil {
		cfg.Display = display.Multi(nil)
	}
	if cfg.Sound == nil {
		cfg.Sound = display.MultiSound(nil)
	}
	p := &Processor{
		box:      cfg.Box,
		registry: cfg.Registry,
		display:  cfg.Display,
		sound:    cfg.Sound,
		keys:     NewKeyQueue(cfg.KeyQueueSize, frame.KeyReply),
		maxPass:  cfg.PassivityMax,
	}
	p.update(func(s *box.State) {
		s.Passivity = box.NewPassivity(cfg.PassivityMax)
	})
	return p
}

func (p *Processor) IsConnected() bool {
	return p.connected.Load()
}

// Snapshot returns what the screen shows: the demo state while it plays.
func (p *Processor) Snapshot() box.State {
	return p.box.Snapshot()
}

// Handle applies one decoded frame and returns the reply to write back to
// the box, or nil.
func (p *Processor) Handle(ev frame.Event) []byte {
	observability.RecordSerialEvent(ev.Kind.String())
	switch ev.Kind {
	case frame.KindCommand:
		return p.command(ev.Code)
	case frame.KindHit:
		p.hit(ev.Code)
	case frame.KindScore:
		st := p.update(func(s *box.State) { s.SetScore(ev.ScoreA, ev.ScoreB) })
		p.push(display.GroupScore, st)
	case frame.KindClock:
		p.clock(ev)
	case frame.KindCard:
		st := p.update(func(s *box.State) {
			s.SetCard(ev.Fencer, (s.Card(ev.Fencer)&box.CardShort)|(uint8(ev.Level)&0x03))
		})
		p.push(display.GroupCards, st)
	case frame.KindShortCircuit:
		st := p.update(func(s *box.State) {
			card := s.Card(ev.Fencer)
			if ev.Level != 0 {
				card |= box.CardShort
			} else {
				card &^= box.CardShort
			}
			s.SetCard(ev.Fencer, card)
		})
		p.push(display.GroupCards, st)
	case frame.KindPassivityCard:
		st := p.update(func(s *box.State) {
			s.PassivityCard[ev.Fencer] = box.PassivityCard(ev.Level)
		})
		p.push(display.GroupPassivityCard, st)
	case frame.KindPoll:
		return p.poll()
	}
	return nil
}

func (p *Processor) command(code string) []byte {
	known := true
	switch code {
	case "GO":
		idle := p.idleMode()
		st := p.update(func(s *box.State) {
			s.Mode = idle
			s.ClearTransient()
		})
		p.showIdle(st)
		observability.RecordCommand(code, true)
		return frame.PowerUpAck
	case "BS":
		p.startMode(box.ModeBout, boutStartMinutes, p.maxPass)
	case "SS":
		p.startMode(box.ModeSparring, "00", p.maxPass)
	case "WS":
		p.startMode(box.ModeStopwatch, "00", 0)
	case "WW":
		st := p.update(func(s *box.State) {
			s.Hours = (s.Hours + 1) % stopwatchHourWrap
			if s.Mode == box.ModeStopwatch {
				s.Passivity.Set(s.Hours)
			}
		})
		p.push(display.GroupPassivity, st)
		p.push(display.GroupClock, st)
	case "WT":
		st := p.update(func(s *box.State) {
			s.Mode = box.ModeWeaponTest
			s.ClearHits()
		})
		p.show(st)
	case "P0", "P1":
		st := p.update(func(s *box.State) {
			s.PriA = code == "P0"
			s.PriB = code == "P1"
			s.PriorityIndicator = false
			s.ClearHits()
		})
		p.push(display.GroupPriority, st)
		p.push(display.GroupHits, st)
	case "PS":
		st := p.update(func(s *box.State) { s.PriorityIndicator = true })
		p.push(display.GroupPriority, st)
	case "PC":
		st := p.update(func(s *box.State) { s.ClearPriority() })
		p.push(display.GroupPriority, st)
	case "VS":
		st := p.update(func(s *box.State) { s.Passivity.Restart(p.maxPass) })
		p.push(display.GroupPassivity, st)
	case "VC":
		st := p.update(func(s *box.State) { s.Passivity.Clear() })
		p.push(display.GroupPassivity, st)
	case "VT":
		st := p.update(func(s *box.State) { s.Passivity.Set(0) })
		p.push(display.GroupPassivity, st)
		p.sound.SoundOnFor(passivitySignal)
	case "TF":
		p.setWeapon(box.WeaponFoil)
	case "TE":
		p.setWeapon(box.WeaponEpee)
	case "TS":
		p.setWeapon(box.WeaponSabre)
	case "RL":
		st := p.update(func(s *box.State) { s.ClearHits() })
		p.push(display.GroupHits, st)
		p.sound.SoundOff()
	case "KC":
		p.sound.SoundOnFor(keyClickTone)
	default:
		known = false
		log.Debug().Str("code", code).Msg("repeater.Processor unknown command ignored")
	}
	observability.RecordCommand(code, known)
	return nil
}

// startMode applies the reset shared by BS, SS and WS.
func (p *Processor) startMode(mode box.Mode, mins string, passivity int) {
	st := p.update(func(s *box.State) {
		s.Mode = mode
		s.SetScore("00", "00")
		s.SetClock(mins, "00", "00")
		s.CardA, s.CardB = 0, 0
		s.ClearPriority()
		if mode == box.ModeStopwatch {
			s.Hours = 0
		}
		s.Passivity.Restart(passivity)
	})
	log.Debug().Str("mode", mode.String()).Msg("repeater.Processor mode")
	p.show(st)
}

func (p *Processor) setWeapon(w box.Weapon) {
	st := p.update(func(s *box.State) {
		if s.Weapon == box.WeaponFoil && w != box.WeaponFoil {
			if s.HitA == box.HitOffTarget {
				s.HitA = box.HitNone
			}
			if s.HitB == box.HitOffTarget {
				s.HitB = box.HitNone
			}
		}
		s.Weapon = w
	})
	if want, ok := p.PendingWeapon(); ok && want == w {
		p.pending.Store(0)
	}
	p.push(display.GroupHits, st)
	p.push(display.GroupScore, st)
	p.push(display.GroupClock, st)
	p.push(display.GroupCards, st)
}

func (p *Processor) hit(code string) {
	st := p.update(func(s *box.State) {
		switch code {
		case "O0":
			if s.Weapon == box.WeaponFoil {
				s.HitA = box.HitOffTarget
			}
		case "O1":
			if s.Weapon == box.WeaponFoil {
				s.HitB = box.HitOffTarget
			}
		case "H0":
			s.HitA, s.HitB = box.HitNone, box.HitNone
		case "H1":
			s.HitA = box.HitOnTarget
		case "H2":
			s.HitB = box.HitOnTarget
		case "H3", "S0":
			s.HitA, s.HitB = box.HitOnTarget, box.HitNone
		case "H4", "S1":
			s.HitA, s.HitB = box.HitNone, box.HitOnTarget
		default:
			log.Debug().Str("code", code).Msg("repeater.Processor unknown hit code ignored")
		}
	})
	p.push(display.GroupHits, st)
}

// clock stores the new time. A change in minutes or seconds during a bout
// ticks the passivity countdown; hundredths alone never do.
func (p *Processor) clock(ev frame.Event) {
	ticked := false
	st := p.update(func(s *box.State) {
		changed := s.TimeMins != box.TwoDigit(ev.Mins) || s.TimeSecs != box.TwoDigit(ev.Secs)
		s.SetClock(ev.Mins, ev.Secs, ev.Hund)
		if changed && s.Mode == box.ModeBout {
			ticked = s.Passivity.Tick(s.Mode)
		}
	})
	p.push(display.GroupClock, st)
	if ticked {
		p.push(display.GroupPassivity, st)
	}
}

// poll answers the box: a pending weapon change wins over queued keys.
func (p *Processor) poll() []byte {
	if want, ok := p.PendingWeapon(); ok {
		return frame.WeaponReply(want)
	}
	if out, ok := p.keys.ProcessOne(); ok {
		return out
	}
	return nil
}

// QueueKey queues a keypress for the next poll.
func (p *Processor) QueueKey(key byte) error {
	return p.keys.Push(key)
}

// RequestWeapon asks the box to switch weapon. The request is answered on
// every poll until the box confirms with a weapon command.
func (p *Processor) RequestWeapon(w box.Weapon) {
	if p.snapshot().Weapon == w {
		p.pending.Store(0)
		return
	}
	p.pending.Store(int32(w) + 1)
}

func (p *Processor) PendingWeapon() (box.Weapon, bool) {
	v := p.pending.Load()
	if v == 0 {
		return 0, false
	}
	return box.Weapon(v - 1), true
}

// Connected runs when the serial link to the box comes up. A running demo
// ends: the box takes the screen back.
func (p *Processor) Connected() {
	p.connected.Store(true)
	if parked := p.parked.Swap(nil); parked != nil {
		p.box.Update(func(s *box.State) { *s = *parked })
		log.Info().Msg("repeater.Processor demo ended by box connect")
	}
	restore, ok := p.takeSaved()
	st := p.update(func(s *box.State) {
		s.ClearTransient()
		if ok {
			s.Mode = restore
		}
	})
	log.Info().Str("mode", st.Mode.String()).Msg("repeater.Processor box connected")
	p.show(st)
}

// Disconnected runs when the serial link drops. An active sub-mode is saved
// for the reconnect.
func (p *Processor) Disconnected() {
	p.connected.Store(false)
	p.pending.Store(0)
	p.keys.Clear()
	idle := p.idleMode()
	st := p.update(func(s *box.State) {
		if s.Mode.Active() && !p.hasSaved {
			p.savedMode, p.hasSaved = s.Mode, true
		}
		s.Mode = idle
		s.ClearTransient()
	})
	log.Info().Str("mode", st.Mode.String()).Msg("repeater.Processor box disconnected")
	p.showIdle(st)
}

// EnterDemo parks the live state and switches the screen to the demo. Box
// frames keep updating the parked state while the demo plays.
func (p *Processor) EnterDemo() bool {
	if p.parked.Load() != nil {
		return false
	}
	live := p.box.Snapshot()
	p.parked.Store(&live)
	st := p.box.Update(func(s *box.State) {
		s.Mode = box.ModeDemo
		s.ClearTransient()
	})
	p.display.DisplayBox(st)
	return true
}

// ExitDemo restores the parked state whole.
func (p *Processor) ExitDemo() bool {
	parked := p.parked.Swap(nil)
	if parked == nil {
		return false
	}
	st := p.box.Update(func(s *box.State) { *s = *parked })
	p.showIdle(st)
	return true
}

// StepDemo applies one chunk of the demo script to the demo screen. It does
// nothing outside the demo.
func (p *Processor) StepDemo(events []frame.Event) {
	if p.parked.Load() == nil {
		return
	}
	p.playing = true
	defer func() { p.playing = false }()
	for _, ev := range events {
		p.Handle(ev)
	}
}

// InDemo reports whether the demo is on screen.
func (p *Processor) InDemo() bool {
	return p.parked.Load() != nil
}

// Broadcast reports the state to put on the network. Only a physically
// connected box is broadcast; during the demo that is the parked state.
func (p *Processor) Broadcast() (box.State, bool) {
	if parked := p.parked.Load(); parked != nil {
		return *parked, p.connected.Load()
	}
	return p.box.Snapshot(), p.connected.Load()
}

// RemoteChanged refreshes the screen when an idle display is showing the
// piste that just changed. The first remote heard while idle in mode None
// switches the screen to display mode.
func (p *Processor) RemoteChanged(piste int, added bool) {
	mode := p.snapshot().Mode
	if added && mode == box.ModeNone {
		st := p.update(func(s *box.State) { s.Mode = box.ModeDisplay })
		p.showIdle(st)
		return
	}
	if mode != box.ModeDisplay {
		return
	}
	cur, err := p.registry.Current()
	if err != nil || cur.Piste != piste {
		return
	}
	p.show(cur)
}

// ShowCurrent pushes the registry cursor entry when idle in display mode.
func (p *Processor) ShowCurrent() {
	p.showIdle(p.snapshot())
}

func (p *Processor) takeSaved() (box.Mode, bool) {
	if !p.hasSaved {
		return 0, false
	}
	p.hasSaved = false
	return p.savedMode, true
}

func (p *Processor) idleMode() box.Mode {
	if p.registry != nil && !p.registry.Empty() {
		return box.ModeDisplay
	}
	return box.ModeNone
}

func (p *Processor) showIdle(st box.State) {
	if st.Mode == box.ModeDisplay && p.registry != nil {
		if cur, err := p.registry.Current(); err == nil {
			p.show(cur)
			return
		}
	}
	p.show(st)
}

// push sends a group update for the local box. In display mode the screen
// belongs to the remote piste under the cursor.
func (p *Processor) push(g display.Group, st box.State) {
	if st.Mode == box.ModeDisplay {
		return
	}
	if p.parked.Load() != nil && !p.playing {
		return
	}
	p.display.Update(g, st)
}

// update applies fn to the live state. While the demo plays the live state
// is the parked copy, replaced rather than mutated so Broadcast can read it.
func (p *Processor) update(fn func(*box.State)) box.State {
	if parked := p.parked.Load(); parked != nil && !p.playing {
		next := *parked
		fn(&next)
		p.parked.Store(&next)
		return next
	}
	return p.box.Update(fn)
}

func (p *Processor) snapshot() box.State {
	if parked := p.parked.Load(); parked != nil && !p.playing {
		return *parked
	}
	return p.box.Snapshot()
}

// show pushes a whole box unless the demo owns the screen.
func (p *Processor) show(st box.State) {
	if p.parked.Load() != nil && !p.playing {
		return
	}
	p.display.DisplayBox(st)
}
