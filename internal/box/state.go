package box

import (
	"strconv"
	"sync"
)

// State is one box's full bout state. It is a value type; copies are
// independent snapshots.
type State struct {
	Piste             int              `json:"piste"`
	Mode              Mode             `json:"mode"`
	Weapon            Weapon           `json:"weapon"`
	HitA              Hit              `json:"hit_a"`
	HitB              Hit              `json:"hit_b"`
	ScoreA            string           `json:"score_a"`
	ScoreB            string           `json:"score_b"`
	TimeMins          string           `json:"time_mins"`
	TimeSecs          string           `json:"time_secs"`
	TimeHund          string           `json:"time_hund"`
	CardA             uint8            `json:"card_a"`
	CardB             uint8            `json:"card_b"`
	PassivityCard     [2]PassivityCard `json:"passivity_card"`
	PriA              bool             `json:"pri_a"`
	PriB              bool             `json:"pri_b"`
	PriorityIndicator bool             `json:"priority_indicator"`
	Passivity         Passivity        `json:"passivity"`
	Hours             int              `json:"hours"`
	RxOk              bool             `json:"rx_ok"`
}

// NewState returns a cleared state for piste with the passivity timer at its
// maximum.
func NewState(piste int) State {
	s := State{Piste: piste, Passivity: NewPassivity(PassivityMaxTime)}
	s.ClearTransient()
	return s
}

// ClearTransient resets all per-bout state: hits, score, clock, cards,
// priority, passivity and passivity cards. Mode and weapon are kept.
func (s *State) ClearTransient() {
	s.ClearHits()
	s.SetScore("00", "00")
	s.SetClock("00", "00", "00")
	s.CardA, s.CardB = 0, 0
	s.PassivityCard = [2]PassivityCard{}
	s.ClearPriority()
	if s.Passivity.Max <= 0 {
		s.Passivity = NewPassivity(PassivityMaxTime)
	}
	s.Passivity.Clear()
	s.Hours = 0
}

func (s *State) ClearHits() {
	s.HitA, s.HitB = HitNone, HitNone
}

func (s *State) ClearPriority() {
	s.PriA, s.PriB = false, false
	s.PriorityIndicator = false
}

func (s *State) SetScore(a, b string) {
	s.ScoreA = TwoDigit(a)
	s.ScoreB = TwoDigit(b)
}

func (s *State) SetClock(mins, secs, hund string) {
	s.TimeMins = TwoDigit(mins)
	s.TimeSecs = TwoDigit(secs)
	s.TimeHund = TwoDigit(hund)
}

// SetCard stores mask for fencer, keeping only the defined bits.
func (s *State) SetCard(fencer int, mask uint8) {
	mask &= cardMask
	if fencer == FencerA {
		s.CardA = mask
	} else {
		s.CardB = mask
	}
}

func (s *State) Card(fencer int) uint8 {
	if fencer == FencerA {
		return s.CardA
	}
	return s.CardB
}

// TwoDigit normalizes raw into a two character zero padded decimal string.
// Values that do not parse become "00"; values above 99 keep the last two
// digits.
func TwoDigit(raw string) string {
	if len(raw) == 2 && isDigit(raw[0]) && isDigit(raw[1]) {
		return raw
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return "00"
	}
	n %= 100
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Box guards one State with a single coarse lock. All writers go through
// Update so a concurrent Snapshot never observes a half-applied change.
type Box struct {
	mu    sync.RWMutex
	state State
}

func NewBox(piste int) *Box {
	return &Box{state: NewState(piste)}
}

// Update applies fn under the write lock and returns the resulting snapshot.
func (b *Box) Update(fn func(*State)) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.state)
	return b.state
}

func (b *Box) Snapshot() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}
