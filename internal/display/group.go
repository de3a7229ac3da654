package display

import (
	"time"

	"github.com/danmuck/pistelink/internal/box"
)

// Group names one incrementally pushed part of the box state.
type Group int

const (
	GroupHits Group = iota + 1
	GroupScore
	GroupClock
	GroupCards
	GroupPriority
	GroupPassivity
	GroupPassivityCard
	GroupMode
)

func (g Group) String() string {
	switch g {
	case GroupHits:
		return "hits"
	case GroupScore:
		return "score"
	case GroupClock:
		return "clock"
	case GroupCards:
		return "cards"
	case GroupPriority:
		return "priority"
	case GroupPassivity:
		return "passivity"
	case GroupPassivityCard:
		return "passivity_card"
	case GroupMode:
		return "mode"
	default:
		return "unknown"
	}
}

func (g Group) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// Sink receives whole-state and per-group pushes.
type Sink interface {
	DisplayBox(s box.State)
	Update(g Group, s box.State)
}

// SoundSink drives the box tone.
type SoundSink interface {
	SoundOn()
	SoundOnFor(d time.Duration)
	SoundOff()
}
